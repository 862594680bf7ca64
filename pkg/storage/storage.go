// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package storage provides pluggable read access to recording trees (§12.1):
// a local filesystem backend and an S3-compatible object-store backend,
// behind the same FileBackend interface. This is deliberately independent of
// pkg/lmcrec, which always reads from a local directory (§4.6) — a
// FileBackend is used to mirror a remote tree into a local scratch directory
// before pkg/lmcrec's planner ever sees it, keeping the core free of any
// storage-backend dependency.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Entry is one directory entry as reported by a FileBackend's ReadDir,
// trimmed to what the planner (pkg/lmcrec's BuildFileChains) needs: a name
// and whether it is itself a directory (a day partition, §4.6).
type Entry struct {
	Name  string
	IsDir bool
	Size  int64
}

// FileBackend abstracts read access to a recording tree rooted at some
// backend-specific location. Names passed to Open/Stat are always relative
// to that root, matching the relative paths BuildFileChains works with.
type FileBackend interface {
	// Open returns a seekable reader for name. Callers are responsible for
	// closing it.
	Open(name string) (io.ReadSeekCloser, error)
	// ReadDir lists the direct children of dir ("" for the root).
	ReadDir(dir string) ([]Entry, error)
	// Stat reports the size of name without opening it.
	Stat(name string) (Entry, error)
}

// LocalBackend implements FileBackend by wrapping os, rooted at Root. It is
// the default backend the planner already uses directly; FileBackend exists
// so the same directory-walk/gzip-suffix conventions can be reused against a
// remote root via SyncTree.
type LocalBackend struct {
	Root string
}

var _ FileBackend = (*LocalBackend)(nil)

func NewLocalBackend(root string) *LocalBackend {
	return &LocalBackend{Root: root}
}

func (b *LocalBackend) Open(name string) (io.ReadSeekCloser, error) {
	return os.Open(filepath.Join(b.Root, name))
}

func (b *LocalBackend) ReadDir(dir string) ([]Entry, error) {
	entries, err := os.ReadDir(filepath.Join(b.Root, dir))
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{Name: e.Name(), IsDir: e.IsDir(), Size: info.Size()})
	}
	return out, nil
}

func (b *LocalBackend) Stat(name string) (Entry, error) {
	info, err := os.Stat(filepath.Join(b.Root, name))
	if err != nil {
		return Entry{}, err
	}
	return Entry{Name: filepath.Base(name), IsDir: info.IsDir(), Size: info.Size()}, nil
}

// recordingSuffixes mirrors pkg/lmcrec's own notion of what counts as a
// recording file, kept in sync manually since storage must not import
// pkg/lmcrec (§13: the core has zero dependency on the supplemented
// services).
var recordingSuffixes = []string{".lmcrec", ".lmcrec.gz"}

// IsRecordingFile reports whether name carries one of the recognized
// recording-file suffixes (as opposed to a `.info`/`.index` sidecar).
func IsRecordingFile(name string) bool {
	for _, suffix := range recordingSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// SyncTree mirrors every file under dir (recursively, following day
// partitions) from src into a local directory dstRoot, skipping files whose
// size already matches. It returns the number of files copied. This is how a
// remote FileBackend (S3Backend) is made visible to pkg/lmcrec's
// directory-based planner.
func SyncTree(src FileBackend, dir, dstRoot string) (int, error) {
	entries, err := src.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	copied := 0
	for _, e := range entries {
		rel := e.Name
		if dir != "" {
			rel = filepath.Join(dir, e.Name)
		}
		if e.IsDir {
			n, err := SyncTree(src, rel, dstRoot)
			if err != nil {
				return copied, err
			}
			copied += n
			continue
		}

		dstPath := filepath.Join(dstRoot, rel)
		if info, err := os.Stat(dstPath); err == nil && info.Size() == e.Size {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
			return copied, err
		}
		if err := copyFile(src, rel, dstPath); err != nil {
			return copied, fmt.Errorf("storage: copying %s: %w", rel, err)
		}
		copied++
	}
	return copied, nil
}

func copyFile(src FileBackend, name, dstPath string) error {
	r, err := src.Open(name)
	if err != nil {
		return err
	}
	defer r.Close()

	tmp := dstPath + ".part"
	w, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		os.Remove(tmp)
		return err
	}
	if err := w.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dstPath)
}
