// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lmcrec

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"
)

var dayPartitionRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

var recordingSuffixes = []string{LmcrecFileSuffix, LmcrecFileSuffix + GzipFileSuffix}

// FileEntry is one node in a file chain (§4.6). Next is nil at the tail.
type FileEntry struct {
	Next     *FileEntry
	FileName string
	Info     *Info

	hasPrev bool
}

func yyyymmddFromTs(ts float64, haveTs bool) string {
	if !haveTs {
		return ""
	}
	return time.Unix(int64(ts), 0).UTC().Format("2006-01-02")
}

// BuildFileChains discovers, validates, links, and chronologically sorts the
// recording files under recordFilesDir (which may be a recording root or one
// of its YYYY-MM-DD day partitions), honoring the optional [fromTs, toTs]
// window (§4.6). It returns nil if no recording files are found.
func BuildFileChains(recordFilesDir string, fromTs, toTs *float64) ([]*FileEntry, error) {
	absDir, err := filepath.Abs(recordFilesDir)
	if err != nil {
		return nil, err
	}

	var fromDay, toDay string
	if fromTs != nil {
		fromDay = yyyymmddFromTs(*fromTs, true)
	}
	if toTs != nil {
		toDay = yyyymmddFromTs(*toTs, true)
	}

	var fileList []string
	var subdirList []string

	classifyDir := func(subdir string) error {
		dpath := absDir
		if subdir != "" {
			dpath = filepath.Join(absDir, subdir)
		}
		entries, err := os.ReadDir(dpath)
		if err != nil {
			return err
		}
		for _, e := range entries {
			name := e.Name()
			if subdir == "" && dayPartitionRe.MatchString(name) && e.IsDir() &&
				(fromDay == "" || fromDay <= name) &&
				(toDay == "" || name <= toDay) {
				subdirList = append(subdirList, name)
				continue
			}
			for _, suffix := range recordingSuffixes {
				if len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix {
					if subdir != "" {
						fileList = append(fileList, filepath.Join(subdir, name))
					} else {
						fileList = append(fileList, name)
					}
					break
				}
			}
		}
		return nil
	}

	if err := classifyDir(""); err != nil {
		return nil, err
	}

	if len(fileList) > 0 && len(subdirList) > 0 {
		return nil, fmt.Errorf("%w: %s contains both sub-dirs and lmcrec files", ErrConfig, absDir)
	}

	if len(fileList) > 0 {
		// This directory was itself a day partition; its parent is the true
		// root, and the file paths are relative to that root.
		subdir := filepath.Base(absDir)
		root := filepath.Dir(absDir)
		rewritten := make([]string, len(fileList))
		for i, f := range fileList {
			rewritten[i] = filepath.Join(subdir, f)
		}
		absDir = root
		fileList = rewritten
	} else if len(subdirList) > 0 {
		for _, subdir := range subdirList {
			if err := classifyDir(subdir); err != nil {
				return nil, err
			}
		}
	}

	if len(fileList) == 0 {
		return nil, nil
	}

	entryByRelName := make(map[string]*FileEntry)
	expectedNextOf := make(map[string]*FileEntry)

	for _, rel := range fileList {
		fileName := filepath.Join(absDir, rel)
		infoFileName := fileName + InfoFileSuffix
		info, err := DecodeInfoFromFile(infoFileName)
		if err != nil {
			// Advisory: missing or malformed sidecar, skip this file (§7).
			continue
		}
		if (fromTs != nil && info.MostRecentTs < *fromTs) ||
			(toTs != nil && info.StartTs > *toTs) {
			continue
		}

		entry := &FileEntry{FileName: fileName, Info: info}

		if next, ok := expectedNextOf[rel]; ok {
			entry.Next = next
			next.hasPrev = true
		}

		if info.PrevFileName != "" {
			if prev, ok := entryByRelName[info.PrevFileName]; ok {
				prev.Next = entry
				entry.hasPrev = true
			} else {
				expectedNextOf[info.PrevFileName] = entry
			}
		}
		entryByRelName[rel] = entry
	}

	var heads []*FileEntry
	for _, entry := range entryByRelName {
		if !entry.hasPrev {
			heads = append(heads, entry)
		}
	}

	sort.Slice(heads, func(i, j int) bool {
		return heads[i].Info.StartTs < heads[j].Info.StartTs
	})

	var prevFileName string
	var prevMostRecentTs float64
	havePrev := false
	for _, head := range heads {
		for entry := head; entry != nil; entry = entry.Next {
			if havePrev && prevMostRecentTs >= entry.Info.StartTs {
				return nil, fmt.Errorf(
					"%w: chronological order violation:\n %s: last_ts=%s\n %s: start_ts=%s",
					ErrConfig, prevFileName, formatTs(prevMostRecentTs),
					entry.FileName, formatTs(entry.Info.StartTs))
			}
			prevFileName = entry.FileName
			prevMostRecentTs = entry.Info.MostRecentTs
			havePrev = true
		}
	}

	return heads, nil
}

// ChainToFileList flattens a chain list into an ordered list of file names.
func ChainToFileList(chains []*FileEntry) []string {
	var list []string
	for _, head := range chains {
		for entry := head; entry != nil; entry = entry.Next {
			list = append(list, entry.FileName)
		}
	}
	return list
}

func formatTs(ts float64) string {
	sec := int64(ts)
	return time.Unix(sec, 0).UTC().Format(time.RFC3339)
}
