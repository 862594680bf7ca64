// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lmcrec

import (
	"bufio"
	"compress/gzip"
	"io"
	"os"
	"strings"
)

const (
	LmcrecFileSuffix = ".lmcrec"
	GzipFileSuffix   = ".gz"
	InfoFileSuffix   = ".info"
	IndexFileSuffix  = ".index"
)

// seekChunk bounds the forward-read emulation used when the underlying
// stream has no native Seek (gzip.Reader), mirroring the original decoder's
// SEEK_CHUNK = 0x10000.
const seekChunk = 0x10000

// FileDecoder opens a recording file — plain or gzip-suffixed — and layers
// the record Decoder on top of it. Goto seeks to an absolute offset in the
// *decompressed* byte stream: natively when the file is plain, by forward
// reading bounded chunks when it is gzipped (§4.2, §9 "index-driven seeking").
type FileDecoder struct {
	*Decoder
	file   *os.File
	gz     *gzip.Reader
	reader *bufio.Reader
}

// OpenFile opens name (suffixed .lmcrec or .lmcrec.gz) for record decoding.
func OpenFile(name string) (*FileDecoder, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}

	fd := &FileDecoder{file: f}
	if strings.HasSuffix(name, GzipFileSuffix) {
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		fd.gz = gz
		fd.reader = bufio.NewReader(gz)
	} else {
		fd.reader = bufio.NewReader(f)
	}
	fd.Decoder = NewDecoder(fd.reader)
	return fd, nil
}

// Goto seeks to byte offset in the decompressed stream.
func (fd *FileDecoder) Goto(offset int64) error {
	if fd.gz == nil {
		if _, err := fd.file.Seek(offset, io.SeekStart); err != nil {
			return err
		}
		fd.reader.Reset(fd.file)
		return nil
	}

	// No native seek on a gzip.Reader: decompress-forward in bounded chunks.
	// Re-open so Goto is well-defined even if called more than once or after
	// the stream has already advanced past offset.
	if err := fd.gz.Close(); err != nil {
		return err
	}
	if _, err := fd.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	gz, err := gzip.NewReader(fd.file)
	if err != nil {
		return err
	}
	fd.gz = gz

	buf := make([]byte, seekChunk)
	remaining := offset
	for remaining > 0 {
		n := int64(len(buf))
		if remaining < n {
			n = remaining
		}
		read, err := io.ReadFull(gz, buf[:n])
		remaining -= int64(read)
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return err
		}
	}
	fd.reader.Reset(gz)
	return nil
}

// Close releases the underlying file handle (and gzip reader, if any).
func (fd *FileDecoder) Close() error {
	var gzErr error
	if fd.gz != nil {
		gzErr = fd.gz.Close()
	}
	fileErr := fd.file.Close()
	if gzErr != nil {
		return gzErr
	}
	return fileErr
}
