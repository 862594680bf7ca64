// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lmcrec

import (
	"bufio"
	"os"
)

// Checkpoint is one (timestamp, decompressed byte offset) pair from an index
// sidecar (`.lmcrec.index`), recorded at a TIMESTAMP record boundary.
type Checkpoint struct {
	Ts     float64
	Offset int64
}

// IndexDecoder reads repeated (signed varint micros, signed varint byte
// offset) pairs until EOF (§4.4, §6.1). Both fields are signed varints —
// including the offset, which the companion encoder writes the same way.
type IndexDecoder struct {
	r *bufio.Reader
}

func NewIndexDecoder(r *bufio.Reader) *IndexDecoder {
	return &IndexDecoder{r: r}
}

// NextCheckpoint reads one (ts, offset) pair. Returns io.EOF when the stream
// ends cleanly between pairs.
func (d *IndexDecoder) NextCheckpoint() (Checkpoint, error) {
	tsUs, err := DecodeVarint(d.r)
	if err != nil {
		return Checkpoint{}, err
	}
	off, err := DecodeVarint(d.r)
	if err != nil {
		return Checkpoint{}, err
	}
	return Checkpoint{Ts: float64(tsUs) / 1_000_000, Offset: off}, nil
}

// LocateCheckpoint scans the pairs and returns the latest one with
// Ts <= targetTs, best-effort: any decode error past the point of a valid
// answer is swallowed rather than propagated (§4.4). ok is false if no pair
// with Ts <= targetTs was found.
func (d *IndexDecoder) LocateCheckpoint(targetTs float64) (cp Checkpoint, ok bool) {
	for {
		c, err := d.NextCheckpoint()
		if err != nil {
			return cp, ok
		}
		if c.Ts <= targetTs {
			cp, ok = c, true
		}
	}
}

// LocateCheckpointInFile opens name+.lmcrec.index (if present) and returns
// the latest checkpoint at or before targetTs. A missing index file is
// tolerated (advisory, §7): ok is false and err is nil. A decode error inside
// the file ends the scan and keeps the best pair read before it (see
// LocateCheckpoint); any other error opening the file is returned.
func LocateCheckpointInFile(recordingFile string, targetTs float64) (cp Checkpoint, ok bool, err error) {
	f, openErr := os.Open(recordingFile + IndexFileSuffix)
	if openErr != nil {
		if os.IsNotExist(openErr) {
			return Checkpoint{}, false, nil
		}
		return Checkpoint{}, false, openErr
	}
	defer f.Close()
	dec := NewIndexDecoder(bufio.NewReader(f))
	cp, ok = dec.LocateCheckpoint(targetTs)
	return cp, ok, nil
}
