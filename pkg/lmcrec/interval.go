// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lmcrec

import "fmt"

// IntervalStateCache (C7) drives a StateCache across a planned file chain
// (§4.7), using the index sidecar to fast-forward to a configured from_ts.
type IntervalStateCache struct {
	*StateCache

	chainList  []*FileEntry
	chainIndex int
	chainEntry *FileEntry

	fromTs *float64
	toTs   *float64

	// checkFromTs is true only until the very first successful (or
	// abandoned) fast-forward attempt, within the first file opened for this
	// cache's lifetime — it is never revisited at later chain boundaries
	// (§4.7, §9 "index-driven seeking").
	checkFromTs bool

	fileDecoder *FileDecoder
	closed      bool

	NewChain bool

	FirstTs     float64
	haveFirstTs bool
	LastTs      float64
	haveLastTs  bool
}

// NewIntervalStateCache plans the file chain for recordFilesDir and the
// optional [fromTs, toTs] window, and returns a cache ready to drive it.
func NewIntervalStateCache(recordFilesDir string, fromTs, toTs *float64, havePrev bool) (*IntervalStateCache, error) {
	chains, err := BuildFileChains(recordFilesDir, fromTs, toTs)
	if err != nil {
		return nil, err
	}
	return &IntervalStateCache{
		StateCache:  NewStateCache(nil, havePrev),
		chainList:   chains,
		fromTs:      fromTs,
		toTs:        toTs,
		checkFromTs: fromTs != nil,
	}, nil
}

// Close force-closes the cache: releases any held file handle and
// transitions to Closed, which is terminal (§5).
func (c *IntervalStateCache) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if c.fileDecoder != nil {
		err := c.fileDecoder.Close()
		c.fileDecoder = nil
		c.SetDecoder(nil)
		return err
	}
	return nil
}

// ApplyNextScan drives one scan across the planned chain (§4.7).
func (c *IntervalStateCache) ApplyNextScan() (ScanResult, error) {
	if c.closed {
		return Closed, nil
	}

	c.NewChain = false

	var chkpt Checkpoint
	haveChkpt := false

	if c.decoder == nil {
		if c.chainEntry == nil {
			if c.chainIndex >= len(c.chainList) {
				c.closed = true
				return AtEor, nil
			}
			c.chainEntry = c.chainList[c.chainIndex]
			c.chainIndex++
			c.NewChain = true
			c.StateCache.Reset()
		}

		fd, err := OpenFile(c.chainEntry.FileName)
		if err != nil {
			return 0, err
		}
		c.fileDecoder = fd
		c.SetDecoder(fd.Decoder)

		if c.checkFromTs {
			cp, ok, err := LocateCheckpointInFile(c.chainEntry.FileName, *c.fromTs)
			if err == nil && ok {
				if seekErr := fd.Goto(cp.Offset); seekErr == nil {
					chkpt, haveChkpt = cp, true
				}
			}
			// Missing/corrupt index is tolerated: no seek (§4.7, §7).
		}
	}

	var ret ScanResult
	var err error

	if c.checkFromTs {
		// NumScans==0 stands in for the original's "ts is None" (no scan yet).
		for c.NumScans == 0 || c.Ts < *c.fromTs {
			ret, err = c.StateCache.ApplyNextScan()
			if err != nil {
				return 0, err
			}
			if haveChkpt {
				if chkpt.Ts != c.Ts {
					return 0, fmt.Errorf("%w: checkpoint ts mismatch: want %v, got %v", ErrInvariant, chkpt.Ts, c.Ts)
				}
				haveChkpt = false
			}
			if ret != Complete {
				break
			}
		}
		c.checkFromTs = false
	} else {
		ret, err = c.StateCache.ApplyNextScan()
		if err != nil {
			return 0, err
		}
	}

	switch ret {
	case AtEor:
		c.fileDecoder = nil
		c.chainEntry = c.chainEntry.Next
		return c.ApplyNextScan()
	case Complete:
		if !c.haveFirstTs {
			c.FirstTs = c.Ts
			c.haveFirstTs = true
		}
		if c.toTs != nil && *c.toTs < c.Ts {
			c.Close()
			return AtEor, nil
		}
		c.LastTs = c.Ts
		c.haveLastTs = true
		return Complete, nil
	default:
		c.Close()
		return ret, nil
	}
}
