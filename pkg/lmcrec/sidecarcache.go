// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lmcrec

import (
	"fmt"
	"os"
	"time"

	"github.com/ClusterCockpit/lmcrec/pkg/lrucache"
)

// SidecarCache caches decoded `.lmcrec.info` headers and index-sidecar
// checkpoint lookups, keyed by the recording's path plus its info/index
// file's mtime so a rewritten sidecar (an actively-written file's info
// header changes on every flush, §4.3) invalidates itself rather than
// serving a stale decode (§12.3).
//
// A SidecarCache is independent of IntervalStateCache: callers that want
// cached sidecar reads wrap LocateCheckpointInFile/DecodeInfoFromFile calls
// through it themselves; pkg/lmcrec's own scan path does not use it, keeping
// the core decode path free of any caching dependency.
type SidecarCache struct {
	infos *lrucache.Cache
	ckpts *lrucache.Cache
}

// NewSidecarCache returns a cache bounding both the info and checkpoint
// caches to maxmemory bytes each.
func NewSidecarCache(maxmemory int) *SidecarCache {
	return &SidecarCache{
		infos: lrucache.New(maxmemory),
		ckpts: lrucache.New(maxmemory),
	}
}

// sidecarCacheTTL is how long a decoded sidecar stays cached; the mtime in
// the key already invalidates an entry whose sidecar file changed.
const sidecarCacheTTL = 24 * time.Hour

func sidecarCacheKey(path string, suffix string) (string, time.Time, error) {
	st, err := os.Stat(path + suffix)
	if err != nil {
		return "", time.Time{}, err
	}
	mtime := st.ModTime()
	return fmt.Sprintf("%s%s@%d", path, suffix, mtime.UnixNano()), mtime, nil
}

// Info returns the decoded Info sidecar for recordingFile, served from cache
// if the companion .lmcrec.info file's mtime hasn't changed since the last call.
func (c *SidecarCache) Info(recordingFile string) (*Info, error) {
	key, _, err := sidecarCacheKey(recordingFile, InfoFileSuffix)
	if err != nil {
		return nil, err
	}

	var decodeErr error
	v := c.infos.Get(key, func() (interface{}, time.Duration, int) {
		info, err := DecodeInfoFromFile(recordingFile + InfoFileSuffix)
		if err != nil {
			decodeErr = err
			return nil, 0, 0
		}
		return info, sidecarCacheTTL, 128
	})
	if decodeErr != nil {
		return nil, decodeErr
	}
	if v == nil {
		return nil, fmt.Errorf("%w: sidecar cache returned nil Info for %s", ErrFormat, recordingFile)
	}
	return v.(*Info), nil
}

// Stats reports the current entry counts of the two underlying caches, for
// cmd/lmcrecd's /cache-stats endpoint (§12.5).
func (c *SidecarCache) Stats() map[string]int {
	stats := map[string]int{}
	c.infos.Keys(func(key string, val interface{}) { stats["info-entries"]++ })
	c.ckpts.Keys(func(key string, val interface{}) { stats["checkpoint-entries"]++ })
	return stats
}

// Checkpoint returns the best-effort checkpoint lookup for recordingFile at
// targetTs, served from cache if the companion .lmcrec.index file's mtime
// hasn't changed since the last lookup for this exact targetTs.
func (c *SidecarCache) Checkpoint(recordingFile string, targetTs float64) (cp Checkpoint, ok bool, err error) {
	key, _, statErr := sidecarCacheKey(recordingFile, IndexFileSuffix)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return Checkpoint{}, false, nil
		}
		return Checkpoint{}, false, statErr
	}
	key = fmt.Sprintf("%s@%v", key, targetTs)

	type result struct {
		cp Checkpoint
		ok bool
	}
	var lookupErr error
	v := c.ckpts.Get(key, func() (interface{}, time.Duration, int) {
		cp, ok, err := LocateCheckpointInFile(recordingFile, targetTs)
		if err != nil {
			lookupErr = err
			return nil, 0, 0
		}
		return result{cp, ok}, sidecarCacheTTL, 32
	})
	if lookupErr != nil {
		return Checkpoint{}, false, lookupErr
	}
	if v == nil {
		return Checkpoint{}, false, nil
	}
	r := v.(result)
	return r.cp, r.ok, nil
}
