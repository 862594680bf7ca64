// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package lmcrec decodes and plays back lmcrec recordings: a binary,
// append-only log of periodic scans over a tree of classed instances and
// their variables.
//
// It covers the full read path from raw bytes to query results — varint
// codec, tagged-record decoder, per-file info/index sidecars, an
// incremental state cache that folds scans into live class/instance/
// variable state, a file-chain planner that stitches rotated recording
// files into chronological order, an interval-bounded driver that seeks
// into that chain via the index sidecar, a declarative query selector, and
// an inventory aggregator. None of it writes recordings; the recorder
// itself is out of scope.
package lmcrec
