// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lmcrec

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetInventoryBuildsParentChildTree(t *testing.T) {
	w := newFixtureWriter()
	w.tag(WireTimestampUsec).varint(1_000_000)
	w.tag(WireClassInfo).uvarint(1).str("node")
	w.tag(WireInstInfo).uvarint(1).uvarint(10).uvarint(0).str("node0")
	w.tag(WireClassInfo).uvarint(2).str("cpu")
	w.tag(WireInstInfo).uvarint(2).uvarint(20).uvarint(10).str("cpu0")
	w.tag(WireDurationUsec).varint(1_000)

	d := NewDecoder(bytes.NewReader(w.Bytes()))
	c := NewStateCache(d, false)
	res, err := GetInventory(c, nil, nil)
	require.NoError(t, err)
	require.Equal(t, AtEof, res.Ret)

	rootChildren := res.InstTree[ParentKey{IsRoot: true}]
	require.Contains(t, rootChildren, InstRef{Name: "node0", ClassName: "node"})

	nodeChildren := res.InstTree[ParentKey{Name: "node0", ClassName: "node"}]
	require.Contains(t, nodeChildren, InstRef{Name: "cpu0", ClassName: "cpu"})
}

func TestGetInventoryClassVarInfoMerge(t *testing.T) {
	w := newFixtureWriter()
	w.tag(WireTimestampUsec).varint(1_000_000)
	w.tag(WireClassInfo).uvarint(1).str("cpu")
	w.tag(WireInstInfo).uvarint(1).uvarint(10).uvarint(0).str("cpu0")
	w.tag(WireVarInfo).uvarint(1).uvarint(1).uvarint(uint64(VarCounter)).str("ticks")
	w.tag(WireVarSintVal).uvarint(1).varint(-5)
	w.tag(WireVarInfo).uvarint(1).uvarint(2).uvarint(uint64(VarString)).str("label")
	w.tag(WireVarStringVal).uvarint(2).str("short")
	w.tag(WireDurationUsec).varint(1_000)

	w.tag(WireTimestampUsec).varint(2_000_000)
	w.tag(WireSetInstID).uvarint(10)
	w.tag(WireVarStringVal).uvarint(2).str("a much longer label")
	w.tag(WireDurationUsec).varint(1_000)

	d := NewDecoder(bytes.NewReader(w.Bytes()))
	c := NewStateCache(d, false)
	res, err := GetInventory(c, nil, nil)
	require.NoError(t, err)

	vars := res.ClassVarInfo["cpu"]
	require.True(t, vars["ticks"].NegVals)
	require.Equal(t, len("a much longer label"), vars["label"].MaxSize)
}

func TestGetInventoryTypeMismatchAcrossCallsFatal(t *testing.T) {
	w1 := newFixtureWriter()
	w1.tag(WireTimestampUsec).varint(1_000_000)
	w1.tag(WireClassInfo).uvarint(1).str("cpu")
	w1.tag(WireVarInfo).uvarint(1).uvarint(1).uvarint(uint64(VarCounter)).str("ticks")
	w1.tag(WireDurationUsec).varint(1_000)

	d1 := NewDecoder(bytes.NewReader(w1.Bytes()))
	c1 := NewStateCache(d1, false)
	res1, err := GetInventory(c1, nil, nil)
	require.NoError(t, err)

	w2 := newFixtureWriter()
	w2.tag(WireTimestampUsec).varint(1_000_000)
	w2.tag(WireClassInfo).uvarint(1).str("cpu")
	w2.tag(WireVarInfo).uvarint(1).uvarint(1).uvarint(uint64(VarString)).str("ticks")
	w2.tag(WireDurationUsec).varint(1_000)

	d2 := NewDecoder(bytes.NewReader(w2.Bytes()))
	c2 := NewStateCache(d2, false)
	_, err = GetInventory(c2, res1.InstTree, res1.ClassVarInfo)
	require.ErrorIs(t, err, ErrInvariant)
}

func TestGetInventoryFromFilesAccumulatesAcrossFiles(t *testing.T) {
	dir := t.TempDir()

	w1 := newFixtureWriter()
	w1.tag(WireTimestampUsec).varint(1_000_000)
	w1.tag(WireClassInfo).uvarint(1).str("cpu")
	w1.tag(WireInstInfo).uvarint(1).uvarint(10).uvarint(0).str("cpu0")
	w1.tag(WireDurationUsec).varint(1_000)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.lmcrec"), w1.Bytes(), 0o644))

	w2 := newFixtureWriter()
	w2.tag(WireTimestampUsec).varint(5_000_000)
	w2.tag(WireClassInfo).uvarint(1).str("cpu")
	w2.tag(WireInstInfo).uvarint(1).uvarint(10).uvarint(0).str("cpu-instance-with-a-longer-name")
	w2.tag(WireDurationUsec).varint(1_000)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.lmcrec"), w2.Bytes(), 0o644))

	res, instMaxSize, err := GetInventoryFromFiles(
		[]string{filepath.Join(dir, "a.lmcrec"), filepath.Join(dir, "b.lmcrec")}, nil, nil)
	require.NoError(t, err)
	require.InDelta(t, 1.0, res.FirstTs, 1e-9)
	require.InDelta(t, 5.0, res.LastTs, 1e-9)
	require.Equal(t, len("cpu-instance-with-a-longer-name"), instMaxSize)
}
