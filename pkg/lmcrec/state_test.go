// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lmcrec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func newCacheFromBytes(t *testing.T, havePrev bool, w *fixtureWriter) *StateCache {
	t.Helper()
	d := NewDecoder(bytes.NewReader(w.Bytes()))
	return NewStateCache(d, havePrev)
}

// writeBasicScan appends one full scan: one class, one instance, one var
// value, closed with a duration record.
func writeBasicScan(w *fixtureWriter, tsUsec, durUsec int64, varVal uint64) {
	w.tag(WireTimestampUsec).varint(tsUsec)
	w.tag(WireClassInfo).uvarint(1).str("cpu")
	w.tag(WireInstInfo).uvarint(1).uvarint(10).uvarint(0).str("cpu0")
	w.tag(WireVarInfo).uvarint(1).uvarint(1).uvarint(uint64(VarCounter)).str("ticks")
	w.tag(WireVarUintVal).uvarint(1).uvarint(varVal)
	w.tag(WireDurationUsec).varint(durUsec)
}

func TestApplyNextScanBasic(t *testing.T) {
	w := newFixtureWriter()
	writeBasicScan(w, 1_000_000, 5_000, 100)

	c := newCacheFromBytes(t, false, w)
	res, err := c.ApplyNextScan()
	require.NoError(t, err)
	require.Equal(t, Complete, res)
	require.Equal(t, 1, c.NumScans)
	require.InDelta(t, 1.0, c.Ts, 1e-9)
	require.InDelta(t, 0.005, c.Duration, 1e-9)
	require.True(t, c.NewInst)
	require.True(t, c.NewClassDef)

	v, ok := c.GetInstVar("cpu0", "ticks")
	require.True(t, ok)
	require.Equal(t, IntValue(100), v)
}

func TestApplyNextScanFlagsResetEachScan(t *testing.T) {
	w := newFixtureWriter()
	writeBasicScan(w, 1_000_000, 5_000, 100)
	// Second scan redeclares nothing new, just updates the value.
	w.tag(WireTimestampUsec).varint(2_000_000)
	w.tag(WireSetInstID).uvarint(10)
	w.tag(WireVarUintVal).uvarint(1).uvarint(200)
	w.tag(WireDurationUsec).varint(5_000)

	c := newCacheFromBytes(t, false, w)
	_, err := c.ApplyNextScan()
	require.NoError(t, err)
	require.True(t, c.NewInst)

	res, err := c.ApplyNextScan()
	require.NoError(t, err)
	require.Equal(t, Complete, res)
	require.False(t, c.NewInst)
	require.False(t, c.NewClassDef)
	require.False(t, c.DeletedInst)

	v, ok := c.GetInstVar("cpu0", "ticks")
	require.True(t, ok)
	require.Equal(t, IntValue(200), v)
}

func TestApplyNextScanPrevVarsMergeNotReplace(t *testing.T) {
	w := newFixtureWriter()
	w.tag(WireTimestampUsec).varint(1_000_000)
	w.tag(WireClassInfo).uvarint(1).str("cpu")
	w.tag(WireInstInfo).uvarint(1).uvarint(10).uvarint(0).str("cpu0")
	w.tag(WireVarInfo).uvarint(1).uvarint(1).uvarint(uint64(VarCounter)).str("a")
	w.tag(WireVarInfo).uvarint(1).uvarint(2).uvarint(uint64(VarCounter)).str("b")
	w.tag(WireVarUintVal).uvarint(1).uvarint(1)
	w.tag(WireVarUintVal).uvarint(2).uvarint(2)
	w.tag(WireDurationUsec).varint(5_000)

	// Second scan only updates "a"; "b" must still show up as a previous value.
	w.tag(WireTimestampUsec).varint(2_000_000)
	w.tag(WireSetInstID).uvarint(10)
	w.tag(WireVarUintVal).uvarint(1).uvarint(11)
	w.tag(WireDurationUsec).varint(5_000)

	c := newCacheFromBytes(t, true, w)
	_, err := c.ApplyNextScan()
	require.NoError(t, err)
	require.False(t, c.HavePrevTs())

	_, err = c.ApplyNextScan()
	require.NoError(t, err)
	require.True(t, c.HavePrevTs())

	cur, curOK, prev, prevOK := c.GetInstCurrPrevVar("cpu0", "a")
	require.True(t, curOK)
	require.True(t, prevOK)
	require.Equal(t, IntValue(11), cur)
	require.Equal(t, IntValue(1), prev)

	// "b" was never touched this scan; its previous value carries forward
	// from the snapshot taken at the start of the scan.
	_, curOK, prevB, prevOKB := c.GetInstCurrPrevVar("cpu0", "b")
	require.True(t, curOK)
	require.True(t, prevOKB)
	require.Equal(t, IntValue(2), prevB)
}

func TestApplyNextScanInstInfoRedefinitionFatal(t *testing.T) {
	w := newFixtureWriter()
	w.tag(WireTimestampUsec).varint(1_000_000)
	w.tag(WireClassInfo).uvarint(1).str("cpu")
	w.tag(WireInstInfo).uvarint(1).uvarint(10).uvarint(0).str("cpu0")
	w.tag(WireDurationUsec).varint(1_000)
	// Same inst_id, different parent_inst_id: a redefinition.
	w.tag(WireTimestampUsec).varint(2_000_000)
	w.tag(WireInstInfo).uvarint(1).uvarint(10).uvarint(99).str("cpu0")
	w.tag(WireDurationUsec).varint(1_000)

	c := newCacheFromBytes(t, false, w)
	_, err := c.ApplyNextScan()
	require.NoError(t, err)
	_, err = c.ApplyNextScan()
	require.ErrorIs(t, err, ErrInvariant)
}

func TestApplyNextScanVarInfoRedefinitionFatal(t *testing.T) {
	w := newFixtureWriter()
	w.tag(WireTimestampUsec).varint(1_000_000)
	w.tag(WireClassInfo).uvarint(1).str("cpu")
	w.tag(WireVarInfo).uvarint(1).uvarint(1).uvarint(uint64(VarCounter)).str("ticks")
	w.tag(WireDurationUsec).varint(1_000)
	// Same var_id, different type: a redefinition.
	w.tag(WireTimestampUsec).varint(2_000_000)
	w.tag(WireVarInfo).uvarint(1).uvarint(1).uvarint(uint64(VarString)).str("ticks")
	w.tag(WireDurationUsec).varint(1_000)

	c := newCacheFromBytes(t, false, w)
	_, err := c.ApplyNextScan()
	require.NoError(t, err)
	_, err = c.ApplyNextScan()
	require.ErrorIs(t, err, ErrInvariant)
}

func TestApplyNextScanClassInfoRedefinitionFatal(t *testing.T) {
	w := newFixtureWriter()
	w.tag(WireTimestampUsec).varint(1_000_000)
	w.tag(WireClassInfo).uvarint(1).str("cpu")
	w.tag(WireDurationUsec).varint(1_000)
	// Same class_id, different name: a redefinition.
	w.tag(WireTimestampUsec).varint(2_000_000)
	w.tag(WireClassInfo).uvarint(1).str("gpu")
	w.tag(WireDurationUsec).varint(1_000)

	c := newCacheFromBytes(t, false, w)
	_, err := c.ApplyNextScan()
	require.NoError(t, err)
	_, err = c.ApplyNextScan()
	require.ErrorIs(t, err, ErrInvariant)
}

func TestApplyNextScanLateDeleteIgnored(t *testing.T) {
	w := newFixtureWriter()
	w.tag(WireTimestampUsec).varint(1_000_000)
	w.tag(WireDeleteInstID).uvarint(999) // never declared
	w.tag(WireDurationUsec).varint(1_000)

	c := newCacheFromBytes(t, false, w)
	res, err := c.ApplyNextScan()
	require.NoError(t, err)
	require.Equal(t, Complete, res)
	require.False(t, c.DeletedInst)
}

func TestApplyNextScanDeleteInst(t *testing.T) {
	w := newFixtureWriter()
	writeBasicScan(w, 1_000_000, 1_000, 1)
	w.tag(WireTimestampUsec).varint(2_000_000)
	w.tag(WireDeleteInstID).uvarint(10)
	w.tag(WireDurationUsec).varint(1_000)

	c := newCacheFromBytes(t, false, w)
	_, err := c.ApplyNextScan()
	require.NoError(t, err)
	res, err := c.ApplyNextScan()
	require.NoError(t, err)
	require.Equal(t, Complete, res)
	require.True(t, c.DeletedInst)
	_, ok := c.InstByName["cpu0"]
	require.False(t, ok)
}

func TestApplyNextScanTallyOverwritesNotAppends(t *testing.T) {
	w := newFixtureWriter()
	w.tag(WireTimestampUsec).varint(1_000_000)
	w.tag(WireScanTally).uvarint(100).uvarint(1).uvarint(2).uvarint(2)
	w.tag(WireScanTally).uvarint(200).uvarint(3).uvarint(4).uvarint(4)
	w.tag(WireDurationUsec).varint(1_000)

	c := newCacheFromBytes(t, false, w)
	_, err := c.ApplyNextScan()
	require.NoError(t, err)
	require.Equal(t, uint64(200), c.ScanTally.InByteCount)
	require.Equal(t, uint64(3), c.ScanTally.InInstCount)
}

func TestApplyNextScanAtEor(t *testing.T) {
	w := newFixtureWriter()
	w.tag(WireEOR)

	c := newCacheFromBytes(t, false, w)
	res, err := c.ApplyNextScan()
	require.NoError(t, err)
	require.Equal(t, AtEor, res)
}

func TestApplyNextScanAtEof(t *testing.T) {
	c := newCacheFromBytes(t, false, newFixtureWriter())
	res, err := c.ApplyNextScan()
	require.NoError(t, err)
	require.Equal(t, AtEof, res)
}

func TestApplyNextScanClosedAfterEof(t *testing.T) {
	c := newCacheFromBytes(t, false, newFixtureWriter())
	_, err := c.ApplyNextScan()
	require.NoError(t, err)
	res, err := c.ApplyNextScan()
	require.NoError(t, err)
	require.Equal(t, Closed, res)
}

func TestApplyNextScanPartialOnTruncation(t *testing.T) {
	w := newFixtureWriter()
	w.tag(WireTimestampUsec).varint(1_000_000)
	w.tag(WireClassInfo).uvarint(1).str("cpu")
	// No DURATION_USEC, stream just ends.

	c := newCacheFromBytes(t, false, w)
	res, err := c.ApplyNextScan()
	require.NoError(t, err)
	require.Equal(t, Partial, res)
}

func TestStateCacheReset(t *testing.T) {
	w := newFixtureWriter()
	writeBasicScan(w, 1_000_000, 1_000, 1)

	c := newCacheFromBytes(t, false, w)
	_, err := c.ApplyNextScan()
	require.NoError(t, err)
	require.NotEmpty(t, c.ClassByID)

	c.Reset()
	require.Empty(t, c.ClassByID)
	require.Empty(t, c.InstByID)
	require.Equal(t, 0, c.NumScans)
	require.False(t, c.HavePrevTs())
}
