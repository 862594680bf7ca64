// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lmcrec

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNextRecordClassInfo(t *testing.T) {
	w := newFixtureWriter()
	w.tag(WireClassInfo).uvarint(7).str("cpu")

	d := NewDecoder(bytes.NewReader(w.Bytes()))
	rec, err := d.NextRecord(nil)
	require.NoError(t, err)
	require.Equal(t, RecClassInfo, rec.Type)
	require.Equal(t, uint64(7), rec.ClassID)
	require.Equal(t, "cpu", rec.Name)
}

func TestNextRecordInstInfo(t *testing.T) {
	w := newFixtureWriter()
	w.tag(WireInstInfo).uvarint(7).uvarint(42).uvarint(0).str("cpu0")

	d := NewDecoder(bytes.NewReader(w.Bytes()))
	rec, err := d.NextRecord(nil)
	require.NoError(t, err)
	require.Equal(t, RecInstInfo, rec.Type)
	require.Equal(t, uint64(7), rec.ClassID)
	require.Equal(t, uint64(42), rec.InstID)
	require.Equal(t, uint64(0), rec.ParentInstID)
	require.Equal(t, "cpu0", rec.Name)
}

func TestNextRecordVarInfo(t *testing.T) {
	w := newFixtureWriter()
	w.tag(WireVarInfo).uvarint(7).uvarint(3).uvarint(uint64(VarCounter)).str("ticks")

	d := NewDecoder(bytes.NewReader(w.Bytes()))
	rec, err := d.NextRecord(nil)
	require.NoError(t, err)
	require.Equal(t, RecVarInfo, rec.Type)
	require.Equal(t, VarCounter, rec.VarType)
	require.Equal(t, "ticks", rec.Name)
}

func TestNextRecordVarValueVariants(t *testing.T) {
	cases := []struct {
		name   string
		build  func(w *fixtureWriter)
		wantFT WireTag
		wantV  Value
	}{
		{"uint", func(w *fixtureWriter) { w.tag(WireVarUintVal).uvarint(3).uvarint(100) }, WireVarUintVal, IntValue(100)},
		{"sint", func(w *fixtureWriter) { w.tag(WireVarSintVal).uvarint(3).varint(-5) }, WireVarSintVal, IntValue(-5)},
		{"zero", func(w *fixtureWriter) { w.tag(WireVarZeroVal).uvarint(3) }, WireVarZeroVal, IntValue(0)},
		{"string", func(w *fixtureWriter) { w.tag(WireVarStringVal).uvarint(3).str("hi") }, WireVarStringVal, StringValue("hi")},
		{"empty_string", func(w *fixtureWriter) { w.tag(WireVarEmptyString).uvarint(3) }, WireVarEmptyString, StringValue("")},
		{"bool_false", func(w *fixtureWriter) { w.tag(WireVarBoolFalse).uvarint(3) }, WireVarBoolFalse, BoolValue(false)},
		{"bool_true", func(w *fixtureWriter) { w.tag(WireVarBoolTrue).uvarint(3) }, WireVarBoolTrue, BoolValue(true)},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			w := newFixtureWriter()
			c.build(w)
			d := NewDecoder(bytes.NewReader(w.Bytes()))
			rec, err := d.NextRecord(nil)
			require.NoError(t, err)
			require.Equal(t, RecVarValue, rec.Type)
			require.Equal(t, c.wantFT, rec.FileRecordType)
			require.Equal(t, uint64(3), rec.VarID)
			require.Equal(t, c.wantV, rec.Value)
		})
	}
}

func TestNextRecordScanTally(t *testing.T) {
	w := newFixtureWriter()
	w.tag(WireScanTally).uvarint(1000).uvarint(20).uvarint(300).uvarint(290)

	d := NewDecoder(bytes.NewReader(w.Bytes()))
	rec, err := d.NextRecord(nil)
	require.NoError(t, err)
	require.Equal(t, RecScanTally, rec.Type)
	require.Equal(t, uint64(1000), rec.ScanInByteCount)
	require.Equal(t, uint64(20), rec.ScanInInstCount)
	require.Equal(t, uint64(300), rec.ScanInVarCount)
	require.Equal(t, uint64(290), rec.ScanOutVarCount)
}

func TestNextRecordTimestampAndDuration(t *testing.T) {
	w := newFixtureWriter()
	w.tag(WireTimestampUsec).varint(1_500_000)
	w.tag(WireDurationUsec).varint(250_000)

	d := NewDecoder(bytes.NewReader(w.Bytes()))
	rec, err := d.NextRecord(nil)
	require.NoError(t, err)
	require.Equal(t, RecTimestampUsec, rec.Type)
	require.InDelta(t, 1.5, rec.Ts, 1e-9)

	rec, err = d.NextRecord(rec)
	require.NoError(t, err)
	require.Equal(t, RecDurationUsec, rec.Type)
	require.InDelta(t, 0.25, rec.Ts, 1e-9)
}

func TestNextRecordEOR(t *testing.T) {
	w := newFixtureWriter()
	w.tag(WireEOR)
	d := NewDecoder(bytes.NewReader(w.Bytes()))
	rec, err := d.NextRecord(nil)
	require.NoError(t, err)
	require.Equal(t, RecEOR, rec.Type)
}

func TestNextRecordCleanEOF(t *testing.T) {
	d := NewDecoder(bytes.NewReader(nil))
	_, err := d.NextRecord(nil)
	require.ErrorIs(t, err, io.EOF)
}

func TestNextRecordInvalidTag(t *testing.T) {
	w := newFixtureWriter()
	w.tag(WireTag(99))
	d := NewDecoder(bytes.NewReader(w.Bytes()))
	_, err := d.NextRecord(nil)
	require.ErrorIs(t, err, ErrInvalidTag)
}

func TestNextRecordInvalidUTF8(t *testing.T) {
	w := newFixtureWriter()
	w.tag(WireClassInfo).uvarint(1).uvarint(2)
	w.Write([]byte{0xff, 0xfe})
	d := NewDecoder(bytes.NewReader(w.Bytes()))
	_, err := d.NextRecord(nil)
	require.ErrorIs(t, err, ErrInvalidUTF8)
}

func TestNextRecordReusesBuffer(t *testing.T) {
	w := newFixtureWriter()
	w.tag(WireClassInfo).uvarint(1).str("a")
	w.tag(WireVarUintVal).uvarint(9).uvarint(1)

	d := NewDecoder(bytes.NewReader(w.Bytes()))
	rec, err := d.NextRecord(nil)
	require.NoError(t, err)
	require.Equal(t, "a", rec.Name)

	rec, err = d.NextRecord(rec)
	require.NoError(t, err)
	require.Equal(t, RecVarValue, rec.Type)
	require.Empty(t, rec.Name, "stale field from the previous record type must not leak through Reset")
}
