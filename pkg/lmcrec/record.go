// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lmcrec

import (
	"fmt"
	"io"
	"strconv"
	"unicode/utf8"
)

// RecordType is the decoded, normalized record kind. The seven VAR_*_VAL wire
// tags below all decode to VarValue; FileRecordType on the Record carries
// which one it was.
type RecordType int

const (
	RecUndefined RecordType = iota
	RecClassInfo
	RecInstInfo
	RecVarInfo
	RecSetInstID
	RecVarValue
	RecDeleteInstID
	RecScanTally
	RecTimestampUsec
	RecDurationUsec
	RecEOR
)

func (t RecordType) String() string {
	switch t {
	case RecClassInfo:
		return "CLASS_INFO"
	case RecInstInfo:
		return "INST_INFO"
	case RecVarInfo:
		return "VAR_INFO"
	case RecSetInstID:
		return "SET_INST_ID"
	case RecVarValue:
		return "VAR_VALUE"
	case RecDeleteInstID:
		return "DELETE_INST_ID"
	case RecScanTally:
		return "SCAN_TALLY"
	case RecTimestampUsec:
		return "TIMESTAMP_USEC"
	case RecDurationUsec:
		return "DURATION_USEC"
	case RecEOR:
		return "EOR"
	default:
		return "UNDEFINED"
	}
}

// WireTag is the raw on-disk tag number (§6.2), preserved on normalized
// VAR_VALUE records as FileRecordType so the state cache can tell a VAR_SINT_VAL
// apart from a VAR_UINT_VAL that happens to decode to the same value.
type WireTag int

const (
	WireUndefined      WireTag = 0
	WireClassInfo      WireTag = 1
	WireInstInfo       WireTag = 2
	WireVarInfo        WireTag = 3
	WireSetInstID      WireTag = 4
	WireVarBoolFalse   WireTag = 5
	WireVarBoolTrue    WireTag = 6
	WireVarUintVal     WireTag = 7
	WireVarSintVal     WireTag = 8
	WireVarZeroVal     WireTag = 9
	WireVarStringVal   WireTag = 10
	WireVarEmptyString WireTag = 11
	WireDeleteInstID   WireTag = 12
	WireScanTally      WireTag = 13
	WireTimestampUsec  WireTag = 14
	WireDurationUsec   WireTag = 15
	WireEOR            WireTag = 16
)

// VarType is the closed set of LMC variable types (§3), decoded as a uvarint
// from VAR_INFO records.
type VarType int

const (
	VarUndefined VarType = iota
	VarBoolean
	VarBooleanConfig
	VarCounter
	VarGauge
	VarGaugeConfig
	VarNumeric
	VarLargeNumeric
	VarNumericRange
	VarNumericConfig
	VarString
	VarStringConfig
)

func (t VarType) String() string {
	names := [...]string{
		"UNDEFINED", "BOOLEAN", "BOOLEAN_CONFIG", "COUNTER", "GAUGE",
		"GAUGE_CONFIG", "NUMERIC", "LARGE_NUMERIC", "NUMERIC_RANGE",
		"NUMERIC_CONFIG", "STRING", "STRING_CONFIG",
	}
	if int(t) < 0 || int(t) >= len(names) {
		return fmt.Sprintf("VarType(%d)", int(t))
	}
	return names[t]
}

// isNumericRollover reports whether t participates in counter-rollover delta
// math (§4.8): COUNTER, NUMERIC, LARGE_NUMERIC.
func (t VarType) isNumericRollover() bool {
	return t == VarCounter || t == VarNumeric || t == VarLargeNumeric
}

// ValueKind discriminates the dynamically-typed record value (§9: bool | i64 | string).
type ValueKind int

const (
	ValNone ValueKind = iota
	ValBool
	ValInt
	ValString
	// ValFloat never comes off the wire; it is produced by the query selector
	// engine's rate projection (§4.8), the one place a ratio is meaningful.
	ValFloat
)

// Value is a tagged variant carrying exactly one of Bool/Int/Str/Float, selected by Kind.
type Value struct {
	Kind  ValueKind
	Bool  bool
	Int   int64
	Str   string
	Float float64
}

func IntValue(v int64) Value     { return Value{Kind: ValInt, Int: v} }
func BoolValue(v bool) Value     { return Value{Kind: ValBool, Bool: v} }
func StringValue(v string) Value { return Value{Kind: ValString, Str: v} }
func FloatValue(v float64) Value { return Value{Kind: ValFloat, Float: v} }

// AsFloat reports the value as a float64 for arithmetic, and whether that
// conversion is defined (bool and string values are not numeric).
func (v Value) AsFloat() (float64, bool) {
	switch v.Kind {
	case ValInt:
		return float64(v.Int), true
	case ValFloat:
		return v.Float, true
	default:
		return 0, false
	}
}

func (v Value) String() string {
	switch v.Kind {
	case ValBool:
		return fmt.Sprintf("%v", v.Bool)
	case ValInt:
		return fmt.Sprintf("%d", v.Int)
	case ValString:
		return v.Str
	case ValFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	default:
		return "<none>"
	}
}

// Record is the decoded, tagged-union record (§3). Only the fields relevant
// to Type are meaningful; the zero value of the rest is not significant.
type Record struct {
	Type           RecordType
	FileRecordType WireTag

	ClassID      uint64
	InstID       uint64
	ParentInstID uint64
	VarID        uint64
	VarType      VarType
	Name         string
	Value        Value

	// TIMESTAMP_USEC / DURATION_USEC, seconds (already divided from micros).
	Ts float64

	// SCAN_TALLY (§4.2): byte/inst/in-var/out-var totals.
	ScanInByteCount uint64
	ScanInInstCount uint64
	ScanInVarCount  uint64
	ScanOutVarCount uint64
}

// Reset clears a Record for reuse, so a caller that passes the same *Record
// back into NextRecord across scans doesn't leak fields from a previous,
// differently-shaped record into this one (§4.2, §9 "reusable record buffer").
func (r *Record) Reset() {
	*r = Record{}
}

// byteReader is the stream the Decoder reads from, e.g. a *bufio.Reader:
// io.ByteReader for DecodeUvarint/DecodeVarint, plus Read for string payloads.
type byteReader interface {
	io.ByteReader
	Read(p []byte) (int, error)
}

// Decoder reads a framed sequence of tagged records (§4.2, §6.2) from a
// buffered byte stream. It does not own the stream's lifecycle; see
// FileDecoder for that.
type Decoder struct {
	r byteReader
}

// NewDecoder wraps r (which must support ReadByte, e.g. a *bufio.Reader) in a
// record-level Decoder.
func NewDecoder(r byteReader) *Decoder {
	return &Decoder{r: r}
}

func (d *Decoder) readString() (string, error) {
	l, err := DecodeUvarint(d.r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, l)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return "", fmt.Errorf("%w: not enough bytes for string, want %d", ErrFormat, l)
		}
		return "", err
	}
	if !utf8.Valid(buf) {
		return "", ErrInvalidUTF8
	}
	return string(buf), nil
}

// NextRecord reads one tagged record. If rec is non-nil, it is reused and
// overwritten in place (zero-allocation reuse across scans, §4.2/§9);
// otherwise a fresh Record is allocated. Returns io.EOF (unwrapped) exactly
// when the stream ends cleanly at a tag boundary.
func (d *Decoder) NextRecord(rec *Record) (*Record, error) {
	tagVal, err := DecodeUvarint(d.r)
	if err != nil {
		return nil, err
	}
	tag := WireTag(tagVal)

	if rec == nil {
		rec = &Record{}
	} else {
		rec.Reset()
	}

	// Ordered by expected frequency, per §4.5's dispatch-ordering note.
	switch tag {
	case WireVarUintVal:
		if rec.VarID, err = DecodeUvarint(d.r); err != nil {
			return nil, err
		}
		v, err := DecodeUvarint(d.r)
		if err != nil {
			return nil, err
		}
		rec.Type = RecVarValue
		rec.FileRecordType = tag
		rec.Value = IntValue(int64(v))
	case WireVarSintVal:
		if rec.VarID, err = DecodeUvarint(d.r); err != nil {
			return nil, err
		}
		v, err := DecodeVarint(d.r)
		if err != nil {
			return nil, err
		}
		rec.Type = RecVarValue
		rec.FileRecordType = tag
		rec.Value = IntValue(v)
	case WireVarStringVal:
		if rec.VarID, err = DecodeUvarint(d.r); err != nil {
			return nil, err
		}
		s, err := d.readString()
		if err != nil {
			return nil, err
		}
		rec.Type = RecVarValue
		rec.FileRecordType = tag
		rec.Value = StringValue(s)
	case WireVarZeroVal:
		if rec.VarID, err = DecodeUvarint(d.r); err != nil {
			return nil, err
		}
		rec.Type = RecVarValue
		rec.FileRecordType = tag
		rec.Value = IntValue(0)
	case WireVarBoolFalse:
		if rec.VarID, err = DecodeUvarint(d.r); err != nil {
			return nil, err
		}
		rec.Type = RecVarValue
		rec.FileRecordType = tag
		rec.Value = BoolValue(false)
	case WireVarBoolTrue:
		if rec.VarID, err = DecodeUvarint(d.r); err != nil {
			return nil, err
		}
		rec.Type = RecVarValue
		rec.FileRecordType = tag
		rec.Value = BoolValue(true)
	case WireVarEmptyString:
		if rec.VarID, err = DecodeUvarint(d.r); err != nil {
			return nil, err
		}
		rec.Type = RecVarValue
		rec.FileRecordType = tag
		rec.Value = StringValue("")
	case WireSetInstID:
		if rec.InstID, err = DecodeUvarint(d.r); err != nil {
			return nil, err
		}
		rec.Type = RecSetInstID
	case WireInstInfo:
		if rec.ClassID, err = DecodeUvarint(d.r); err != nil {
			return nil, err
		}
		if rec.InstID, err = DecodeUvarint(d.r); err != nil {
			return nil, err
		}
		if rec.ParentInstID, err = DecodeUvarint(d.r); err != nil {
			return nil, err
		}
		if rec.Name, err = d.readString(); err != nil {
			return nil, err
		}
		rec.Type = RecInstInfo
	case WireClassInfo:
		if rec.ClassID, err = DecodeUvarint(d.r); err != nil {
			return nil, err
		}
		if rec.Name, err = d.readString(); err != nil {
			return nil, err
		}
		rec.Type = RecClassInfo
	case WireVarInfo:
		if rec.ClassID, err = DecodeUvarint(d.r); err != nil {
			return nil, err
		}
		if rec.VarID, err = DecodeUvarint(d.r); err != nil {
			return nil, err
		}
		vt, err := DecodeUvarint(d.r)
		if err != nil {
			return nil, err
		}
		rec.VarType = VarType(vt)
		if rec.Name, err = d.readString(); err != nil {
			return nil, err
		}
		rec.Type = RecVarInfo
	case WireDeleteInstID:
		if rec.InstID, err = DecodeUvarint(d.r); err != nil {
			return nil, err
		}
		rec.Type = RecDeleteInstID
	case WireScanTally:
		if rec.ScanInByteCount, err = DecodeUvarint(d.r); err != nil {
			return nil, err
		}
		if rec.ScanInInstCount, err = DecodeUvarint(d.r); err != nil {
			return nil, err
		}
		if rec.ScanInVarCount, err = DecodeUvarint(d.r); err != nil {
			return nil, err
		}
		if rec.ScanOutVarCount, err = DecodeUvarint(d.r); err != nil {
			return nil, err
		}
		rec.Type = RecScanTally
	case WireTimestampUsec:
		us, err := DecodeVarint(d.r)
		if err != nil {
			return nil, err
		}
		rec.Type = RecTimestampUsec
		rec.Ts = float64(us) / 1_000_000
	case WireDurationUsec:
		us, err := DecodeVarint(d.r)
		if err != nil {
			return nil, err
		}
		rec.Type = RecDurationUsec
		rec.Ts = float64(us) / 1_000_000
	case WireEOR:
		rec.Type = RecEOR
	default:
		return nil, fmt.Errorf("%w: tag %d", ErrInvalidTag, tag)
	}

	return rec, nil
}
