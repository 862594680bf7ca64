// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lmcrec

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

// InfoState is the sidecar's lifecycle marker for its companion recording.
type InfoState byte

const (
	InfoUninitialized InfoState = 0
	InfoActive        InfoState = 1
	InfoClosed        InfoState = 2
)

func (s InfoState) String() string {
	switch s {
	case InfoUninitialized:
		return "UNINITIALIZED"
	case InfoActive:
		return "ACTIVE"
	case InfoClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("InfoState(%d)", byte(s))
	}
}

// Info is the decoded per-file sidecar header (§4.3, `.lmcrec.info`).
type Info struct {
	Version          string
	PrevFileName     string
	StartTs          float64
	State            InfoState
	MostRecentTs     float64
	TotalInNumBytes  uint64
	TotalInNumInst   uint64
	TotalInNumVar    uint64
	TotalOutNumVar   uint64
}

func readLengthPrefixedString(r io.ByteReader, raw io.Reader) (string, error) {
	l, err := DecodeUvarint(r)
	if err != nil {
		return "", err
	}
	if l == 0 {
		return "", nil
	}
	buf := make([]byte, l)
	if _, err := io.ReadFull(raw, buf); err != nil {
		return "", fmt.Errorf("%w: info string truncated", ErrFormat)
	}
	return string(buf), nil
}

// DecodeInfo reads one Info record from r, a buffered reader implementing
// both io.ByteReader and io.Reader (e.g. *bufio.Reader).
func DecodeInfo(r *bufio.Reader) (*Info, error) {
	info := &Info{}

	var err error
	if info.Version, err = readLengthPrefixedString(r, r); err != nil {
		return nil, err
	}
	if info.PrevFileName, err = readLengthPrefixedString(r, r); err != nil {
		return nil, err
	}

	startUs, err := DecodeVarint(r)
	if err != nil {
		return nil, err
	}
	info.StartTs = float64(startUs) / 1_000_000

	stateByte, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: missing info state byte", ErrFormat)
	}
	switch InfoState(stateByte) {
	case InfoUninitialized, InfoActive, InfoClosed:
		info.State = InfoState(stateByte)
	default:
		return nil, fmt.Errorf("%w: invalid info state byte %d", ErrFormat, stateByte)
	}

	mostRecentUs, err := DecodeVarint(r)
	if err != nil {
		return nil, err
	}
	info.MostRecentTs = float64(mostRecentUs) / 1_000_000

	if info.TotalInNumBytes, err = DecodeUvarint(r); err != nil {
		return nil, err
	}
	if info.TotalInNumInst, err = DecodeUvarint(r); err != nil {
		return nil, err
	}
	if info.TotalInNumVar, err = DecodeUvarint(r); err != nil {
		return nil, err
	}
	if info.TotalOutNumVar, err = DecodeUvarint(r); err != nil {
		return nil, err
	}

	return info, nil
}

// DecodeInfoFromFile opens name and decodes its Info header.
func DecodeInfoFromFile(name string) (*Info, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeInfo(bufio.NewReader(f))
}
