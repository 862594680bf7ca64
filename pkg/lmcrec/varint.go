// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lmcrec

import "io"

// maxVarintBytes bounds an unsigned varint to 64 bits: ceil(64/7) == 10
// continuation groups.
const maxVarintBytes = 10

// DecodeUvarint reads one little-endian base-128 unsigned varint from r: each
// byte carries 7 value bits low-to-high, with the high bit set on every byte
// but the last. It consumes exactly the bytes belonging to that one varint
// and never peeks beyond it.
func DecodeUvarint(r io.ByteReader) (uint64, error) {
	var result uint64
	var shift uint
	for i := 0; ; i++ {
		if i == maxVarintBytes {
			return 0, ErrOverflow
		}
		b, err := r.ReadByte()
		if err != nil {
			if err == io.EOF && i > 0 {
				return 0, io.ErrUnexpectedEOF
			}
			return 0, err
		}
		if i == maxVarintBytes-1 && b&0xfe != 0 {
			// 10th group may only contribute its single remaining bit
			// (64 == 9*7 + 1); anything more overflows 64 bits.
			return 0, ErrOverflow
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
}

// DecodeVarint reads a zig-zag encoded signed varint: the unsigned value u
// maps to -(u>>1)-1 when u is odd, u>>1 when even.
func DecodeVarint(r io.ByteReader) (int64, error) {
	u, err := DecodeUvarint(r)
	if err != nil {
		return 0, err
	}
	if u&1 != 0 {
		return -int64(u>>1) - 1, nil
	}
	return int64(u >> 1), nil
}
