// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lmcrec

import "errors"

// Sentinel error categories, per the error-handling taxonomy: format
// violations are fatal to the current file only, invariant breaches are
// fatal to the whole cache, configuration errors are fatal before any scan
// runs. Wrap one of these with fmt.Errorf("...: %w", ErrX) so callers can
// distinguish "skip this file" from "abort everything" with errors.Is.
var (
	ErrOverflow    = errors.New("lmcrec: varint overflows 64 bits")
	ErrFormat      = errors.New("lmcrec: format violation")
	ErrInvariant   = errors.New("lmcrec: invariant breach")
	ErrConfig      = errors.New("lmcrec: configuration error")
	ErrInvalidTag  = errors.New("lmcrec: unrecognized record tag")
	ErrInvalidUTF8 = errors.New("lmcrec: invalid utf-8 in length-prefixed string")
)
