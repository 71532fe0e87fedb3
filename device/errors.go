// Copyright 2026 The opteetk Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package device

import "github.com/pkg/errors"

var (
	ErrUnsupportedValueType = errors.New("unsupported value type")
	ErrInvalidLiteral       = errors.New("invalid numeric literal")
	ErrMalformedRegion      = errors.New("malformed region")
	ErrFileAccess           = errors.New("can't read device file")
	ErrParse                = errors.New("can't parse device description")
)
