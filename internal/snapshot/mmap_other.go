// Copyright 2026 The opteetk Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !unix

package snapshot

import (
	"io"
	"os"
)

func mapFile(f *os.File, length int) ([]byte, func() error, error) {
	data := make([]byte, length)
	if _, err := io.ReadFull(f, data); err != nil {
		return nil, nil, err
	}
	return data, nil, nil
}
