// Copyright 2026 The opteetk Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package device

import "fmt"

// A Region is a named, contiguous subset of the device's address space.
// It covers the half-open range [Start, End) and End == Start+Length.
type Region struct {
	Name   string
	Start  uint64
	End    uint64 // address of the byte just beyond the region
	Length uint64
}

// Contains reports whether a is inside the region. A zero-length region
// contains nothing.
func (r Region) Contains(a uint64) bool {
	return r.Start <= a && a < r.End
}

func (r Region) String() string {
	return fmt.Sprintf("%s [%#x %#x)", r.Name, r.Start, r.End)
}

// FormatSize renders a byte count as whole MiB, kiB and bytes, largest
// unit first, e.g. "1 MiB + 5 B". Zero is "0".
func FormatSize(size uint64) string {
	if size == 0 {
		return "0"
	}
	var a [3]string
	parts := a[:0]
	if size >= 1<<20 {
		parts = append(parts, fmt.Sprintf("%d MiB", size>>20))
		size %= 1 << 20
	}
	if size >= 1<<10 {
		parts = append(parts, fmt.Sprintf("%d kiB", size>>10))
		size %= 1 << 10
	}
	if size > 0 {
		parts = append(parts, fmt.Sprintf("%d B", size))
	}
	s := parts[0]
	for _, p := range parts[1:] {
		s += " + " + p
	}
	return s
}
