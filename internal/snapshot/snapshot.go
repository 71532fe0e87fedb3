// Copyright 2026 The opteetk Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package snapshot reads target memory from raw RAM dumps, such as those
// written by QEMU's pmemsave or a JTAG probe, each loaded at a fixed
// target address.
package snapshot

import (
	"os"
	"strings"

	"github.com/opteetk/opteetk/device"
	"github.com/pkg/errors"
)

var ErrUnmapped = errors.New("address not in snapshot")

// A segment is one dump file mapped at [min, max).
type segment struct {
	min, max uint64
	name     string
	contents []byte
	unmap    func() error
}

// A Snapshot is a set of memory dumps addressable by target address.
type Snapshot struct {
	segments []*segment
}

// ParseSpec splits "file@address" into its parts. The address may be
// any literal device.ParseValue accepts.
func ParseSpec(spec string) (string, uint64, error) {
	i := strings.LastIndex(spec, "@")
	if i < 0 {
		return "", 0, errors.Errorf("snapshot %q: want file@address", spec)
	}
	addr, err := device.ParseValue(spec[i+1:])
	if err != nil {
		return "", 0, errors.WithMessagef(err, "snapshot %q", spec)
	}
	return spec[:i], addr, nil
}

// Open maps each "file@address" spec.
func Open(specs ...string) (*Snapshot, error) {
	s := &Snapshot{}
	for _, spec := range specs {
		name, addr, err := ParseSpec(spec)
		if err != nil {
			s.Close()
			return nil, err
		}
		if err := s.add(name, addr); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *Snapshot) add(name string, addr uint64) error {
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	size := uint64(fi.Size())
	if size > ^uint64(0)-addr {
		return errors.Errorf("%s at %#x overflows the address space", name, addr)
	}
	data, unmap, err := mapFile(f, int(size))
	if err != nil {
		return errors.Wrapf(err, "can't map %s", name)
	}
	s.segments = append(s.segments, &segment{min: addr, max: addr + size, name: name, contents: data, unmap: unmap})
	return nil
}

// ReadAt reads len(p) bytes at target address uint64(off). The range must
// lie within a single dump.
func (s *Snapshot) ReadAt(p []byte, off int64) (int, error) {
	a := uint64(off)
	for _, seg := range s.segments {
		if seg.min <= a && a < seg.max {
			n := copy(p, seg.contents[a-seg.min:])
			if n < len(p) {
				return n, errors.Wrapf(ErrUnmapped, "%#x", seg.max)
			}
			return n, nil
		}
	}
	return 0, errors.Wrapf(ErrUnmapped, "%#x", a)
}

// Close releases every mapping.
func (s *Snapshot) Close() error {
	var first error
	for _, seg := range s.segments {
		if seg.unmap == nil {
			continue
		}
		if err := seg.unmap(); err != nil && first == nil {
			first = err
		}
	}
	s.segments = nil
	return first
}
