// Copyright 2026 The opteetk Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pager records snapshots of the OP-TEE pager's list of physical
// pages, tee_pager_pmem_head, read from a live or dumped target.
//
// Each snapshot is appended as one JSON line to a trace file:
//
//	{"pager_struct":[{"fobj_pgidx":3,"fobj":...,"va_alias":...}],"ts":1690000000.5,"sid":"..."}
//
// The trace can later be rendered against a device memory map.
package pager

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// HeadSymbol is the list head walked by Walk.
const HeadSymbol = "tee_pager_pmem_head"

var (
	ErrSymbolNotFound = errors.New("symbol not found")
	ErrListCycle      = errors.New("pmem list loops")
	ErrUnexpectedStop = errors.New("target stopped unexpectedly")
)

// A Target gives access to the memory and symbols of an OP-TEE build.
// ReadAt offsets are target virtual addresses, reinterpreted as uint64.
type Target interface {
	io.ReaderAt
	Lookup(name string) (uint64, error)
}

// An Entry is what the tracer keeps of one struct tee_pager_pmem.
type Entry struct {
	FobjPgidx uint32 `json:"fobj_pgidx"`
	Fobj      uint64 `json:"fobj"`
	VaAlias   uint64 `json:"va_alias"`
}

// Walk follows tee_pager_pmem_head from tqh_first through link.tqe_next
// and returns the entries in list order.
func Walk(t Target, l Layout) ([]Entry, error) {
	head, err := t.Lookup(HeadSymbol)
	if err != nil {
		return nil, err
	}
	b := make([]byte, l.size())
	if err := readAt(t, b[:l.PtrSize], head+uint64(l.HeadFirst)); err != nil {
		return nil, errors.WithMessage(err, HeadSymbol)
	}
	var entries []Entry
	seen := map[uint64]bool{}
	for p := l.ptr(b); p != 0; p = l.ptr(b[l.Next:]) {
		if seen[p] {
			return nil, errors.Wrapf(ErrListCycle, "entry %#x revisited after %d entries", p, len(entries))
		}
		seen[p] = true
		if err := readAt(t, b, p); err != nil {
			return nil, errors.WithMessagef(err, "pmem entry %d", len(entries))
		}
		entries = append(entries, Entry{
			FobjPgidx: l.ByteOrder.Uint32(b[l.FobjPgidx:]),
			Fobj:      l.ptr(b[l.Fobj:]),
			VaAlias:   l.ptr(b[l.VaAlias:]),
		})
	}
	return entries, nil
}

func readAt(r io.ReaderAt, b []byte, addr uint64) error {
	n, err := r.ReadAt(b, int64(addr))
	if n == len(b) {
		return nil
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return errors.Wrapf(err, "can't read %d bytes at %#x", len(b), addr)
}

func (e Entry) String() string {
	return fmt.Sprintf("pgidx %d fobj %#x va_alias %#x", e.FobjPgidx, e.Fobj, e.VaAlias)
}
