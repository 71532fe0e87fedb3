// Copyright 2026 The opteetk Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pager

import (
	"encoding/binary"

	"github.com/opteetk/opteetk/optee"
	"golang.org/x/exp/constraints"
)

// A Layout gives the offsets of the fields the walker reads.
//
// The defaults follow
//
//	struct tee_pager_pmem {
//		unsigned int flags;
//		unsigned int fobj_pgidx;
//		struct fobj *fobj;
//		void *va_alias;
//		TAILQ_ENTRY(tee_pager_pmem) link;
//	};
//
// and TAILQ_HEAD, whose first member is tqh_first. Builds with a different
// struct layout can override any offset.
type Layout struct {
	PtrSize   int
	ByteOrder binary.ByteOrder

	HeadFirst int // tqh_first in tee_pager_pmem_head
	FobjPgidx int
	Fobj      int
	VaAlias   int
	Next      int // link.tqe_next
}

// DefaultLayout returns the layout for a little-endian build for arch.
func DefaultLayout(arch optee.Arch) Layout {
	p := arch.PtrSize()
	fobj := align(4+4, p)
	return Layout{
		PtrSize:   p,
		ByteOrder: binary.LittleEndian,
		HeadFirst: 0,
		FobjPgidx: 4,
		Fobj:      fobj,
		VaAlias:   fobj + p,
		Next:      fobj + 2*p,
	}
}

// size returns the number of bytes of an entry the walker has to read.
func (l Layout) size() int {
	n := l.FobjPgidx + 4
	for _, end := range []int{l.Fobj + l.PtrSize, l.VaAlias + l.PtrSize, l.Next + l.PtrSize} {
		n = max(n, end)
	}
	return n
}

func (l Layout) ptr(b []byte) uint64 {
	if l.PtrSize == 4 {
		return uint64(l.ByteOrder.Uint32(b))
	}
	return l.ByteOrder.Uint64(b)
}

func align[I constraints.Integer](a, b I) I {
	return (a + b - 1) &^ (b - 1)
}
