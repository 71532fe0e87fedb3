// Copyright 2026 The opteetk Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pager

import (
	"debug/elf"

	"github.com/pkg/errors"
)

// A SymbolTable maps symbol names to target addresses.
type SymbolTable map[string]uint64

// LoadSymbols reads the symbol table of an ELF file such as tee.elf.
func LoadSymbols(filename string) (SymbolTable, error) {
	f, err := elf.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	syms, err := f.Symbols()
	if err != nil {
		return nil, errors.Wrapf(err, "can't read symbols of %s", filename)
	}
	t := SymbolTable{}
	for _, s := range syms {
		if s.Name == "" || s.Section == elf.SHN_UNDEF {
			continue
		}
		t[s.Name] = s.Value
	}
	return t, nil
}

// Lookup returns the address of the named symbol.
func (t SymbolTable) Lookup(name string) (uint64, error) {
	a, ok := t[name]
	if !ok {
		return 0, errors.Wrap(ErrSymbolNotFound, name)
	}
	return a, nil
}
