// Copyright 2026 The opteetk Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pager

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/pkg/errors"
)

func TestLoadSymbols(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("test binary is not ELF on", runtime.GOOS)
	}
	exe, err := os.Executable()
	if err != nil {
		t.Fatal(err)
	}
	syms, err := LoadSymbols(exe)
	if err != nil {
		t.Fatal(err)
	}
	a, err := syms.Lookup("runtime.main")
	if err != nil {
		t.Fatal(err)
	}
	if a == 0 {
		t.Error("runtime.main is at address 0")
	}
	if _, err := syms.Lookup(HeadSymbol); !errors.Is(err, ErrSymbolNotFound) {
		t.Errorf("Lookup(%s) error = %v, want ErrSymbolNotFound", HeadSymbol, err)
	}
}

func TestLoadSymbolsNotELF(t *testing.T) {
	name := filepath.Join(t.TempDir(), "tee.elf")
	if err := os.WriteFile(name, []byte("not an ELF file"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSymbols(name); err == nil {
		t.Error("LoadSymbols of a text file succeeded")
	}
	if _, err := LoadSymbols(filepath.Join(t.TempDir(), "missing.elf")); err == nil {
		t.Error("LoadSymbols of a missing file succeeded")
	}
}
