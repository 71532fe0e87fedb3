// Copyright 2026 The opteetk Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/opteetk/opteetk/device"
	"github.com/opteetk/opteetk/optee"
	"github.com/pkg/errors"
)

const testDevice = `{"memory": [{"name": "RAM", "start": "0x1000", "length": "256"}]}`

func writeFile(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errb bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errb)
	root.SetArgs(args)
	err = root.Execute()
	return out.String(), errb.String(), err
}

func TestAddr(t *testing.T) {
	dev := writeFile(t, "device.json", testDevice)
	out, _, err := run(t, "--device", dev, "addr", "0x1000", "0x1050", "0x50")
	if err != nil {
		t.Fatal(err)
	}
	want := "0x1000 (start of 256 B RAM)\n" +
		"0x1050 (offset 80 B into 256 B RAM, 176 B bytes left to end)\n" +
		"0x50\n"
	if diff := cmp.Diff(want, out); diff != "" {
		t.Errorf("addr output mismatch (-want +got):\n%s", diff)
	}

	out, _, err = run(t, "addr", "0x1050")
	if err != nil || out != "0x1050\n" {
		t.Errorf("addr without a device = %q, %v", out, err)
	}
	if _, _, err := run(t, "addr", "bogus"); err == nil {
		t.Error("addr bogus succeeded")
	}
}

func TestSize(t *testing.T) {
	out, _, err := run(t, "size", "4k", "1048581", "0")
	if err != nil {
		t.Fatal(err)
	}
	if want := "4 kiB\n1 MiB + 5 B\n0\n"; out != want {
		t.Errorf("size output %q, want %q", out, want)
	}
}

func TestRegions(t *testing.T) {
	dev := writeFile(t, "device.json", testDevice)
	t.Setenv(deviceEnv, dev)
	out, _, err := run(t, "regions")
	if err != nil {
		t.Fatal(err)
	}
	want := "name start  end    length\n" +
		"RAM  0x1000 0x1100 256 B\n"
	if diff := cmp.Diff(want, out); diff != "" {
		t.Errorf("regions output mismatch (-want +got):\n%s", diff)
	}

	t.Setenv(deviceEnv, "")
	if _, _, err := run(t, "regions"); err == nil || !strings.Contains(err.Error(), deviceEnv) {
		t.Errorf("regions without a device: %v", err)
	}
}

func TestHeader(t *testing.T) {
	var buf bytes.Buffer
	for _, f := range []any{
		uint32(optee.Magic), uint8(2), uint8(optee.AArch64), uint16(0),
		uint32(1),
		[4]uint32{0, 0x0e100000, uint32(optee.Pager), 0x40000},
	} {
		binary.Write(&buf, binary.LittleEndian, f)
	}
	bin := writeFile(t, "tee-header_v2.bin", buf.String())

	out, _, err := run(t, "header", bin)
	if err != nil {
		t.Fatal(err)
	}
	flat := strings.Join(strings.Fields(out), " ")
	for _, s := range []string{"version 2", "arch AArch64", "image Pager load 0xe100000 size 256 kiB"} {
		if !strings.Contains(flat, s) {
			t.Errorf("header output %q lacks %q", out, s)
		}
	}

	out, _, err = run(t, "header", "--json", bin)
	if err != nil {
		t.Fatal(err)
	}
	m, err := device.Decode(strings.NewReader(out))
	if err != nil {
		t.Fatalf("decoding %q: %v", out, err)
	}
	if got, want := m.FormatAddress(0x0e100000), "0xe100000 (start of 256 kiB Pager)"; got != want {
		t.Errorf("FormatAddress = %q, want %q", got, want)
	}

	if _, _, err := run(t, "header", writeFile(t, "junk.bin", "junk")); !errors.Is(err, optee.ErrTruncated) {
		t.Errorf("header of a short file: %v", err)
	}
}

func TestTrace(t *testing.T) {
	dev := writeFile(t, "device.json", testDevice)
	trace := writeFile(t, "trace.txt",
		`{"pager_struct":[{"fobj_pgidx":3,"fobj":4096,"va_alias":80}],"ts":1690000000.5,"sid":"abc"}`+"\n")

	out, _, err := run(t, "--device", dev, "--trace-file", trace, "trace")
	if err != nil {
		t.Fatal(err)
	}
	want := "session abc at 2023-07-22T04:26:40.5Z: 1 entries\n" +
		"    0 pgidx 3 fobj 0x1000 (start of 256 B RAM) va_alias 0x50\n"
	if diff := cmp.Diff(want, out); diff != "" {
		t.Errorf("trace output mismatch (-want +got):\n%s", diff)
	}

	out, stderr, err := run(t, "trace", "--session", "other", trace)
	if err != nil || out != "" || !strings.Contains(stderr, "no events") {
		t.Errorf("filtered trace = %q, %q, %v", out, stderr, err)
	}
}

func TestDumpNeedsSymbols(t *testing.T) {
	_, _, err := run(t, "pgtbl-dump", "--snapshot", "ram.bin@0x0e100000")
	if err == nil || !strings.Contains(err.Error(), "--elf") {
		t.Errorf("pgtbl-dump without --elf: %v", err)
	}
	_, _, err = run(t, "pgtbl-dump", "--elf", "tee.elf", "--arch", "mips")
	if !errors.Is(err, optee.ErrUnknownArch) {
		t.Errorf("pgtbl-dump --arch mips: %v", err)
	}
}

func TestShell(t *testing.T) {
	dev := writeFile(t, "device.json", testDevice)
	root := newRootCmd()
	if err := root.ParseFlags([]string{"--device", dev}); err != nil {
		t.Fatal(err)
	}
	var out, errb bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errb)

	lines := []string{"size 4k", "", "bogus", "addr 0x1000", "exit", "size 1"}
	next := func() (string, error) {
		if len(lines) == 0 {
			return "", io.EOF
		}
		l := lines[0]
		lines = lines[1:]
		return l, nil
	}
	if err := shell(root, next); err != nil {
		t.Fatal(err)
	}
	if want := "4 kiB\n0x1000 (start of 256 B RAM)\n"; out.String() != want {
		t.Errorf("shell output %q, want %q", out.String(), want)
	}
	if !strings.Contains(errb.String(), "bogus") {
		t.Errorf("shell error output %q", errb.String())
	}
	if len(lines) != 1 {
		t.Errorf("shell kept reading after exit: %q left", lines)
	}
}

func TestUsageErrors(t *testing.T) {
	tests := []struct {
		args  []string
		usage bool
	}{
		{[]string{"bogus"}, true},
		{[]string{"size"}, true},
		{[]string{"regions", "extra"}, true},
		{[]string{"header"}, true},
		{[]string{"size", "--bogus-flag", "1"}, true},
		{[]string{"--count=x", "pgtbl-autodump"}, true},
		{[]string{"pgtbl-dump"}, true},
		{[]string{"size", "bogus"}, false},
		{[]string{"header", "/nonexistent/tee.bin"}, false},
		{[]string{"trace", "/nonexistent/trace.txt"}, false},
	}
	for _, test := range tests {
		_, _, err := run(t, test.args...)
		if err == nil {
			t.Errorf("%q succeeded", test.args)
			continue
		}
		if got := isUsage(err); got != test.usage {
			t.Errorf("%q: isUsage(%v) = %v, want %v", test.args, err, got, test.usage)
		}
	}

	out, _, err := run(t)
	if err != nil || !strings.Contains(out, "pgtbl-dump") {
		t.Errorf("opteetk without arguments = %q, %v; want help", out, err)
	}
}
