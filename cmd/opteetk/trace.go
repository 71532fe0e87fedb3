// Copyright 2026 The opteetk Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"time"

	"github.com/opteetk/opteetk/internal/gdbremote"
	"github.com/opteetk/opteetk/internal/snapshot"
	"github.com/opteetk/opteetk/optee"
	"github.com/opteetk/opteetk/pager"
	"github.com/spf13/cobra"
)

// A target combines memory from a stub or dump with tee.elf's symbols.
type target struct {
	io.ReaderAt
	pager.SymbolTable
}

// A remote is a GDB stub that can run the target to a breakpoint.
type remote struct {
	*gdbremote.Client
	pager.SymbolTable
}

func (r remote) Continue() (pager.Stop, error) {
	s, err := r.Client.Continue()
	return pager.Stop(s), err
}

func (r remote) Step() (pager.Stop, error) {
	s, err := r.Client.Step()
	return pager.Stop(s), err
}

func addTargetFlags(cmd *cobra.Command) {
	cmd.Flags().String("elf", "", "OP-TEE ELF image with symbols (tee.elf)")
	cmd.Flags().String("remote", "", "GDB stub address, e.g. localhost:1234")
	cmd.Flags().String("arch", "aarch64", "target architecture: aarch32 or aarch64")
	cmd.Flags().Duration("timeout", 5*time.Second, "timeout for connecting to the GDB stub")
}

func newDumpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pgtbl-dump",
		Short: "append one snapshot of the pager's pmem list to the trace file",
		Args:  checkArgs(cobra.NoArgs),
		RunE:  runDump,
	}
	addTargetFlags(cmd)
	cmd.Flags().StringArray("snapshot", nil, "RAM dump as file@address instead of --remote (repeatable)")
	return cmd
}

func newAutoDumpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pgtbl-autodump",
		Short: "snapshot the pager's pmem list on every page fault",
		Args:  checkArgs(cobra.NoArgs),
		RunE:  runAutoDump,
	}
	addTargetFlags(cmd)
	cmd.Flags().String("symbol", pager.FaultSymbol, "function to break on")
	cmd.Flags().Int("count", 0, "stop after this many snapshots (0: until the target exits)")
	cmd.Flags().Int("bp-kind", 4, "breakpoint kind sent to the stub (2 for Thumb)")
	return cmd
}

func newTraceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trace [file]",
		Short: "print a pager trace with addresses resolved against the device map",
		Args:  checkArgs(cobra.MaximumNArgs(1)),
		RunE:  runTrace,
	}
	cmd.Flags().String("session", "", "only show events of this session id")
	return cmd
}

// newSession builds a session from the command's flags and loads tee.elf.
func newSession(cmd *cobra.Command) (*pager.Session, pager.SymbolTable, error) {
	flags := cmd.Flags()
	elfName, err := flags.GetString("elf")
	if err != nil {
		return nil, nil, err
	}
	if elfName == "" {
		return nil, nil, usagef("no symbols; use --elf tee.elf")
	}
	archName, err := flags.GetString("arch")
	if err != nil {
		return nil, nil, err
	}
	arch, err := optee.ParseArch(archName)
	if err != nil {
		return nil, nil, err
	}
	traceFile, err := flags.GetString("trace-file")
	if err != nil {
		return nil, nil, err
	}
	syms, err := pager.LoadSymbols(elfName)
	if err != nil {
		return nil, nil, err
	}
	s := pager.NewSession(traceFile, pager.DefaultLayout(arch))
	s.Log = cmd.ErrOrStderr()
	return s, syms, nil
}

func dial(cmd *cobra.Command) (*gdbremote.Client, error) {
	addr, err := cmd.Flags().GetString("remote")
	if err != nil {
		return nil, err
	}
	timeout, err := cmd.Flags().GetDuration("timeout")
	if err != nil {
		return nil, err
	}
	if addr == "" {
		return nil, usagef("no target; use --remote host:port")
	}
	c, err := gdbremote.Dial(addr, timeout)
	if err != nil {
		return nil, err
	}
	c.Console = cmd.OutOrStdout()
	return c, nil
}

func runDump(cmd *cobra.Command, args []string) error {
	s, syms, err := newSession(cmd)
	if err != nil {
		return err
	}
	specs, err := cmd.Flags().GetStringArray("snapshot")
	if err != nil {
		return err
	}
	var mem io.ReaderAt
	if len(specs) > 0 {
		snap, err := snapshot.Open(specs...)
		if err != nil {
			return err
		}
		defer snap.Close()
		mem = snap
	} else {
		c, err := dial(cmd)
		if err != nil {
			return err
		}
		defer c.Close()
		mem = c
	}
	ev, err := s.Dump(target{mem, syms})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "session %s: %d pmem entries\n", ev.SID, len(ev.PagerStruct))
	return nil
}

func runAutoDump(cmd *cobra.Command, args []string) error {
	s, syms, err := newSession(cmd)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	symbol, err := flags.GetString("symbol")
	if err != nil {
		return err
	}
	count, err := flags.GetInt("count")
	if err != nil {
		return err
	}
	kind, err := flags.GetInt("bp-kind")
	if err != nil {
		return err
	}
	c, err := dial(cmd)
	if err != nil {
		return err
	}
	c.BreakpointKind = kind
	n, err := s.AutoDump(remote{c, syms}, symbol, count)
	fmt.Fprintf(cmd.OutOrStdout(), "session %s: %d snapshots in %s\n", s.ID, n, s.Path)
	if err != nil {
		c.Close()
		return err
	}
	return c.Detach()
}

func runTrace(cmd *cobra.Command, args []string) error {
	m, err := loadDevice(cmd, false)
	if err != nil {
		return err
	}
	name, err := cmd.Flags().GetString("trace-file")
	if err != nil {
		return err
	}
	if len(args) > 0 {
		name = args[0]
	}
	sid, err := cmd.Flags().GetString("session")
	if err != nil {
		return err
	}
	events, err := pager.ReadFile(name)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	shown := 0
	for i := range events {
		if sid != "" && events[i].SID != sid {
			continue
		}
		for _, line := range events[i].Format(m) {
			fmt.Fprintln(out, line)
		}
		shown++
	}
	if shown == 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "WARNING: no events in %s\n", name)
	}
	return nil
}
