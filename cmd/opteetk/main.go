// Copyright 2026 The opteetk Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The opteetk tool helps debugging OP-TEE. It renders addresses against a
// device memory map, decodes OP-TEE image headers and records snapshots of
// the pager's physical page list from a GDB stub or a RAM dump.
// Run "opteetk help" for a list of commands.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/opteetk/opteetk/device"
	"github.com/opteetk/opteetk/optee"
	"github.com/opteetk/opteetk/pager"
	"github.com/spf13/cobra"
)

// deviceEnv supplies the default for --device.
const deviceEnv = "OPTEETK_DEVICE"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "opteetk",
		Short:         "opteetk is a set of tools for debugging OP-TEE.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs,
		RunE:          runRoot,
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError{err}
	})
	root.PersistentFlags().String("device", os.Getenv(deviceEnv), "device memory map (JSON); defaults to $"+deviceEnv)
	root.PersistentFlags().String("trace-file", pager.DefaultTraceFile, "pager trace file")

	root.AddCommand(
		&cobra.Command{
			Use:   "addr <address>...",
			Short: "describe addresses relative to the device memory map",
			Args:  checkArgs(cobra.MinimumNArgs(1)),
			RunE:  runAddr,
		},
		&cobra.Command{
			Use:   "size <value>...",
			Short: "print sizes in MiB, kiB and bytes",
			Args:  checkArgs(cobra.MinimumNArgs(1)),
			RunE:  runSize,
		},
		&cobra.Command{
			Use:   "regions",
			Short: "list the regions of the device memory map",
			Args:  checkArgs(cobra.NoArgs),
			RunE:  runRegions,
		},
		newHeaderCmd(),
		newDumpCmd(),
		newAutoDumpCmd(),
		newTraceCmd(),
		newShellCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if isUsage(err) {
			fmt.Fprintf(os.Stderr, "%v\nRun 'opteetk help' for usage.\n", err)
			os.Exit(2)
		}
		exitf("%v\n", err)
	}
}

func exitf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format, args...)
	os.Exit(1)
}

// loadDevice loads the map named by --device. Without one, the map is
// empty and addresses are printed bare.
func loadDevice(cmd *cobra.Command, required bool) (*device.MemoryMap, error) {
	name, err := cmd.Flags().GetString("device")
	if err != nil {
		return nil, err
	}
	if name == "" {
		if required {
			return nil, usagef("no device memory map; use --device or set $%s", deviceEnv)
		}
		return device.New(nil)
	}
	return device.Load(name)
}

func runAddr(cmd *cobra.Command, args []string) error {
	m, err := loadDevice(cmd, false)
	if err != nil {
		return err
	}
	for _, arg := range args {
		a, err := device.ParseValue(arg)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), m.FormatAddress(a))
	}
	return nil
}

func runSize(cmd *cobra.Command, args []string) error {
	for _, arg := range args {
		n, err := device.ParseValue(arg)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), device.FormatSize(n))
	}
	return nil
}

func runRegions(cmd *cobra.Command, args []string) error {
	m, err := loadDevice(cmd, true)
	if err != nil {
		return err
	}
	return m.Dump(cmd.OutOrStdout())
}

func newHeaderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "header <file>",
		Short: "decode an OP-TEE image header (tee.bin, tee-header_v2.bin)",
		Args:  checkArgs(cobra.ExactArgs(1)),
		RunE:  runHeader,
	}
	cmd.Flags().Bool("json", false, "print the images as a device memory map description")
	return cmd
}

func runHeader(cmd *cobra.Command, args []string) error {
	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return err
	}
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()
	h, err := optee.ReadHeader(f)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if asJSON {
		b, err := json.MarshalIndent(h.Description(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s\n", b)
		return nil
	}
	t := tabwriter.NewWriter(out, 0, 0, 1, ' ', 0)
	fmt.Fprintf(t, "version\t%d\n", h.Version)
	fmt.Fprintf(t, "arch\t%s\n", h.Arch)
	fmt.Fprintf(t, "flags\t%#x\n", h.Flags)
	if h.Version == 1 {
		fmt.Fprintf(t, "init mem usage\t%s\n", device.FormatSize(uint64(h.InitMemUsage)))
	}
	for _, img := range h.Images {
		load := "-"
		if img.LoadAddr != optee.NoLoadAddr {
			load = fmt.Sprintf("%#x", img.LoadAddr)
		}
		fmt.Fprintf(t, "image %s\tload %s\tsize %s\n", img.ID, load, device.FormatSize(uint64(img.Size)))
	}
	return t.Flush()
}
