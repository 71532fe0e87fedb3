// Copyright 2026 The opteetk Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

const banner = "OP-TEE trace commands enabled."

func newShellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "run opteetk commands interactively",
		Args:  checkArgs(cobra.NoArgs),
		RunE:  runShell,
	}
}

func runShell(cmd *cobra.Command, args []string) error {
	var items []readline.PrefixCompleterInterface
	for _, c := range newRootCmd().Commands() {
		if c.Name() != "shell" {
			items = append(items, readline.PcItem(c.Name()))
		}
	}
	items = append(items, readline.PcItem("help"), readline.PcItem("exit"))

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "(opteetk) ",
		HistoryFile:     filepath.Join(os.TempDir(), ".opteetk_history"),
		AutoComplete:    readline.NewPrefixCompleter(items...),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdout:          cmd.OutOrStdout(),
		Stderr:          cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	fmt.Fprintln(cmd.OutOrStdout(), banner)
	return shell(cmd, rl.Readline)
}

// shell runs each line returned by next as an opteetk command line until
// next returns io.EOF or the user types exit. The --device and
// --trace-file values of cmd carry over to every line.
func shell(cmd *cobra.Command, next func() (string, error)) error {
	var global []string
	for _, name := range []string{"device", "trace-file"} {
		v, err := cmd.Flags().GetString(name)
		if err != nil {
			return err
		}
		global = append(global, "--"+name, v)
	}
	for {
		line, err := next()
		if err == readline.ErrInterrupt {
			if line == "" {
				return nil
			}
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		words := strings.Fields(line)
		if len(words) == 0 {
			continue
		}
		switch words[0] {
		case "exit", "quit":
			return nil
		case "shell":
			continue
		}
		root := newRootCmd()
		root.SetOut(cmd.OutOrStdout())
		root.SetErr(cmd.ErrOrStderr())
		root.SetArgs(append(words, global...))
		if err := root.Execute(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "%v\n", err)
		}
	}
}
