// Copyright 2026 The opteetk Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pager

import (
	"fmt"

	"github.com/pkg/errors"
)

// FaultSymbol is the pager's page fault handler.
const FaultSymbol = "tee_pager_handle_fault"

// sigtrap is the signal a target reports when it hits a breakpoint.
const sigtrap = 5

// A Stop describes why a target stopped running.
type Stop struct {
	Signal int  // valid if !Exited
	Exited bool // the target is gone
	Status int  // exit status or terminating signal, valid if Exited
}

func (s Stop) String() string {
	if s.Exited {
		return fmt.Sprintf("exited with status %d", s.Status)
	}
	return fmt.Sprintf("stopped with signal %d", s.Signal)
}

// A Debugger is a Target that can be run until a breakpoint.
type Debugger interface {
	Target
	SetBreakpoint(addr uint64) error
	ClearBreakpoint(addr uint64) error
	Continue() (Stop, error)
	Step() (Stop, error)
}

// AutoDump sets a breakpoint on symbol (FaultSymbol if empty) and records
// an event each time the target hits it, stepping over the breakpoint and
// continuing afterwards. It returns once count events were recorded
// (never, if count <= 0) or the target exits. The breakpoint is removed
// before returning.
func (s *Session) AutoDump(d Debugger, symbol string, count int) (n int, err error) {
	if symbol == "" {
		symbol = FaultSymbol
	}
	bp, err := d.Lookup(symbol)
	if err != nil {
		return 0, err
	}
	if err := d.SetBreakpoint(bp); err != nil {
		return 0, errors.WithMessagef(err, "breakpoint at %s", symbol)
	}
	armed := true
	defer func() {
		if !armed {
			return
		}
		if cerr := d.ClearBreakpoint(bp); err == nil {
			err = cerr
		}
	}()
	for count <= 0 || n < count {
		stop, err := d.Continue()
		if err != nil {
			return n, err
		}
		if stop.Exited {
			armed = false
			return n, nil
		}
		if stop.Signal != sigtrap {
			return n, errors.Wrapf(ErrUnexpectedStop, "%v", stop)
		}
		if _, err := s.Dump(d); err != nil {
			return n, err
		}
		n++

		// Step off the breakpoint with it lifted, then put it back.
		if err := d.ClearBreakpoint(bp); err != nil {
			return n, err
		}
		armed = false
		stop, err = d.Step()
		if err != nil {
			return n, err
		}
		if stop.Exited {
			return n, nil
		}
		if err := d.SetBreakpoint(bp); err != nil {
			return n, err
		}
		armed = true
	}
	return n, nil
}
