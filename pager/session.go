// Copyright 2026 The opteetk Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pager

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/opteetk/opteetk/device"
	"github.com/pkg/errors"
)

// DefaultTraceFile is where events go unless a session says otherwise.
const DefaultTraceFile = "/tmp/optee-pgtbl-dump.txt"

// An Event is one snapshot of the pmem list.
type Event struct {
	PagerStruct []Entry `json:"pager_struct"`
	TS          float64 `json:"ts"`  // unix time in seconds
	SID         string  `json:"sid"` // session that recorded the event
}

// Time returns the event's timestamp.
func (ev *Event) Time() time.Time {
	sec := int64(ev.TS)
	return time.Unix(sec, int64((ev.TS-float64(sec))*1e9))
}

// A Session is one debugging session. All events it records share its ID.
type Session struct {
	ID     uuid.UUID
	Path   string
	Layout Layout

	// Log, if not nil, receives a line per recorded event.
	Log io.Writer

	now func() time.Time
}

// NewSession returns a session with a fresh ID appending to path.
func NewSession(path string, l Layout) *Session {
	if path == "" {
		path = DefaultTraceFile
	}
	return &Session{ID: uuid.New(), Path: path, Layout: l, now: time.Now}
}

// Dump walks the pmem list of t and appends the result to the trace file.
func (s *Session) Dump(t Target) (*Event, error) {
	entries, err := Walk(t, s.Layout)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []Entry{}
	}
	now := s.now()
	ev := &Event{
		PagerStruct: entries,
		TS:          float64(now.UnixNano()) / 1e9,
		SID:         s.ID.String(),
	}
	if err := Append(s.Path, ev); err != nil {
		return nil, err
	}
	if s.Log != nil {
		fmt.Fprintf(s.Log, "dumped %d pmem entries to %s\n", len(entries), s.Path)
	}
	return ev, nil
}

// Append writes ev as a single line at the end of the named file,
// creating it if needed.
func Append(filename string, ev *Event) (err error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(filename, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return errors.Wrap(err, "can't open trace file")
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	_, err = f.Write(append(b, '\n'))
	return err
}

// ReadEvents reads a trace written by Append. Blank lines are skipped.
func ReadEvents(r io.Reader) ([]Event, error) {
	var events []Event
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64<<10), 64<<20)
	for line := 1; sc.Scan(); line++ {
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(b, &ev); err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		events = append(events, ev)
	}
	return events, sc.Err()
}

// ReadFile reads the named trace file.
func ReadFile(filename string) ([]Event, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	events, err := ReadEvents(f)
	if err != nil {
		return nil, errors.WithMessage(err, filename)
	}
	return events, nil
}

// Format renders e with its addresses resolved against m.
func (e Entry) Format(m *device.MemoryMap) string {
	return fmt.Sprintf("pgidx %d fobj %s va_alias %s", e.FobjPgidx, m.FormatAddress(e.Fobj), m.FormatAddress(e.VaAlias))
}

// Format renders ev as a header line followed by one line per entry.
func (ev *Event) Format(m *device.MemoryMap) []string {
	lines := []string{fmt.Sprintf("session %s at %s: %d entries",
		ev.SID, ev.Time().UTC().Format(time.RFC3339Nano), len(ev.PagerStruct))}
	for i, e := range ev.PagerStruct {
		lines = append(lines, fmt.Sprintf("  %3d %s", i, e.Format(m)))
	}
	return lines
}
