// Copyright 2026 The opteetk Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package device describes the memory map of an OP-TEE target and renders
// raw addresses relative to it.
//
// A map is built once from a Description, usually loaded from a JSON file:
//
//	{
//	  "memory": [
//	    { "name": "RAM", "start": "0x40000000", "length": "32M" },
//	    { "name": "SHM", "start": 1073741824, "end": "0x42000000" }
//	  ]
//	}
//
// Regions keep the order of the description. They may overlap, in which
// case the first one listed wins.
package device

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/pkg/errors"
)

// DefaultName is the name of a region whose description has none.
const DefaultName = "?"

// A Description is the declarative form of a MemoryMap.
type Description struct {
	Memory []RegionDescription `json:"memory,omitempty"`
}

// A RegionDescription gives a region's start and either its length or
// its end. If both are present the length is used.
type RegionDescription struct {
	Name   *string  `json:"name,omitempty"`
	Start  *Literal `json:"start,omitempty"`
	Length *Literal `json:"length,omitempty"`
	End    *Literal `json:"end,omitempty"`
}

// NewRegionDescription returns a description of the region of the given
// length at start.
func NewRegionDescription(name string, start, length Literal) RegionDescription {
	return RegionDescription{Name: &name, Start: &start, Length: &length}
}

// A MemoryMap is an ordered list of regions. It is not modified after New.
type MemoryMap struct {
	regions []Region
}

// New builds a memory map from desc. A nil desc gives an empty map.
func New(desc *Description) (*MemoryMap, error) {
	m := &MemoryMap{}
	if desc == nil {
		return m, nil
	}
	for i, rd := range desc.Memory {
		r, err := rd.region()
		if err != nil {
			return nil, errors.WithMessagef(err, "region %d", i)
		}
		m.regions = append(m.regions, r)
	}
	return m, nil
}

func (rd *RegionDescription) region() (Region, error) {
	r := Region{Name: DefaultName}
	if rd.Name != nil {
		r.Name = *rd.Name
	}
	if rd.Start == nil {
		return Region{}, errors.Wrapf(ErrMalformedRegion, "%s has no start", r.Name)
	}
	start, err := rd.Start.Value()
	if err != nil {
		return Region{}, errors.WithMessagef(err, "%s start", r.Name)
	}
	r.Start = start
	switch {
	case rd.Length != nil:
		length, err := rd.Length.Value()
		if err != nil {
			return Region{}, errors.WithMessagef(err, "%s length", r.Name)
		}
		if length > ^uint64(0)-start {
			return Region{}, errors.Wrapf(ErrMalformedRegion, "%s: %#x+%#x overflows the address space", r.Name, start, length)
		}
		r.Length = length
		r.End = start + length
	case rd.End != nil:
		end, err := rd.End.Value()
		if err != nil {
			return Region{}, errors.WithMessagef(err, "%s end", r.Name)
		}
		if end < start {
			return Region{}, errors.Wrapf(ErrMalformedRegion, "%s: end %#x is below start %#x", r.Name, end, start)
		}
		r.End = end
		r.Length = end - start
	default:
		return Region{}, errors.Wrapf(ErrMalformedRegion, "%s has neither length nor end", r.Name)
	}
	return r, nil
}

// Load reads a JSON device description from the named file and builds
// its memory map.
func Load(filename string) (*MemoryMap, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrapf(ErrFileAccess, "%v", err)
	}
	defer f.Close()
	m, err := Decode(f)
	if err != nil {
		return nil, errors.WithMessage(err, filename)
	}
	return m, nil
}

// Decode reads a JSON device description from r and builds its memory map.
// The description must be the only value in the stream.
func Decode(r io.Reader) (*MemoryMap, error) {
	var desc Description
	dec := json.NewDecoder(r)
	if err := dec.Decode(&desc); err != nil {
		return nil, decodeError(err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, errors.Wrap(ErrParse, "more than one JSON value")
		}
		return nil, errors.Wrapf(ErrParse, "after the description: %v", err)
	}
	return New(&desc)
}

func decodeError(err error) error {
	if errors.Is(err, ErrUnsupportedValueType) || errors.Is(err, ErrInvalidLiteral) {
		return err
	}
	var pe *os.PathError
	if errors.As(err, &pe) {
		return errors.Wrapf(ErrFileAccess, "%v", err)
	}
	return errors.Wrapf(ErrParse, "%v", err)
}

// UnmarshalJSON decodes a region object. A literal given as null is
// ErrUnsupportedValueType, not a missing field.
func (rd *RegionDescription) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	*rd = RegionDescription{}
	if raw, ok := fields["name"]; ok && string(bytes.TrimSpace(raw)) != "null" {
		var name string
		if err := json.Unmarshal(raw, &name); err != nil {
			return err
		}
		rd.Name = &name
	}
	for _, f := range []struct {
		key string
		dst **Literal
	}{
		{"start", &rd.Start},
		{"length", &rd.Length},
		{"end", &rd.End},
	} {
		raw, ok := fields[f.key]
		if !ok {
			continue
		}
		l := new(Literal)
		if err := l.UnmarshalJSON(raw); err != nil {
			return errors.WithMessage(err, f.key)
		}
		*f.dst = l
	}
	return nil
}

// Regions returns the regions in description order.
func (m *MemoryMap) Regions() []Region {
	return append([]Region(nil), m.regions...)
}

// Len returns the number of regions.
func (m *MemoryMap) Len() int {
	return len(m.regions)
}

// Find returns the first region containing a.
func (m *MemoryMap) Find(a uint64) (Region, bool) {
	for _, r := range m.regions {
		if r.Contains(a) {
			return r, true
		}
	}
	return Region{}, false
}

// FormatAddress renders a together with its position in the region that
// contains it, e.g.
//
//	0x1050 (offset 80 B into 256 B RAM, 176 B bytes left to end)
//
// An address outside every region is rendered in hex only.
func (m *MemoryMap) FormatAddress(a uint64) string {
	r, ok := m.Find(a)
	if !ok {
		return fmt.Sprintf("%#x", a)
	}
	off := a - r.Start
	if off == 0 {
		return fmt.Sprintf("%#x (start of %s %s)", a, FormatSize(r.Length), r.Name)
	}
	return fmt.Sprintf("%#x (offset %s into %s %s, %s bytes left to end)",
		a, FormatSize(off), FormatSize(r.Length), r.Name, FormatSize(r.End-a))
}

// Dump writes a table of the regions to w.
func (m *MemoryMap) Dump(w io.Writer) error {
	t := tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)
	fmt.Fprintf(t, "name\tstart\tend\tlength\n")
	for _, r := range m.regions {
		fmt.Fprintf(t, "%s\t%#x\t%#x\t%s\n", r.Name, r.Start, r.End, FormatSize(r.Length))
	}
	return t.Flush()
}

// Description returns a description that builds an identical map.
func (m *MemoryMap) Description() *Description {
	desc := &Description{}
	for _, r := range m.regions {
		desc.Memory = append(desc.Memory, NewRegionDescription(r.Name, Int(r.Start), Int(r.Length)))
	}
	return desc
}
