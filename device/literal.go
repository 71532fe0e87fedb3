// Copyright 2026 The opteetk Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package device

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// A Literal is a number as it appears in a device description: either
// an integer or a text literal such as "0x40000000" or "32M".
// Text literals are resolved with ParseValue when the map is built.
type Literal struct {
	text   string
	value  uint64
	isText bool
}

// Int returns an integer literal.
func Int(v uint64) Literal {
	return Literal{value: v}
}

// Text returns a text literal. It is not validated until Value is called.
func Text(s string) Literal {
	return Literal{text: s, isText: true}
}

// IsText reports whether l was written as a string.
func (l Literal) IsText() bool {
	return l.isText
}

// Value resolves l to an integer.
func (l Literal) Value() (uint64, error) {
	if l.isText {
		return parseText(l.text)
	}
	return l.value, nil
}

func (l Literal) String() string {
	if l.isText {
		return strconv.Quote(l.text)
	}
	return strconv.FormatUint(l.value, 10)
}

func (l Literal) MarshalJSON() ([]byte, error) {
	if l.isText {
		return json.Marshal(l.text)
	}
	return []byte(strconv.FormatUint(l.value, 10)), nil
}

// UnmarshalJSON accepts a JSON number or string. Every other JSON type,
// and numbers with a fraction or exponent, are ErrUnsupportedValueType.
func (l *Literal) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return errors.Wrap(ErrUnsupportedValueType, "empty value")
	}
	switch c := b[0]; {
	case c == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*l = Text(s)
		return nil
	case c == '-' || '0' <= c && c <= '9':
		v, err := parseNumber(string(b))
		if err != nil {
			return err
		}
		*l = Int(v)
		return nil
	}
	return errors.Wrapf(ErrUnsupportedValueType, "%s (type %s)", b, jsonKind(b[0]))
}

func jsonKind(c byte) string {
	switch c {
	case '{':
		return "object"
	case '[':
		return "array"
	case 't', 'f':
		return "bool"
	case 'n':
		return "null"
	}
	return "unknown"
}

// ParseValue converts v to an unsigned integer.
//
// Integers are returned unchanged. Strings ending in "k" are parsed
// recursively without the suffix and multiplied by 1024, strings ending
// in "M" likewise multiplied by 1024*1024; only one suffix is stripped per
// level, so "2Mk" is 2M*1024. Other strings have their spaces removed and
// are parsed as an integer literal with an optional 0x, 0o or 0b prefix.
// Any other type is ErrUnsupportedValueType.
func ParseValue(v any) (uint64, error) {
	switch x := v.(type) {
	case Literal:
		return x.Value()
	case *Literal:
		if x != nil {
			return x.Value()
		}
	case string:
		return parseText(x)
	case json.Number:
		return parseNumber(string(x))
	case int:
		return fromSigned(int64(x))
	case int8:
		return fromSigned(int64(x))
	case int16:
		return fromSigned(int64(x))
	case int32:
		return fromSigned(int64(x))
	case int64:
		return fromSigned(x)
	case uint:
		return uint64(x), nil
	case uint8:
		return uint64(x), nil
	case uint16:
		return uint64(x), nil
	case uint32:
		return uint64(x), nil
	case uint64:
		return x, nil
	case uintptr:
		return uint64(x), nil
	}
	return 0, errors.Wrapf(ErrUnsupportedValueType, "%v (type %T)", v, v)
}

func fromSigned(v int64) (uint64, error) {
	if v < 0 {
		return 0, errors.Wrapf(ErrInvalidLiteral, "%d is negative", v)
	}
	return uint64(v), nil
}

func parseText(text string) (uint64, error) {
	switch {
	case strings.HasSuffix(text, "k"):
		return scaled(text, 1<<10)
	case strings.HasSuffix(text, "M"):
		return scaled(text, 1<<20)
	}
	return parseInteger(text)
}

// scaled parses text without its one-byte suffix and multiplies by unit.
func scaled(text string, unit uint64) (uint64, error) {
	v, err := parseText(text[:len(text)-1])
	if err != nil {
		return 0, err
	}
	if v > math.MaxUint64/unit {
		return 0, errors.Wrapf(ErrInvalidLiteral, "%q overflows 64 bits", text)
	}
	return v * unit, nil
}

func parseInteger(text string) (uint64, error) {
	s := strings.TrimSpace(strings.ReplaceAll(text, " ", ""))
	if strings.HasPrefix(s, "-") {
		return 0, errors.Wrapf(ErrInvalidLiteral, "%q is negative", text)
	}
	s = strings.TrimPrefix(s, "+")
	if s == "" {
		return 0, errors.Wrapf(ErrInvalidLiteral, "%q has no digits", text)
	}
	// Without a base prefix the literal is decimal, and a leading zero is
	// only allowed when every digit is zero.
	prefixed := len(s) > 1 && s[0] == '0' && strings.ContainsRune("xXoObB", rune(s[1]))
	if !prefixed && s[0] == '0' && strings.Trim(s, "0_") != "" {
		return 0, errors.Wrapf(ErrInvalidLiteral, "%q has a leading zero", text)
	}
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidLiteral, "%q", text)
	}
	return v, nil
}

// parseNumber handles numbers from JSON documents, which carry no suffixes
// or base prefixes.
func parseNumber(s string) (uint64, error) {
	if strings.ContainsAny(s, ".eE") {
		return 0, errors.Wrapf(ErrUnsupportedValueType, "%s (type float)", s)
	}
	if strings.HasPrefix(s, "-") {
		return 0, errors.Wrapf(ErrInvalidLiteral, "%s is negative", s)
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidLiteral, "%s", s)
	}
	return v, nil
}
