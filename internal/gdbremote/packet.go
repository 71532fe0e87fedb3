// Copyright 2026 The opteetk Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gdbremote

import (
	"bufio"
	"fmt"
	"io"
	"strconv"

	"github.com/pkg/errors"
)

var (
	ErrBadChecksum = errors.New("bad packet checksum")
	ErrUnsupported = errors.New("request not supported by stub")
	ErrProtocol    = errors.New("malformed reply")
)

// An ErrorReply is an "E NN" reply from the stub.
type ErrorReply struct {
	Request string
	Code    int
}

func (e *ErrorReply) Error() string {
	return fmt.Sprintf("gdb stub: %s: E%02x", e.Request, e.Code)
}

func checksum(b []byte) uint8 {
	var sum uint8
	for _, c := range b {
		sum += c
	}
	return sum
}

// frame returns data as a packet, escaping the bytes the protocol reserves.
func frame(data string) []byte {
	body := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		switch c := data[i]; c {
		case '$', '#', '}', '*':
			body = append(body, '}', c^0x20)
		default:
			body = append(body, c)
		}
	}
	pkt := make([]byte, 0, len(body)+4)
	pkt = append(pkt, '$')
	pkt = append(pkt, body...)
	return append(pkt, fmt.Sprintf("#%02x", checksum(body))...)
}

// writePacket sends data as one packet. It does not wait for an ack.
func writePacket(w io.Writer, data string) error {
	_, err := w.Write(frame(data))
	return err
}

// readPacket discards input up to the next '$' and returns the decoded
// body of the packet that starts there.
func readPacket(r *bufio.Reader) (string, error) {
	for {
		c, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		if c == '$' {
			break
		}
	}
	body, err := r.ReadBytes('#')
	if err != nil {
		return "", err
	}
	body = body[:len(body)-1]
	var cs [2]byte
	if _, err := io.ReadFull(r, cs[:]); err != nil {
		return "", err
	}
	want, err := strconv.ParseUint(string(cs[:]), 16, 8)
	if err != nil {
		return "", errors.Wrapf(ErrProtocol, "checksum %q", cs[:])
	}
	if got := checksum(body); got != uint8(want) {
		return "", errors.Wrapf(ErrBadChecksum, "got %02x, packet says %02x", got, want)
	}
	return unescape(body)
}

// unescape undoes '}' escapes and '*' run-length encoding.
func unescape(b []byte) (string, error) {
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		switch c := b[i]; c {
		case '}':
			i++
			if i == len(b) {
				return "", errors.Wrap(ErrProtocol, "escape at end of packet")
			}
			out = append(out, b[i]^0x20)
		case '*':
			i++
			if i == len(b) || len(out) == 0 {
				return "", errors.Wrap(ErrProtocol, "dangling run length")
			}
			last := out[len(out)-1]
			for n := int(b[i]) - 29; n > 0; n-- {
				out = append(out, last)
			}
		default:
			out = append(out, c)
		}
	}
	return string(out), nil
}

// replyError returns the error an "E NN" reply to req stands for, or nil.
func replyError(req, reply string) error {
	if len(reply) < 3 || reply[0] != 'E' {
		return nil
	}
	code, err := strconv.ParseUint(reply[1:3], 16, 8)
	if err != nil {
		return nil
	}
	return &ErrorReply{Request: req, Code: int(code)}
}
