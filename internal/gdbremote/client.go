// Copyright 2026 The opteetk Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package gdbremote is a client for the GDB remote serial protocol, as
// served by QEMU's gdbstub, OpenOCD and similar stubs. It implements just
// enough to read memory and run to software breakpoints.
//
// A Client is not safe for concurrent use; there is only ever one request
// in flight.
package gdbremote

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// maxRead bounds the size of a single memory read request. Stubs advertise
// their own limit in qSupported, but every stub handles this much.
const maxRead = 0x400

// retries is how often a packet is resent after the peer NAKs it.
const retries = 3

// A Client talks to one stub.
type Client struct {
	rw io.ReadWriteCloser
	r  *bufio.Reader

	// BreakpointKind is the kind argument of Z0 packets: the size of the
	// breakpoint instruction. 4 suits AArch64 and ARM, Thumb code needs 2.
	BreakpointKind int

	// Console receives output the target prints through 'O' packets.
	Console io.Writer
}

// A Stop is the stub's stop reply.
type Stop struct {
	Signal int
	Exited bool
	Status int
}

// Dial connects to a stub listening on a TCP address such as
// "localhost:1234".
func Dial(addr string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	return New(conn), nil
}

// New returns a client using rw, which it owns from now on.
func New(rw io.ReadWriteCloser) *Client {
	return &Client{rw: rw, r: bufio.NewReader(rw), BreakpointKind: 4}
}

// Close closes the connection. The stub usually keeps the target halted.
func (c *Client) Close() error {
	return c.rw.Close()
}

// Detach lets the target run freely and closes the connection.
func (c *Client) Detach() error {
	_, err := c.request("D")
	if cerr := c.Close(); err == nil {
		err = cerr
	}
	return err
}

func (c *Client) send(data string) error {
	for i := 0; ; i++ {
		if err := writePacket(c.rw, data); err != nil {
			return err
		}
		ack, err := c.ack()
		if err != nil {
			return err
		}
		if ack == '+' {
			return nil
		}
		if i >= retries {
			return errors.Wrapf(ErrBadChecksum, "stub rejected %q", data)
		}
	}
}

func (c *Client) ack() (byte, error) {
	for {
		b, err := c.r.ReadByte()
		if err != nil {
			return 0, err
		}
		if b == '+' || b == '-' {
			return b, nil
		}
	}
}

func (c *Client) receive() (string, error) {
	for i := 0; ; i++ {
		data, err := readPacket(c.r)
		if errors.Is(err, ErrBadChecksum) && i < retries {
			if _, err := io.WriteString(c.rw, "-"); err != nil {
				return "", err
			}
			continue
		}
		if err != nil {
			return "", err
		}
		if _, err := io.WriteString(c.rw, "+"); err != nil {
			return "", err
		}
		return data, nil
	}
}

func (c *Client) request(req string) (string, error) {
	if err := c.send(req); err != nil {
		return "", err
	}
	reply, err := c.receive()
	if err != nil {
		return "", err
	}
	if err := replyError(req, reply); err != nil {
		return "", err
	}
	return reply, nil
}

// ReadAt reads target memory at address uint64(off).
func (c *Client) ReadAt(p []byte, off int64) (int, error) {
	addr := uint64(off)
	n := 0
	for n < len(p) {
		k := min(len(p)-n, maxRead)
		reply, err := c.request(fmt.Sprintf("m%x,%x", addr+uint64(n), k))
		if err != nil {
			return n, err
		}
		b, err := hex.DecodeString(reply)
		if err != nil || len(b) > k {
			return n, errors.Wrapf(ErrProtocol, "memory reply %q", reply)
		}
		if len(b) == 0 {
			return n, errors.Wrapf(io.ErrUnexpectedEOF, "no memory at %#x", addr+uint64(n))
		}
		n += copy(p[n:], b)
	}
	return n, nil
}

// SetBreakpoint inserts a software breakpoint at addr.
func (c *Client) SetBreakpoint(addr uint64) error {
	return c.expectOK(fmt.Sprintf("Z0,%x,%x", addr, c.BreakpointKind))
}

// ClearBreakpoint removes the software breakpoint at addr.
func (c *Client) ClearBreakpoint(addr uint64) error {
	return c.expectOK(fmt.Sprintf("z0,%x,%x", addr, c.BreakpointKind))
}

func (c *Client) expectOK(req string) error {
	reply, err := c.request(req)
	if err != nil {
		return err
	}
	switch reply {
	case "OK":
		return nil
	case "":
		return errors.Wrap(ErrUnsupported, req)
	}
	return errors.Wrapf(ErrProtocol, "%s: %q", req, reply)
}

// Continue resumes the target and waits until it stops.
func (c *Client) Continue() (Stop, error) {
	return c.resume("c")
}

// Step executes one instruction.
func (c *Client) Step() (Stop, error) {
	return c.resume("s")
}

// Status asks why the target is halted.
func (c *Client) Status() (Stop, error) {
	return c.resume("?")
}

func (c *Client) resume(req string) (Stop, error) {
	if err := c.send(req); err != nil {
		return Stop{}, err
	}
	for {
		reply, err := c.receive()
		if err != nil {
			return Stop{}, err
		}
		if strings.HasPrefix(reply, "O") && reply != "OK" {
			if c.Console != nil {
				if b, err := hex.DecodeString(reply[1:]); err == nil {
					c.Console.Write(b)
				}
			}
			continue
		}
		if err := replyError(req, reply); err != nil {
			return Stop{}, err
		}
		return parseStop(reply)
	}
}

func parseStop(reply string) (Stop, error) {
	if reply == "" {
		return Stop{}, errors.Wrap(ErrUnsupported, "empty stop reply")
	}
	if len(reply) < 3 {
		return Stop{}, errors.Wrapf(ErrProtocol, "stop reply %q", reply)
	}
	code := reply[1:3]
	if i := strings.IndexByte(reply, ';'); i > 0 && reply[0] != 'T' {
		code = reply[1:i]
	}
	v, err := strconv.ParseUint(code, 16, 8)
	if err != nil {
		return Stop{}, errors.Wrapf(ErrProtocol, "stop reply %q", reply)
	}
	switch reply[0] {
	case 'S', 'T':
		return Stop{Signal: int(v)}, nil
	case 'W':
		return Stop{Exited: true, Status: int(v)}, nil
	case 'X':
		return Stop{Exited: true, Status: int(v)}, nil
	}
	return Stop{}, errors.Wrapf(ErrProtocol, "stop reply %q", reply)
}
