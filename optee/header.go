// Copyright 2026 The opteetk Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package optee reads the header OP-TEE prepends to its boot images
// (tee-header_v2.bin, or the single-file tee.bin of version 1).
package optee

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/opteetk/opteetk/device"
	"github.com/pkg/errors"
)

// Magic is "OPTE" read as a little-endian word.
const Magic = 0x4554504f

var (
	ErrBadMagic           = errors.New("not an OP-TEE header")
	ErrUnsupportedVersion = errors.New("unsupported OP-TEE header version")
	ErrUnknownArch        = errors.New("unknown architecture")
	ErrTruncated          = errors.New("truncated OP-TEE header")
)

// Arch is the architecture field of the header.
type Arch uint8

const (
	AArch32 Arch = 0
	AArch64 Arch = 1
)

func (a Arch) String() string {
	switch a {
	case AArch32:
		return "AArch32"
	case AArch64:
		return "AArch64"
	}
	return fmt.Sprintf("Arch(%d)", uint8(a))
}

// PtrSize returns the size in bytes of a pointer on a.
func (a Arch) PtrSize() int {
	if a == AArch64 {
		return 8
	}
	return 4
}

// ParseArch accepts the names used by OP-TEE and Go for both architectures.
func ParseArch(s string) (Arch, error) {
	switch strings.ToLower(s) {
	case "aarch32", "arm", "arm32":
		return AArch32, nil
	case "aarch64", "arm64":
		return AArch64, nil
	}
	return 0, errors.Wrapf(ErrUnknownArch, "%q", s)
}

// ImageID identifies an image listed in a version 2 header.
type ImageID uint32

const (
	Pager ImageID = 0
	Paged ImageID = 1
)

func (id ImageID) String() string {
	switch id {
	case Pager:
		return "Pager"
	case Paged:
		return "Paged"
	}
	return fmt.Sprintf("ImageID(%d)", uint32(id))
}

// NoLoadAddr is the load address of an image that is not loaded at a
// fixed place, such as the paged part of a version 1 image.
const NoLoadAddr = ^uint64(0)

// An Image is one entry of the header's image list.
type Image struct {
	LoadAddr uint64
	ID       ImageID
	Size     uint32
}

// A Header is a decoded OP-TEE image header.
type Header struct {
	Magic   uint32
	Version uint8
	Arch    Arch
	Flags   uint16
	Images  []Image

	// InitMemUsage is only present in version 1 headers.
	InitMemUsage uint32
}

type rawHeader struct {
	Magic   uint32
	Version uint8
	Arch    uint8
	Flags   uint16
}

type rawHeaderV1 struct {
	InitSize       uint32
	InitLoadAddrHi uint32
	InitLoadAddrLo uint32
	InitMemUsage   uint32
	PagedSize      uint32
}

type rawImage struct {
	LoadAddrHi uint32
	LoadAddrLo uint32
	ImageID    uint32
	Size       uint32
}

// maxImages bounds nb_images so a corrupt header can't make us allocate
// unbounded memory.
const maxImages = 64

// ReadHeader decodes a version 1 or version 2 header from r.
func ReadHeader(r io.Reader) (*Header, error) {
	var raw rawHeader
	if err := read(r, &raw); err != nil {
		return nil, err
	}
	if raw.Magic != Magic {
		return nil, errors.Wrapf(ErrBadMagic, "magic %#08x", raw.Magic)
	}
	h := &Header{Magic: raw.Magic, Version: raw.Version, Arch: Arch(raw.Arch), Flags: raw.Flags}
	if h.Arch != AArch32 && h.Arch != AArch64 {
		return nil, errors.Wrapf(ErrUnknownArch, "%d", raw.Arch)
	}
	switch h.Version {
	case 1:
		var v1 rawHeaderV1
		if err := read(r, &v1); err != nil {
			return nil, err
		}
		h.InitMemUsage = v1.InitMemUsage
		h.Images = append(h.Images, Image{
			LoadAddr: uint64(v1.InitLoadAddrHi)<<32 | uint64(v1.InitLoadAddrLo),
			ID:       Pager,
			Size:     v1.InitSize,
		})
		if v1.PagedSize != 0 {
			h.Images = append(h.Images, Image{LoadAddr: NoLoadAddr, ID: Paged, Size: v1.PagedSize})
		}
	case 2:
		var n uint32
		if err := read(r, &n); err != nil {
			return nil, err
		}
		if n > maxImages {
			return nil, errors.Wrapf(ErrTruncated, "header claims %d images", n)
		}
		for i := uint32(0); i < n; i++ {
			var img rawImage
			if err := read(r, &img); err != nil {
				return nil, errors.WithMessagef(err, "image %d", i)
			}
			h.Images = append(h.Images, Image{
				LoadAddr: uint64(img.LoadAddrHi)<<32 | uint64(img.LoadAddrLo),
				ID:       ImageID(img.ImageID),
				Size:     img.Size,
			})
		}
	default:
		return nil, errors.Wrapf(ErrUnsupportedVersion, "version %d", h.Version)
	}
	return h, nil
}

func read(r io.Reader, data any) error {
	err := binary.Read(r, binary.LittleEndian, data)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return errors.WithStack(ErrTruncated)
	}
	return err
}

// Description returns a memory map description with one region per
// image that has a load address.
func (h *Header) Description() *device.Description {
	desc := &device.Description{}
	for _, img := range h.Images {
		if img.LoadAddr == NoLoadAddr {
			continue
		}
		desc.Memory = append(desc.Memory,
			device.NewRegionDescription(img.ID.String(), device.Int(img.LoadAddr), device.Int(uint64(img.Size))))
	}
	return desc
}
