// Copyright 2025 Google LLC. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api contains the contracts shared between the loader and the
// images it boots, and between the loader and remote block servers.
//
// The loader and the loaded image are built independently, so the
// HandoffParams encoding below is the only thing they agree on. Any change
// to the layout must bump HandoffParamsVersion.
package api

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// HandoffParamsMagic is the first four bytes of a marshalled HandoffParams.
	HandoffParamsMagic = "PIEH"
	// HandoffParamsVersion is the version of the layout written by MarshalBinary.
	HandoffParamsVersion = 1
	// HandoffParamsHeaderSize is the size of the fixed part of the encoding,
	// which is followed by the memory map descriptors.
	HandoffParamsHeaderSize = 64

	// MemoryDescriptorSize is the size of one encoded MemoryDescriptor.
	MemoryDescriptorSize = 24
	// MemoryDescriptorVersion is the version of the MemoryDescriptor layout.
	MemoryDescriptorVersion = 1
)

// PixelFormat describes the framebuffer pixel layout, using the UEFI GOP values.
type PixelFormat uint32

const (
	PixelRedGreenBlueReserved8BitPerColor PixelFormat = iota
	PixelBlueGreenRedReserved8BitPerColor
	PixelBitMask
	PixelBltOnly
)

func (p PixelFormat) String() string {
	switch p {
	case PixelRedGreenBlueReserved8BitPerColor:
		return "RGBX8888"
	case PixelBlueGreenRedReserved8BitPerColor:
		return "BGRX8888"
	case PixelBitMask:
		return "BitMask"
	case PixelBltOnly:
		return "BltOnly"
	default:
		return fmt.Sprintf("PixelFormat(%d)", uint32(p))
	}
}

// GraphicsMode is a snapshot of the active graphics mode.
type GraphicsMode struct {
	HorizontalResolution uint32
	VerticalResolution   uint32
	PixelFormat          PixelFormat
	PixelsPerScanLine    uint32
	FrameBufferBase      uint64
	FrameBufferSize      uint64
}

// MemoryType is the type of a memory range, using E820 numbering.
type MemoryType uint32

const (
	MemoryUsable          MemoryType = 1
	MemoryReserved        MemoryType = 2
	MemoryACPIReclaimable MemoryType = 3
	MemoryACPINVS         MemoryType = 4
)

// MemoryDescriptor describes one physical memory range.
type MemoryDescriptor struct {
	Start      uint64
	Size       uint64
	Type       MemoryType
	Attributes uint32
}

// MemoryMap is the opaque memory map handle passed to the image.
//
// Map holds the descriptors in their encoded form; the loader never
// interprets it after the platform has produced it.
type MemoryMap struct {
	Map               []byte
	Key               uint64
	DescriptorSize    uint32
	DescriptorVersion uint32
}

// NewMemoryMap encodes descs into a MemoryMap.
func NewMemoryMap(key uint64, descs []MemoryDescriptor) MemoryMap {
	b := make([]byte, 0, len(descs)*MemoryDescriptorSize)
	for _, d := range descs {
		b = binary.LittleEndian.AppendUint64(b, d.Start)
		b = binary.LittleEndian.AppendUint64(b, d.Size)
		b = binary.LittleEndian.AppendUint32(b, uint32(d.Type))
		b = binary.LittleEndian.AppendUint32(b, d.Attributes)
	}
	return MemoryMap{
		Map:               b,
		Key:               key,
		DescriptorSize:    MemoryDescriptorSize,
		DescriptorVersion: MemoryDescriptorVersion,
	}
}

// Descriptors decodes the memory map. It is used by images and tests; the
// loader itself treats the map as opaque.
func (m MemoryMap) Descriptors() ([]MemoryDescriptor, error) {
	if m.DescriptorSize < MemoryDescriptorSize {
		return nil, fmt.Errorf("descriptor size %d too small", m.DescriptorSize)
	}
	if len(m.Map)%int(m.DescriptorSize) != 0 {
		return nil, fmt.Errorf("map length %d is not a multiple of descriptor size %d", len(m.Map), m.DescriptorSize)
	}
	var ret []MemoryDescriptor
	for b := m.Map; len(b) > 0; b = b[m.DescriptorSize:] {
		ret = append(ret, MemoryDescriptor{
			Start:      binary.LittleEndian.Uint64(b[0:]),
			Size:       binary.LittleEndian.Uint64(b[8:]),
			Type:       MemoryType(binary.LittleEndian.Uint32(b[16:])),
			Attributes: binary.LittleEndian.Uint32(b[20:]),
		})
	}
	return ret, nil
}

// HandoffParams is the parameter block handed to the loaded image.
type HandoffParams struct {
	MemoryMap MemoryMap
	Graphics  GraphicsMode
}

// MarshalBinary encodes p in the fixed-order, little-endian layout.
func (p HandoffParams) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, HandoffParamsHeaderSize+len(p.MemoryMap.Map))
	b = append(b, HandoffParamsMagic...)
	b = binary.LittleEndian.AppendUint32(b, HandoffParamsVersion)
	b = binary.LittleEndian.AppendUint64(b, p.MemoryMap.Key)
	b = binary.LittleEndian.AppendUint32(b, p.MemoryMap.DescriptorSize)
	b = binary.LittleEndian.AppendUint32(b, p.MemoryMap.DescriptorVersion)
	b = binary.LittleEndian.AppendUint64(b, uint64(len(p.MemoryMap.Map)))
	g := p.Graphics
	b = binary.LittleEndian.AppendUint32(b, g.HorizontalResolution)
	b = binary.LittleEndian.AppendUint32(b, g.VerticalResolution)
	b = binary.LittleEndian.AppendUint32(b, uint32(g.PixelFormat))
	b = binary.LittleEndian.AppendUint32(b, g.PixelsPerScanLine)
	b = binary.LittleEndian.AppendUint64(b, g.FrameBufferBase)
	b = binary.LittleEndian.AppendUint64(b, g.FrameBufferSize)
	return append(b, p.MemoryMap.Map...), nil
}

// UnmarshalBinary decodes a block written by MarshalBinary.
func (p *HandoffParams) UnmarshalBinary(b []byte) error {
	if len(b) < HandoffParamsHeaderSize {
		return fmt.Errorf("handoff params too short: %d bytes", len(b))
	}
	if string(b[:4]) != HandoffParamsMagic {
		return errors.New("bad handoff params magic")
	}
	if v := binary.LittleEndian.Uint32(b[4:]); v != HandoffParamsVersion {
		return fmt.Errorf("unsupported handoff params version %d", v)
	}
	n := binary.LittleEndian.Uint64(b[24:])
	if n != uint64(len(b)-HandoffParamsHeaderSize) {
		return fmt.Errorf("memory map length %d does not match trailing %d bytes", n, len(b)-HandoffParamsHeaderSize)
	}
	*p = HandoffParams{
		MemoryMap: MemoryMap{
			Key:               binary.LittleEndian.Uint64(b[8:]),
			DescriptorSize:    binary.LittleEndian.Uint32(b[16:]),
			DescriptorVersion: binary.LittleEndian.Uint32(b[20:]),
			Map:               append([]byte(nil), b[HandoffParamsHeaderSize:]...),
		},
		Graphics: GraphicsMode{
			HorizontalResolution: binary.LittleEndian.Uint32(b[32:]),
			VerticalResolution:   binary.LittleEndian.Uint32(b[36:]),
			PixelFormat:          PixelFormat(binary.LittleEndian.Uint32(b[40:])),
			PixelsPerScanLine:    binary.LittleEndian.Uint32(b[44:]),
			FrameBufferBase:      binary.LittleEndian.Uint64(b[48:]),
			FrameBufferSize:      binary.LittleEndian.Uint64(b[56:]),
		},
	}
	return nil
}

// String returns a compact printable representation of a HandoffParams.
func (p HandoffParams) String() string {
	g := p.Graphics
	return fmt.Sprintf("{gfx %dx%d %v stride %d fb 0x%x+0x%x, mmap %d bytes key %d}",
		g.HorizontalResolution, g.VerticalResolution, g.PixelFormat, g.PixelsPerScanLine,
		g.FrameBufferBase, g.FrameBufferSize, len(p.MemoryMap.Map), p.MemoryMap.Key)
}
