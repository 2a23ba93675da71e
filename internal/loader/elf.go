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

// Package loader lays kernel images out in memory.
//
// ELF images must be 64-bit position independent executables (ET_DYN).
// Loading happens in two passes over the program headers: the first finds the
// extent and alignment of all LOAD segments without allocating anything, the
// second copies each segment's file contents into a single zeroed allocation
// covering that extent. No relocations are applied.
package loader

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"math"
	"math/bits"

	"github.com/golang/glog"
	"github.com/google/pieboot/internal/bootstatus"
	"github.com/google/pieboot/internal/format"
	"github.com/google/pieboot/internal/mem"
)

// DefaultPageSize is the minimum alignment of the loaded image.
const DefaultPageSize = 4096

var (
	headerSize = uint64(binary.Size(elf.Header64{}))
	progSize   = uint64(binary.Size(elf.Prog64{}))
)

// Segment is a LOAD program header.
type Segment struct {
	// Index is the position of the header in the program header table.
	Index  int
	Offset uint64
	Vaddr  uint64
	Filesz uint64
	Memsz  uint64
	Align  uint64
}

// Layout describes where an ELF image's segments go once loaded.
type Layout struct {
	Machine elf.Machine
	// Min and Max bound the address window covered by all LOAD segments,
	// rounded to Align.
	Min, Max uint64
	// Align is the largest alignment requested by any LOAD segment, and at
	// least the page size.
	Align uint64
	// Entry is the link-time entry address.
	Entry    uint64
	Segments []Segment
}

// Size returns the number of bytes needed to hold the image.
func (l Layout) Size() uint64 {
	return l.Max - l.Min
}

// Plan validates the ELF image in raw and computes its memory layout.
//
// Plan does not allocate memory for the image, so images it rejects never
// cost an allocation.
func Plan(raw []byte, pageSize uint64) (Layout, error) {
	if pageSize == 0 || bits.OnesCount64(pageSize) != 1 {
		return Layout{}, bootstatus.Errorf(bootstatus.InvalidImage, "page size %d is not a power of two", pageSize)
	}
	if uint64(len(raw)) < headerSize {
		return Layout{}, bootstatus.Errorf(bootstatus.InvalidImage, "%d bytes is too short for an ELF header", len(raw))
	}
	if !bytes.HasPrefix(raw, []byte(elf.ELFMAG)) {
		return Layout{}, bootstatus.Errorf(bootstatus.InvalidImage, "missing ELF magic")
	}
	if c := elf.Class(raw[elf.EI_CLASS]); c != elf.ELFCLASS64 {
		return Layout{}, bootstatus.Errorf(bootstatus.UnsupportedFormat, "ELF class %v, want %v", c, elf.ELFCLASS64)
	}
	var bo binary.ByteOrder
	switch d := elf.Data(raw[elf.EI_DATA]); d {
	case elf.ELFDATA2LSB:
		bo = binary.LittleEndian
	case elf.ELFDATA2MSB:
		bo = binary.BigEndian
	default:
		return Layout{}, bootstatus.Errorf(bootstatus.InvalidImage, "unknown ELF data encoding %v", d)
	}

	var hdr elf.Header64
	if err := binary.Read(bytes.NewReader(raw[:headerSize]), bo, &hdr); err != nil {
		return Layout{}, bootstatus.Errorf(bootstatus.InvalidImage, "failed to read ELF header: %w", err)
	}
	glog.V(1).Infof("ELF type %v machine %v entry %#x phoff %d ehsize %d phentsize %d phnum %d",
		elf.Type(hdr.Type), elf.Machine(hdr.Machine), hdr.Entry, hdr.Phoff, hdr.Ehsize, hdr.Phentsize, hdr.Phnum)

	if t := elf.Type(hdr.Type); t != elf.ET_DYN {
		return Layout{}, bootstatus.Errorf(bootstatus.UnsupportedFormat, "ELF type %v is not position independent (%v)", t, elf.ET_DYN)
	}
	if hdr.Phnum > 0 && uint64(hdr.Phentsize) < progSize {
		return Layout{}, bootstatus.Errorf(bootstatus.InvalidImage, "program header entry size %d is smaller than %d", hdr.Phentsize, progSize)
	}
	if table := uint64(hdr.Phnum) * uint64(hdr.Phentsize); hdr.Phoff > uint64(len(raw)) || table > uint64(len(raw))-hdr.Phoff {
		return Layout{}, bootstatus.Errorf(bootstatus.InvalidImage, "program header table [%d, +%d) lies outside the %d byte image", hdr.Phoff, table, len(raw))
	}

	l := Layout{
		Machine: elf.Machine(hdr.Machine),
		Min:     math.MaxUint64,
		Align:   pageSize,
		Entry:   hdr.Entry,
	}
	for i := 0; i < int(hdr.Phnum); i++ {
		off := hdr.Phoff + uint64(i)*uint64(hdr.Phentsize)
		var p elf.Prog64
		if err := binary.Read(bytes.NewReader(raw[off:off+progSize]), bo, &p); err != nil {
			return Layout{}, bootstatus.Errorf(bootstatus.InvalidImage, "failed to read program header %d: %w", i, err)
		}
		if elf.ProgType(p.Type) != elf.PT_LOAD {
			continue
		}
		glog.V(1).Infof("%d: offset %#x vaddr %#x paddr %#x filesz %#x memsz %#x align %#x",
			i, p.Off, p.Vaddr, p.Paddr, p.Filesz, p.Memsz, p.Align)

		if p.Filesz > p.Memsz {
			return Layout{}, bootstatus.Errorf(bootstatus.InvalidImage, "segment %d: file size %#x exceeds memory size %#x", i, p.Filesz, p.Memsz)
		}
		if p.Filesz > 0 && (p.Off > uint64(len(raw)) || p.Filesz > uint64(len(raw))-p.Off) {
			return Layout{}, bootstatus.Errorf(bootstatus.InvalidImage, "segment %d: file range [%#x, +%#x) lies outside the %d byte image", i, p.Off, p.Filesz, len(raw))
		}
		if p.Align > 1 && bits.OnesCount64(p.Align) != 1 {
			return Layout{}, bootstatus.Errorf(bootstatus.InvalidImage, "segment %d: alignment %#x is not a power of two", i, p.Align)
		}
		if p.Align > l.Align {
			l.Align = p.Align
		}
		end, ok := add(p.Vaddr, p.Memsz)
		if !ok {
			return Layout{}, bootstatus.Errorf(bootstatus.InvalidImage, "segment %d: [%#x, +%#x) overflows", i, p.Vaddr, p.Memsz)
		}
		begin := alignDown(p.Vaddr, l.Align)
		if end, ok = alignUp(end, l.Align); !ok {
			return Layout{}, bootstatus.Errorf(bootstatus.InvalidImage, "segment %d: end %#x overflows when aligned to %#x", i, p.Vaddr+p.Memsz, l.Align)
		}
		l.Min = min(l.Min, begin)
		l.Max = max(l.Max, end)

		l.Segments = append(l.Segments, Segment{
			Index:  i,
			Offset: p.Off,
			Vaddr:  p.Vaddr,
			Filesz: p.Filesz,
			Memsz:  p.Memsz,
			Align:  p.Align,
		})
	}
	if len(l.Segments) == 0 {
		return Layout{}, bootstatus.Errorf(bootstatus.InvalidImage, "no loadable segments")
	}
	// Segments seen before the largest alignment was known were rounded to a
	// smaller one.
	l.Min = alignDown(l.Min, l.Align)
	var ok bool
	if l.Max, ok = alignUp(l.Max, l.Align); !ok || l.Max <= l.Min {
		return Layout{}, bootstatus.Errorf(bootstatus.InvalidImage, "invalid memory range [%#x, %#x)", l.Min, l.Max)
	}
	if l.Entry < l.Min || l.Entry >= l.Max {
		return Layout{}, bootstatus.Errorf(bootstatus.InvalidImage, "entry %#x lies outside [%#x, %#x)", l.Entry, l.Min, l.Max)
	}
	return l, nil
}

// ELFLoader loads ELF64 position independent executables.
type ELFLoader struct {
	// Alloc provides the memory the image is loaded into.
	Alloc mem.Allocator
	// PageSize is the minimum alignment of the image, DefaultPageSize if zero.
	PageSize uint64
	// MaxSize, if non-zero, is the largest image which will be loaded.
	MaxSize uint64
	// Machine, if not EM_NONE, is the only machine type accepted.
	Machine elf.Machine
}

// Load lays the ELF image in raw out in newly allocated memory.
//
// raw is only read, and may be released once Load returns.
func (e *ELFLoader) Load(raw []byte) (*Image, error) {
	pageSize := e.PageSize
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	l, err := Plan(raw, pageSize)
	if err != nil {
		return nil, err
	}
	if e.Machine != elf.EM_NONE && l.Machine != e.Machine {
		return nil, bootstatus.Errorf(bootstatus.UnsupportedFormat, "ELF machine %v, want %v", l.Machine, e.Machine)
	}
	size := l.Size()
	if e.MaxSize > 0 && size > e.MaxSize {
		return nil, bootstatus.Errorf(bootstatus.OutOfResources, "image needs %#x bytes, limit is %#x", size, e.MaxSize)
	}
	glog.Infof("ELF image spans [%#x, %#x): %#x bytes aligned to %#x", l.Min, l.Max, size, l.Align)

	buf, err := e.Alloc.Allocate(size)
	if err != nil {
		return nil, bootstatus.Errorf(bootstatus.OutOfResources, "could not allocate %#x bytes for ELF image: %w", size, err)
	}

	dst := buf.Bytes()
	for _, s := range l.Segments {
		if s.Filesz == 0 {
			continue
		}
		rel := s.Vaddr - l.Min
		copy(dst[rel:rel+s.Filesz], raw[s.Offset:s.Offset+s.Filesz])
		glog.V(1).Infof("Copied segment %d: %#x bytes from offset %#x to %#x", s.Index, s.Filesz, s.Offset, buf.Addr()+uintptr(rel))
	}

	img := &Image{
		Format:      format.ELF64PIE,
		Mem:         buf,
		LinkBase:    l.Min,
		EntryOffset: l.Entry - l.Min,
	}
	glog.Infof("ELF loaded, entry point %#x", img.Entry())
	return img, nil
}

func add(a, b uint64) (uint64, bool) {
	s, carry := bits.Add64(a, b, 0)
	return s, carry == 0
}

func alignDown(v, align uint64) uint64 {
	return v &^ (align - 1)
}

func alignUp(v, align uint64) (uint64, bool) {
	s, ok := add(v, align-1)
	return alignDown(s, align), ok
}
