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

package loader

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/pieboot/internal/bootstatus"
	"github.com/google/pieboot/internal/format"
	"github.com/google/pieboot/internal/mem"
)

// testELF builds ELF64 images.
type testELF struct {
	bo    binary.ByteOrder
	hdr   elf.Header64
	progs []elf.Prog64
	data  [][]byte
	// pad is the number of bytes added to each program header entry.
	pad int
}

func newTestELF(entry uint64) *testELF {
	e := &testELF{bo: binary.LittleEndian}
	copy(e.hdr.Ident[:], elf.ELFMAG)
	e.hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	e.hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	e.hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	e.hdr.Type = uint16(elf.ET_DYN)
	e.hdr.Machine = uint16(elf.EM_X86_64)
	e.hdr.Version = uint32(elf.EV_CURRENT)
	e.hdr.Entry = entry
	e.hdr.Ehsize = uint16(headerSize)
	return e
}

// load adds a LOAD segment whose file contents are data.
func (e *testELF) load(vaddr, memsz, align uint64, data []byte) *testELF {
	return e.prog(elf.PT_LOAD, vaddr, memsz, align, data)
}

func (e *testELF) prog(t elf.ProgType, vaddr, memsz, align uint64, data []byte) *testELF {
	e.progs = append(e.progs, elf.Prog64{
		Type:  uint32(t),
		Flags: uint32(elf.PF_R | elf.PF_X),
		Vaddr: vaddr,
		Paddr: vaddr,
		Memsz: memsz,
		Align: align,
	})
	e.data = append(e.data, data)
	return e
}

// bytes encodes the image. Program header table and file offsets are
// filled in, then mutate (if not nil) may corrupt them.
func (e *testELF) bytes(mutate func(h *elf.Header64, p []elf.Prog64)) []byte {
	h := e.hdr
	p := append([]elf.Prog64(nil), e.progs...)
	entSize := int(progSize) + e.pad
	h.Phoff = headerSize
	h.Phentsize = uint16(entSize)
	h.Phnum = uint16(len(p))

	off := uint64(int(headerSize) + len(p)*entSize)
	var payload bytes.Buffer
	for i, d := range e.data {
		p[i].Off = off
		p[i].Filesz = uint64(len(d))
		payload.Write(d)
		off += uint64(len(d))
	}
	if mutate != nil {
		mutate(&h, p)
	}

	var b bytes.Buffer
	binary.Write(&b, e.bo, h)
	for _, ph := range p {
		binary.Write(&b, e.bo, ph)
		b.Write(make([]byte, e.pad))
	}
	b.Write(payload.Bytes())
	return b.Bytes()
}

func fill(n int, v byte) []byte {
	return bytes.Repeat([]byte{v}, n)
}

func TestLoadTwoSegments(t *testing.T) {
	text, data := fill(0x200, 0xaa), fill(0x10, 0xbb)
	raw := newTestELF(0x1040).
		load(0x1000, 0x200, 0x1000, text).
		load(0x2000, 0x100, 0x1000, data).
		bytes(nil)

	alloc := &mem.Tracking{Allocator: mem.Heap{}}
	img, err := (&ELFLoader{Alloc: alloc}).Load(raw)
	if err != nil {
		t.Fatalf("Load(): %v", err)
	}
	defer img.Release()

	if got, want := img.Mem.Len(), 0x2000; got != want {
		t.Fatalf("loaded size = %#x, want %#x", got, want)
	}
	if got, want := alloc.Allocations(), 1; got != want {
		t.Errorf("allocations = %d, want %d", got, want)
	}
	want := make([]byte, 0x2000)
	copy(want[0x0000:], text)
	copy(want[0x1000:], data)
	if !bytes.Equal(img.Mem.Bytes(), want) {
		t.Error("loaded image contents differ from segment layout")
	}
	if got, want := img.LinkBase, uint64(0x1000); got != want {
		t.Errorf("LinkBase = %#x, want %#x", got, want)
	}
	if got, want := img.Entry(), img.Mem.Addr()+0x40; got != want {
		t.Errorf("Entry() = %#x, want %#x", got, want)
	}
	if img.Format != format.ELF64PIE {
		t.Errorf("Format = %v, want %v", img.Format, format.ELF64PIE)
	}
}

func TestLoadRoundTrip(t *testing.T) {
	for _, test := range []struct {
		desc string
		elf  *testELF
	}{
		{
			desc: "single segment at zero",
			elf:  newTestELF(0).load(0, 0x1234, 0x1000, fill(0x1000, 1)),
		}, {
			desc: "bss only segment",
			elf: newTestELF(0x10).
				load(0, 0x800, 0x1000, fill(0x800, 1)).
				load(0x1000, 0x3000, 0x1000, nil),
		}, {
			desc: "unaligned vaddr",
			elf:  newTestELF(0x1234).load(0x1234, 0x10, 0x1000, fill(0x10, 7)),
		}, {
			desc: "non load headers are skipped",
			elf: newTestELF(0x400000).
				prog(elf.PT_PHDR, 0x400040, 0x100, 8, nil).
				load(0x400000, 0x100, 0x1000, fill(0x80, 2)).
				prog(elf.PT_NOTE, 0x500000, 0x100, 4, fill(0x20, 0xee)).
				prog(elf.PT_DYNAMIC, 0x402000, 0x40, 8, nil).
				load(0x401000, 0x1800, 0x1000, fill(0x1000, 3)),
		}, {
			desc: "large alignment",
			elf: newTestELF(0x1000).
				load(0x1000, 0x10, 0x1000, fill(0x10, 4)).
				load(0x201000, 0x10, 0x200000, fill(0x10, 5)),
		}, {
			desc: "alignment of one",
			elf:  newTestELF(0x10).load(0x10, 0x20, 1, fill(0x20, 6)),
		},
	} {
		t.Run(test.desc, func(t *testing.T) {
			raw := test.elf.bytes(nil)
			l, err := Plan(raw, DefaultPageSize)
			if err != nil {
				t.Fatalf("Plan(): %v", err)
			}
			img, err := (&ELFLoader{Alloc: mem.Heap{}}).Load(raw)
			if err != nil {
				t.Fatalf("Load(): %v", err)
			}
			defer img.Release()

			got := img.Mem.Bytes()
			if uint64(len(got)) != l.Size() {
				t.Fatalf("loaded %#x bytes, want %#x", len(got), l.Size())
			}
			if l.Min%l.Align != 0 || l.Max%l.Align != 0 {
				t.Errorf("window [%#x, %#x) is not aligned to %#x", l.Min, l.Max, l.Align)
			}
			if l.Align < DefaultPageSize {
				t.Errorf("alignment %#x is smaller than the page size", l.Align)
			}

			want := make([]byte, len(got))
			for _, s := range l.Segments {
				if s.Vaddr < l.Min || s.Vaddr+s.Memsz > l.Max {
					t.Errorf("segment %d [%#x, +%#x) lies outside [%#x, %#x)", s.Index, s.Vaddr, s.Memsz, l.Min, l.Max)
				}
				copy(want[s.Vaddr-l.Min:], raw[s.Offset:s.Offset+s.Filesz])
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("loaded image diff (-want +got):\n%s", diff)
			}

			entry := img.Entry()
			if entry < img.Mem.Addr() || entry >= img.Mem.Addr()+uintptr(img.Mem.Len()) {
				t.Errorf("Entry() = %#x lies outside [%#x, +%#x)", entry, img.Mem.Addr(), img.Mem.Len())
			}
			if got, want := img.EntryOffset, l.Entry-l.Min; got != want {
				t.Errorf("EntryOffset = %#x, want %#x", got, want)
			}
		})
	}
}

func TestPlanAlignmentOrder(t *testing.T) {
	a := newTestELF(0x1000).
		load(0x1000, 0x10, 0x1000, fill(0x10, 1)).
		load(0x201000, 0x10, 0x200000, fill(0x10, 2))
	b := newTestELF(0x1000).
		load(0x201000, 0x10, 0x200000, fill(0x10, 2)).
		load(0x1000, 0x10, 0x1000, fill(0x10, 1))

	la, err := Plan(a.bytes(nil), DefaultPageSize)
	if err != nil {
		t.Fatalf("Plan(a): %v", err)
	}
	lb, err := Plan(b.bytes(nil), DefaultPageSize)
	if err != nil {
		t.Fatalf("Plan(b): %v", err)
	}
	want := Layout{Machine: elf.EM_X86_64, Min: 0, Max: 0x400000, Align: 0x200000, Entry: 0x1000}
	opt := cmpopts.IgnoreFields(Layout{}, "Segments")
	if diff := cmp.Diff(want, la, opt); diff != "" {
		t.Errorf("Plan(a) diff (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, lb, opt); diff != "" {
		t.Errorf("Plan(b) diff (-want +got):\n%s", diff)
	}
}

func TestPlanStride(t *testing.T) {
	e := newTestELF(0x1000).
		load(0x1000, 0x20, 0x1000, fill(0x20, 1)).
		load(0x3000, 0x20, 0x1000, fill(0x20, 2))
	e.pad = 16
	l, err := Plan(e.bytes(nil), DefaultPageSize)
	if err != nil {
		t.Fatalf("Plan(): %v", err)
	}
	if got, want := len(l.Segments), 2; got != want {
		t.Fatalf("found %d segments, want %d", got, want)
	}
	if got, want := l.Segments[1].Vaddr, uint64(0x3000); got != want {
		t.Errorf("second segment vaddr = %#x, want %#x", got, want)
	}
}

func TestPlanBigEndian(t *testing.T) {
	e := newTestELF(0x1000).load(0x1000, 0x20, 0x1000, fill(0x20, 1))
	e.bo = binary.BigEndian
	e.hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2MSB)
	e.hdr.Machine = uint16(elf.EM_PPC64)
	l, err := Plan(e.bytes(nil), DefaultPageSize)
	if err != nil {
		t.Fatalf("Plan(): %v", err)
	}
	if l.Machine != elf.EM_PPC64 || l.Min != 0x1000 || l.Max != 0x2000 {
		t.Errorf("Plan() = %+v", l)
	}
}

func TestLoadRejects(t *testing.T) {
	good := func() *testELF {
		return newTestELF(0x1000).load(0x1000, 0x200, 0x1000, fill(0x100, 1))
	}
	for _, test := range []struct {
		desc     string
		raw      []byte
		loader   ELFLoader
		wantKind bootstatus.Kind
	}{
		{
			desc:     "truncated header",
			raw:      good().bytes(nil)[:40],
			wantKind: bootstatus.InvalidImage,
		}, {
			desc:     "not ELF",
			raw:      append([]byte("MZ"), make([]byte, 100)...),
			wantKind: bootstatus.InvalidImage,
		}, {
			desc: "32-bit",
			raw: good().bytes(func(h *elf.Header64, _ []elf.Prog64) {
				h.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS32)
			}),
			wantKind: bootstatus.UnsupportedFormat,
		}, {
			desc: "executable",
			raw: good().bytes(func(h *elf.Header64, _ []elf.Prog64) {
				h.Type = uint16(elf.ET_EXEC)
			}),
			wantKind: bootstatus.UnsupportedFormat,
		}, {
			desc: "relocatable",
			raw: good().bytes(func(h *elf.Header64, _ []elf.Prog64) {
				h.Type = uint16(elf.ET_REL)
			}),
			wantKind: bootstatus.UnsupportedFormat,
		}, {
			desc: "unknown data encoding",
			raw: good().bytes(func(h *elf.Header64, _ []elf.Prog64) {
				h.Ident[elf.EI_DATA] = 0
			}),
			wantKind: bootstatus.InvalidImage,
		}, {
			desc: "program headers beyond image",
			raw: good().bytes(func(h *elf.Header64, _ []elf.Prog64) {
				h.Phoff = 1 << 40
			}),
			wantKind: bootstatus.InvalidImage,
		}, {
			desc: "program header table overruns image",
			raw: good().bytes(func(h *elf.Header64, _ []elf.Prog64) {
				h.Phnum = 1000
			}),
			wantKind: bootstatus.InvalidImage,
		}, {
			desc: "short program header entries",
			raw: good().bytes(func(h *elf.Header64, _ []elf.Prog64) {
				h.Phentsize = 32
			}),
			wantKind: bootstatus.InvalidImage,
		}, {
			desc:     "no program headers",
			raw:      newTestELF(0).bytes(nil),
			wantKind: bootstatus.InvalidImage,
		}, {
			desc:     "no load segments",
			raw:      newTestELF(0).prog(elf.PT_NOTE, 0, 0x10, 4, fill(0x10, 1)).bytes(nil),
			wantKind: bootstatus.InvalidImage,
		}, {
			desc:     "empty memory range",
			raw:      newTestELF(0x1000).load(0x1000, 0, 0x1000, nil).bytes(nil),
			wantKind: bootstatus.InvalidImage,
		}, {
			desc: "file size exceeds memory size",
			raw: good().bytes(func(_ *elf.Header64, p []elf.Prog64) {
				p[0].Memsz = p[0].Filesz - 1
			}),
			wantKind: bootstatus.InvalidImage,
		}, {
			desc: "segment beyond image",
			raw: good().bytes(func(_ *elf.Header64, p []elf.Prog64) {
				p[0].Off = 1 << 20
			}),
			wantKind: bootstatus.InvalidImage,
		}, {
			desc: "segment overruns image",
			raw: good().bytes(func(_ *elf.Header64, p []elf.Prog64) {
				p[0].Filesz += 1
				p[0].Memsz = p[0].Filesz
			}),
			wantKind: bootstatus.InvalidImage,
		}, {
			desc: "alignment not a power of two",
			raw: good().bytes(func(_ *elf.Header64, p []elf.Prog64) {
				p[0].Align = 0x1800
			}),
			wantKind: bootstatus.InvalidImage,
		}, {
			desc: "address overflow",
			raw: good().bytes(func(_ *elf.Header64, p []elf.Prog64) {
				p[0].Vaddr = 1<<64 - 0x100
			}),
			wantKind: bootstatus.InvalidImage,
		}, {
			desc: "aligned end overflows",
			raw: good().bytes(func(h *elf.Header64, p []elf.Prog64) {
				p[0].Vaddr = 1<<64 - 0x800
				p[0].Memsz = 0x100
				h.Entry = p[0].Vaddr
			}),
			wantKind: bootstatus.InvalidImage,
		}, {
			desc: "entry below image",
			raw: good().bytes(func(h *elf.Header64, _ []elf.Prog64) {
				h.Entry = 0x800
			}),
			wantKind: bootstatus.InvalidImage,
		}, {
			desc: "entry above image",
			raw: good().bytes(func(h *elf.Header64, _ []elf.Prog64) {
				h.Entry = 0x2000
			}),
			wantKind: bootstatus.InvalidImage,
		}, {
			desc:     "too large",
			raw:      good().bytes(nil),
			loader:   ELFLoader{MaxSize: 0x800},
			wantKind: bootstatus.OutOfResources,
		}, {
			desc:     "wrong machine",
			raw:      good().bytes(nil),
			loader:   ELFLoader{Machine: elf.EM_AARCH64},
			wantKind: bootstatus.UnsupportedFormat,
		},
	} {
		t.Run(test.desc, func(t *testing.T) {
			alloc := &mem.Tracking{Allocator: mem.Heap{}}
			l := test.loader
			l.Alloc = alloc
			img, err := l.Load(test.raw)
			if err == nil {
				img.Release()
				t.Fatal("Load() succeeded, want error")
			}
			if got := bootstatus.KindOf(err); got != test.wantKind {
				t.Errorf("Load() = %v (kind %v), want kind %v", err, got, test.wantKind)
			}
			if got := alloc.Allocations(); got != 0 {
				t.Errorf("Load() made %d allocations, want none", got)
			}
		})
	}
}

func TestLoadAllocationFailure(t *testing.T) {
	raw := newTestELF(0x1000).load(0x1000, 0x2000, 0x1000, fill(0x10, 1)).bytes(nil)
	_, err := (&ELFLoader{Alloc: mem.Heap{Max: 0x1000}}).Load(raw)
	if got, want := bootstatus.KindOf(err), bootstatus.OutOfResources; got != want {
		t.Errorf("Load() = %v (kind %v), want kind %v", err, got, want)
	}
}

func TestLoadHugeSegment(t *testing.T) {
	for _, memsz := range []uint64{1 << 50, 1 << 40} {
		raw := newTestELF(0x1000).load(0x1000, memsz, 0x1000, fill(0x10, 1)).bytes(nil)
		alloc := &mem.Tracking{Allocator: mem.Heap{}}
		_, err := (&ELFLoader{Alloc: alloc}).Load(raw)
		if got, want := bootstatus.KindOf(err), bootstatus.OutOfResources; got != want {
			t.Errorf("Load(memsz %#x) = %v (kind %v), want kind %v", memsz, err, got, want)
		}
		if got := alloc.Outstanding(); got != 0 {
			t.Errorf("Load(memsz %#x) left %d buffers outstanding", memsz, got)
		}
	}
}

func TestPlanPageSize(t *testing.T) {
	raw := newTestELF(0x1000).load(0x1000, 0x10, 0x10, fill(0x10, 1)).bytes(nil)
	for _, test := range []struct {
		pageSize uint64
		wantSize uint64
		wantErr  bool
	}{
		{pageSize: 0x1000, wantSize: 0x1000},
		{pageSize: 0x10000, wantSize: 0x10000},
		{pageSize: 0x10, wantSize: 0x10},
		{pageSize: 0, wantErr: true},
		{pageSize: 3000, wantErr: true},
	} {
		l, err := Plan(raw, test.pageSize)
		if gotErr := err != nil; gotErr != test.wantErr {
			t.Errorf("Plan(page size %#x) = %v, want err %t", test.pageSize, err, test.wantErr)
			continue
		}
		if err == nil && l.Size() != test.wantSize {
			t.Errorf("Plan(page size %#x).Size() = %#x, want %#x", test.pageSize, l.Size(), test.wantSize)
		}
	}
}

func TestFlat(t *testing.T) {
	buf, err := mem.Heap{}.Allocate(16)
	if err != nil {
		t.Fatal(err)
	}
	img := Flat(buf)
	defer img.Release()
	if img.Entry() != buf.Addr() {
		t.Errorf("Entry() = %#x, want buffer start %#x", img.Entry(), buf.Addr())
	}
	if img.Mem != buf {
		t.Error("Flat() did not keep the raw buffer")
	}
}
