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

// Package mem provides the owned memory buffers which the boot pipeline
// reads images into and loads images at.
package mem

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"unsafe"
)

// ErrExhausted is returned by allocators which cannot satisfy a request.
var ErrExhausted = errors.New("memory exhausted")

// Allocator hands out zero-initialised buffers.
type Allocator interface {
	// Allocate returns a buffer of exactly size bytes, all zero.
	Allocate(size uint64) (*Buffer, error)
}

// Buffer is a block of memory with a single owner.
//
// The owner must call Release once it no longer needs the memory, or hand
// the Buffer on to a new owner which will.
type Buffer struct {
	b       []byte
	addr    uintptr
	release func()
	once    sync.Once
}

// NewBuffer wraps b, which lives at physical or virtual address addr.
// release, if not nil, is called at most once by Release.
func NewBuffer(b []byte, addr uintptr, release func()) *Buffer {
	return &Buffer{b: b, addr: addr, release: release}
}

// Bytes returns the buffer contents. The slice must not be used after Release.
func (b *Buffer) Bytes() []byte {
	return b.b
}

// Len returns the size of the buffer in bytes.
func (b *Buffer) Len() int {
	return len(b.b)
}

// Addr returns the address of the first byte of the buffer.
func (b *Buffer) Addr() uintptr {
	return b.addr
}

// Release returns the memory to its allocator. It is safe to call more than once.
func (b *Buffer) Release() {
	if b == nil {
		return
	}
	b.once.Do(func() {
		if b.release != nil {
			b.release()
		}
		b.b = nil
	})
}

// DefaultHeapMax is the largest single Heap allocation permitted when no
// Max is configured. Larger requests would abort the runtime rather than
// fail.
const DefaultHeapMax = 1 << 30

// Heap allocates buffers from the Go heap.
type Heap struct {
	// Max is the largest single allocation permitted, DefaultHeapMax if zero.
	Max uint64
}

var _ Allocator = Heap{}

// Allocate implements Allocator.
func (h Heap) Allocate(size uint64) (*Buffer, error) {
	max := h.Max
	if max == 0 {
		max = DefaultHeapMax
	}
	if err := checkSize(size, max); err != nil {
		return nil, err
	}
	b := make([]byte, size)
	return NewBuffer(b, uintptr(unsafe.Pointer(unsafe.SliceData(b))), nil), nil
}

func checkSize(size, max uint64) error {
	switch {
	case size == 0:
		return errors.New("zero sized allocation")
	case size > math.MaxInt:
		return fmt.Errorf("%d bytes: %w", size, ErrExhausted)
	case max > 0 && size > max:
		return fmt.Errorf("%d bytes exceeds limit of %d: %w", size, max, ErrExhausted)
	}
	return nil
}

// Tracking wraps an Allocator and keeps count of the buffers which have not
// yet been released.
type Tracking struct {
	Allocator Allocator
	// Limit, if non-zero, caps the number of bytes outstanding at once.
	Limit uint64

	mu          sync.Mutex
	allocations int
	outstanding int
	bytes       uint64
}

var _ Allocator = (*Tracking)(nil)

// Allocate implements Allocator.
func (t *Tracking) Allocate(size uint64) (*Buffer, error) {
	t.mu.Lock()
	if t.Limit > 0 && (size > t.Limit || t.bytes > t.Limit-size) {
		t.mu.Unlock()
		return nil, fmt.Errorf("%d bytes with %d outstanding exceeds limit of %d: %w", size, t.bytes, t.Limit, ErrExhausted)
	}
	t.mu.Unlock()

	b, err := t.Allocator.Allocate(size)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.allocations++
	t.outstanding++
	t.bytes += size
	t.mu.Unlock()

	inner := b
	return NewBuffer(b.Bytes(), b.Addr(), func() {
		inner.Release()
		t.mu.Lock()
		t.outstanding--
		t.bytes -= size
		t.mu.Unlock()
	}), nil
}

// Allocations returns the number of successful allocations made.
func (t *Tracking) Allocations() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allocations
}

// Outstanding returns the number of buffers allocated but not yet released.
func (t *Tracking) Outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outstanding
}

// OutstandingBytes returns the total size of the buffers not yet released.
func (t *Tracking) OutstandingBytes() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bytes
}
