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
	"fmt"

	"github.com/google/pieboot/internal/format"
	"github.com/google/pieboot/internal/mem"
)

// Image is a kernel laid out in memory and ready to be entered.
type Image struct {
	// Format is the format the image was loaded from.
	Format format.Format
	// Mem holds the loaded image. It is owned by the Image.
	Mem *mem.Buffer
	// LinkBase is the lowest address the image was linked at, which Mem's
	// first byte corresponds to.
	LinkBase uint64
	// EntryOffset is the offset of the entry point from the start of Mem.
	EntryOffset uint64
}

// Flat wraps a headerless image, which is entered at its first byte.
// Ownership of buf passes to the returned Image.
func Flat(buf *mem.Buffer) *Image {
	return &Image{Format: format.FlatBinary, Mem: buf}
}

// Entry returns the address execution should start at.
func (i *Image) Entry() uintptr {
	return i.Mem.Addr() + uintptr(i.EntryOffset)
}

// Size returns the number of bytes the image occupies.
func (i *Image) Size() uint64 {
	return uint64(i.Mem.Len())
}

// Release frees the memory backing the image.
func (i *Image) Release() {
	if i != nil {
		i.Mem.Release()
	}
}

func (i *Image) String() string {
	return fmt.Sprintf("%v image: %d bytes @ %#x, link base %#x, entry %#x", i.Format, i.Mem.Len(), i.Mem.Addr(), i.LinkBase, i.Entry())
}
