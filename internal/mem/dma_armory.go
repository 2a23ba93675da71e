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

//go:build armory

package mem

import (
	"fmt"

	"github.com/usbarmory/tamago/dma"
)

// DMA allocates buffers from the tamago DMA region, which must have been
// initialised with dma.Init. Addresses are physical.
type DMA struct {
	// Align is the alignment of returned buffers, 0 for the region default.
	Align int
}

var _ Allocator = DMA{}

// Allocate implements Allocator.
func (d DMA) Allocate(size uint64) (*Buffer, error) {
	if err := checkSize(size, 0); err != nil {
		return nil, err
	}
	addr, b := dma.Reserve(int(size), d.Align)
	if addr == 0 || uint64(len(b)) < size {
		return nil, fmt.Errorf("dma reserve of %d bytes: %w", size, ErrExhausted)
	}
	b = b[:size]
	// Reserved DMA memory keeps whatever the previous user left there.
	clear(b)
	return NewBuffer(b, uintptr(addr), func() { dma.Release(addr) }), nil
}
