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

//go:build unix

package mem

import (
	"fmt"
	"unsafe"

	"github.com/golang/glog"
	"golang.org/x/sys/unix"
)

// Mmap allocates page aligned buffers from anonymous private mappings,
// which the kernel hands out already zeroed.
type Mmap struct {
	// Max, if non-zero, is the largest single allocation permitted.
	Max uint64
}

var _ Allocator = Mmap{}

// Allocate implements Allocator.
func (m Mmap) Allocate(size uint64) (*Buffer, error) {
	if err := checkSize(size, m.Max); err != nil {
		return nil, err
	}
	b, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap(%d): %w", size, err)
	}
	return NewBuffer(b, uintptr(unsafe.Pointer(unsafe.SliceData(b))), func() {
		if err := unix.Munmap(b); err != nil {
			glog.Warningf("munmap(%d bytes): %v", len(b), err)
		}
	}), nil
}
