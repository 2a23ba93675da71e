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

//go:build !unix

package mem

import "errors"

// Mmap is only supported on unix systems.
type Mmap struct {
	Max uint64
}

var _ Allocator = Mmap{}

// Allocate implements Allocator.
func (Mmap) Allocate(uint64) (*Buffer, error) {
	return nil, errors.New("mmap allocation is only supported on unix systems")
}
