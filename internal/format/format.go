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

// Package format identifies the binary format of a kernel image from its
// leading magic bytes.
package format

import "bytes"

// Format is the binary format of a kernel image.
type Format int

const (
	// FlatBinary is a headerless image executed at its load address.
	FlatBinary Format = iota
	// ELF64PIE is a 64-bit position independent ELF executable.
	ELF64PIE
	// PE32Plus is a PE32+ image. It is recognised but cannot be loaded.
	PE32Plus
)

var (
	elfMagic = []byte{0x7f, 'E', 'L', 'F'}
	peMagic  = []byte{'M', 'Z'}
)

func (f Format) String() string {
	switch f {
	case FlatBinary:
		return "flat"
	case ELF64PIE:
		return "elf64-pie"
	case PE32Plus:
		return "pe32+"
	}
	return "unknown"
}

// Classify returns the format of the image held in b.
//
// It never fails: anything which carries neither the ELF nor the PE magic,
// including buffers too short to carry either, is a FlatBinary.
func Classify(b []byte) Format {
	switch {
	case bytes.HasPrefix(b, elfMagic):
		return ELF64PIE
	case bytes.HasPrefix(b, peMagic):
		return PE32Plus
	}
	return FlatBinary
}
