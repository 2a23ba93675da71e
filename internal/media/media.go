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

// Package media locates the boot medium and reads raw blocks from it.
package media

//go:generate mockgen -write_package_comment=false -destination mockmedia/mock_media.go -package mockmedia github.com/google/pieboot/internal/media Locator,BlockReader

import (
	"context"
	"strconv"
)

// DefaultBlockSize is the logical block size assumed when none is configured.
const DefaultBlockSize = 512

// ID distinguishes one block device from another.
type ID uint32

func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseID parses the decimal form of an ID.
func ParseID(s string) (ID, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	return ID(v), err
}

// Locator finds the medium holding the kernel image.
type Locator interface {
	// Locate returns the ID of the boot medium, or a NotFound error.
	Locate(ctx context.Context) (ID, error)
}

// BlockReader reads runs of logical blocks from a medium.
type BlockReader interface {
	// ReadBlocks fills dst with the bytes starting at logical block start of
	// medium id. Anything short of filling dst entirely is an IOError.
	ReadBlocks(ctx context.Context, id ID, start uint64, dst []byte) error
}
