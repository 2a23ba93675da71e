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

package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"

	"github.com/golang/glog"
	"github.com/google/pieboot/internal/bootstatus"
)

// Disk is a disk image file or block device.
type Disk struct {
	// Path is the location of the file or device node.
	Path string
	// BlockSize is the logical block size, DefaultBlockSize if zero.
	BlockSize uint64
}

func (d Disk) blockSize() uint64 {
	if d.BlockSize == 0 {
		return DefaultBlockSize
	}
	return d.BlockSize
}

// size returns the number of bytes on the disk. Block devices report a zero
// size from stat, so the end is found by seeking.
func (d Disk) size() (int64, error) {
	f, err := os.Open(d.Path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return f.Seek(0, io.SeekEnd)
}

// Files is an ordered set of disks; the ID of a disk is its index.
type Files struct {
	Disks []Disk
}

var (
	_ Locator     = (*Files)(nil)
	_ BlockReader = (*Files)(nil)
)

// Locate returns the first disk which is present and not empty.
func (f *Files) Locate(ctx context.Context) (ID, error) {
	ids, err := f.List(ctx)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, bootstatus.Errorf(bootstatus.NotFound, "none of %d configured disks is present", len(f.Disks))
	}
	return ids[0], nil
}

// List returns the IDs of all disks which are present and not empty.
func (f *Files) List(ctx context.Context) ([]ID, error) {
	var ids []ID
	for i, d := range f.Disks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		size, err := d.size()
		switch {
		case errors.Is(err, fs.ErrNotExist):
			glog.V(1).Infof("Disk %d (%s) is not present", i, d.Path)
			continue
		case err != nil:
			glog.Warningf("Disk %d (%s): %v", i, d.Path, err)
			continue
		case size == 0:
			glog.V(1).Infof("Disk %d (%s) is empty", i, d.Path)
			continue
		}
		ids = append(ids, ID(i))
	}
	return ids, nil
}

// ReadBlocks implements BlockReader.
func (f *Files) ReadBlocks(ctx context.Context, id ID, start uint64, dst []byte) error {
	if int(id) >= len(f.Disks) {
		return bootstatus.Errorf(bootstatus.NotFound, "no disk with ID %v", id)
	}
	if err := ctx.Err(); err != nil {
		return bootstatus.Wrap(bootstatus.IOError, err)
	}
	d := f.Disks[id]
	bs := d.blockSize()
	if start > math.MaxInt64/bs || int64(start*bs) > math.MaxInt64-int64(len(dst)) {
		return bootstatus.Errorf(bootstatus.IOError, "block %d of %s is out of range", start, d.Path)
	}
	off := int64(start * bs)

	r, err := os.Open(d.Path)
	if err != nil {
		return bootstatus.Errorf(bootstatus.IOError, "failed to open disk %v: %w", id, err)
	}
	defer r.Close()

	n, err := r.ReadAt(dst, off)
	if n < len(dst) {
		if err == nil || err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return bootstatus.Errorf(bootstatus.IOError, "read %d of %d bytes at block %d of %s: %w", n, len(dst), start, d.Path, err)
	}
	glog.V(1).Infof("Read %d bytes at block %d (offset %d) of %s", n, start, off, d.Path)
	return nil
}
