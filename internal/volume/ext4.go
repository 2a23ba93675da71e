// https://github.com/usbarmory/armory-boot
//
// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package volume

import (
	"fmt"
	"io"
	"io/fs"

	"github.com/dsoprea/go-ext4"
)

// Partition is an ext4 filesystem stored at a byte offset inside a raw disk.
type Partition struct {
	// Disk is the raw device holding the partition.
	Disk io.ReaderAt
	// Offset is the byte offset of the partition within Disk.
	Offset int64
	// Size is the byte length of the partition.
	Size int64
}

var _ Volume = (*Partition)(nil)

func (p *Partition) section() *io.SectionReader {
	return io.NewSectionReader(p.Disk, p.Offset, p.Size)
}

func (p *Partition) blockGroupDescriptor(rs io.ReadSeeker, inode int) (*ext4.BlockGroupDescriptor, error) {
	if _, err := rs.Seek(ext4.Superblock0Offset, io.SeekStart); err != nil {
		return nil, err
	}

	sb, err := ext4.NewSuperblockWithReader(rs)
	if err != nil {
		return nil, fmt.Errorf("failed to read superblock: %w", err)
	}

	bgdl, err := ext4.NewBlockGroupDescriptorListWithReadSeeker(rs, sb)
	if err != nil {
		return nil, fmt.Errorf("failed to read block group descriptors: %w", err)
	}

	return bgdl.GetWithAbsoluteInode(inode)
}

// ReadFile implements Volume by walking the directory tree from the root
// inode until the entry with the requested path is found.
func (p *Partition) ReadFile(name string) (_ []byte, err error) {
	// go-ext4 reports some corruption by panicking.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("corrupt ext4 filesystem: %v", r)
		}
	}()

	target := CleanPath(name)
	rs := p.section()

	bgd, err := p.blockGroupDescriptor(rs, ext4.InodeRootDirectory)
	if err != nil {
		return nil, err
	}

	dw, err := ext4.NewDirectoryWalk(rs, bgd, ext4.InodeRootDirectory)
	if err != nil {
		return nil, fmt.Errorf("failed to walk root directory: %w", err)
	}

	var inodeNumber int
	for {
		fullPath, de, err := dw.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}

		if CleanPath(fullPath) == target {
			inodeNumber = int(de.Data().Inode)
			break
		}
	}

	if inodeNumber == 0 {
		return nil, fmt.Errorf("%s: %w", name, fs.ErrNotExist)
	}

	bgd, err = p.blockGroupDescriptor(rs, inodeNumber)
	if err != nil {
		return nil, err
	}

	inode, err := ext4.NewInodeWithReadSeeker(bgd, rs, inodeNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to read inode %d: %w", inodeNumber, err)
	}

	en := ext4.NewExtentNavigatorWithReadSeeker(rs, inode)
	return io.ReadAll(ext4.NewInodeReader(en))
}
