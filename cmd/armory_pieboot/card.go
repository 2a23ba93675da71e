// https://github.com/usbarmory/armory-boot
//
// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build armory

package main

import (
	"context"
	"io"

	"github.com/google/pieboot/internal/bootstatus"
	"github.com/google/pieboot/internal/media"
	"github.com/usbarmory/tamago/soc/nxp/usdhc"
)

// cardReader adapts a card to io.ReaderAt.
type cardReader struct {
	card *usdhc.USDHC
}

func (c cardReader) ReadAt(p []byte, off int64) (int, error) {
	info := c.card.Info()
	end := int64(info.Blocks) * int64(info.BlockSize)
	if off < 0 || off >= end {
		return 0, io.EOF
	}
	size := int64(len(p))
	if off+size > end {
		size = end - off
	}
	buf, err := c.card.Read(off, size)
	if err != nil {
		return 0, err
	}
	n := copy(p, buf)
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// cardMedia exposes the boot card as the only boot medium, with ID 0.
type cardMedia struct {
	card *usdhc.USDHC
}

func (c cardMedia) Locate(ctx context.Context) (media.ID, error) {
	if c.card.Info().Blocks == 0 {
		return 0, bootstatus.Errorf(bootstatus.NotFound, "boot card is not present")
	}
	return 0, nil
}

func (c cardMedia) ReadBlocks(ctx context.Context, id media.ID, start uint64, dst []byte) error {
	if id != 0 {
		return bootstatus.Errorf(bootstatus.NotFound, "no medium %v", id)
	}
	bs := uint64(c.card.Info().BlockSize)
	n, err := cardReader{c.card}.ReadAt(dst, int64(start*bs))
	if n < len(dst) {
		return bootstatus.Errorf(bootstatus.IOError, "read %d of %d bytes at block %d: %v", n, len(dst), start, err)
	}
	return nil
}
