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

// Package boot runs the load-and-handoff pipeline: it reads the image
// descriptor, reads the kernel image from raw disk blocks, lays it out in
// memory and hands control to it.
package boot

import (
	"bytes"
	"context"
	"crypto/sha256"
	"debug/elf"
	"fmt"

	"github.com/golang/glog"
	"github.com/google/pieboot/internal/bootstatus"
	"github.com/google/pieboot/internal/descriptor"
	"github.com/google/pieboot/internal/format"
	"github.com/google/pieboot/internal/handoff"
	"github.com/google/pieboot/internal/loader"
	"github.com/google/pieboot/internal/media"
	"github.com/google/pieboot/internal/mem"
	"github.com/google/pieboot/internal/platform"
	"github.com/google/pieboot/internal/volume"
	"golang.org/x/mod/sumdb/note"
)

// Chain represents the next stage in the boot process.
type Chain func() error

// Env holds the collaborators the pipeline runs against.
type Env struct {
	// Volume holds the image descriptor.
	Volume volume.Volume
	// Locator finds the medium holding the image.
	Locator media.Locator
	// Blocks reads the image from the medium.
	Blocks media.BlockReader
	// Platform provides the machine state passed to the image.
	Platform platform.Platform
	// Alloc provides memory for the raw and the loaded image.
	Alloc mem.Allocator
	// Transfer enters the loaded image.
	Transfer handoff.Transfer
}

// Options tune the pipeline.
type Options struct {
	// DescriptorPath is the location of the descriptor on the volume,
	// descriptor.DefaultPath if empty.
	DescriptorPath string
	// Verifier, if set, must have signed the descriptor.
	Verifier note.Verifier
	// PageSize is the minimum alignment of loaded ELF images.
	PageSize uint64
	// MaxImageSize, if non-zero, bounds both the raw and the loaded image.
	MaxImageSize uint64
	// Machine, if not EM_NONE, is the only ELF machine accepted.
	Machine elf.Machine
	// StrictFormat rejects images which are neither ELF nor PE instead of
	// running them as flat binaries.
	StrictFormat bool
}

// Prepare performs every step of the boot up to the handoff, and returns
// the handoff as the next link in the boot chain.
//
// On failure every buffer allocated along the way has been released. The
// returned Chain does not return if the handoff succeeds.
func Prepare(ctx context.Context, env Env, opts Options) (Chain, error) {
	path := opts.DescriptorPath
	if path == "" {
		path = descriptor.DefaultPath
	}
	d, err := descriptor.Read(env.Volume, path, opts.Verifier)
	if err != nil {
		return nil, err
	}
	glog.Infof("Descriptor %q: %v", path, d)

	id, err := env.Locator.Locate(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to locate boot media: %w", withKind(bootstatus.NotFound, err))
	}
	glog.Infof("Boot media %v", id)

	raw, err := readImage(ctx, env, opts, id, d)
	if err != nil {
		return nil, err
	}

	img, err := load(raw, env.Alloc, opts)
	if err != nil {
		return nil, err
	}
	glog.Infof("Loaded %v", img)

	return func() error {
		p, err := platform.Snapshot(ctx, env.Platform)
		if err != nil {
			img.Release()
			return err
		}
		glog.Infof("Handing off with %v", p)
		if err := handoff.Invoke(env.Transfer, img, p); err != nil {
			img.Release()
			return err
		}
		return nil
	}, nil
}

// Boot runs the whole pipeline. It returns only on failure.
func Boot(ctx context.Context, env Env, opts Options) error {
	next, err := Prepare(ctx, env, opts)
	if err != nil {
		return err
	}
	return next()
}

// readImage reads the image d describes from medium id into a new buffer.
func readImage(ctx context.Context, env Env, opts Options, id media.ID, d descriptor.ImageDescriptor) (*mem.Buffer, error) {
	if opts.MaxImageSize > 0 && d.FileSize > opts.MaxImageSize {
		return nil, bootstatus.Errorf(bootstatus.OutOfResources, "image of %d bytes exceeds limit of %d", d.FileSize, opts.MaxImageSize)
	}
	raw, err := env.Alloc.Allocate(d.FileSize)
	if err != nil {
		return nil, bootstatus.Errorf(bootstatus.OutOfResources, "could not allocate %d bytes for the image: %w", d.FileSize, err)
	}
	if err := env.Blocks.ReadBlocks(ctx, id, d.StartBlock, raw.Bytes()); err != nil {
		raw.Release()
		return nil, fmt.Errorf("failed to read image: %w", withKind(bootstatus.IOError, err))
	}
	if d.SHA256 != nil {
		if h := sha256.Sum256(raw.Bytes()); !bytes.Equal(h[:], d.SHA256) {
			raw.Release()
			return nil, bootstatus.Errorf(bootstatus.Unverified, "image hash %x does not match descriptor hash %x", h, d.SHA256)
		}
		glog.Infof("Image hash %x verified", d.SHA256)
	}
	return raw, nil
}

// load lays out the image in raw according to its format. raw is consumed:
// it is either released or owned by the returned Image.
func load(raw *mem.Buffer, alloc mem.Allocator, opts Options) (*loader.Image, error) {
	f := format.Classify(raw.Bytes())
	glog.Infof("Image format %v", f)
	switch f {
	case format.ELF64PIE:
		defer raw.Release()
		l := &loader.ELFLoader{
			Alloc:    alloc,
			PageSize: opts.PageSize,
			MaxSize:  opts.MaxImageSize,
			Machine:  opts.Machine,
		}
		return l.Load(raw.Bytes())
	case format.PE32Plus:
		raw.Release()
		return nil, bootstatus.Errorf(bootstatus.UnsupportedFormat, "PE32+ images are not supported")
	default:
		if opts.StrictFormat {
			raw.Release()
			return nil, bootstatus.Errorf(bootstatus.UnsupportedFormat, "image has no recognised header")
		}
		glog.Warningf("Image has no recognised header, running it as a flat binary")
		return loader.Flat(raw), nil
	}
}

// withKind gives errors from collaborators which do not carry a kind the
// one their failure implies.
func withKind(k bootstatus.Kind, err error) error {
	if bootstatus.KindOf(err) != bootstatus.Unknown {
		return err
	}
	return bootstatus.Wrap(k, err)
}
