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

// Package impl is the implementation of the mkbootdisk tool.
package impl

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"math"
	"math/bits"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/glog"
	"github.com/google/pieboot/internal/descriptor"
	"golang.org/x/mod/sumdb/note"
)

// MkBootDiskOpts encapsulates parameters for the tool Main below.
type MkBootDiskOpts struct {
	KernelPath     string
	DiskPath       string
	LBA            uint64
	BlockSize      uint64
	DescriptorPath string
	Name           string
	Hash           bool
	// SigningKeyFile, if set, holds a note signer key and the descriptor
	// is written as a note signed with it.
	SigningKeyFile string
}

// Main installs the kernel and writes its descriptor.
func Main(opts MkBootDiskOpts) error {
	if opts.KernelPath == "" || opts.DiskPath == "" || opts.DescriptorPath == "" {
		return errors.New("kernel, disk and descriptor paths must all be set")
	}
	if opts.BlockSize == 0 || bits.OnesCount64(opts.BlockSize) != 1 {
		return fmt.Errorf("block size %d is not a power of two", opts.BlockSize)
	}
	hi, off := bits.Mul64(opts.LBA, opts.BlockSize)
	if hi != 0 || off > math.MaxInt64 {
		return fmt.Errorf("block %d is beyond the addressable disk", opts.LBA)
	}

	kernel, err := os.ReadFile(opts.KernelPath)
	if err != nil {
		return fmt.Errorf("failed to read kernel: %w", err)
	}
	if len(kernel) == 0 {
		return fmt.Errorf("kernel %q is empty", opts.KernelPath)
	}

	if err := writeAt(opts.DiskPath, kernel, int64(off)); err != nil {
		return err
	}
	glog.Infof("Wrote %d byte kernel to %q at block %d (offset %d)", len(kernel), opts.DiskPath, opts.LBA, off)

	d := descriptor.ImageDescriptor{FileSize: uint64(len(kernel)), StartBlock: opts.LBA}
	if opts.Hash {
		h := sha256.Sum256(kernel)
		d.SHA256 = h[:]
	}
	text := descriptor.Marshal(d, opts.Name)

	if opts.SigningKeyFile != "" {
		text, err = sign(text, opts.SigningKeyFile)
		if err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(opts.DescriptorPath), 0o755); err != nil {
		return fmt.Errorf("failed to create descriptor directory: %w", err)
	}
	if err := os.WriteFile(opts.DescriptorPath, text, 0o644); err != nil {
		return fmt.Errorf("failed to write descriptor: %w", err)
	}
	glog.Infof("Wrote descriptor %v to %q", d, opts.DescriptorPath)
	return nil
}

func writeAt(path string, b []byte, off int64) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open disk: %w", err)
	}
	if _, err := f.WriteAt(b, off); err != nil {
		f.Close()
		return fmt.Errorf("failed to write kernel to disk: %w", err)
	}
	return f.Close()
}

func sign(text []byte, keyFile string) ([]byte, error) {
	k, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}
	s, err := note.NewSigner(strings.TrimSpace(string(k)))
	if err != nil {
		return nil, fmt.Errorf("invalid signing key: %w", err)
	}
	signed, err := note.Sign(&note.Note{Text: string(text)}, s)
	if err != nil {
		return nil, fmt.Errorf("failed to sign descriptor: %w", err)
	}
	glog.V(1).Infof("Descriptor signed by %q", s.Name())
	return signed, nil
}
