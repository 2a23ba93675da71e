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

// Package impl is the implementation of the pieboot loader.
package impl

import (
	"context"
	"fmt"
	"net/url"
	"os"

	"github.com/golang/glog"
	"github.com/google/pieboot/internal/boot"
	"github.com/google/pieboot/internal/config"
	"github.com/google/pieboot/internal/handoff"
	"github.com/google/pieboot/internal/media"
	"github.com/google/pieboot/internal/mem"
	"github.com/google/pieboot/internal/platform"
	"github.com/google/pieboot/internal/volume"
)

// PiebootOpts encapsulates parameters for the loader Main below.
type PiebootOpts struct {
	ConfigFile string
	// DryRun overrides the configured handoff mode.
	DryRun bool
}

// Main loads the configuration, boots the image it describes, and only
// returns if the boot fails.
func Main(ctx context.Context, opts PiebootOpts) error {
	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		return err
	}
	if opts.DryRun {
		cfg.Handoff.Mode = config.ModeDryRun
	}

	s, err := newSetup(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	next, err := boot.Prepare(ctx, s.env, s.opts)
	if err != nil {
		s.reportLeaks()
		return err
	}
	err = next()
	s.reportLeaks()
	return err
}

// setup is the pipeline environment built from a configuration, plus the
// resources it holds open.
type setup struct {
	env    boot.Env
	opts   boot.Options
	alloc  *mem.Tracking
	closer func() error
}

func (s *setup) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

func (s *setup) reportLeaks() {
	if n := s.alloc.Outstanding(); n > 0 {
		glog.Warningf("%d buffers (%d bytes) still allocated after failed boot", n, s.alloc.OutstandingBytes())
	}
}

func newSetup(cfg *config.Config) (*setup, error) {
	s := &setup{}

	verifier, err := cfg.Descriptor.Verifier()
	if err != nil {
		return nil, fmt.Errorf("invalid descriptor key: %w", err)
	}
	machine, err := cfg.Loader.MachineType()
	if err != nil {
		return nil, err
	}
	s.opts = boot.Options{
		DescriptorPath: cfg.Descriptor.Path,
		Verifier:       verifier,
		PageSize:       cfg.Loader.PageSize,
		MaxImageSize:   cfg.Loader.MaxImageSize,
		Machine:        machine,
		StrictFormat:   cfg.Loader.StrictFormat,
	}

	switch {
	case cfg.Descriptor.Ext4 != nil:
		e := cfg.Descriptor.Ext4
		f, err := os.Open(e.Disk)
		if err != nil {
			return nil, fmt.Errorf("failed to open boot partition disk: %w", err)
		}
		s.closer = f.Close
		s.env.Volume = &volume.Partition{Disk: f, Offset: e.Offset, Size: e.Size}
	default:
		s.env.Volume = volume.Dir(cfg.Descriptor.Dir)
	}

	if cfg.Media.RemoteURL != "" {
		u, err := url.Parse(cfg.Media.RemoteURL)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("invalid RemoteURL: %w", err)
		}
		r := media.Remote{URL: u, BlockSize: cfg.Media.RemoteBlockSize, MaxRead: cfg.Media.RemoteMaxRead}
		s.env.Locator, s.env.Blocks = r, r
	} else {
		f := &media.Files{}
		for _, d := range cfg.Media.Disks {
			f.Disks = append(f.Disks, media.Disk{Path: d.Path, BlockSize: d.BlockSize})
		}
		s.env.Locator, s.env.Blocks = f, f
	}

	var a mem.Allocator
	switch cfg.Loader.Allocator {
	case config.AllocMmap:
		a = mem.Mmap{Max: cfg.Loader.MaxImageSize}
	default:
		a = mem.Heap{Max: cfg.Loader.MaxImageSize}
	}
	s.alloc = &mem.Tracking{Allocator: a}
	if cfg.Loader.MaxImageSize > 0 {
		// The raw image and the loaded image may be held at once.
		s.alloc.Limit = 2 * cfg.Loader.MaxImageSize
	}
	s.env.Alloc = s.alloc

	if cfg.Platform.Sysfs != "" {
		s.env.Platform = platform.Sysfs{Root: cfg.Platform.Sysfs, Device: cfg.Platform.FrameBuffer}
	} else {
		g, err := cfg.Platform.GraphicsMode()
		if err != nil {
			s.Close()
			return nil, err
		}
		m, err := cfg.Platform.MemoryMap()
		if err != nil {
			s.Close()
			return nil, err
		}
		s.env.Platform = platform.Static{Graphics: g, Memory: m}
	}

	switch cfg.Handoff.Mode {
	case config.ModeKexec:
		s.env.Transfer = handoff.Kexec{LoadAddress: cfg.Handoff.LoadAddress, ParamsAddress: cfg.Handoff.ParamsAddress}
	default:
		s.env.Transfer = handoff.DryRun{ImagePath: cfg.Handoff.ImageDump, ParamsPath: cfg.Handoff.ParamsDump, Terminate: terminate}
	}
	return s, nil
}

// terminate ends a dry run. nil means exiting the process.
var terminate func()
