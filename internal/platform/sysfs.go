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

package platform

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/pieboot/api"
)

// Sysfs reads platform state from a Linux sysfs tree.
//
// The graphics mode comes from the first framebuffer device, whose
// physical address is queried from the device node. The memory map is the
// firmware-provided map of the running kernel, which is only read from the
// default mount point.
type Sysfs struct {
	// Root is the sysfs mount point, "/sys" if empty.
	Root string
	// Device is the framebuffer device node, "/dev/fb0" if empty.
	Device string
}

var _ Platform = Sysfs{}

// Overridden in tests.
var fixScreenInfo = readFixScreenInfo

func (s Sysfs) device() string {
	if s.Device == "" {
		return "/dev/fb0"
	}
	return s.Device
}

func (s Sysfs) path(elem ...string) string {
	root := s.Root
	if root == "" {
		root = "/sys"
	}
	return filepath.Join(append([]string{root}, elem...)...)
}

func (s Sysfs) readFB(name string) (string, error) {
	b, err := os.ReadFile(s.path("class", "graphics", "fb0", name))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func (s Sysfs) readFBUint(name string) (uint32, error) {
	v, err := s.readFB(name)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("fb0/%s: %w", name, err)
	}
	return uint32(n), nil
}

// GraphicsMode implements Platform.
func (s Sysfs) GraphicsMode(ctx context.Context) (api.GraphicsMode, error) {
	size, err := s.readFB("virtual_size")
	if err != nil {
		return api.GraphicsMode{}, err
	}
	w, h, ok := strings.Cut(size, ",")
	if !ok {
		return api.GraphicsMode{}, fmt.Errorf("fb0/virtual_size %q is not WIDTH,HEIGHT", size)
	}
	width, err := strconv.ParseUint(w, 10, 32)
	if err != nil {
		return api.GraphicsMode{}, fmt.Errorf("fb0/virtual_size width: %w", err)
	}
	height, err := strconv.ParseUint(h, 10, 32)
	if err != nil {
		return api.GraphicsMode{}, fmt.Errorf("fb0/virtual_size height: %w", err)
	}
	bpp, err := s.readFBUint("bits_per_pixel")
	if err != nil {
		return api.GraphicsMode{}, err
	}
	stride, err := s.readFBUint("stride")
	if err != nil {
		return api.GraphicsMode{}, err
	}

	base, length, err := fixScreenInfo(s.device())
	if err != nil {
		return api.GraphicsMode{}, fmt.Errorf("failed to query framebuffer %s: %w", s.device(), err)
	}
	if base == 0 {
		return api.GraphicsMode{}, fmt.Errorf("framebuffer %s reports no physical address", s.device())
	}

	g := api.GraphicsMode{
		HorizontalResolution: uint32(width),
		VerticalResolution:   uint32(height),
		PixelFormat:          api.PixelBitMask,
		PixelsPerScanLine:    uint32(width),
		FrameBufferBase:      base,
		FrameBufferSize:      length,
	}
	if length == 0 {
		g.FrameBufferSize = uint64(stride) * height
	}
	if bpp == 32 {
		// Little endian framebuffers are laid out blue first.
		g.PixelFormat = api.PixelBlueGreenRedReserved8BitPerColor
	}
	if bpp >= 8 && stride > 0 {
		g.PixelsPerScanLine = stride / (bpp / 8)
	}
	return g, nil
}
