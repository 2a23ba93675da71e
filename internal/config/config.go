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

// Package config describes the loader's YAML configuration file.
package config

import (
	"debug/elf"
	"errors"
	"fmt"
	"math/bits"
	"net/url"
	"os"
	"path/filepath"
	"runtime"

	"github.com/google/pieboot/api"
	"github.com/google/pieboot/internal/descriptor"
	"golang.org/x/mod/sumdb/note"
	"gopkg.in/yaml.v2"
)

// DefaultMaxImageSize bounds both the raw and the loaded image when the
// configuration does not.
const DefaultMaxImageSize = 256 << 20

// Handoff modes.
const (
	ModeDryRun = "dryrun"
	ModeKexec  = "kexec"
)

// Allocators.
const (
	AllocHeap = "heap"
	AllocMmap = "mmap"
)

// Config is the top level loader configuration.
type Config struct {
	Descriptor Descriptor `yaml:"Descriptor"`
	Media      Media      `yaml:"Media"`
	Loader     Loader     `yaml:"Loader"`
	Platform   Platform   `yaml:"Platform"`
	Handoff    Handoff    `yaml:"Handoff"`
}

// Descriptor says where to find the image descriptor and who must sign it.
type Descriptor struct {
	// Dir is a directory holding the contents of the boot volume.
	Dir string `yaml:"Dir"`
	// Ext4 is an ext4 boot partition inside a disk image or device.
	Ext4 *Ext4 `yaml:"Ext4"`
	// Path is the location of the descriptor on the volume.
	Path string `yaml:"Path"`
	// PublicKey is a note verifier key. If set, the descriptor must be a
	// note signed by it.
	PublicKey string `yaml:"PublicKey"`
}

// Ext4 locates an ext4 partition.
type Ext4 struct {
	Disk   string `yaml:"Disk"`
	Offset int64  `yaml:"Offset"`
	Size   int64  `yaml:"Size"`
}

// Validate checks the descriptor section.
func (d Descriptor) Validate() error {
	if (d.Dir == "") == (d.Ext4 == nil) {
		return errors.New("exactly one of Dir and Ext4 must be set")
	}
	if d.Ext4 != nil {
		if d.Ext4.Disk == "" {
			return errors.New("missing field: Ext4.Disk")
		}
		if d.Ext4.Offset < 0 || d.Ext4.Size <= 0 {
			return fmt.Errorf("invalid Ext4 extent: offset %d size %d", d.Ext4.Offset, d.Ext4.Size)
		}
	}
	if d.Path == "" {
		return errors.New("missing field: Path")
	}
	if d.PublicKey != "" {
		if _, err := note.NewVerifier(d.PublicKey); err != nil {
			return fmt.Errorf("invalid PublicKey: %v", err)
		}
	}
	return nil
}

// Verifier returns the descriptor verifier, or nil if descriptors are not signed.
func (d Descriptor) Verifier() (note.Verifier, error) {
	if d.PublicKey == "" {
		return nil, nil
	}
	return note.NewVerifier(d.PublicKey)
}

// Media lists the block devices the image may be read from.
type Media struct {
	// Disks are local disk images or devices, tried in order.
	Disks []Disk `yaml:"Disks"`
	// RemoteURL is the base URL of a block server.
	RemoteURL string `yaml:"RemoteURL"`
	// RemoteBlockSize is the block size of the server's media.
	RemoteBlockSize uint64 `yaml:"RemoteBlockSize"`
	// RemoteMaxRead bounds the length of each request to the server, which
	// must not exceed the server's own limit.
	RemoteMaxRead uint64 `yaml:"RemoteMaxRead"`
}

// Disk is a local disk image or block device.
type Disk struct {
	Path      string `yaml:"Path"`
	BlockSize uint64 `yaml:"BlockSize"`
}

// Validate checks the media section.
func (m Media) Validate() error {
	if (len(m.Disks) == 0) == (m.RemoteURL == "") {
		return errors.New("exactly one of Disks and RemoteURL must be set")
	}
	for i, d := range m.Disks {
		if d.Path == "" {
			return fmt.Errorf("disk %d: missing field: Path", i)
		}
		if d.BlockSize != 0 && !isPowerOfTwo(d.BlockSize) {
			return fmt.Errorf("disk %d: block size %d is not a power of two", i, d.BlockSize)
		}
	}
	if m.RemoteBlockSize != 0 && !isPowerOfTwo(m.RemoteBlockSize) {
		return fmt.Errorf("remote block size %d is not a power of two", m.RemoteBlockSize)
	}
	if m.RemoteURL != "" {
		if _, err := url.Parse(m.RemoteURL); err != nil {
			return fmt.Errorf("unparseable RemoteURL: %v", err)
		}
	}
	return nil
}

// Loader tunes image loading.
type Loader struct {
	PageSize     uint64 `yaml:"PageSize"`
	MaxImageSize uint64 `yaml:"MaxImageSize"`
	// Allocator is one of "heap" or "mmap".
	Allocator string `yaml:"Allocator"`
	// StrictFormat rejects images which are not ELF instead of running
	// them as flat binaries.
	StrictFormat bool `yaml:"StrictFormat"`
	// Machine restricts the ELF machine type: "any", "native", or a GOARCH name.
	Machine string `yaml:"Machine"`
}

var machines = map[string]elf.Machine{
	"386":     elf.EM_386,
	"amd64":   elf.EM_X86_64,
	"arm":     elf.EM_ARM,
	"arm64":   elf.EM_AARCH64,
	"riscv64": elf.EM_RISCV,
}

// MachineType returns the ELF machine images must be built for, EM_NONE for any.
func (l Loader) MachineType() (elf.Machine, error) {
	switch l.Machine {
	case "", "any":
		return elf.EM_NONE, nil
	case "native":
		if m, ok := machines[runtime.GOARCH]; ok {
			return m, nil
		}
		return elf.EM_NONE, fmt.Errorf("no ELF machine known for GOARCH %q", runtime.GOARCH)
	}
	if m, ok := machines[l.Machine]; ok {
		return m, nil
	}
	return elf.EM_NONE, fmt.Errorf("unknown Machine %q", l.Machine)
}

// Validate checks the loader section.
func (l Loader) Validate() error {
	if !isPowerOfTwo(l.PageSize) {
		return fmt.Errorf("page size %d is not a power of two", l.PageSize)
	}
	switch l.Allocator {
	case AllocHeap, AllocMmap:
	default:
		return fmt.Errorf("unknown Allocator %q", l.Allocator)
	}
	_, err := l.MachineType()
	return err
}

// Platform says where the machine state handed to the image comes from.
// Either Sysfs, or a static graphics mode and memory map.
type Platform struct {
	// Sysfs is the sysfs mount point to read state from. Only /sys is
	// supported, as the firmware memory map is read from there.
	Sysfs string `yaml:"Sysfs"`
	// FrameBuffer is the framebuffer device queried alongside Sysfs,
	// /dev/fb0 if empty.
	FrameBuffer string    `yaml:"FrameBuffer"`
	Graphics    *Graphics `yaml:"Graphics"`
	Memory      []Memory  `yaml:"Memory"`
}

// Graphics is a static graphics mode.
type Graphics struct {
	Width           uint32 `yaml:"Width"`
	Height          uint32 `yaml:"Height"`
	Stride          uint32 `yaml:"Stride"`
	PixelFormat     string `yaml:"PixelFormat"`
	FrameBufferBase uint64 `yaml:"FrameBufferBase"`
	FrameBufferSize uint64 `yaml:"FrameBufferSize"`
}

// Memory is a static memory map range.
type Memory struct {
	Start uint64 `yaml:"Start"`
	Size  uint64 `yaml:"Size"`
	// Type is one of "usable", "reserved", "acpi" or "nvs".
	Type string `yaml:"Type"`
}

var (
	pixelFormats = map[string]api.PixelFormat{
		"rgbx":    api.PixelRedGreenBlueReserved8BitPerColor,
		"bgrx":    api.PixelBlueGreenRedReserved8BitPerColor,
		"bitmask": api.PixelBitMask,
		"blt":     api.PixelBltOnly,
	}
	memoryTypes = map[string]api.MemoryType{
		"usable":   api.MemoryUsable,
		"reserved": api.MemoryReserved,
		"acpi":     api.MemoryACPIReclaimable,
		"nvs":      api.MemoryACPINVS,
	}
)

// GraphicsMode returns the static graphics mode, which is zero if none is configured.
func (p Platform) GraphicsMode() (api.GraphicsMode, error) {
	g := p.Graphics
	if g == nil {
		return api.GraphicsMode{}, nil
	}
	pf, ok := pixelFormats[g.PixelFormat]
	if !ok {
		return api.GraphicsMode{}, fmt.Errorf("unknown PixelFormat %q", g.PixelFormat)
	}
	stride := g.Stride
	if stride == 0 {
		stride = g.Width
	}
	return api.GraphicsMode{
		HorizontalResolution: g.Width,
		VerticalResolution:   g.Height,
		PixelFormat:          pf,
		PixelsPerScanLine:    stride,
		FrameBufferBase:      g.FrameBufferBase,
		FrameBufferSize:      g.FrameBufferSize,
	}, nil
}

// MemoryMap returns the static memory map.
func (p Platform) MemoryMap() ([]api.MemoryDescriptor, error) {
	var ret []api.MemoryDescriptor
	for i, m := range p.Memory {
		t, ok := memoryTypes[m.Type]
		if !ok {
			return nil, fmt.Errorf("memory range %d: unknown Type %q", i, m.Type)
		}
		ret = append(ret, api.MemoryDescriptor{Start: m.Start, Size: m.Size, Type: t})
	}
	return ret, nil
}

// Validate checks the platform section.
func (p Platform) Validate() error {
	static := p.Graphics != nil || len(p.Memory) > 0
	if (p.Sysfs != "") == static {
		return errors.New("exactly one of Sysfs and a static Graphics/Memory must be set")
	}
	if p.Sysfs != "" && filepath.Clean(p.Sysfs) != "/sys" {
		return fmt.Errorf("Sysfs must be /sys, not %q", p.Sysfs)
	}
	if static && p.FrameBuffer != "" {
		return errors.New("FrameBuffer is only used with Sysfs")
	}
	if static && len(p.Memory) == 0 {
		return errors.New("a static platform needs a Memory map")
	}
	if _, err := p.GraphicsMode(); err != nil {
		return err
	}
	_, err := p.MemoryMap()
	return err
}

// Handoff says how control is handed to the image.
type Handoff struct {
	// Mode is one of "dryrun" or "kexec".
	Mode string `yaml:"Mode"`
	// LoadAddress and ParamsAddress are the physical addresses kexec places
	// the image and the handoff parameters at.
	LoadAddress   uint64 `yaml:"LoadAddress"`
	ParamsAddress uint64 `yaml:"ParamsAddress"`
	// ImageDump and ParamsDump, in dry run mode, receive the loaded image
	// and the marshalled handoff parameters.
	ImageDump  string `yaml:"ImageDump"`
	ParamsDump string `yaml:"ParamsDump"`
}

// Validate checks the handoff section.
func (h Handoff) Validate() error {
	switch h.Mode {
	case ModeDryRun:
	case ModeKexec:
		if h.LoadAddress == 0 || h.ParamsAddress == 0 {
			return errors.New("kexec needs LoadAddress and ParamsAddress")
		}
	default:
		return fmt.Errorf("unknown Mode %q", h.Mode)
	}
	return nil
}

// Validate checks the whole configuration.
func (c Config) Validate() error {
	for _, s := range []struct {
		name string
		v    interface{ Validate() error }
	}{
		{"Descriptor", c.Descriptor},
		{"Media", c.Media},
		{"Loader", c.Loader},
		{"Platform", c.Platform},
		{"Handoff", c.Handoff},
	} {
		if err := s.v.Validate(); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Descriptor.Path == "" {
		c.Descriptor.Path = descriptor.DefaultPath
	}
	if c.Loader.MaxImageSize == 0 {
		c.Loader.MaxImageSize = DefaultMaxImageSize
	}
	if c.Loader.PageSize == 0 {
		c.Loader.PageSize = 4096
	}
	if c.Loader.Allocator == "" {
		c.Loader.Allocator = AllocHeap
	}
	if c.Platform.Sysfs == "" && c.Platform.Graphics == nil && len(c.Platform.Memory) == 0 {
		c.Platform.Sysfs = "/sys"
	}
	if c.Handoff.Mode == "" {
		c.Handoff.Mode = ModeDryRun
	}
}

// Parse decodes and validates a configuration. Unknown fields are errors.
func Parse(b []byte) (*Config, error) {
	c := &Config{}
	if err := yaml.UnmarshalStrict(b, c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	c.setDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Load reads the configuration file at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(b)
}

func isPowerOfTwo(v uint64) bool {
	return bits.OnesCount64(v) == 1
}
