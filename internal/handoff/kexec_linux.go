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

package handoff

import (
	"errors"
	"fmt"
	"os"

	"github.com/golang/glog"
	"github.com/google/pieboot/api"
	"github.com/google/pieboot/internal/loader"
	"github.com/u-root/u-root/pkg/boot/kexec"
)

// Overridden in tests.
var (
	kexecLoad   = kexec.Load
	kexecReboot = kexec.Reboot
)

// Kexec is a Transfer which loads the image into the kernel's kexec
// staging area and reboots into it.
//
// The image is placed at LoadAddress and the marshalled handoff parameters
// at ParamsAddress; the image finds its parameters there.
type Kexec struct {
	LoadAddress   uint64
	ParamsAddress uint64
}

var _ Transfer = Kexec{}

// Exec implements Transfer.
func (k Kexec) Exec(img *loader.Image, p api.HandoffParams) error {
	params, err := p.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal handoff params: %w", err)
	}
	page := uint64(os.Getpagesize())
	imgSize := roundUp(img.Size(), page)
	paramsSize := roundUp(uint64(len(params)), page)
	if k.LoadAddress%page != 0 || k.ParamsAddress%page != 0 {
		return fmt.Errorf("load address %#x and params address %#x must be page aligned", k.LoadAddress, k.ParamsAddress)
	}
	if k.LoadAddress < k.ParamsAddress+paramsSize && k.ParamsAddress < k.LoadAddress+imgSize {
		return fmt.Errorf("image [%#x, +%#x) overlaps params [%#x, +%#x)", k.LoadAddress, imgSize, k.ParamsAddress, paramsSize)
	}

	segs := kexec.Segments{
		kexec.NewSegment(img.Mem.Bytes(), kexec.Range{Start: uintptr(k.LoadAddress), Size: uint(imgSize)}),
		kexec.NewSegment(params, kexec.Range{Start: uintptr(k.ParamsAddress), Size: uint(paramsSize)}),
	}
	entry := uintptr(k.LoadAddress + img.EntryOffset)
	glog.Infof("kexec: image@%#x params@%#x entry@%#x", k.LoadAddress, k.ParamsAddress, entry)
	if err := kexecLoad(entry, segs, 0); err != nil {
		return fmt.Errorf("kexec load: %w", err)
	}
	glog.Flush()
	if err := kexecReboot(); err != nil {
		return fmt.Errorf("kexec reboot: %w", err)
	}
	return errors.New("kexec reboot returned")
}

func roundUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}
