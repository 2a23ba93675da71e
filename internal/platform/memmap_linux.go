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
	"path/filepath"

	"github.com/golang/glog"
	"github.com/google/pieboot/api"
	"github.com/u-root/u-root/pkg/boot/kexec"
)

// MemoryMap implements Platform.
func (s Sysfs) MemoryMap(ctx context.Context) (api.MemoryMap, error) {
	if s.Root != "" && filepath.Clean(s.Root) != "/sys" {
		return api.MemoryMap{}, fmt.Errorf("firmware memory map can only be read from /sys, not %q", s.Root)
	}
	mm, err := kexec.MemoryMapFromSysfsMemmap()
	if err != nil {
		return api.MemoryMap{}, err
	}
	glog.V(1).Infof("Firmware memory map: %v", mm)
	return fromKexec(mm), nil
}

func fromKexec(mm kexec.MemoryMap) api.MemoryMap {
	descs := make([]api.MemoryDescriptor, 0, len(mm))
	for _, r := range mm {
		descs = append(descs, api.MemoryDescriptor{
			Start: uint64(r.Start),
			Size:  uint64(r.Size),
			Type:  memoryType(r.Type),
		})
	}
	return api.NewMemoryMap(0, descs)
}

func memoryType(t kexec.RangeType) api.MemoryType {
	switch t {
	case kexec.RangeRAM:
		return api.MemoryUsable
	case kexec.RangeACPI:
		return api.MemoryACPIReclaimable
	case kexec.RangeNVS:
		return api.MemoryACPINVS
	default:
		return api.MemoryReserved
	}
}
