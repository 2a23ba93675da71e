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
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

const fbiogetFScreenInfo = 0x4602

// fbFixScreenInfo is struct fb_fix_screeninfo from <linux/fb.h>.
type fbFixScreenInfo struct {
	ID           [16]byte
	SmemStart    uintptr
	SmemLen      uint32
	Type         uint32
	TypeAux      uint32
	Visual       uint32
	XPanStep     uint16
	YPanStep     uint16
	YWrapStep    uint16
	LineLength   uint32
	MmioStart    uintptr
	MmioLen      uint32
	Accel        uint32
	Capabilities uint16
	Reserved     [2]uint16
}

// readFixScreenInfo returns the physical address and length of the
// framebuffer memory of dev.
func readFixScreenInfo(dev string) (base, length uint64, err error) {
	f, err := os.Open(dev)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	var info fbFixScreenInfo
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), fbiogetFScreenInfo, uintptr(unsafe.Pointer(&info))); errno != 0 {
		return 0, 0, errno
	}
	return uint64(info.SmemStart), uint64(info.SmemLen), nil
}
