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

// mkbootdisk writes a kernel image into the raw blocks of a disk image and
// writes the descriptor which tells pieboot where to find it.
//
// Usage:
//
//	go run ./cmd/mkbootdisk --logtostderr --kernel=vmlinux --disk=disk.img \
//	  --lba=2048 --descriptor_out=bootvol/EFI/BOOT/DATAFLS.INF
package main

import (
	"flag"

	"github.com/golang/glog"
	"github.com/google/pieboot/cmd/mkbootdisk/impl"
)

var (
	kernel         = flag.String("kernel", "", "Path of the kernel image to install.")
	disk           = flag.String("disk", "", "Path of the disk image to write the kernel into. Created if missing.")
	lba            = flag.Uint64("lba", 2048, "Logical block at which the kernel starts.")
	blockSize      = flag.Uint64("block_size", 512, "Logical block size of the disk.")
	descriptorOut  = flag.String("descriptor_out", "", "Path to write the descriptor to.")
	name           = flag.String("name", "", "Optional name recorded in the descriptor.")
	hash           = flag.Bool("hash", true, "Record the SHA-256 of the kernel in the descriptor.")
	signingKeyFile = flag.String("signing_key_file", "", "Optional file holding a note signer key to sign the descriptor with.")
)

func main() {
	flag.Parse()

	if err := impl.Main(impl.MkBootDiskOpts{
		KernelPath:     *kernel,
		DiskPath:       *disk,
		LBA:            *lba,
		BlockSize:      *blockSize,
		DescriptorPath: *descriptorOut,
		Name:           *name,
		Hash:           *hash,
		SigningKeyFile: *signingKeyFile,
	}); err != nil {
		glog.Exit(err.Error())
	}
}
