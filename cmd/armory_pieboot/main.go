// https://github.com/usbarmory/armory-boot
//
// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build armory

// armory_pieboot is the pieboot loader built as a tamago unikernel for the
// USB armory Mk II. It reads the descriptor from an ext4 boot partition and
// the kernel image from the raw blocks of the same card.
//
// The boot card and the partition location are set at link time, e.g.:
//
//	-ldflags "-X main.Boot=uSD -X main.StartBoot=5242880 -X main.BootSize=67108864"
package main

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"github.com/google/pieboot/api"
	"github.com/google/pieboot/internal/boot"
	"github.com/google/pieboot/internal/handoff"
	"github.com/google/pieboot/internal/mem"
	"github.com/google/pieboot/internal/platform"
	"github.com/google/pieboot/internal/volume"
	usbarmory "github.com/usbarmory/tamago/board/usbarmory/mk2"
	"github.com/usbarmory/tamago/dma"
	"github.com/usbarmory/tamago/soc/nxp/imx6ul"
	"github.com/usbarmory/tamago/soc/nxp/usdhc"
	"golang.org/x/mod/sumdb/note"
)

var Build string
var Revision string

var Boot string
var StartBoot string
var BootSize string

var PublicKeyStr string

var (
	card      *usdhc.USDHC
	partition *volume.Partition
)

func init() {
	usbarmory.LED("blue", false)
	usbarmory.LED("white", false)

	log.SetFlags(0)
	log.Printf("pieboot • %s %s", Revision, Build)

	if err := imx6ul.SetARMFreq(900); err != nil {
		panic(fmt.Sprintf("cannot change ARM frequency, %v\n", err))
	}

	offset, err := strconv.ParseInt(StartBoot, 10, 64)
	if err != nil {
		panic(fmt.Sprintf("invalid boot partition offset, %v\n", err))
	}
	size, err := strconv.ParseInt(BootSize, 10, 64)
	if err != nil {
		panic(fmt.Sprintf("invalid boot partition size, %v\n", err))
	}

	switch Boot {
	case "eMMC":
		card = usbarmory.MMC
	case "uSD":
		card = usbarmory.SD
	default:
		panic("invalid boot parameter")
	}
	partition = &volume.Partition{Disk: cardReader{card}, Offset: offset, Size: size}
}

func main() {
	if err := card.Detect(); err != nil {
		panic(fmt.Sprintf("boot media error, %v\n", err))
	}

	usbarmory.LED("blue", true)

	var verifier note.Verifier
	if len(PublicKeyStr) > 0 {
		v, err := note.NewVerifier(PublicKeyStr)
		if err != nil {
			panic(fmt.Sprintf("invalid public key, %v\n", err))
		}
		verifier = v
	} else {
		log.Printf("pieboot: no public key, skipping descriptor signature verification")
	}

	dma.Init(dmaStart, dmaSize)

	cm := cardMedia{card}
	env := boot.Env{
		Volume:  partition,
		Locator: cm,
		Blocks:  cm,
		Platform: platform.Static{
			Memory: []api.MemoryDescriptor{
				{Start: uint64(dmaStart), Size: uint64(dmaSize), Type: api.MemoryUsable},
				{Start: uint64(ramStart), Size: uint64(ramSize), Type: api.MemoryReserved},
			},
		},
		Alloc:    &mem.Tracking{Allocator: mem.DMA{Align: 4096}, Limit: uint64(dmaSize)},
		Transfer: handoff.Armory{Alloc: mem.DMA{}},
	}
	opts := boot.Options{
		Verifier: verifier,
		PageSize: 4096,
	}

	usbarmory.LED("white", true)

	if err := boot.Boot(context.Background(), env, opts); err != nil {
		panic(fmt.Sprintf("boot failed, %v\n", err))
	}
}
