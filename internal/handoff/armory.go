// https://github.com/usbarmory/armory-boot
//
// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build armory && arm

package handoff

import (
	"errors"
	"fmt"
	"log"

	"github.com/google/pieboot/api"
	"github.com/google/pieboot/internal/loader"
	"github.com/google/pieboot/internal/mem"
	"github.com/usbarmory/tamago/arm"
	usbarmory "github.com/usbarmory/tamago/board/usbarmory/mk2"
	"github.com/usbarmory/tamago/soc/nxp/imx6ul"
)

// defined in exec_arm.s
func exec(entry uint32, params uint32)
func svc()

// Armory is a Transfer for the USB armory which jumps to the image from
// supervisor mode with the address of the handoff parameters in r0.
type Armory struct {
	// Alloc holds the marshalled handoff parameters.
	Alloc mem.Allocator
}

var _ Transfer = Armory{}

// Exec implements Transfer.
func (a Armory) Exec(img *loader.Image, p api.HandoffParams) error {
	b, err := p.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal handoff params: %w", err)
	}
	buf, err := a.Alloc.Allocate(uint64(len(b)))
	if err != nil {
		return fmt.Errorf("failed to allocate handoff params: %w", err)
	}
	defer buf.Release()
	copy(buf.Bytes(), b)

	entry, params := img.Entry(), buf.Addr()
	arm.SystemExceptionHandler = func(n int) {
		if n != arm.SUPERVISOR {
			panic("unhandled exception")
		}

		log.Printf("pieboot: starting image@%x params@%x\n", entry, params)

		usbarmory.LED("blue", false)
		usbarmory.LED("white", false)

		// RNGB driver doesn't play well with previous initializations
		imx6ul.RNGB.Reset()

		imx6ul.ARM.FlushDataCache()
		imx6ul.ARM.DisableCache()

		exec(uint32(entry), uint32(params))
	}

	svc()
	return errors.New("supervisor call returned")
}
