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
)

// DryRun is a Transfer which records what would have been booted and then
// ends the process instead of entering the image.
type DryRun struct {
	// ImagePath, if set, receives the loaded image.
	ImagePath string
	// ParamsPath, if set, receives the marshalled handoff parameters.
	ParamsPath string
	// Terminate ends the execution context. It defaults to exiting the
	// process and must not return.
	Terminate func()
}

var _ Transfer = DryRun{}

// Exec implements Transfer.
func (d DryRun) Exec(img *loader.Image, p api.HandoffParams) error {
	params, err := p.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal handoff params: %w", err)
	}
	glog.Infof("Dry run: %v", img)
	glog.Infof("Dry run: handoff params %v (%d bytes)", p, len(params))

	if d.ImagePath != "" {
		if err := os.WriteFile(d.ImagePath, img.Mem.Bytes(), 0o644); err != nil {
			return fmt.Errorf("failed to write image: %w", err)
		}
		glog.Infof("Wrote image to %q", d.ImagePath)
	}
	if d.ParamsPath != "" {
		if err := os.WriteFile(d.ParamsPath, params, 0o644); err != nil {
			return fmt.Errorf("failed to write handoff params: %w", err)
		}
		glog.Infof("Wrote handoff params to %q", d.ParamsPath)
	}

	terminate := d.Terminate
	if terminate == nil {
		terminate = func() {
			glog.Flush()
			os.Exit(0)
		}
	}
	terminate()
	return errors.New("dry run did not terminate")
}
