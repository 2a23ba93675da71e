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

// Package platform captures the machine state handed to a booted image.
package platform

import (
	"context"
	"fmt"

	"github.com/golang/glog"
	"github.com/google/pieboot/api"
)

// Platform reports the machine state an image needs for early initialisation.
type Platform interface {
	// GraphicsMode returns the active graphics mode.
	GraphicsMode(ctx context.Context) (api.GraphicsMode, error)
	// MemoryMap returns the current physical memory map.
	MemoryMap(ctx context.Context) (api.MemoryMap, error)
}

// Snapshot collects the handoff parameters from p.
//
// A machine without a usable display still boots: a graphics mode failure
// is logged and leaves the graphics mode zeroed. The memory map is required.
func Snapshot(ctx context.Context, p Platform) (api.HandoffParams, error) {
	mm, err := p.MemoryMap(ctx)
	if err != nil {
		return api.HandoffParams{}, fmt.Errorf("failed to read memory map: %w", err)
	}
	g, err := p.GraphicsMode(ctx)
	if err != nil {
		glog.Warningf("No graphics mode, booting headless: %v", err)
		g = api.GraphicsMode{}
	}
	return api.HandoffParams{MemoryMap: mm, Graphics: g}, nil
}

// Static is a Platform with fixed state, for machines where it cannot be
// discovered.
type Static struct {
	Graphics api.GraphicsMode
	Memory   []api.MemoryDescriptor
}

var _ Platform = Static{}

// GraphicsMode implements Platform.
func (s Static) GraphicsMode(context.Context) (api.GraphicsMode, error) {
	return s.Graphics, nil
}

// MemoryMap implements Platform.
func (s Static) MemoryMap(context.Context) (api.MemoryMap, error) {
	return api.NewMemoryMap(0, s.Memory), nil
}
