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

// Package handoff transfers control from the loader to a loaded image.
package handoff

import (
	"fmt"

	"github.com/google/pieboot/api"
	"github.com/google/pieboot/internal/loader"
)

// Transfer replaces the current execution context with a loaded image.
type Transfer interface {
	// Exec enters img, passing it p. It returns only if control could not
	// leave the loader, and the returned error says why.
	Exec(img *loader.Image, p api.HandoffParams) error
}

// Invoke hands control to img through t.
//
// A successful transfer never returns. Invoke returns only the error from a
// transfer which failed before control left the loader.
func Invoke(t Transfer, img *loader.Image, p api.HandoffParams) error {
	if err := t.Exec(img, p); err != nil {
		return fmt.Errorf("handoff to %#x failed: %w", img.Entry(), err)
	}
	panic(fmt.Sprintf("handoff: %T.Exec returned to the loader without an error", t))
}
