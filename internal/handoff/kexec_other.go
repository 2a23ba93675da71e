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

//go:build !linux

package handoff

import (
	"errors"

	"github.com/google/pieboot/api"
	"github.com/google/pieboot/internal/loader"
)

// Kexec is only supported on Linux.
type Kexec struct {
	LoadAddress   uint64
	ParamsAddress uint64
}

var _ Transfer = Kexec{}

// Exec implements Transfer.
func (Kexec) Exec(*loader.Image, api.HandoffParams) error {
	return errors.New("kexec is only supported on Linux")
}
