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

// Package volume provides read access to files on the boot volume, which is
// where the image descriptor lives.
package volume

import (
	"io/fs"
	"os"
	"path"
	"strings"
)

// Volume reads whole files from a boot volume.
type Volume interface {
	// ReadFile returns the contents of the file at the given absolute path.
	ReadFile(name string) ([]byte, error)
}

// CleanPath turns a firmware-style path such as `\EFI\BOOT\DATAFLS.INF` into
// a slash separated path relative to the volume root.
func CleanPath(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	return strings.TrimPrefix(path.Clean("/"+name), "/")
}

// Dir is a boot volume mounted as a directory on the host.
type Dir string

var _ Volume = Dir("")

// ReadFile implements Volume.
func (d Dir) ReadFile(name string) ([]byte, error) {
	return fs.ReadFile(os.DirFS(string(d)), CleanPath(name))
}
