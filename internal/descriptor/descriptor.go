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

// Package descriptor reads the small text file which tells the loader where
// the kernel image lives on the raw disk.
//
// The file is free-form text. Only the first occurrence of each of the
// following tokens matters, and each must be immediately followed by its value:
//
//	FILE_SIZE=<decimal>  size of the kernel image in bytes
//	DISK_LBA=<decimal>   first logical block of the image
//	SHA256=<hex>         optional SHA-256 of the image
//
// A FILE_SIZE of zero is rejected as Malformed, since there is no image to
// load.
package descriptor

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math"

	"github.com/golang/glog"
	"github.com/google/pieboot/internal/bootstatus"
	"github.com/google/pieboot/internal/volume"
	"golang.org/x/mod/sumdb/note"
)

const (
	// DefaultPath is where the descriptor is looked for on the boot volume.
	DefaultPath = `\EFI\BOOT\DATAFLS.INF`

	fileSizeKey   = "FILE_SIZE="
	startBlockKey = "DISK_LBA="
	sha256Key     = "SHA256="
)

// ImageDescriptor locates a kernel image on the boot media.
type ImageDescriptor struct {
	// FileSize is the exact size of the image in bytes.
	FileSize uint64
	// StartBlock is the logical block at which the image starts.
	StartBlock uint64
	// SHA256 is the expected hash of the image, or nil if none was given.
	SHA256 []byte
}

// String returns a compact printable representation of an ImageDescriptor.
func (d ImageDescriptor) String() string {
	return fmt.Sprintf("{size %d @ lba %d sha256: %x}", d.FileSize, d.StartBlock, d.SHA256)
}

// Parse extracts an ImageDescriptor from descriptor text.
func Parse(text []byte) (ImageDescriptor, error) {
	size, err := decimalValue(text, fileSizeKey)
	if err != nil {
		return ImageDescriptor{}, err
	}
	if size == 0 {
		return ImageDescriptor{}, bootstatus.Errorf(bootstatus.Malformed, "%s must not be zero", fileSizeKey)
	}
	lba, err := decimalValue(text, startBlockKey)
	if err != nil {
		return ImageDescriptor{}, err
	}
	d := ImageDescriptor{FileSize: size, StartBlock: lba}

	if i := bytes.Index(text, []byte(sha256Key)); i >= 0 {
		v := text[i+len(sha256Key):]
		n := 0
		for n < len(v) && isHex(v[n]) {
			n++
		}
		h, err := hex.DecodeString(string(v[:n]))
		if err != nil || len(h) != 32 {
			return ImageDescriptor{}, bootstatus.Errorf(bootstatus.Malformed, "%s must be followed by 64 hex digits", sha256Key)
		}
		d.SHA256 = h
	}
	return d, nil
}

// decimalValue returns the value of the run of decimal digits which
// immediately follows the first occurrence of key.
func decimalValue(text []byte, key string) (uint64, error) {
	i := bytes.Index(text, []byte(key))
	if i < 0 {
		return 0, bootstatus.Errorf(bootstatus.Malformed, "missing %s", key)
	}
	digits := text[i+len(key):]
	var v uint64
	n := 0
	for ; n < len(digits) && '0' <= digits[n] && digits[n] <= '9'; n++ {
		d := uint64(digits[n] - '0')
		if v > (math.MaxUint64-d)/10 {
			return 0, bootstatus.Errorf(bootstatus.Malformed, "%s value overflows", key)
		}
		v = v*10 + d
	}
	if n == 0 {
		return 0, bootstatus.Errorf(bootstatus.Malformed, "%s is not followed by a decimal number", key)
	}
	return v, nil
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

// Read fetches and parses the descriptor at path on vol.
//
// If v is not nil the descriptor must be a note signed by v, and only the
// verified note text is parsed.
func Read(vol volume.Volume, path string, v note.Verifier) (ImageDescriptor, error) {
	raw, err := vol.ReadFile(path)
	if err != nil {
		return ImageDescriptor{}, bootstatus.Errorf(bootstatus.NotFound, "could not read descriptor %q: %w", path, err)
	}

	text := raw
	if v != nil {
		n, err := note.Open(raw, note.VerifierList(v))
		if err != nil {
			return ImageDescriptor{}, bootstatus.Errorf(bootstatus.Unverified, "descriptor %q failed signature verification: %w", path, err)
		}
		glog.V(1).Infof("Descriptor %q signed by %q", path, v.Name())
		text = []byte(n.Text)
	}

	d, err := Parse(text)
	if err != nil {
		return ImageDescriptor{}, fmt.Errorf("descriptor %q: %w", path, err)
	}
	return d, nil
}

// Marshal renders d as descriptor text, optionally labelled with name.
func Marshal(d ImageDescriptor, name string) []byte {
	var b bytes.Buffer
	if name != "" {
		fmt.Fprintf(&b, "name=%s\n", name)
	}
	fmt.Fprintf(&b, "%s%d\n%s%d\n", fileSizeKey, d.FileSize, startBlockKey, d.StartBlock)
	if d.SHA256 != nil {
		fmt.Fprintf(&b, "%s%x\n", sha256Key, d.SHA256)
	}
	return b.Bytes()
}
