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
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/pieboot/api"
	"github.com/google/pieboot/internal/loader"
	"github.com/google/pieboot/internal/mem"
)

type transferFunc func(*loader.Image, api.HandoffParams) error

func (f transferFunc) Exec(img *loader.Image, p api.HandoffParams) error {
	return f(img, p)
}

func testImage(t *testing.T) *loader.Image {
	t.Helper()
	buf, err := mem.Heap{}.Allocate(32)
	if err != nil {
		t.Fatal(err)
	}
	copy(buf.Bytes(), "image contents")
	img := loader.Flat(buf)
	t.Cleanup(img.Release)
	return img
}

var testParams = api.HandoffParams{
	MemoryMap: api.NewMemoryMap(7, []api.MemoryDescriptor{{Start: 0x1000, Size: 0x2000, Type: api.MemoryUsable}}),
	Graphics:  api.GraphicsMode{HorizontalResolution: 640, VerticalResolution: 480, PixelsPerScanLine: 640},
}

func TestInvokeFailure(t *testing.T) {
	img := testImage(t)
	wantErr := errors.New("no way out")
	var gotImg *loader.Image
	err := Invoke(transferFunc(func(i *loader.Image, p api.HandoffParams) error {
		gotImg = i
		return wantErr
	}), img, testParams)
	if !errors.Is(err, wantErr) {
		t.Errorf("Invoke() = %v, want %v", err, wantErr)
	}
	if gotImg != img {
		t.Error("Exec() was not handed the image")
	}
}

func TestInvokeReturnIsUnreachable(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Invoke() returned normally after a transfer without error")
		}
	}()
	Invoke(transferFunc(func(*loader.Image, api.HandoffParams) error { return nil }), testImage(t), testParams)
}

// runTransfer runs Invoke on a goroutine and reports whether it returned.
func runTransfer(tr Transfer, img *loader.Image) (returned bool, err error) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		err = Invoke(tr, img, testParams)
		returned = true
	}()
	<-done
	return returned, err
}

func TestDryRun(t *testing.T) {
	dir := t.TempDir()
	d := DryRun{
		ImagePath:  filepath.Join(dir, "image.bin"),
		ParamsPath: filepath.Join(dir, "params.bin"),
		Terminate:  runtime.Goexit,
	}
	img := testImage(t)
	returned, err := runTransfer(d, img)
	if returned {
		t.Fatalf("Invoke() returned (%v), want no return", err)
	}

	gotImg, err := os.ReadFile(d.ImagePath)
	if err != nil {
		t.Fatalf("ReadFile(image): %v", err)
	}
	if !bytes.Equal(gotImg, img.Mem.Bytes()) {
		t.Errorf("dumped image = %q, want %q", gotImg, img.Mem.Bytes())
	}
	raw, err := os.ReadFile(d.ParamsPath)
	if err != nil {
		t.Fatalf("ReadFile(params): %v", err)
	}
	var gotParams api.HandoffParams
	if err := gotParams.UnmarshalBinary(raw); err != nil {
		t.Fatalf("UnmarshalBinary(): %v", err)
	}
	if diff := cmp.Diff(testParams, gotParams); diff != "" {
		t.Errorf("dumped params diff (-want +got):\n%s", diff)
	}
}

func TestDryRunWriteFailure(t *testing.T) {
	d := DryRun{
		ImagePath: filepath.Join(t.TempDir(), "missing", "image.bin"),
		Terminate: func() { t.Error("Terminate called after a failed dump") },
	}
	returned, err := runTransfer(d, testImage(t))
	if !returned || err == nil {
		t.Errorf("Invoke() = (returned %t, %v), want a returned error", returned, err)
	}
}
