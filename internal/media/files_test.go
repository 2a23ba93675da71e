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

package media

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/pieboot/internal/bootstatus"
)

func writeDisk(t *testing.T, name string, b []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, b, 0o644); err != nil {
		t.Fatalf("WriteFile(%q): %v", p, err)
	}
	return p
}

func TestFilesLocate(t *testing.T) {
	ctx := context.Background()
	empty := writeDisk(t, "empty.img", nil)
	full := writeDisk(t, "full.img", make([]byte, 1024))
	missing := filepath.Join(t.TempDir(), "missing.img")

	for _, test := range []struct {
		desc     string
		disks    []Disk
		want     ID
		wantList []ID
		wantKind bootstatus.Kind
	}{
		{
			desc:     "first present",
			disks:    []Disk{{Path: full}, {Path: empty}},
			want:     0,
			wantList: []ID{0},
		}, {
			desc:     "skips missing and empty",
			disks:    []Disk{{Path: missing}, {Path: empty}, {Path: full}, {Path: full}},
			want:     2,
			wantList: []ID{2, 3},
		}, {
			desc:     "nothing present",
			disks:    []Disk{{Path: missing}, {Path: empty}},
			wantKind: bootstatus.NotFound,
		}, {
			desc:     "no disks",
			wantKind: bootstatus.NotFound,
		},
	} {
		t.Run(test.desc, func(t *testing.T) {
			f := &Files{Disks: test.disks}
			got, err := f.Locate(ctx)
			if k := bootstatus.KindOf(err); k != test.wantKind {
				t.Fatalf("Locate() = %v (kind %v), want kind %v", err, k, test.wantKind)
			}
			if err != nil {
				return
			}
			if got != test.want {
				t.Errorf("Locate() = %v, want %v", got, test.want)
			}
			ids, err := f.List(ctx)
			if err != nil {
				t.Fatalf("List(): %v", err)
			}
			if diff := cmp.Diff(test.wantList, ids); diff != "" {
				t.Errorf("List() diff (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFilesReadBlocks(t *testing.T) {
	ctx := context.Background()
	img := make([]byte, 16*512)
	for i := range img {
		img[i] = byte(i / 512)
	}
	small := writeDisk(t, "disk.img", img)
	big := writeDisk(t, "big.img", img)
	f := &Files{Disks: []Disk{{Path: small}, {Path: big, BlockSize: 4096}}}

	for _, test := range []struct {
		desc     string
		id       ID
		start    uint64
		n        int
		want     []byte
		wantKind bootstatus.Kind
	}{
		{
			desc:  "first block",
			start: 0,
			n:     512,
			want:  bytes.Repeat([]byte{0}, 512),
		}, {
			desc:  "partial block",
			start: 3,
			n:     10,
			want:  bytes.Repeat([]byte{3}, 10),
		}, {
			desc:  "spanning blocks",
			start: 6,
			n:     1024,
			want:  append(bytes.Repeat([]byte{6}, 512), bytes.Repeat([]byte{7}, 512)...),
		}, {
			desc:  "large block size",
			id:    1,
			start: 0,
			n:     4,
			want:  []byte{0, 0, 0, 0},
		}, {
			desc:  "large block size second block",
			id:    1,
			start: 1,
			n:     1,
			want:  []byte{8},
		}, {
			desc:     "short read",
			start:    15,
			n:        513,
			wantKind: bootstatus.IOError,
		}, {
			desc:     "past end",
			start:    100,
			n:        1,
			wantKind: bootstatus.IOError,
		}, {
			desc:     "offset overflows",
			start:    math.MaxUint64 / 256,
			n:        1,
			wantKind: bootstatus.IOError,
		}, {
			desc:     "unknown disk",
			id:       7,
			n:        1,
			wantKind: bootstatus.NotFound,
		},
	} {
		t.Run(test.desc, func(t *testing.T) {
			dst := make([]byte, test.n)
			err := f.ReadBlocks(ctx, test.id, test.start, dst)
			if k := bootstatus.KindOf(err); k != test.wantKind {
				t.Fatalf("ReadBlocks() = %v (kind %v), want kind %v", err, k, test.wantKind)
			}
			if err != nil {
				return
			}
			if diff := cmp.Diff(test.want, dst); diff != "" {
				t.Errorf("ReadBlocks() diff (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFilesReadBlocksCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := &Files{Disks: []Disk{{Path: writeDisk(t, "disk.img", make([]byte, 512))}}}
	if err := f.ReadBlocks(ctx, 0, 0, make([]byte, 1)); !bootstatus.Is(err, bootstatus.IOError) {
		t.Errorf("ReadBlocks() = %v, want IOError", err)
	}
}
