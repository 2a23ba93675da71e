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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/bits"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/pieboot/api"
	"github.com/google/pieboot/internal/bootstatus"
)

// Remote reads blocks from a block server over HTTP.
type Remote struct {
	// URL is the base URL of the block server.
	URL *url.URL
	// Client is used for requests, http.DefaultClient if nil.
	Client *http.Client
	// BlockSize is the logical block size of the exported media,
	// DefaultBlockSize if zero.
	BlockSize uint64
	// MaxRead is the largest number of bytes requested at once,
	// api.DefaultMaxRead if zero. Longer reads are split into runs of
	// whole blocks.
	MaxRead uint64
}

var (
	_ Locator     = Remote{}
	_ BlockReader = Remote{}
)

func (r Remote) get(ctx context.Context, path string) (*http.Response, error) {
	u, err := r.URL.Parse(path)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	c := r.Client
	if c == nil {
		c = http.DefaultClient
	}
	return c.Do(req)
}

// List returns the IDs of the media exported by the server.
func (r Remote) List(ctx context.Context) ([]ID, error) {
	resp, err := r.get(ctx, api.HTTPGetMedia)
	if err != nil {
		return nil, bootstatus.Errorf(bootstatus.IOError, "failed to list media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp, "list media")
	}
	var ids []ID
	if err := json.NewDecoder(resp.Body).Decode(&ids); err != nil {
		return nil, bootstatus.Errorf(bootstatus.IOError, "failed to decode media list: %w", err)
	}
	return ids, nil
}

// Locate returns the first medium exported by the server.
func (r Remote) Locate(ctx context.Context) (ID, error) {
	ids, err := r.List(ctx)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, bootstatus.Errorf(bootstatus.NotFound, "%s exports no media", r.URL)
	}
	return ids[0], nil
}

// ReadBlocks implements BlockReader.
func (r Remote) ReadBlocks(ctx context.Context, id ID, start uint64, dst []byte) error {
	bs := r.BlockSize
	if bs == 0 {
		bs = DefaultBlockSize
	}
	chunk := r.MaxRead
	if chunk == 0 {
		chunk = api.DefaultMaxRead
	}
	chunk -= chunk % bs
	if chunk == 0 {
		chunk = bs
	}

	for off := uint64(0); off < uint64(len(dst)); off += chunk {
		end := min(off+chunk, uint64(len(dst)))
		lba, carry := bits.Add64(start, off/bs, 0)
		if carry != 0 {
			return bootstatus.Errorf(bootstatus.IOError, "block %d + %d of medium %v is out of range", start, off/bs, id)
		}
		if err := r.readRun(ctx, id, lba, dst[off:end]); err != nil {
			return err
		}
	}
	return nil
}

// readRun reads dst with a single request.
func (r Remote) readRun(ctx context.Context, id ID, start uint64, dst []byte) error {
	path := fmt.Sprintf(api.HTTPGetBlocks, id, strconv.FormatUint(start, 10), strconv.Itoa(len(dst)))
	resp, err := r.get(ctx, path)
	if err != nil {
		return bootstatus.Errorf(bootstatus.IOError, "failed to read blocks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp, "read blocks")
	}
	if n, err := io.ReadFull(resp.Body, dst); err != nil {
		return bootstatus.Errorf(bootstatus.IOError, "read %d of %d bytes at block %d of medium %v: %w", n, len(dst), start, id, err)
	}
	return nil
}

func statusError(resp *http.Response, op string) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	k := bootstatus.IOError
	if resp.StatusCode == http.StatusNotFound {
		k = bootstatus.NotFound
	}
	return bootstatus.Errorf(k, "%s: %s: %q", op, resp.Status, msg)
}
