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

// diskserver exports local disk images over HTTP so that pieboot can read
// its kernel image from the network.
//
// Usage:
//
//	go run ./cmd/diskserver --logtostderr --disks=disk0.img,disk1.img
package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"strings"

	"github.com/golang/glog"
	"github.com/google/pieboot/api"
	ihttp "github.com/google/pieboot/cmd/diskserver/internal/http"
	"github.com/google/pieboot/internal/media"
	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"
)

var (
	addr      = flag.String("listen", ":8080", "Address to listen on")
	disks     = flag.String("disks", "", "Comma separated list of disk images or devices to export; the ID of each is its position in the list")
	blockSize = flag.Uint64("block_size", media.DefaultBlockSize, "Logical block size of the exported disks")
	maxRead   = flag.Uint64("max_read", api.DefaultMaxRead, "Largest number of bytes returned by a single read")
)

func main() {
	flag.Parse()
	ctx := context.Background()

	if *disks == "" {
		glog.Exitf("--disks is required")
	}
	files := &media.Files{}
	for _, p := range strings.Split(*disks, ",") {
		files.Disks = append(files.Disks, media.Disk{Path: p, BlockSize: *blockSize})
	}

	// This error group will be used to run all top level processes.
	// If any process dies, then all of them will be stopped via context cancellation.
	g, ctx := errgroup.WithContext(ctx)
	httpListener, err := net.Listen("tcp", *addr)
	if err != nil {
		glog.Exitf("failed to listen on %q", *addr)
	}

	r := mux.NewRouter()
	s := ihttp.NewServer(files, *maxRead)
	s.RegisterHandlers(r)
	srv := http.Server{
		Handler: r,
	}
	g.Go(func() error {
		glog.Infof("HTTP server goroutine started, exporting %d disks", len(files.Disks))
		defer glog.Info("HTTP server goroutine done")
		return srv.Serve(httpListener)
	})
	g.Go(func() error {
		// This goroutine brings down the HTTP server when ctx is done.
		glog.Info("HTTP server-shutdown goroutine started")
		defer glog.Info("HTTP server-shutdown goroutine done")
		<-ctx.Done()
		return srv.Shutdown(ctx)
	})
	if err := g.Wait(); err != nil {
		glog.Errorf("failed with error: %v", err)
	}
}
