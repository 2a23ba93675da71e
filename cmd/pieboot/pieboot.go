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

// pieboot reads the image descriptor from the boot volume, loads the kernel
// image it points at from raw disk blocks and hands control to it.
//
// Usage:
//
//	go run ./cmd/pieboot --config=pieboot.yaml --logtostderr
package main

import (
	"context"
	"flag"

	"github.com/golang/glog"
	"github.com/google/pieboot/cmd/pieboot/impl"
	"google.golang.org/grpc/status"
)

var (
	configFile = flag.String("config", "", "Path to the YAML configuration file.")
	dryRun     = flag.Bool("dry_run", false, "Load the image and stop before handing off to it, whatever the configured handoff mode.")
)

func main() {
	flag.Parse()
	if *configFile == "" {
		glog.Exit("--config must be set")
	}

	if err := impl.Main(context.Background(), impl.PiebootOpts{
		ConfigFile: *configFile,
		DryRun:     *dryRun,
	}); err != nil {
		glog.Exitf("Boot failed (%v): %v", status.Code(err), err)
	}
}
