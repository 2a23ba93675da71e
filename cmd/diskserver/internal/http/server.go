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

// Package http contains private implementation details for the disk server.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/golang/glog"
	"github.com/google/pieboot/api"
	"github.com/google/pieboot/internal/media"
	"github.com/gorilla/mux"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Disks exports a set of block devices.
type Disks interface {
	// List returns the IDs of the exported devices.
	List(ctx context.Context) ([]media.ID, error)
	// ReadBlocks fills dst with the bytes starting at logical block start
	// of device id.
	ReadBlocks(ctx context.Context, id media.ID, start uint64, dst []byte) error
}

// Server serves block reads over HTTP.
type Server struct {
	d       Disks
	maxRead uint64
}

// NewServer creates a new server which reads at most maxRead bytes per
// request.
func NewServer(d Disks, maxRead uint64) *Server {
	return &Server{
		d:       d,
		maxRead: maxRead,
	}
}

// getMedia returns the list of exported media.
func (s *Server) getMedia(w http.ResponseWriter, r *http.Request) {
	ids, err := s.d.List(r.Context())
	if err != nil {
		glog.Warningf("failed to list media: %v", err)
		http.Error(w, "failed to list media", httpForCode(status.Code(err)))
		return
	}
	if ids == nil {
		ids = []media.ID{}
	}
	b, err := json.Marshal(ids)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to convert media list to JSON: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/json")
	if _, err := w.Write(b); err != nil {
		glog.Errorf("w.Write(): %v", err)
	}
}

// getBlocks returns a run of bytes starting at a logical block.
func (s *Server) getBlocks(w http.ResponseWriter, r *http.Request) {
	v := mux.Vars(r)
	id, err := media.ParseID(v["id"])
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to parse media ID: %v", err), http.StatusBadRequest)
		return
	}
	lba, err := strconv.ParseUint(v["lba"], 10, 64)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to parse block: %v", err), http.StatusBadRequest)
		return
	}
	length, err := strconv.ParseUint(v["length"], 10, 64)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to parse length: %v", err), http.StatusBadRequest)
		return
	}
	if length == 0 || length > s.maxRead {
		http.Error(w, fmt.Sprintf("length must be between 1 and %d", s.maxRead), http.StatusBadRequest)
		return
	}

	buf := make([]byte, length)
	if err := s.d.ReadBlocks(r.Context(), id, lba, buf); err != nil {
		glog.Warningf("failed to read %d bytes at block %d of medium %v: %v", length, lba, id, err)
		http.Error(w, "failed to read blocks", httpForCode(status.Code(err)))
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := w.Write(buf); err != nil {
		glog.Errorf("w.Write(): %v", err)
	}
}

// RegisterHandlers registers HTTP handlers for disk server endpoints.
func (s *Server) RegisterHandlers(r *mux.Router) {
	blocks := fmt.Sprintf(api.HTTPGetBlocks, "{id:[0-9]+}", "{lba:[0-9]+}", "{length:[0-9]+}")
	r.HandleFunc("/"+blocks, s.getBlocks).Methods("GET")
	r.HandleFunc("/"+api.HTTPGetMedia, s.getMedia).Methods("GET")
}

func httpForCode(c codes.Code) int {
	switch c {
	case codes.NotFound:
		return http.StatusNotFound
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
