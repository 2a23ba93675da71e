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

// Package bootstatus defines the failure kinds reported by the boot pipeline.
//
// Every stage fails fast with exactly one Kind. Errors carry a gRPC status
// code so that callers can use status.Code(err) to report them, in the same
// way the servers in this repository map failures onto HTTP statuses.
package bootstatus

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind classifies a boot failure.
type Kind int

const (
	// Unknown is returned by KindOf for errors which did not originate here.
	Unknown Kind = iota
	// NotFound means the descriptor resource or the boot media is absent.
	NotFound
	// Malformed means the descriptor is missing a key or has a bad value.
	Malformed
	// IOError means a block read failed or came back short.
	IOError
	// InvalidImage means the kernel image is structurally unusable.
	InvalidImage
	// UnsupportedFormat means the image format was recognised but cannot be loaded.
	UnsupportedFormat
	// OutOfResources means memory for an image could not be allocated.
	OutOfResources
	// Unverified means a signature or hash check on boot artifacts failed.
	Unverified
)

var kindNames = map[Kind]string{
	Unknown:           "Unknown",
	NotFound:          "NotFound",
	Malformed:         "Malformed",
	IOError:           "IoError",
	InvalidImage:      "InvalidImage",
	UnsupportedFormat: "UnsupportedFormat",
	OutOfResources:    "OutOfResources",
	Unverified:        "Unverified",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Code returns the gRPC code used to report failures of this kind.
func (k Kind) Code() codes.Code {
	switch k {
	case NotFound:
		return codes.NotFound
	case Malformed:
		return codes.InvalidArgument
	case IOError:
		return codes.Unavailable
	case InvalidImage:
		return codes.DataLoss
	case UnsupportedFormat:
		return codes.Unimplemented
	case OutOfResources:
		return codes.ResourceExhausted
	case Unverified:
		return codes.PermissionDenied
	default:
		return codes.Unknown
	}
}

// Error is a boot failure of a particular Kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// GRPCStatus allows status.Code and status.FromError to report the kind.
func (e *Error) GRPCStatus() *status.Status {
	return status.New(e.Kind.Code(), e.Error())
}

// Errorf returns an error of the given kind. The %w verb is honoured.
func Errorf(k Kind, format string, args ...interface{}) error {
	return &Error{Kind: k, Err: fmt.Errorf(format, args...)}
}

// Wrap returns err as an error of the given kind, or nil if err is nil.
func Wrap(k Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: k, Err: err}
}

// KindOf returns the kind of the outermost *Error wrapped by err.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err is a boot failure of kind k.
func Is(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}
