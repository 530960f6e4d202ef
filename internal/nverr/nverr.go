// Copyright 2024 Google Inc. All Rights Reserved.
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

// Package nverr defines the error taxonomy every layer of the filesystem
// returns through, following the teacher repository's habit of returning
// sentinel syscall.Errno values from fs.FileSystem methods (see
// fuse.ENOENT/fuse.EEXIST/fuse.ENOTDIR in the teacher's fs package) rather
// than ad hoc errors.New strings. Category lets callers (metrics, logging,
// the fsck-style mount error latch) bucket an arbitrary error without a
// type switch over every concrete cause.
package nverr

import (
	"errors"
	"syscall"
)

// Sentinel errors, one per taxonomy entry. Each wraps the syscall.Errno a
// POSIX-facing caller ultimately expects, the way the teacher's fs package
// returns fuse.ENOENT, fuse.EEXIST, fuse.ENOTDIR, fuse.ENOTEMPTY directly.
var (
	NotFound     = &Error{category: "not_found", errno: syscall.ENOENT}
	Exists       = &Error{category: "exists", errno: syscall.EEXIST}
	NoSpace      = &Error{category: "no_space", errno: syscall.ENOSPC}
	NoInode      = &Error{category: "no_inode", errno: syscall.ENOSPC}
	Invalid      = &Error{category: "invalid", errno: syscall.EINVAL}
	IoError      = &Error{category: "io_error", errno: syscall.EIO}
	Corrupt      = &Error{category: "corrupt", errno: syscall.EIO}
	Busy         = &Error{category: "busy", errno: syscall.EBUSY}
	TooLarge     = &Error{category: "too_large", errno: syscall.EFBIG}
	NotEmpty     = &Error{category: "not_empty", errno: syscall.ENOTEMPTY}
	NotDirectory = &Error{category: "not_directory", errno: syscall.ENOTDIR}
	IsDirectory  = &Error{category: "is_directory", errno: syscall.EISDIR}
)

// Error is a taxonomy member. The zero value is not valid; use one of the
// package-level sentinels or Wrap.
type Error struct {
	category string
	errno    syscall.Errno
	detail   string
	cause    error
}

func (e *Error) Error() string {
	if e.detail == "" {
		return e.category
	}
	return e.category + ": " + e.detail
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Errno returns the POSIX errno this taxonomy member maps to, for a FUSE or
// NFS bridge to surface to the kernel.
func (e *Error) Errno() syscall.Errno {
	return e.errno
}

// Withf attaches a formatted detail message and optional cause to a
// sentinel, returning a new *Error so the sentinel itself stays immutable
// and comparable with errors.Is.
func (e *Error) Withf(cause error, format string, args ...any) *Error {
	return &Error{
		category: e.category,
		errno:    e.errno,
		detail:   sprintf(format, args...),
		cause:    cause,
	}
}

func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.category == other.category
}

// Category returns the taxonomy bucket for err, or "" if err does not carry
// one of the sentinels above anywhere in its chain.
func Category(err error) string {
	var nvErr *Error
	if errors.As(err, &nvErr) {
		return nvErr.category
	}
	return ""
}

// Fatal reports whether err should latch the mount into an errored,
// read-only state (spec.md §7 propagation rule for Corrupt).
func Fatal(err error) bool {
	return errors.Is(err, Corrupt)
}
