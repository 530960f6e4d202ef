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

// Package block implements the pluggable block backend of spec.md §4.A: a
// synchronous cluster read/write surface plus an asynchronous
// submit/complete path backed by a bounded SPSC completion ring. Backend
// selection follows the teacher repository's habit of dispatching storage
// operations behind one small interface (see gcsproxy's bucket-backed
// reader/writer split) rather than a type switch sprinkled through callers.
package block

import (
	"context"
	"time"
)

// Direction distinguishes a read job from a write job.
type Direction int

const (
	Read Direction = iota
	Write
)

// Job is one async I/O request, matching spec.md §4.A's
// {offset, byte_count, buffer, direction, user_tags}.
type Job struct {
	Offset    int64
	Buffer    []byte
	Direction Direction
	Tag       uint64

	// Err and Cancelled are populated by the backend once the job reaches a
	// terminal state (success, error, or cancelled).
	Err       error
	Cancelled bool
}

// Backend is the synchronous half of the block backend contract: open,
// close, read_cluster(s), write_cluster(s), plus the size queries §6
// requires of every backend plug-in.
type Backend interface {
	// Open prepares the device for use; it must be called before any other
	// method.
	Open(ctx context.Context) error

	// Close releases any resources Open acquired.
	Close() error

	// ReadClusters reads len(buf)/ClusterSize() clusters starting at the
	// given physical cluster index into buf.
	ReadClusters(ctx context.Context, physCluster uint64, buf []byte) error

	// WriteClusters writes len(buf)/ClusterSize() clusters starting at the
	// given physical cluster index from buf.
	WriteClusters(ctx context.Context, physCluster uint64, buf []byte) error

	// Flush forces previously completed writes to persist across a crash.
	// The backend need not guarantee persistence without it (spec.md §4.A).
	Flush(ctx context.Context) error

	// TotalClusters reports the device capacity in clusters.
	TotalClusters() uint64

	// ClusterSize reports the backend's native cluster size in bytes.
	ClusterSize() int
}

// AsyncBackend extends Backend with the aio_* operations of spec.md §4.A.
type AsyncBackend interface {
	Backend

	// AIOInit initializes the per-device async context. Cleanup releases
	// it; both must be idempotent with Open/Close.
	AIOInit(ctx context.Context, queueDepth int) error
	AIOCleanup() error

	// Submit enqueues up to len(jobs) jobs and returns how many were
	// accepted. A partial accept is not an error; the caller resubmits the
	// remainder. All failures are retryable except a malformed job.
	Submit(ctx context.Context, jobs []*Job) (int, error)

	// Complete blocks until at least one job completes or timeout elapses,
	// returning the jobs that completed during the wait.
	Complete(ctx context.Context, timeout time.Duration) ([]*Job, error)

	// Cancel requests best-effort cancellation of a submitted job. The
	// caller must still await a terminal completion for it.
	Cancel(job *Job) error
}
