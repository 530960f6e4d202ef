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

package block

import (
	"context"
	"time"
)

// KernelAIOBackend is the {kernel-AIO} backend of spec.md §6: a kernel
// block device whose async path is driven by a wider worker pool than the
// plain file backend, standing in for a real io_submit(2)/io_getevents(2)
// context. Swapping the worker pool here for a cgo io_uring or libaio
// binding would not change Backend's contract.
type KernelAIOBackend struct {
	*FileBackend
	submitRateHz float64
}

// NewKernelAIOBackend wraps path as a kernel block device. submitRateHz
// bounds aio_submit calls/sec; zero disables throttling.
func NewKernelAIOBackend(path string, clusterSize int, sizeBytes int64, submitRateHz float64) *KernelAIOBackend {
	return &KernelAIOBackend{
		FileBackend:  NewFileBackend(path, clusterSize, sizeBytes),
		submitRateHz: submitRateHz,
	}
}

func (b *KernelAIOBackend) AIOInit(ctx context.Context, queueDepth int) error {
	b.async = newWorkerAsync(b.FileBackend, queueDepth, 16).withRateLimit(b.submitRateHz)
	return nil
}

func (b *KernelAIOBackend) AIOCleanup() error {
	if b.async == nil {
		return nil
	}
	return b.async.cleanup()
}

func (b *KernelAIOBackend) Submit(ctx context.Context, jobs []*Job) (int, error) {
	return b.async.submit(ctx, jobs)
}

func (b *KernelAIOBackend) Complete(ctx context.Context, timeout time.Duration) ([]*Job, error) {
	return b.async.complete(ctx, timeout)
}

func (b *KernelAIOBackend) Cancel(job *Job) error {
	return b.async.cancelJob(job)
}

var _ AsyncBackend = (*KernelAIOBackend)(nil)
