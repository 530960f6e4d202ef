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

// NVMeBackend is the {user-space-NVMe} backend of spec.md §6: a polled
// user-space driver target. It submits through the widest worker pool of
// the three real backends; submission is paced only when submitRateHz is
// positive.
type NVMeBackend struct {
	*FileBackend
	submitRateHz float64
}

// NewNVMeBackend wraps path as a polled NVMe namespace. submitRateHz
// defaults to 0 (unthrottled) if non-positive.
func NewNVMeBackend(path string, clusterSize int, sizeBytes int64, submitRateHz float64) *NVMeBackend {
	return &NVMeBackend{
		FileBackend:  NewFileBackend(path, clusterSize, sizeBytes),
		submitRateHz: submitRateHz,
	}
}

func (b *NVMeBackend) AIOInit(ctx context.Context, queueDepth int) error {
	b.async = newWorkerAsync(b.FileBackend, queueDepth, 32).withRateLimit(b.submitRateHz)
	return nil
}

func (b *NVMeBackend) AIOCleanup() error {
	if b.async == nil {
		return nil
	}
	return b.async.cleanup()
}

func (b *NVMeBackend) Submit(ctx context.Context, jobs []*Job) (int, error) {
	return b.async.submit(ctx, jobs)
}

func (b *NVMeBackend) Complete(ctx context.Context, timeout time.Duration) ([]*Job, error) {
	return b.async.complete(ctx, timeout)
}

func (b *NVMeBackend) Cancel(job *Job) error {
	return b.async.cancelJob(job)
}

var _ AsyncBackend = (*NVMeBackend)(nil)
