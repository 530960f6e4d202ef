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
	"sync"
	"time"

	"github.com/nvfuse/nvfuse/internal/nverr"
)

// MemoryBackend is the {memory} backend of spec.md §6: a RAM region with no
// backing store. Useful for unit tests and the `format --device-kind
// memory` development path.
type MemoryBackend struct {
	clusterSize int

	mu      sync.RWMutex
	storage []byte
	async   *workerAsync
}

// NewMemoryBackend allocates a zero-filled region of sizeBytes, rounded
// down to a whole number of clusterSize clusters.
func NewMemoryBackend(clusterSize int, sizeBytes int64) *MemoryBackend {
	clusters := sizeBytes / int64(clusterSize)
	return &MemoryBackend{
		clusterSize: clusterSize,
		storage:     make([]byte, clusters*int64(clusterSize)),
	}
}

func (b *MemoryBackend) Open(ctx context.Context) error  { return nil }
func (b *MemoryBackend) Close() error                    { return nil }
func (b *MemoryBackend) Flush(ctx context.Context) error { return nil }
func (b *MemoryBackend) ClusterSize() int                { return b.clusterSize }

func (b *MemoryBackend) TotalClusters() uint64 {
	return uint64(len(b.storage) / b.clusterSize)
}

func (b *MemoryBackend) boundsCheck(physCluster uint64, buf []byte) (int64, int64, error) {
	if len(buf)%b.clusterSize != 0 {
		return 0, 0, nverr.Invalid.Withf(nil, "buffer length %d is not a multiple of cluster size %d", len(buf), b.clusterSize)
	}
	start := int64(physCluster) * int64(b.clusterSize)
	end := start + int64(len(buf))
	if end > int64(len(b.storage)) {
		return 0, 0, nverr.Invalid.Withf(nil, "access [%d,%d) exceeds device size %d", start, end, len(b.storage))
	}
	return start, end, nil
}

func (b *MemoryBackend) ReadClusters(ctx context.Context, physCluster uint64, buf []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	start, end, err := b.boundsCheck(physCluster, buf)
	if err != nil {
		return err
	}
	copy(buf, b.storage[start:end])
	return nil
}

func (b *MemoryBackend) WriteClusters(ctx context.Context, physCluster uint64, buf []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	start, end, err := b.boundsCheck(physCluster, buf)
	if err != nil {
		return err
	}
	copy(b.storage[start:end], buf)
	return nil
}

func (b *MemoryBackend) AIOInit(ctx context.Context, queueDepth int) error {
	b.async = newWorkerAsync(b, queueDepth, 4)
	return nil
}

func (b *MemoryBackend) AIOCleanup() error {
	if b.async == nil {
		return nil
	}
	return b.async.cleanup()
}

func (b *MemoryBackend) Submit(ctx context.Context, jobs []*Job) (int, error) {
	return b.async.submit(ctx, jobs)
}

func (b *MemoryBackend) Complete(ctx context.Context, timeout time.Duration) ([]*Job, error) {
	return b.async.complete(ctx, timeout)
}

func (b *MemoryBackend) Cancel(job *Job) error {
	return b.async.cancelJob(job)
}

var _ AsyncBackend = (*MemoryBackend)(nil)
