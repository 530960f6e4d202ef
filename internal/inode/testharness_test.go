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

package inode

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nvfuse/nvfuse/internal/alloc"
	"github.com/nvfuse/nvfuse/internal/bgroup"
	"github.com/nvfuse/nvfuse/internal/block"
	"github.com/nvfuse/nvfuse/internal/cache"
)

// testClusterSize is small enough that PTRS_PER_BLOCK (32) forces an
// inode into single-indirect territory after just 11 direct blocks,
// without needing thousands of test iterations.
const testClusterSize = 128

// newTestAddresser wires a single block group over a memory backend: one
// inode-bitmap cluster, one data-bitmap cluster, an inode table, then a data
// table of blocksTotal clusters. It returns the Addresser plus the raw Allocator so
// tests can assert on free-count bookkeeping.
func newTestAddresser(t *testing.T, blocksTotal uint32) (*Addresser, *alloc.Allocator, *cache.Cache) {
	t.Helper()
	return newTestAddresserSized(t, blocksTotal, testClusterSize)
}

// newTestAddresserSized is the general form newTestAddresser wraps, for
// tests (directory entries) that need a cluster large enough to hold
// several 128-byte entries rather than the tiny indirect-addressing size.
func newTestAddresserSized(t *testing.T, blocksTotal uint32, clusterSize int) (*Addresser, *alloc.Allocator, *cache.Cache) {
	t.Helper()
	return newTestAddresserPool(t, blocksTotal, clusterSize, 64)
}

// newTestAddresserPool is newTestAddresserSized with the cache's buffer pool
// size under the caller's control, so a test can force eviction pressure
// with a pool too small to hold every cluster touched at once.
func newTestAddresserPool(t *testing.T, blocksTotal uint32, clusterSize int, poolClusters int) (*Addresser, *alloc.Allocator, *cache.Cache) {
	t.Helper()

	const inodesPerGroup = 8
	inodeTableClusters := uint32((inodesPerGroup + PerClusterSlots(clusterSize) - 1) / PerClusterSlots(clusterSize))
	if inodeTableClusters == 0 {
		inodeTableClusters = 1
	}

	const inodeTableStart = 3
	dataTableStart := uint64(inodeTableStart) + uint64(inodeTableClusters)
	totalClusters := dataTableStart + uint64(blocksTotal)
	backend := block.NewMemoryBackend(clusterSize, int64(totalClusters)*int64(clusterSize))
	require.NoError(t, backend.Open(context.Background()))
	t.Cleanup(func() { backend.Close() })

	c := cache.New(backend, cache.Options{
		PoolClusters:        poolClusters,
		ClusterSize:         clusterSize,
		DirtyWatermarkPct:   0.9,
		WriteBackRetryLimit: 2,
	})

	desc := &bgroup.Descriptor{
		Magic:              bgroup.DescriptorMagic,
		GroupID:            0,
		InodeBitmapStart:   1,
		DataBitmapStart:    2,
		InodeTableStart:    inodeTableStart,
		DataTableStart:     dataTableStart,
		InodeTableClusters: inodeTableClusters,
		DataTableClusters:  blocksTotal,
		InodesTotal:        inodesPerGroup,
		BlocksTotal:        blocksTotal,
		FreeInodes:         inodesPerGroup,
		FreeBlocks:         blocksTotal,
	}
	groups := bgroup.NewManager([]*bgroup.Descriptor{desc})

	a := alloc.New(groups, c, inodesPerGroup, blocksTotal)
	return NewAddresser(c, a, clusterSize), a, c
}
