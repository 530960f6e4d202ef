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

package dirindex

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nvfuse/nvfuse/internal/alloc"
	"github.com/nvfuse/nvfuse/internal/bgroup"
	"github.com/nvfuse/nvfuse/internal/block"
	"github.com/nvfuse/nvfuse/internal/cache"
	"github.com/nvfuse/nvfuse/internal/inode"
)

const testClusterSize = 512

func newTestDirectory(t *testing.T) (*Directory, *inode.OnDisk) {
	t.Helper()

	const inodesPerGroup = 8
	const blocksTotal = 256
	const inodeTableStart = 3
	inodeTableClusters := uint32(1)
	dataTableStart := uint64(inodeTableStart) + uint64(inodeTableClusters)
	totalClusters := dataTableStart + uint64(blocksTotal)

	backend := block.NewMemoryBackend(testClusterSize, int64(totalClusters)*int64(testClusterSize))
	require.NoError(t, backend.Open(context.Background()))
	t.Cleanup(func() { backend.Close() })

	c := cache.New(backend, cache.Options{
		PoolClusters:        64,
		ClusterSize:         testClusterSize,
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
	addr := inode.NewAddresser(c, a, testClusterSize)

	const dirIno = 2
	in := &inode.OnDisk{Ino: dirIno, Type: inode.TypeDirectory}
	dir := OpenDirectory(c, a, addr, testClusterSize, 0, dirIno, 0)
	return dir, in
}

func TestDirectoryCreateLookupRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir, in := newTestDirectory(t)

	require.NoError(t, dir.Create(ctx, in, "a.txt", 10))
	require.NoError(t, dir.Create(ctx, in, "b.txt", 11))

	ino, ok, err := dir.Lookup(ctx, in, "a.txt")
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 10, ino)

	ino, ok, err = dir.Lookup(ctx, in, "b.txt")
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 11, ino)

	_, ok, err = dir.Lookup(ctx, in, "missing.txt")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDirectoryCreateDuplicateIsExists(t *testing.T) {
	ctx := context.Background()
	dir, in := newTestDirectory(t)

	require.NoError(t, dir.Create(ctx, in, "dup.txt", 10))
	err := dir.Create(ctx, in, "dup.txt", 11)
	require.Error(t, err)
}

func TestDirectoryDeleteRemovesBothTreeAndEntry(t *testing.T) {
	ctx := context.Background()
	dir, in := newTestDirectory(t)

	require.NoError(t, dir.Create(ctx, in, "gone.txt", 10))
	deleted, err := dir.Delete(ctx, in, "gone.txt")
	require.NoError(t, err)
	require.True(t, deleted)

	_, ok, err := dir.Lookup(ctx, in, "gone.txt")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDirectoryManyEntriesAllResolve(t *testing.T) {
	ctx := context.Background()
	dir, in := newTestDirectory(t)

	const n = 64
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("file%03d", i)
		require.NoError(t, dir.Create(ctx, in, name, uint32(100+i)))
	}
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("file%03d", i)
		ino, ok, err := dir.Lookup(ctx, in, name)
		require.NoError(t, err)
		require.True(t, ok, "name %s", name)
		require.EqualValues(t, 100+i, ino)
	}
}

func TestDirectoryRootPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir, in := newTestDirectory(t)
	require.NoError(t, dir.Create(ctx, in, "x", 5))
	require.NotZero(t, dir.Root())

	reopened := OpenDirectory(dir.ix.store.cache, dir.ix.store.alloc, dir.addr, testClusterSize, 0, dir.ino, dir.Root())
	ino, ok, err := reopened.Lookup(ctx, in, "x")
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 5, ino)
}

func TestDirectoryClearResetsRootAndDropsEntries(t *testing.T) {
	ctx := context.Background()
	dir, in := newTestDirectory(t)

	const n = 32
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("file%03d", i)
		require.NoError(t, dir.Create(ctx, in, name, uint32(100+i)))
	}
	require.NotZero(t, dir.Root())

	require.NoError(t, dir.Clear(ctx))
	require.Zero(t, dir.Root())

	_, ok, err := dir.Lookup(ctx, in, "file000")
	require.NoError(t, err)
	require.False(t, ok)
}
