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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvfuse/nvfuse/internal/cache"
)

const contextTestItableStart = 3

// seedInode writes o directly into the inode-table cluster Open will read,
// bypassing the higher-level Context (which doesn't exist until an inode
// has at least a seeded on-disk record).
func seedInode(t *testing.T, c *cache.Cache, o OnDisk, inodesPerGroup uint32, clusterSize int) {
	t.Helper()
	ctx := context.Background()
	phys, slot := clusterForIno(o.Ino, inodesPerGroup, contextTestItableStart, clusterSize)
	bh, err := c.Get(ctx, cache.Key{Ino: 0, Block: phys}, func(context.Context) (uint64, error) { return phys, nil })
	require.NoError(t, err)
	o.Encode(bh.Data[slot*Size : slot*Size+Size])
	c.Put(ctx, bh, true)
}

func TestOpenDeletedInodeIsNotFound(t *testing.T) {
	addr, _, c := newTestAddresserSized(t, 20, dirTestClusterSize)
	ctx := context.Background()
	const ino = 16

	seedInode(t, c, OnDisk{Ino: ino, Deleted: true}, 8, dirTestClusterSize)

	_, err := Open(ctx, c, addr, ino, contextTestItableStart, 8, dirTestClusterSize)
	assert.Error(t, err)
}

func TestOpenMutateAndReopenSeesUpdate(t *testing.T) {
	addr, _, c := newTestAddresserSized(t, 20, dirTestClusterSize)
	ctx := context.Background()
	const ino = 2

	seedInode(t, c, OnDisk{Ino: ino, Type: TypeRegular}, 8, dirTestClusterSize)

	ictx, err := Open(ctx, c, addr, ino, contextTestItableStart, 8, dirTestClusterSize)
	require.NoError(t, err)

	ictx.Mutate(ctx, func(o *OnDisk) { o.Size = 4096 })
	assert.Equal(t, int64(4096), ictx.View().Size)

	meta, data := ictx.DirtyCounts()
	assert.Equal(t, 1, meta)
	assert.Equal(t, 0, data)

	phys1, err := ictx.EnsureBlock(ctx, 0)
	require.NoError(t, err)
	assert.NotZero(t, phys1)

	meta, data = ictx.DirtyCounts()
	assert.Equal(t, 2, meta)
	assert.Equal(t, 1, data)

	ictx.Close(ctx)

	reopened, err := Open(ctx, c, addr, ino, contextTestItableStart, 8, dirTestClusterSize)
	require.NoError(t, err)
	assert.Equal(t, int64(4096), reopened.View().Size)
	reopened.Close(ctx)
}

func TestContextRefCountDefersRelease(t *testing.T) {
	addr, _, c := newTestAddresserSized(t, 20, dirTestClusterSize)
	ctx := context.Background()
	const ino = 2

	seedInode(t, c, OnDisk{Ino: ino}, 8, dirTestClusterSize)

	ictx, err := Open(ctx, c, addr, ino, contextTestItableStart, 8, dirTestClusterSize)
	require.NoError(t, err)
	ictx.Ref()

	ictx.Close(ctx)
	// Still referenced once more; the buffer head must still be usable.
	ictx.Mutate(ctx, func(o *OnDisk) { o.Version = 9 })
	assert.Equal(t, uint32(9), ictx.View().Version)

	ictx.Close(ctx)
}

// TestContextBufferSurvivesEvictionPressure guards against the inode
// context's own buffer losing its pin: with a buffer pool only two
// clusters deep, every WriteAt below forces the cache to reclaim a buffer,
// and the oldest dirty, unreferenced one is always picked first. If the
// context's repeated Mutate/WriteAt calls ever let c.bh's refcount drop to
// zero again, its buffer becomes that oldest victim and the inode record
// written after reopen would come back stale or corrupted.
func TestContextBufferSurvivesEvictionPressure(t *testing.T) {
	addr, _, c := newTestAddresserPool(t, 40, testClusterSize, 2)
	ctx := context.Background()
	const ino = 2

	seedInode(t, c, OnDisk{Ino: ino, Type: TypeRegular}, 8, testClusterSize)

	ictx, err := Open(ctx, c, addr, ino, contextTestItableStart, 8, testClusterSize)
	require.NoError(t, err)

	payload := []byte{0xAB}
	for l := int64(0); l < DirectBlocks; l++ {
		n, err := ictx.WriteAt(ctx, payload, l*int64(testClusterSize))
		require.NoError(t, err)
		require.Equal(t, 1, n)
	}

	ictx.Mutate(ctx, func(o *OnDisk) { o.Version = 42 })
	ictx.Close(ctx)

	reopened, err := Open(ctx, c, addr, ino, contextTestItableStart, 8, testClusterSize)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), reopened.View().Version)
	assert.Equal(t, int64(DirectBlocks-1)*int64(testClusterSize)+1, reopened.View().Size)
	reopened.Close(ctx)
}

func TestUnmapBlockThroughContext(t *testing.T) {
	addr, _, c := newTestAddresserSized(t, 20, dirTestClusterSize)
	ctx := context.Background()
	const ino = 2

	seedInode(t, c, OnDisk{Ino: ino}, 8, dirTestClusterSize)

	ictx, err := Open(ctx, c, addr, ino, contextTestItableStart, 8, dirTestClusterSize)
	require.NoError(t, err)

	_, err = ictx.EnsureBlock(ctx, 0)
	require.NoError(t, err)

	require.NoError(t, ictx.UnmapBlock(ctx, 0))
	phys, err := ictx.GetBlock(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, phys)

	ictx.Close(ctx)
}
