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

package cache

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvfuse/nvfuse/internal/block"
)

func newTestCache(t *testing.T, poolClusters int) *Cache {
	t.Helper()
	backend := block.NewMemoryBackend(4096, 1<<20)
	require.NoError(t, backend.Open(context.Background()))
	t.Cleanup(func() { backend.Close() })

	return New(backend, Options{
		PoolClusters:        poolClusters,
		ClusterSize:         4096,
		DirtyWatermarkPct:   0.5,
		WriteBackRetryLimit: 2,
	})
}

func resolveTo(phys uint64) Resolver {
	return func(ctx context.Context) (uint64, error) { return phys, nil }
}

func TestGetMissLoadsFromBackend(t *testing.T) {
	c := newTestCache(t, 8)
	ctx := context.Background()

	bh, err := c.Get(ctx, Key{Ino: 0, Block: 3}, resolveTo(3))
	require.NoError(t, err)
	assert.Len(t, bh.Data, 4096)
	assert.False(t, bh.Dirty())
	c.Put(ctx, bh, false)
}

func TestGetHitReturnsSameBufferHead(t *testing.T) {
	c := newTestCache(t, 8)
	ctx := context.Background()

	first, err := c.Get(ctx, Key{Ino: 1, Block: 0}, resolveTo(1))
	require.NoError(t, err)
	c.Put(ctx, first, false)

	second, err := c.Get(ctx, Key{Ino: 1, Block: 0}, resolveTo(1))
	require.NoError(t, err)
	assert.Same(t, first, second)
	c.Put(ctx, second, false)
}

func TestPutDirtyMovesToDirtyListAndWatermark(t *testing.T) {
	c := newTestCache(t, 4)
	ctx := context.Background()

	bh, err := c.Get(ctx, Key{Ino: 1, Block: 0}, resolveTo(1))
	require.NoError(t, err)
	copy(bh.Data, bytes.Repeat([]byte{0x11}, 4096))
	c.Put(ctx, bh, true)

	assert.Equal(t, 1, c.DirtyCount())
	assert.True(t, bh.Dirty())
	// One dirty buffer of four is below the 0.5 watermark (two buffers).
	assert.False(t, c.DirtyWatermarkBreached())

	bh2, err := c.Get(ctx, Key{Ino: 1, Block: 1}, resolveTo(2))
	require.NoError(t, err)
	c.Put(ctx, bh2, true)
	assert.Equal(t, 2, c.DirtyCount())
	assert.True(t, c.DirtyWatermarkBreached())
}

func TestFlushAllWritesBackAndClearsDirty(t *testing.T) {
	c := newTestCache(t, 4)
	ctx := context.Background()

	bh, err := c.Get(ctx, Key{Ino: 0, Block: 5}, resolveTo(5))
	require.NoError(t, err)
	copy(bh.Data, bytes.Repeat([]byte{0x22}, 4096))
	c.Put(ctx, bh, true)
	require.Equal(t, 1, c.DirtyCount())

	require.NoError(t, c.FlushAll(ctx))
	assert.Equal(t, 0, c.DirtyCount())
	assert.False(t, c.Errored())

	readBack, err := c.Get(ctx, Key{Ino: 0, Block: 5}, resolveTo(5))
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0x22}, 4096), readBack.Data)
	c.Put(ctx, readBack, false)
}

func TestInvalidateDropsBufferWithoutWriteBack(t *testing.T) {
	c := newTestCache(t, 4)
	ctx := context.Background()

	bh, err := c.Get(ctx, Key{Ino: 2, Block: 0}, resolveTo(9))
	require.NoError(t, err)
	c.Put(ctx, bh, true)
	require.Equal(t, 1, c.DirtyCount())

	c.Invalidate(Key{Ino: 2, Block: 0})
	assert.Equal(t, 0, c.DirtyCount())
}

func TestAcquireBufferEvictsCleanBeforeWriteBack(t *testing.T) {
	c := newTestCache(t, 1)
	ctx := context.Background()

	first, err := c.Get(ctx, Key{Ino: 0, Block: 1}, resolveTo(1))
	require.NoError(t, err)
	c.Put(ctx, first, false)

	second, err := c.Get(ctx, Key{Ino: 0, Block: 2}, resolveTo(2))
	require.NoError(t, err)
	c.Put(ctx, second, false)
	assert.Len(t, second.Data, 4096)
}

func TestSyncInodeOnlyFlushesMatchingInode(t *testing.T) {
	c := newTestCache(t, 8)
	ctx := context.Background()

	a, err := c.Get(ctx, Key{Ino: 1, Block: 0}, resolveTo(1))
	require.NoError(t, err)
	copy(a.Data, bytes.Repeat([]byte{0x33}, 4096))
	c.Put(ctx, a, true)

	b, err := c.Get(ctx, Key{Ino: 2, Block: 0}, resolveTo(2))
	require.NoError(t, err)
	copy(b.Data, bytes.Repeat([]byte{0x44}, 4096))
	c.Put(ctx, b, true)

	require.NoError(t, c.SyncInode(ctx, 1))
	assert.Equal(t, 1, c.DirtyCount())
}
