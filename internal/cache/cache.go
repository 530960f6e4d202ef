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

// Package cache implements the buffer cache of spec.md §4.B: a pre-sized
// pool of cluster buffers keyed by (inode, logical block) for file data or
// (0, physical block) for metadata, with clean/dirty/locked list
// discipline, dirty tracking, and ordered write-back. The InvariantMutex
// pattern and list-of-three-states layout follow the teacher repository's
// fs/inode.DirInode and gcsproxy buffer management, generalized from
// GCS objects to fixed-size device clusters.
package cache

import (
	"container/list"
	"context"
	"time"

	"github.com/jacobsa/syncutil"
	"golang.org/x/sync/singleflight"

	"github.com/nvfuse/nvfuse/internal/block"
	"github.com/nvfuse/nvfuse/internal/nverr"
	"github.com/nvfuse/nvfuse/logger"
	"github.com/nvfuse/nvfuse/metrics"
)

// Key identifies a buffer head. Ino==0 means a metadata block, keyed
// directly by physical cluster number; any other Ino means file data,
// keyed by logical block within that inode (spec.md §4.B "Keying").
type Key struct {
	Ino   uint32
	Block uint64
}

// Resolver translates a Key's logical address into a physical cluster
// number. It belongs to the inode layer and is re-run on every cache miss
// rather than cached in the key, per spec.md §4.B.
type Resolver func(ctx context.Context) (physCluster uint64, err error)

// BufferHead is one cache entry: an (inode, logical-block) or
// (device, physical-block) identity, its cluster-sized data, and the
// dirty/lock/async-in-flight flags spec.md §3 describes.
type BufferHead struct {
	Key  Key
	Data []byte

	// resolve is re-run at write-back time to get the current physical
	// cluster for file-data keys; metadata keys use Key.Block directly.
	resolve Resolver

	dirty   bool
	locked  bool
	refs    int
	elem    *list.Element // current position in whichever list owns it
	retries int
}

func (b *BufferHead) Dirty() bool { return b.dirty }

// Cache is the pool described above: one hash table plus exactly three
// lists (CLEAN-LRU, DIRTY-LRU, LOCKED) that a buffer head belongs to at any
// moment.
type Cache struct {
	Mu syncutil.InvariantMutex

	backend     block.Backend
	clusterSize int

	poolClusters        int
	dirtyWatermarkCount int
	writeBackRetryLimit int

	// GUARDED_BY(Mu)
	table map[Key]*BufferHead
	// GUARDED_BY(Mu)
	clean *list.List
	// GUARDED_BY(Mu)
	dirty *list.List
	// GUARDED_BY(Mu)
	locked *list.List
	// GUARDED_BY(Mu)
	freePool [][]byte
	// GUARDED_BY(Mu)
	errored bool

	loads   singleflight.Group
	metrics metrics.CacheHandle
}

// Options configures a new Cache.
type Options struct {
	PoolClusters        int
	ClusterSize         int
	DirtyWatermarkPct   float64
	WriteBackRetryLimit int
	Metrics             metrics.CacheHandle
}

// New allocates the buffer pool and returns an empty, ready Cache.
func New(backend block.Backend, opts Options) *Cache {
	c := &Cache{
		backend:             backend,
		clusterSize:         opts.ClusterSize,
		poolClusters:        opts.PoolClusters,
		dirtyWatermarkCount: int(float64(opts.PoolClusters) * opts.DirtyWatermarkPct),
		writeBackRetryLimit: opts.WriteBackRetryLimit,
		table:               make(map[Key]*BufferHead, opts.PoolClusters),
		clean:               list.New(),
		dirty:               list.New(),
		locked:              list.New(),
		metrics:             opts.Metrics,
	}
	for i := 0; i < opts.PoolClusters; i++ {
		c.freePool = append(c.freePool, make([]byte, opts.ClusterSize))
	}
	c.Mu = syncutil.NewInvariantMutex(c.checkInvariants)
	return c
}

func (c *Cache) checkInvariants() {
	if c.table == nil {
		return
	}
	total := c.clean.Len() + c.dirty.Len() + c.locked.Len()
	if total != len(c.table) {
		panic("buffer head present in table but not in exactly one list")
	}
}

// ClusterSize reports the fixed size in bytes of every buffer this cache
// hands out, matching the backend it was built over.
func (c *Cache) ClusterSize() int { return c.clusterSize }

// Errored reports whether a write-back has exhausted its retry budget,
// latching the cache per spec.md §4.B "Failures".
func (c *Cache) Errored() bool {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	return c.errored
}

func (c *Cache) recordHit(ctx context.Context, hit bool) {
	if c.metrics != nil {
		c.metrics.LookupCount(ctx, 1, hit)
	}
}
