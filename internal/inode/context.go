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
	"sync"

	"github.com/nvfuse/nvfuse/internal/cache"
	"github.com/nvfuse/nvfuse/internal/nverr"
)

// Context is the in-memory, reference-counted handle to one inode: its
// on-disk record (kept live via the buffer cache, not copied out), the
// indirect-addressing helper, and the dirty/ref-count bookkeeping spec.md
// §3's "in-memory inode context" describes. It is created on first open
// and torn down once both RefCount hits zero and the cache has evicted its
// backing buffer — in practice, once RefCount hits zero the table that
// owns Contexts (internal/nvfs) may drop its own reference immediately,
// since the buffer cache independently keeps the inode cluster around
// until it is evicted or synced.
type Context struct {
	mu sync.Mutex

	Ino uint32

	cache *cache.Cache
	addr  *Addresser

	bh   *cache.BufferHead // the cluster holding this inode's on-disk record
	slot int               // inode's index within bh's cluster
	live OnDisk

	inodesPerGroup uint32

	metaDirty int
	dataDirty int
	refCount  int
}

// clusterForIno returns the physical inode-table cluster and in-cluster
// slot for ino, given the owning group's descriptor.
func clusterForIno(ino uint32, inodesPerGroup uint32, itableStart uint64, clusterSize int) (phys uint64, slot int) {
	perCluster := uint32(PerClusterSlots(clusterSize))
	localIdx := ino % inodesPerGroup
	return itableStart + uint64(localIdx/perCluster), int(localIdx % perCluster)
}

// Open loads (or joins an already-open) inode context for ino, pinning its
// inode-table cluster in the cache. The caller must Close it exactly once
// per Open to release the reference.
func Open(ctx context.Context, c *cache.Cache, addr *Addresser, ino uint32, itableStart uint64, inodesPerGroup uint32, clusterSize int) (*Context, error) {
	phys, slot := clusterForIno(ino, inodesPerGroup, itableStart, clusterSize)

	bh, err := c.Get(ctx, cache.Key{Ino: 0, Block: phys}, func(ctx context.Context) (uint64, error) { return phys, nil })
	if err != nil {
		return nil, err
	}

	off := slot * Size
	live := Decode(bh.Data[off : off+Size])
	if live.Deleted {
		c.Put(ctx, bh, false)
		return nil, nverr.NotFound.Withf(nil, "inode %d is deleted", ino)
	}

	return &Context{
		Ino:            ino,
		cache:          c,
		addr:           addr,
		bh:             bh,
		slot:           slot,
		live:           live,
		inodesPerGroup: inodesPerGroup,
		refCount:       1,
	}, nil
}

// Ref increments the context's reference count; call when a second path
// lookup or file-table entry starts sharing this context.
func (c *Context) Ref() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refCount++
}

// Close releases one reference. It does not by itself write anything back
// to the cache; the inode's buffer stays resident (and, once dirtied,
// write-back eligible) until the cache itself evicts or syncs it.
func (c *Context) Close(ctx context.Context) {
	c.mu.Lock()
	c.refCount--
	release := c.refCount <= 0
	c.mu.Unlock()
	if release {
		c.cache.Put(ctx, c.bh, false)
	}
}

// View returns a copy of the inode's current on-disk fields.
func (c *Context) View() OnDisk {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live
}

// Mutate runs fn against the live inode record under the context's lock,
// persists the result into the backing buffer, marks it dirty, and bumps
// the metadata dirty counter spec.md §3 tracks per inode context.
func (c *Context) Mutate(ctx context.Context, fn func(*OnDisk)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.live)
	off := c.slot * Size
	c.live.Encode(c.bh.Data[off : off+Size])
	c.cache.MarkDirty(c.bh)
	c.metaDirty++
}

// MarkDataDirty increments the data-dirty counter spec.md §3 tracks
// alongside the metadata counter. The counter is only reported through
// DirtyCounts; the cache's dirty watermark counts dirty buffers instead.
func (c *Context) MarkDataDirty() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dataDirty++
}

// DirtyCounts returns the (metadata, data) dirty counters accumulated
// since this context was opened.
func (c *Context) DirtyCounts() (meta, data int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metaDirty, c.dataDirty
}

// Sync writes back every dirty buffer belonging to this inode, including
// the inode cluster itself, in the order spec.md §4.B prescribes: data
// clusters and indirect blocks are already written by whatever operation
// dirtied them, so this only needs to flush the inode's own dirty set.
func (c *Context) Sync(ctx context.Context) error {
	return c.cache.SyncInode(ctx, c.Ino)
}

// hintGroup derives a block-group allocation hint from the inode's own
// number, so a file's data tends to land near its metadata.
func (c *Context) hintGroup() uint32 {
	return c.Ino / c.inodesPerGroup
}

// GetBlock resolves logical block l without allocating, 0 if sparse.
func (c *Context) GetBlock(ctx context.Context, l uint32) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addr.GetPhysical(ctx, &c.live, l)
}

// EnsureBlock resolves logical block l, allocating it near this inode's
// own block group if it was sparse, and records the resulting pointer
// update as a metadata dirty (the block-pointer array lives inside the
// inode record) plus a data dirty (new content was written through it).
func (c *Context) EnsureBlock(ctx context.Context, l uint32) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	phys, err := c.addr.EnsureMapped(ctx, &c.live, l, c.hintGroup())
	if err != nil {
		return 0, err
	}
	off := c.slot * Size
	c.live.Encode(c.bh.Data[off : off+Size])
	c.cache.MarkDirty(c.bh)
	c.metaDirty++
	c.dataDirty++
	return phys, nil
}

// UnmapBlock frees the data cluster at logical block l, if mapped.
func (c *Context) UnmapBlock(ctx context.Context, l uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.addr.Unmap(ctx, &c.live, l); err != nil {
		return err
	}
	off := c.slot * Size
	c.live.Encode(c.bh.Data[off : off+Size])
	c.cache.MarkDirty(c.bh)
	c.metaDirty++
	return nil
}

// Addresser exposes the shared indirect-addressing helper so the
// namespace layer can resolve/extend this inode's data without going
// through Context for every single block.
func (c *Context) Addresser() *Addresser { return c.addr }
