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
	"container/list"
	"context"

	"github.com/nvfuse/nvfuse/internal/nverr"
)

// writeBackOldestAndReclaim synchronously writes the oldest dirty,
// unreferenced buffer back to the backend and reclaims its storage. It is
// the last resort acquireBuffer falls back to once both the free pool and
// the clean list are exhausted (spec.md §4.B "Eviction").
func (c *Cache) writeBackOldestAndReclaim(ctx context.Context) ([]byte, error) {
	bh, ok := c.takeOldestDirty()
	if !ok {
		return nil, nverr.NoSpace.Withf(nil, "buffer pool exhausted and no reclaimable dirty buffer")
	}

	if err := c.writeBackOne(ctx, bh); err != nil {
		c.requeueFailed(bh)
		return nil, err
	}

	c.Mu.Lock()
	c.locked.Remove(bh.elem)
	delete(c.table, bh.Key)
	c.Mu.Unlock()

	return bh.Data, nil
}

// takeOldestDirty removes the least-recently-used unreferenced dirty buffer
// from the dirty list and moves it to locked, so no other caller can touch
// it mid-write-back. It returns ok=false if every dirty buffer is pinned.
func (c *Cache) takeOldestDirty() (*BufferHead, bool) {
	c.Mu.Lock()
	defer c.Mu.Unlock()

	for e := c.dirty.Front(); e != nil; e = e.Next() {
		bh := e.Value.(*BufferHead)
		if bh.refs > 0 {
			continue
		}
		c.dirty.Remove(e)
		bh.locked = true
		bh.elem = c.locked.PushBack(bh)
		return bh, true
	}
	return nil, false
}

// writeBackOne issues the actual write for a single locked buffer head,
// re-resolving its physical cluster for file-data keys, and retries up to
// writeBackRetryLimit times before latching the cache errored (spec.md
// §4.B "Failures").
func (c *Cache) writeBackOne(ctx context.Context, bh *BufferHead) error {
	phys := bh.Key.Block
	if bh.Key.Ino != 0 && bh.resolve != nil {
		p, err := bh.resolve(ctx)
		if err != nil {
			return err
		}
		phys = p
	}

	var err error
	for attempt := 0; attempt <= c.writeBackRetryLimit; attempt++ {
		err = c.backend.WriteClusters(ctx, phys, bh.Data)
		if err == nil {
			c.Mu.Lock()
			bh.dirty = false
			bh.retries = 0
			if c.metrics != nil {
				c.metrics.WriteBackCount(ctx, 1)
			}
			c.Mu.Unlock()
			return nil
		}
		bh.retries++
	}

	c.Mu.Lock()
	c.errored = true
	c.Mu.Unlock()
	return nverr.IoError.Withf(err, "write-back cluster %d exhausted %d retries", phys, c.writeBackRetryLimit)
}

// requeueFailed puts a buffer head that failed write-back back onto the
// dirty list rather than losing it; the caller's eviction attempt fails but
// the data survives for a later retry.
func (c *Cache) requeueFailed(bh *BufferHead) {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	bh.locked = false
	c.locked.Remove(bh.elem)
	bh.elem = c.dirty.PushBack(bh)
}

// FlushAll writes back every dirty buffer, in LRU order, stopping at the
// first unrecoverable failure. It is the basis for fsync and unmount
// (spec.md §4.B "Write-back policy", §4.H).
func (c *Cache) FlushAll(ctx context.Context) error {
	for {
		bh, ok := c.takeOldestDirty()
		if !ok {
			return nil
		}
		if err := c.writeBackOne(ctx, bh); err != nil {
			c.requeueFailed(bh)
			return err
		}
		c.Mu.Lock()
		bh.locked = false
		c.locked.Remove(bh.elem)
		bh.elem = c.clean.PushBack(bh)
		c.Mu.Unlock()
	}
}

// SyncInode writes back every currently dirty buffer belonging to ino, in
// the ordering spec.md §4.B prescribes: data clusters and indirect-block
// clusters are written by the caller (the inode layer) before it calls
// SyncInode for the inode cluster itself, so this method only needs to
// preserve LRU order within the one inode's dirty buffers.
func (c *Cache) SyncInode(ctx context.Context, ino uint32) error {
	for {
		bh, ok := c.takeOldestDirtyForIno(ino)
		if !ok {
			return nil
		}
		if err := c.writeBackOne(ctx, bh); err != nil {
			c.requeueFailed(bh)
			return err
		}
		c.Mu.Lock()
		bh.locked = false
		c.locked.Remove(bh.elem)
		bh.elem = c.clean.PushBack(bh)
		c.Mu.Unlock()
	}
}

func (c *Cache) takeOldestDirtyForIno(ino uint32) (*BufferHead, bool) {
	c.Mu.Lock()
	defer c.Mu.Unlock()

	var next *list.Element
	for e := c.dirty.Front(); e != nil; e = next {
		next = e.Next()
		bh := e.Value.(*BufferHead)
		if bh.Key.Ino != ino || bh.refs > 0 {
			continue
		}
		c.dirty.Remove(e)
		bh.locked = true
		bh.elem = c.locked.PushBack(bh)
		return bh, true
	}
	return nil, false
}
