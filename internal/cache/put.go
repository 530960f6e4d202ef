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

import "context"

// Put drops the caller's reference to bh and, if dirty is true, marks it
// dirty and moves it to the DIRTY-LRU list (spec.md §4.B "Dirtying"). The
// dirty bit is sticky: once set it survives further clean Puts until a
// write-back actually clears it.
func (c *Cache) Put(ctx context.Context, bh *BufferHead, dirty bool) {
	c.Mu.Lock()
	defer c.Mu.Unlock()

	bh.refs--
	if dirty && !bh.dirty {
		bh.dirty = true
		c.clean.Remove(bh.elem)
		bh.elem = c.dirty.PushBack(bh)
		if c.metrics != nil {
			c.metrics.DirtyClustersSet(int64(c.dirty.Len()))
		}
	}
}

// MarkDirty marks bh dirty and moves it to the DIRTY-LRU list without
// touching its reference count. Use this (rather than Put) for a buffer the
// caller keeps pinned across repeated mutations — an inode's own context
// holds one reference to its inode-table buffer for its entire lifetime and
// must not give it up on every Mutate/WriteAt/EnsureBlock/UnmapBlock.
func (c *Cache) MarkDirty(bh *BufferHead) {
	c.Mu.Lock()
	defer c.Mu.Unlock()

	if !bh.dirty {
		bh.dirty = true
		c.clean.Remove(bh.elem)
		bh.elem = c.dirty.PushBack(bh)
		if c.metrics != nil {
			c.metrics.DirtyClustersSet(int64(c.dirty.Len()))
		}
	}
}

// DirtyCount returns the number of dirty buffers currently held.
func (c *Cache) DirtyCount() int {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	return c.dirty.Len()
}

// DirtyWatermarkBreached reports whether dirty occupancy has crossed the
// configured fraction of the pool (spec.md §4.B "Write-back policy").
func (c *Cache) DirtyWatermarkBreached() bool {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	return c.dirty.Len() >= c.dirtyWatermarkCount
}

// EvictClean reclaims up to n clean, unreferenced buffers back to the free
// pool, returning how many were actually reclaimed.
func (c *Cache) EvictClean(n int) int {
	reclaimed := 0
	for reclaimed < n {
		buf, ok := c.evictOneClean()
		if !ok {
			break
		}
		c.releaseBuffer(buf)
		reclaimed++
	}
	return reclaimed
}

// Invalidate drops a buffer head entirely, discarding its data without
// writing it back. Used when the inode layer frees the underlying cluster
// (truncate, delete) so a stale cached copy can never be reused.
func (c *Cache) Invalidate(key Key) {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	bh, ok := c.table[key]
	if !ok {
		return
	}
	c.listFor(bh).Remove(bh.elem)
	delete(c.table, key)
}
