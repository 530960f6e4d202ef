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
	"fmt"

	"github.com/nvfuse/nvfuse/internal/nverr"
	"github.com/nvfuse/nvfuse/logger"
)

// Get returns a referenced buffer head for key, loading it from
// the backend on a miss via resolve. A concurrent Get for the same key
// joins the in-flight load instead of issuing a second read (spec.md
// §4.B "Loading").
func (c *Cache) Get(ctx context.Context, key Key, resolve Resolver) (*BufferHead, error) {
	c.Mu.Lock()
	if bh, ok := c.table[key]; ok {
		c.touch(bh)
		bh.refs++
		c.recordHit(ctx, true)
		c.Mu.Unlock()
		return bh, nil
	}
	c.Mu.Unlock()

	c.recordHit(ctx, false)
	v, err, _ := c.loads.Do(fmt.Sprintf("%d:%d", key.Ino, key.Block), func() (any, error) {
		return c.load(ctx, key, resolve)
	})
	if err != nil {
		return nil, err
	}
	bh := v.(*BufferHead)

	c.Mu.Lock()
	defer c.Mu.Unlock()
	// Another goroutine's Get may have joined the singleflight load and
	// already claimed a reference; re-lookup by key to share the same head.
	if existing, ok := c.table[key]; ok {
		existing.refs++
		return existing, nil
	}
	bh.refs++
	return bh, nil
}

// load performs the actual miss path: allocate a buffer, read the backend,
// and, once the read has completed, insert the head into the table and the
// clean list.
func (c *Cache) load(ctx context.Context, key Key, resolve Resolver) (*BufferHead, error) {
	phys, err := resolve(ctx)
	if err != nil {
		return nil, err
	}

	buf := c.acquireBuffer()

	if phys != 0 || key.Ino == 0 {
		if err := c.backend.ReadClusters(ctx, phys, buf); err != nil {
			c.releaseBuffer(buf)
			return nil, nverr.IoError.Withf(err, "read cluster %d for key %+v", phys, key)
		}
	} else {
		// phys == 0 for file data is a sparse hole (spec.md §4.E); the caller
		// gets a zero-filled buffer without touching the backend. A buffer
		// reclaimed from an evicted entry still holds that entry's bytes.
		clear(buf)
	}

	bh := &BufferHead{Key: key, Data: buf, resolve: resolve}

	c.Mu.Lock()
	c.table[key] = bh
	bh.elem = c.clean.PushBack(bh)
	c.Mu.Unlock()

	return bh, nil
}

// acquireBuffer takes a buffer from the free pool, evicting a clean entry
// if the pool is exhausted.
func (c *Cache) acquireBuffer() []byte {
	c.Mu.Lock()
	if n := len(c.freePool); n > 0 {
		buf := c.freePool[n-1]
		c.freePool = c.freePool[:n-1]
		c.Mu.Unlock()
		return buf
	}
	c.Mu.Unlock()

	if buf, ok := c.evictOneClean(); ok {
		return buf
	}

	// Nothing clean to reclaim; synchronously write back the oldest dirty
	// entry and reclaim it (spec.md §4.B "Eviction").
	buf, err := c.writeBackOldestAndReclaim(context.Background())
	if err != nil {
		logger.Warnf("cache: forced write-back during eviction failed: %v", err)
	}
	return buf
}

func (c *Cache) releaseBuffer(buf []byte) {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	c.freePool = append(c.freePool, buf)
}

func (c *Cache) evictOneClean() ([]byte, bool) {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	front := c.clean.Front()
	if front == nil {
		return nil, false
	}
	bh := front.Value.(*BufferHead)
	if bh.refs > 0 {
		return nil, false
	}
	c.clean.Remove(front)
	delete(c.table, bh.Key)
	return bh.Data, true
}

// touch moves bh to the back of whichever list currently owns it, marking
// it most-recently-used. Must be called with Mu held.
func (c *Cache) touch(bh *BufferHead) {
	l := c.listFor(bh)
	l.MoveToBack(bh.elem)
}

func (c *Cache) listFor(bh *BufferHead) *list.List {
	switch {
	case bh.locked:
		return c.locked
	case bh.dirty:
		return c.dirty
	default:
		return c.clean
	}
}
