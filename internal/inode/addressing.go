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
	"encoding/binary"

	"github.com/nvfuse/nvfuse/internal/alloc"
	"github.com/nvfuse/nvfuse/internal/cache"
	"github.com/nvfuse/nvfuse/internal/nverr"
)

// Addresser resolves and maps logical file blocks to physical clusters
// through indirect blocks (spec.md §4.E). It is shared by every inode
// context rather than embedded per-inode, since it is stateless beyond the
// cache and allocator it was built with.
type Addresser struct {
	cache       *cache.Cache
	alloc       *alloc.Allocator
	clusterSize int
	ptrsPerBlk  uint32 // P = cluster_size / 4
}

// NewAddresser builds an Addresser over the mount's buffer cache and block
// allocator.
func NewAddresser(c *cache.Cache, a *alloc.Allocator, clusterSize int) *Addresser {
	return &Addresser{
		cache:       c,
		alloc:       a,
		clusterSize: clusterSize,
		ptrsPerBlk:  uint32(clusterSize / 4),
	}
}

// MaxFileSize is spec.md §3's `(11 + P + P² + P³) × cluster_size`.
func (a *Addresser) MaxFileSize() int64 {
	p := int64(a.ptrsPerBlk)
	return (DirectBlocks + p + p*p + p*p*p) * int64(a.clusterSize)
}

// location classifies logical block L into a direct slot or a path of
// indices through 1, 2, or 3 levels of indirect blocks.
func (a *Addresser) location(l uint32) (direct bool, directIdx uint32, indirectSlot int, path []uint32) {
	p := a.ptrsPerBlk
	if l < DirectBlocks {
		return true, l, 0, nil
	}
	l -= DirectBlocks
	if l < p {
		return false, 0, SingleIndirectIx, []uint32{l}
	}
	l -= p
	if l < p*p {
		return false, 0, DoubleIndirectIx, []uint32{l / p, l % p}
	}
	l -= p * p
	return false, 0, TripleIndirectIx, []uint32{l / (p * p), (l / p) % p, l % p}
}

func identityResolver(phys uint64) cache.Resolver {
	return func(ctx context.Context) (uint64, error) { return phys, nil }
}

func (a *Addresser) readEntries(ctx context.Context, phys uint32) ([]uint32, *cache.BufferHead, error) {
	bh, err := a.cache.Get(ctx, cache.Key{Ino: 0, Block: uint64(phys)}, identityResolver(uint64(phys)))
	if err != nil {
		return nil, nil, err
	}
	entries := make([]uint32, a.ptrsPerBlk)
	for i := range entries {
		entries[i] = binary.LittleEndian.Uint32(bh.Data[i*4 : i*4+4])
	}
	return entries, bh, nil
}

func (a *Addresser) writeEntries(bh *cache.BufferHead, entries []uint32) {
	for i, v := range entries {
		binary.LittleEndian.PutUint32(bh.Data[i*4:i*4+4], v)
	}
}

// GetPhysical resolves logical block L without allocating, per spec.md
// §4.E "Get-physical". It returns 0 for an unmapped (sparse) block.
func (a *Addresser) GetPhysical(ctx context.Context, in *OnDisk, l uint32) (uint32, error) {
	direct, idx, slot, path := a.location(l)
	if direct {
		return in.Blocks[idx], nil
	}
	root := in.Blocks[slot]
	if root == 0 {
		return 0, nil
	}
	return a.walk(ctx, root, path, false, 0)
}

// EnsureMapped resolves logical block L, allocating indirect clusters and
// the data cluster as needed (spec.md §4.E "Ensure-mapped"). Newly
// allocated indirect clusters are zero-filled before any pointer into them
// is written. Pointers below the root are installed top-down as the walk
// descends: each new indirect cluster is linked into its parent before the
// level under it is filled, and the inode's block-pointer slot is set last.
// The installation is not bottom-up: the innermost indirect entry is
// written before the data cluster it points to has been written.
func (a *Addresser) EnsureMapped(ctx context.Context, in *OnDisk, l uint32, hintGroup uint32) (uint32, error) {
	direct, idx, slot, path := a.location(l)
	if direct {
		if in.Blocks[idx] == 0 {
			phys, err := a.alloc.AllocateOneBlock(ctx, hintGroup)
			if err != nil {
				return 0, err
			}
			in.Blocks[idx] = phys
		}
		return in.Blocks[idx], nil
	}

	root := in.Blocks[slot]
	if root == 0 {
		newRoot, err := a.alloc.AllocateOneBlock(ctx, hintGroup)
		if err != nil {
			return 0, err
		}
		if err := a.zeroCluster(ctx, newRoot); err != nil {
			return 0, err
		}
		root = newRoot
	}
	phys, err := a.walk(ctx, root, path, true, hintGroup)
	if err != nil {
		return 0, err
	}
	in.Blocks[slot] = root
	return phys, nil
}

// Unmap frees the data cluster (and any indirect clusters left empty by
// doing so) mapped at logical block L, a no-op if L was already sparse.
// Used by Truncate to walk the freed range downward one block at a time.
func (a *Addresser) Unmap(ctx context.Context, in *OnDisk, l uint32) error {
	direct, idx, slot, path := a.location(l)
	if direct {
		if in.Blocks[idx] == 0 {
			return nil
		}
		if err := a.alloc.FreeAbsoluteBlock(ctx, in.Blocks[idx]); err != nil {
			return err
		}
		in.Blocks[idx] = 0
		return nil
	}

	root := in.Blocks[slot]
	if root == 0 {
		return nil
	}
	freeRoot, err := a.unmapLeaf(ctx, root, path)
	if err != nil {
		return err
	}
	if freeRoot {
		in.Blocks[slot] = 0
	}
	return nil
}

func (a *Addresser) zeroCluster(ctx context.Context, phys uint32) error {
	bh, err := a.cache.Get(ctx, cache.Key{Ino: 0, Block: uint64(phys)}, identityResolver(uint64(phys)))
	if err != nil {
		return err
	}
	for i := range bh.Data {
		bh.Data[i] = 0
	}
	a.cache.Put(ctx, bh, true)
	return nil
}

// walk descends path through the indirect-block chain rooted at root,
// returning the data cluster at the end of it. When allocate is true, a
// missing intermediate indirect cluster is allocated, zero-filled and linked
// into its parent before the walk descends into it; a missing data cluster
// is allocated and linked into the last level without being zero-filled.
func (a *Addresser) walk(ctx context.Context, root uint32, path []uint32, allocate bool, hintGroup uint32) (uint32, error) {
	cur := root
	for level := 0; level < len(path)-1; level++ {
		entries, bh, err := a.readEntries(ctx, cur)
		if err != nil {
			return 0, err
		}
		idx := path[level]
		next := entries[idx]
		if next == 0 {
			if !allocate {
				a.cache.Put(ctx, bh, false)
				return 0, nil
			}
			next, err = a.alloc.AllocateOneBlock(ctx, hintGroup)
			if err != nil {
				a.cache.Put(ctx, bh, false)
				return 0, err
			}
			if err := a.zeroCluster(ctx, next); err != nil {
				return 0, err
			}
			entries[idx] = next
			a.writeEntries(bh, entries)
			a.cache.Put(ctx, bh, true)
		} else {
			a.cache.Put(ctx, bh, false)
		}
		cur = next
	}

	entries, bh, err := a.readEntries(ctx, cur)
	if err != nil {
		return 0, err
	}
	idx := path[len(path)-1]
	data := entries[idx]
	if data == 0 {
		if !allocate {
			a.cache.Put(ctx, bh, false)
			return 0, nil
		}
		data, err = a.alloc.AllocateOneBlock(ctx, hintGroup)
		if err != nil {
			a.cache.Put(ctx, bh, false)
			return 0, err
		}
		entries[idx] = data
		a.writeEntries(bh, entries)
		a.cache.Put(ctx, bh, true)
	} else {
		a.cache.Put(ctx, bh, false)
	}
	return data, nil
}

// unmapLeaf clears the data pointer at path's end under root, freeing the
// data cluster, then collapses any indirect cluster along the chain that
// is left entirely empty, propagating upward and finally reporting
// whether root itself should be freed and the inode's block-pointer slot
// cleared (spec.md §4.E "Truncate": "free data, then collapse fully-empty
// indirect clusters").
func (a *Addresser) unmapLeaf(ctx context.Context, root uint32, path []uint32) (freeRoot bool, err error) {
	// chain[i] is the physical cluster read at indirect level i; chainIdx[i]
	// is the index within it that leads to chain[i+1] (or, for the last
	// entry, to the data cluster).
	chain := []uint32{root}
	for level := 0; level < len(path)-1; level++ {
		entries, bh, err := a.readEntries(ctx, chain[level])
		if err != nil {
			return false, err
		}
		next := entries[path[level]]
		a.cache.Put(ctx, bh, false)
		if next == 0 {
			return false, nil
		}
		chain = append(chain, next)
	}

	leafPhys := chain[len(chain)-1]
	entries, bh, err := a.readEntries(ctx, leafPhys)
	if err != nil {
		return false, err
	}
	idx := path[len(path)-1]
	data := entries[idx]
	if data == 0 {
		a.cache.Put(ctx, bh, false)
		return false, nil
	}
	if err := a.alloc.FreeAbsoluteBlock(ctx, data); err != nil {
		a.cache.Put(ctx, bh, false)
		return false, err
	}
	entries[idx] = 0
	a.writeEntries(bh, entries)
	leafEmpty := allZero(entries)
	a.cache.Put(ctx, bh, true)
	if !leafEmpty {
		return false, nil
	}

	// The leaf-level indirect block is now empty; free it and walk back up
	// the chain, clearing each parent's pointer and freeing it too if that
	// leaves it empty in turn.
	childPhys := leafPhys
	for level := len(path) - 2; level >= 0; level-- {
		if err := a.alloc.FreeAbsoluteBlock(ctx, childPhys); err != nil {
			return false, err
		}
		a.cache.Invalidate(cache.Key{Ino: 0, Block: uint64(childPhys)})

		parentPhys := chain[level]
		pEntries, pbh, err := a.readEntries(ctx, parentPhys)
		if err != nil {
			return false, err
		}
		pEntries[path[level]] = 0
		a.writeEntries(pbh, pEntries)
		parentEmpty := allZero(pEntries)
		a.cache.Put(ctx, pbh, true)
		if !parentEmpty {
			return false, nil
		}
		childPhys = parentPhys
	}

	// Every level collapsed, including root itself.
	if err := a.alloc.FreeAbsoluteBlock(ctx, root); err != nil {
		return false, err
	}
	a.cache.Invalidate(cache.Key{Ino: 0, Block: uint64(root)})
	return true, nil
}

func allZero(entries []uint32) bool {
	for _, v := range entries {
		if v != 0 {
			return false
		}
	}
	return true
}

// checkSize reports TooLarge if logical offset off+len would place
// the file beyond MaxFileSize.
func (a *Addresser) checkSize(off int64, n int) error {
	if off+int64(n) > a.MaxFileSize() {
		return nverr.TooLarge.Withf(nil, "write would exceed max file size %d", a.MaxFileSize())
	}
	return nil
}
