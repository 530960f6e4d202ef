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

// Package alloc implements the bitmap-based block and inode allocator of
// spec.md §4.C: hint-based contiguous-run search over per-block-group
// bitmaps, with free counts kept redundantly in the block-group descriptor
// and rolled up into the superblock. It is grounded on the teacher
// repository's habit of layering a narrow allocation policy (gcsfuse's
// fs/inode free-list bookkeeping) over a dumb storage primitive (here,
// internal/bgroup.Bitmap) rather than mixing policy into the storage layer.
package alloc

import (
	"context"

	"github.com/nvfuse/nvfuse/internal/bgroup"
	"github.com/nvfuse/nvfuse/internal/cache"
	"github.com/nvfuse/nvfuse/internal/nverr"
)

// NumReservedInodes is the count of inode numbers the format step reserves
// before ordinary allocation begins (spec.md §4.C).
const NumReservedInodes = 8

// Reserved inode numbers; 0 and 1 are unused.
const (
	RootIno     uint32 = 2
	BlockIOIno  uint32 = 3
	BDIno       uint32 = 4
	ITableIno   uint32 = 5
	DBitmapIno  uint32 = 6
	IBitmapIno  uint32 = 7
)

// Allocator drives the bitmap search described in spec.md §4.C against a
// block-group manager, reading and writing bitmap clusters through the
// buffer cache so it participates in the same write-back and dirty
// tracking as every other metadata mutation.
type Allocator struct {
	groups *bgroup.Manager
	cache  *cache.Cache

	inodesPerGroup uint32
	blocksPerGroup uint32

	lastAllocBGByIno uint32
}

// New builds an Allocator over an already-populated block-group manager.
func New(groups *bgroup.Manager, c *cache.Cache, inodesPerGroup, blocksPerGroup uint32) *Allocator {
	return &Allocator{
		groups:         groups,
		cache:          c,
		inodesPerGroup: inodesPerGroup,
		blocksPerGroup: blocksPerGroup,
	}
}

func identityResolver(phys uint64) cache.Resolver {
	return func(ctx context.Context) (uint64, error) { return phys, nil }
}

// loadBitmap returns a referenced buffer head over the given
// bitmap cluster, along with a Bitmap view of its data truncated to nbits.
func (a *Allocator) loadBitmap(ctx context.Context, physCluster uint64, nbits uint32) (*cache.BufferHead, bgroup.Bitmap, error) {
	bh, err := a.cache.Get(ctx, cache.Key{Ino: 0, Block: physCluster}, identityResolver(physCluster))
	if err != nil {
		return nil, nil, err
	}
	need := (nbits + 7) / 8
	if int(need) > len(bh.Data) {
		a.cache.Put(ctx, bh, false)
		return nil, nil, nverr.Corrupt.Withf(nil, "bitmap cluster %d too small for %d bits", physCluster, nbits)
	}
	return bh, bgroup.Bitmap(bh.Data[:need]), nil
}

// Result describes a successful or partial block allocation.
type Result struct {
	GroupID   uint32
	Offset    uint32
	Allocated uint32
}

// AllocateBlocks implements spec.md §4.C "Block allocation": search the
// hint group for the longest contiguous run at the preferred offset,
// wrapping once; failing that, advance through the remaining groups in
// list order; failing that, return the single largest available run
// anywhere, which may be shorter than count.
func (a *Allocator) AllocateBlocks(ctx context.Context, hintGroup, hintOffset, count uint32) (Result, error) {
	n := uint32(a.groups.Count())
	if n == 0 {
		return Result{}, nverr.NoSpace.Withf(nil, "no block groups")
	}
	if hintGroup >= n {
		hintGroup = 0
	}

	if res, ok, err := a.tryGroup(ctx, hintGroup, hintOffset, count); err != nil {
		return Result{}, err
	} else if ok {
		return res, nil
	}

	var best Result
	bestRun := uint32(0)
	for i := uint32(0); i < n; i++ {
		gid := (hintGroup + 1 + i) % n
		if gid == hintGroup {
			continue
		}
		if res, ok, err := a.tryGroup(ctx, gid, 0, count); err != nil {
			return Result{}, err
		} else if ok {
			return res, nil
		} else if res.Allocated > bestRun {
			best, bestRun = res, res.Allocated
		}
	}

	if bestRun == 0 {
		return Result{}, nverr.NoSpace.Withf(nil, "no block group has a free cluster")
	}
	return best, nil
}

// tryGroup searches one group for a run of count clear bits at or after
// offset, wrapping within the group. ok is true only for a full-count
// match; otherwise Result.Allocated reports the longest run found, for the
// caller's largest-available-run fallback.
func (a *Allocator) tryGroup(ctx context.Context, gid, offset, count uint32) (Result, bool, error) {
	desc, err := a.groups.Group(gid)
	if err != nil {
		return Result{}, false, err
	}
	if desc.FreeBlocks == 0 {
		return Result{}, false, nil
	}

	bh, bm, err := a.loadBitmap(ctx, desc.DataBitmapStart, desc.BlocksTotal)
	if err != nil {
		return Result{}, false, err
	}
	defer a.cache.Put(ctx, bh, false)

	if run := bm.LongestRunFrom(offset, count); run >= count {
		a.commitBlocks(ctx, desc, bh, bm, offset, count)
		return Result{GroupID: gid, Offset: offset, Allocated: count}, true, nil
	}

	// No exact run at the hint offset; scan the whole group for the
	// longest run anywhere, reporting it as a fallback candidate.
	var bestOff, bestRun uint32
	total := desc.BlocksTotal
	for i := uint32(0); i < total; {
		if bm.Test(i) {
			i++
			continue
		}
		run := bm.LongestRunFrom(i, count)
		if run > bestRun {
			bestOff, bestRun = i, run
		}
		i += run
		if run == 0 {
			i++
		}
	}
	if bestRun == 0 {
		return Result{}, false, nil
	}
	if bestRun >= count {
		a.commitBlocks(ctx, desc, bh, bm, bestOff, count)
		return Result{GroupID: gid, Offset: bestOff, Allocated: count}, true, nil
	}
	a.commitBlocks(ctx, desc, bh, bm, bestOff, bestRun)
	return Result{GroupID: gid, Offset: bestOff, Allocated: bestRun}, false, nil
}

// commitBlocks marks count bits starting at offset allocated and then
// updates the descriptor's free count. It does not touch the superblock's
// free count; Checkpoint and Unmount recompute that from the descriptors.
func (a *Allocator) commitBlocks(ctx context.Context, desc *bgroup.Descriptor, bh *cache.BufferHead, bm bgroup.Bitmap, offset, count uint32) {
	for i := uint32(0); i < count; i++ {
		bm.Set(offset + i)
	}
	desc.FreeBlocks -= count
	a.cache.MarkDirty(bh)
}

// FreeBlocks clears count bits starting at offset in group gid and
// restores the descriptor's free count. Freeing an already-free bit is a
// caller bug and reported as Corrupt (spec.md §4.C).
func (a *Allocator) FreeBlocks(ctx context.Context, gid, offset, count uint32) error {
	desc, err := a.groups.Group(gid)
	if err != nil {
		return err
	}
	bh, bm, err := a.loadBitmap(ctx, desc.DataBitmapStart, desc.BlocksTotal)
	if err != nil {
		return err
	}
	defer a.cache.Put(ctx, bh, false)

	for i := uint32(0); i < count; i++ {
		idx := offset + i
		if !bm.Test(idx) {
			return nverr.Corrupt.Withf(nil, "double-free of block %d in group %d", idx, gid)
		}
		bm.Clear(idx)
	}
	desc.FreeBlocks += count
	a.cache.MarkDirty(bh)
	return nil
}

// AllocateInode implements spec.md §4.C "Inode allocation": resume from
// the last group an inode was allocated in, scan for the first clear bit,
// advancing to the next group if exhausted. The returned inode number
// encodes the owning group per the formula in §4.C.
func (a *Allocator) AllocateInode(ctx context.Context) (uint32, error) {
	n := uint32(a.groups.Count())
	if n == 0 {
		return 0, nverr.NoInode.Withf(nil, "no block groups")
	}

	for i := uint32(0); i < n; i++ {
		gid := (a.lastAllocBGByIno + i) % n
		desc, err := a.groups.Group(gid)
		if err != nil {
			return 0, err
		}
		if desc.FreeInodes == 0 {
			continue
		}

		bh, bm, err := a.loadBitmap(ctx, desc.InodeBitmapStart, desc.InodesTotal)
		if err != nil {
			return 0, err
		}
		slot, ok := bm.FirstClear(0)
		if !ok || slot >= desc.InodesTotal {
			a.cache.Put(ctx, bh, false)
			continue
		}

		bm.Set(slot)
		desc.FreeInodes--
		a.cache.Put(ctx, bh, true)
		a.lastAllocBGByIno = gid

		return gid*a.inodesPerGroup + slot, nil
	}
	return 0, nverr.NoInode.Withf(nil, "every block group's inode bitmap is full")
}

// FreeInode clears ino's bit in its owning group's inode bitmap.
func (a *Allocator) FreeInode(ctx context.Context, ino uint32) error {
	gid := ino / a.inodesPerGroup
	slot := ino % a.inodesPerGroup

	desc, err := a.groups.Group(gid)
	if err != nil {
		return err
	}
	bh, bm, err := a.loadBitmap(ctx, desc.InodeBitmapStart, desc.InodesTotal)
	if err != nil {
		return err
	}
	defer a.cache.Put(ctx, bh, true)

	if !bm.Test(slot) {
		return nverr.Corrupt.Withf(nil, "double-free of inode %d", ino)
	}
	bm.Clear(slot)
	desc.FreeInodes++
	return nil
}

// AllocateOneBlock allocates a single data cluster near hintGroup, and
// returns its absolute physical cluster number (the inode layer's
// indirect-addressing code only ever deals in absolute cluster numbers,
// never in (group, offset) pairs).
func (a *Allocator) AllocateOneBlock(ctx context.Context, hintGroup uint32) (uint32, error) {
	res, err := a.AllocateBlocks(ctx, hintGroup, 0, 1)
	if err != nil {
		return 0, err
	}
	desc, err := a.groups.Group(res.GroupID)
	if err != nil {
		return 0, err
	}
	return uint32(desc.DataTableStart) + res.Offset, nil
}

// FreeAbsoluteBlock frees the single data cluster at absolute physical
// address phys, locating its owning group by scanning the group list's
// data-table ranges.
func (a *Allocator) FreeAbsoluteBlock(ctx context.Context, phys uint32) error {
	for _, desc := range a.groups.All() {
		start := uint32(desc.DataTableStart)
		end := start + desc.DataTableClusters
		if phys >= start && phys < end {
			return a.FreeBlocks(ctx, desc.GroupID, phys-start, 1)
		}
	}
	return nverr.Corrupt.Withf(nil, "physical block %d not owned by any block group", phys)
}
