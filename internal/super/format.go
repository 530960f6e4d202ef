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

package super

import (
	"context"

	"github.com/google/uuid"

	"github.com/nvfuse/nvfuse/cfg"
	"github.com/nvfuse/nvfuse/clock"
	"github.com/nvfuse/nvfuse/internal/alloc"
	"github.com/nvfuse/nvfuse/internal/bgroup"
	"github.com/nvfuse/nvfuse/internal/block"
	"github.com/nvfuse/nvfuse/internal/cache"
	"github.com/nvfuse/nvfuse/internal/dirindex"
	"github.com/nvfuse/nvfuse/internal/inode"
	"github.com/nvfuse/nvfuse/internal/nverr"
)

// Format implements spec.md §4.H "Format": zero the device header region,
// compute the number of block groups the device can hold, initialize each
// group's descriptor and bitmaps, write the root inode and its companion
// directory B+tree inode with `.` and `..`, and write the superblock.
func Format(ctx context.Context, backend block.Backend, c *cfg.Config, clk clock.Clock) (Superblock, error) {
	clusterSize := c.Format.ClusterSizeBytes
	blocksPerGroup := c.Format.BlocksPerGroup
	inodesPerGroup := c.Format.InodesPerGroup

	total := backend.TotalClusters()
	stride := groupStride(inodesPerGroup, blocksPerGroup, clusterSize)
	if total <= 1 || stride == 0 {
		return Superblock{}, nverr.NoSpace.Withf(nil, "device too small to format")
	}
	groupCount := uint32((total - 1) / uint64(stride))
	if groupCount == 0 {
		return Superblock{}, nverr.NoSpace.Withf(nil, "device holds no complete block group")
	}

	descriptors, err := writeGroups(ctx, backend, groupCount, inodesPerGroup, blocksPerGroup, clusterSize)
	if err != nil {
		return Superblock{}, err
	}

	groups := bgroup.NewManager(descriptors)
	c2 := cache.New(backend, cache.Options{
		PoolClusters:        c.Cache.PoolClusters,
		ClusterSize:         clusterSize,
		DirtyWatermarkPct:   c.Cache.DirtyWatermarkPct,
		WriteBackRetryLimit: c.Cache.WriteBackRetryLimit,
	})
	a := alloc.New(groups, c2, inodesPerGroup, blocksPerGroup)
	addr := inode.NewAddresser(c2, a, clusterSize)

	if err := writeRoot(ctx, c2, a, addr, descriptors[0], inodesPerGroup, clusterSize, clk); err != nil {
		return Superblock{}, err
	}

	if err := c2.FlushAll(ctx); err != nil {
		return Superblock{}, err
	}
	// writeGroups wrote each descriptor before writeRoot allocated from
	// group 0; write them again so their free counts match the bitmaps.
	for gid := 0; gid < groups.Count(); gid++ {
		desc, err := groups.Group(uint32(gid))
		if err != nil {
			return Superblock{}, err
		}
		dbuf := make([]byte, clusterSize)
		desc.Encode(dbuf)
		if err := backend.WriteClusters(ctx, 1+uint64(gid)*uint64(stride), dbuf); err != nil {
			return Superblock{}, nverr.IoError.Withf(err, "write descriptor for group %d", gid)
		}
	}
	if err := backend.Flush(ctx); err != nil {
		return Superblock{}, err
	}

	sb := Superblock{
		Magic:            Magic,
		ClusterSizeBytes: uint32(clusterSize),
		TotalClusters:    total,
		BlocksPerGroup:   blocksPerGroup,
		InodesPerGroup:   inodesPerGroup,
		RootIno:          alloc.RootIno,
		GroupCount:       groupCount,
		FreeBlocks:       groups.TotalFreeBlocks(),
		FreeInodes:       groups.TotalFreeInodes(),
		MountCount:       0,
		Clean:            true,
		MountID:          uuid.New(),
		Tenant:           c.Mount.Tenant,
	}
	if err := writeSuperblock(ctx, backend, sb); err != nil {
		return Superblock{}, err
	}
	if err := backend.Flush(ctx); err != nil {
		return Superblock{}, err
	}
	return sb, nil
}

// writeGroups initializes every block group's descriptor, inode bitmap,
// data bitmap, and (zeroed) inode table directly against the backend, ahead
// of any cache or allocator existing to front it.
func writeGroups(ctx context.Context, backend block.Backend, groupCount, inodesPerGroup, blocksPerGroup uint32, clusterSize int) ([]*bgroup.Descriptor, error) {
	itClusters := itableClusters(inodesPerGroup, clusterSize)
	descriptors := make([]*bgroup.Descriptor, groupCount)

	zero := make([]byte, clusterSize)
	zeroTable := make([]byte, int(itClusters)*clusterSize)

	for gid := uint32(0); gid < groupCount; gid++ {
		base := 1 + uint64(gid)*uint64(groupOverheadClusters(inodesPerGroup, clusterSize)+blocksPerGroup)
		descStart := base
		inodeBitmapStart := base + 1
		dataBitmapStart := base + 2
		inodeTableStart := base + 3
		dataTableStart := inodeTableStart + uint64(itClusters)

		desc := &bgroup.Descriptor{
			Magic:              bgroup.DescriptorMagic,
			GroupID:            gid,
			InodeBitmapStart:   inodeBitmapStart,
			DataBitmapStart:    dataBitmapStart,
			InodeTableStart:    inodeTableStart,
			DataTableStart:     dataTableStart,
			InodeTableClusters: itClusters,
			DataTableClusters:  blocksPerGroup,
			InodesTotal:        inodesPerGroup,
			BlocksTotal:        blocksPerGroup,
			FreeInodes:         inodesPerGroup,
			FreeBlocks:         blocksPerGroup,
		}

		inodeBitmap := make([]byte, clusterSize)
		if gid == 0 {
			// Reserved inode numbers 0-7 (spec.md §4.C): 0 and 1 unused, 2-7
			// pre-allocated to root/bd/itable/bitmap roles. Marking them used
			// up front keeps the allocator's first-clear-bit scan from ever
			// handing one out.
			bm := bgroup.Bitmap(inodeBitmap)
			for i := uint32(0); i < alloc.NumReservedInodes; i++ {
				bm.Set(i)
			}
			desc.FreeInodes = inodesPerGroup - alloc.NumReservedInodes
		}
		if err := backend.WriteClusters(ctx, inodeBitmapStart, inodeBitmap); err != nil {
			return nil, nverr.IoError.Withf(err, "write inode bitmap for group %d", gid)
		}
		if err := backend.WriteClusters(ctx, dataBitmapStart, zero); err != nil {
			return nil, nverr.IoError.Withf(err, "write data bitmap for group %d", gid)
		}
		if err := backend.WriteClusters(ctx, inodeTableStart, zeroTable); err != nil {
			return nil, nverr.IoError.Withf(err, "write inode table for group %d", gid)
		}

		descBuf := make([]byte, clusterSize)
		desc.Encode(descBuf)
		if err := backend.WriteClusters(ctx, descStart, descBuf); err != nil {
			return nil, nverr.IoError.Withf(err, "write descriptor for group %d", gid)
		}

		descriptors[gid] = desc
	}
	return descriptors, nil
}

// writeRoot creates the root directory inode and its companion B+tree
// inode, with `.` and `..` both resolving to the root, using the same
// internal/dirindex path an ordinary mkdir would (spec.md §4.H, §4.F).
func writeRoot(ctx context.Context, c *cache.Cache, a *alloc.Allocator, addr *inode.Addresser, group0 *bgroup.Descriptor, inodesPerGroup uint32, clusterSize int, clk clock.Clock) error {
	now := uint32(clk.Now().Unix())

	bpIno, err := a.AllocateInode(ctx)
	if err != nil {
		return err
	}

	root := inode.OnDisk{
		Ino:        alloc.RootIno,
		Type:       inode.TypeDirectory,
		LinksCount: 2,
		Mode:       0755,
		BPIno:      bpIno,
		ATime:      now,
		CTime:      now,
		MTime:      now,
	}

	dir := dirindex.OpenDirectory(c, a, addr, clusterSize, 0, alloc.RootIno, 0)
	if err := dir.Create(ctx, &root, ".", alloc.RootIno); err != nil {
		return err
	}
	if err := dir.Create(ctx, &root, "..", alloc.RootIno); err != nil {
		return err
	}

	bp := inode.OnDisk{
		Ino:        bpIno,
		Type:       inode.TypeBptree,
		LinksCount: 1,
		ATime:      now,
		CTime:      now,
		MTime:      now,
	}
	bp.Blocks[0] = uint32(dir.Root())

	if err := inode.WriteRecord(ctx, c, group0.InodeTableStart, inodesPerGroup, clusterSize, root); err != nil {
		return err
	}
	return inode.WriteRecord(ctx, c, group0.InodeTableStart, inodesPerGroup, clusterSize, bp)
}

func writeSuperblock(ctx context.Context, backend block.Backend, sb Superblock) error {
	buf := make([]byte, int(sb.ClusterSizeBytes))
	sb.Encode(buf)
	return backend.WriteClusters(ctx, SuperblockCluster, buf)
}
