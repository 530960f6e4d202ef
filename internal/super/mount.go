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
	"sync"

	"github.com/nvfuse/nvfuse/cfg"
	"github.com/nvfuse/nvfuse/clock"
	"github.com/nvfuse/nvfuse/internal/alloc"
	"github.com/nvfuse/nvfuse/internal/bgroup"
	"github.com/nvfuse/nvfuse/internal/block"
	"github.com/nvfuse/nvfuse/internal/cache"
	"github.com/nvfuse/nvfuse/internal/inode"
	"github.com/nvfuse/nvfuse/internal/nverr"
	"github.com/nvfuse/nvfuse/logger"
	"github.com/nvfuse/nvfuse/metrics"
)

// Mount is a live, mounted filesystem instance: the decoded superblock plus
// the full lower-layer stack it fronts. It is the nvfuse analogue of the
// teacher repository's fs.FileSystem — the object every namespace
// operation is a method (or uses a handle) of.
type Mount struct {
	Backend block.Backend
	Cache   *cache.Cache
	Groups  *bgroup.Manager
	Alloc   *alloc.Allocator
	Addr    *inode.Addresser
	Clock   clock.Clock
	Metrics metrics.Handle

	ClusterSize    int
	InodesPerGroup uint32
	BlocksPerGroup uint32
	ItableStart0   uint64 // group 0's inode table start, for root/bpino record access

	mu      sync.Mutex
	sb      Superblock
	errored bool
}

// Mount implements spec.md §4.H "Mount": read and validate the superblock
// and every block group descriptor, run a consistency scan if the prior
// unmount was not clean, then mark the superblock dirty for the duration
// of this mount.
func Mount(ctx context.Context, backend block.Backend, c *cfg.Config, clk clock.Clock, m metrics.Handle) (*Mount, error) {
	clusterSize := backend.ClusterSize()

	buf := make([]byte, clusterSize)
	if err := backend.ReadClusters(ctx, SuperblockCluster, buf); err != nil {
		return nil, nverr.IoError.Withf(err, "read superblock")
	}
	sb := Decode(buf)
	if sb.Magic != Magic {
		return nil, nverr.Corrupt.Withf(nil, "superblock magic mismatch: got %#x want %#x", sb.Magic, Magic)
	}

	descriptors := make([]*bgroup.Descriptor, sb.GroupCount)
	for gid := uint32(0); gid < sb.GroupCount; gid++ {
		dbuf := make([]byte, int(sb.ClusterSizeBytes))
		cluster := descriptorCluster(gid, sb)
		if err := backend.ReadClusters(ctx, cluster, dbuf); err != nil {
			return nil, nverr.IoError.Withf(err, "read descriptor for group %d", gid)
		}
		desc := bgroup.DecodeDescriptor(dbuf)
		if desc.Magic != bgroup.DescriptorMagic {
			return nil, nverr.Corrupt.Withf(nil, "group %d descriptor magic mismatch", gid)
		}
		descriptors[gid] = &desc
	}

	groups := bgroup.NewManager(descriptors)
	var cacheMetrics metrics.CacheHandle
	if m != nil {
		cacheMetrics = m
	}
	ca := cache.New(backend, cache.Options{
		PoolClusters:        c.Cache.PoolClusters,
		ClusterSize:         clusterSize,
		DirtyWatermarkPct:   c.Cache.DirtyWatermarkPct,
		WriteBackRetryLimit: c.Cache.WriteBackRetryLimit,
		Metrics:             cacheMetrics,
	})
	a := alloc.New(groups, ca, sb.InodesPerGroup, sb.BlocksPerGroup)
	addr := inode.NewAddresser(ca, a, clusterSize)

	mnt := &Mount{
		Backend:        backend,
		Cache:          ca,
		Groups:         groups,
		Alloc:          a,
		Addr:           addr,
		Clock:          clk,
		Metrics:        m,
		ClusterSize:    clusterSize,
		InodesPerGroup: sb.InodesPerGroup,
		BlocksPerGroup: sb.BlocksPerGroup,
		ItableStart0:   descriptors[0].InodeTableStart,
		sb:             sb,
	}

	if !sb.Clean {
		logger.Warnf("mount: prior unmount was not clean, running consistency scan")
		if err := mnt.consistencyScan(ctx); err != nil {
			return nil, err
		}
	}

	mnt.sb.MountCount++
	mnt.sb.Clean = false
	if err := mnt.writeSuperblockLocked(ctx); err != nil {
		return nil, err
	}
	if err := backend.Flush(ctx); err != nil {
		return nil, nverr.IoError.Withf(err, "flush after mount")
	}
	return mnt, nil
}

// consistencyScan recomputes each group's free inode/block counters
// directly from its bitmaps, which spec.md §4.H treats as authoritative
// over the descriptor's cached counts, and warns on any mismatch.
func (m *Mount) consistencyScan(ctx context.Context) error {
	_, err := m.scanGroups(ctx, true)
	return err
}

// GroupMismatch records one block group's descriptor/bitmap disagreement,
// the unit of work fsck reports and (optionally) corrects.
type GroupMismatch struct {
	GroupID          uint32
	DescriptorInodes uint32
	BitmapInodes     uint32
	DescriptorBlocks uint32
	BitmapBlocks     uint32
}

// FsckReport is the result of a full consistency pass over every block
// group's bitmaps against its descriptor, for the `fsck` CLI surface
// (spec.md §8's invariants made checkable outside of a live mount).
type FsckReport struct {
	Mismatches []GroupMismatch
}

// Clean reports whether the scan found no descriptor/bitmap disagreement.
func (r FsckReport) Clean() bool { return len(r.Mismatches) == 0 }

// scanGroups walks every group's bitmaps, optionally correcting the
// descriptor's cached free counts in place, and returns every mismatch
// found.
func (m *Mount) scanGroups(ctx context.Context, correct bool) ([]GroupMismatch, error) {
	var mismatches []GroupMismatch
	for gid := 0; gid < m.Groups.Count(); gid++ {
		desc, err := m.Groups.Group(uint32(gid))
		if err != nil {
			return nil, err
		}

		ibuf := make([]byte, m.ClusterSize)
		if err := m.Backend.ReadClusters(ctx, desc.InodeBitmapStart, ibuf); err != nil {
			return nil, nverr.IoError.Withf(err, "scan: read inode bitmap group %d", gid)
		}
		ibm := bgroup.Bitmap(ibuf)
		var freeInodes uint32
		for i := uint32(0); i < desc.InodesTotal && i < uint32(len(ibuf)*8); i++ {
			if !ibm.Test(i) {
				freeInodes++
			}
		}

		dbuf := make([]byte, m.ClusterSize)
		if err := m.Backend.ReadClusters(ctx, desc.DataBitmapStart, dbuf); err != nil {
			return nil, nverr.IoError.Withf(err, "scan: read data bitmap group %d", gid)
		}
		dbm := bgroup.Bitmap(dbuf)
		var freeBlocks uint32
		for i := uint32(0); i < desc.BlocksTotal && i < uint32(len(dbuf)*8); i++ {
			if !dbm.Test(i) {
				freeBlocks++
			}
		}

		if freeInodes != desc.FreeInodes || freeBlocks != desc.FreeBlocks {
			mismatches = append(mismatches, GroupMismatch{
				GroupID:          uint32(gid),
				DescriptorInodes: desc.FreeInodes,
				BitmapInodes:     freeInodes,
				DescriptorBlocks: desc.FreeBlocks,
				BitmapBlocks:     freeBlocks,
			})
			if correct {
				logger.Warnf("mount: group %d free count mismatch: descriptor inodes=%d blocks=%d bitmap inodes=%d blocks=%d, correcting",
					gid, desc.FreeInodes, desc.FreeBlocks, freeInodes, freeBlocks)
				desc.FreeInodes = freeInodes
				desc.FreeBlocks = freeBlocks
			}
		}
	}
	if correct {
		m.sb.FreeInodes = m.Groups.TotalFreeInodes()
		m.sb.FreeBlocks = m.Groups.TotalFreeBlocks()
	}
	return mismatches, nil
}

// Fsck runs a read-only consistency scan over an already-mounted
// filesystem and reports every group whose descriptor free counts disagree
// with its bitmaps, without correcting them (the `nvfused fsck` subcommand
// mounts, calls Fsck, then unmounts without ever marking the superblock
// dirty from the check itself).
func (m *Mount) Fsck(ctx context.Context) (FsckReport, error) {
	mismatches, err := m.scanGroups(ctx, false)
	if err != nil {
		return FsckReport{}, err
	}
	return FsckReport{Mismatches: mismatches}, nil
}

func (m *Mount) writeSuperblockLocked(ctx context.Context) error {
	return writeSuperblock(ctx, m.Backend, m.sb)
}

// RootIno reports the root directory's inode number, so internal/nvfs can
// seed path resolution without reaching into the superblock itself.
func (m *Mount) RootIno() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sb.RootIno
}

// Unmount implements spec.md §4.H "Unmount": flush every dirty buffer and
// every group descriptor, write the superblock with Clean set, then flush
// the backend so the clean mark survives a crash.
func Unmount(ctx context.Context, m *Mount) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.Cache.FlushAll(ctx); err != nil {
		return err
	}
	for gid := 0; gid < m.Groups.Count(); gid++ {
		desc, err := m.Groups.Group(uint32(gid))
		if err != nil {
			return err
		}
		dbuf := make([]byte, m.ClusterSize)
		desc.Encode(dbuf)
		cluster := descriptorCluster(uint32(gid), m.sb)
		if err := m.Backend.WriteClusters(ctx, cluster, dbuf); err != nil {
			return nverr.IoError.Withf(err, "unmount: write descriptor for group %d", gid)
		}
	}

	m.sb.FreeInodes = m.Groups.TotalFreeInodes()
	m.sb.FreeBlocks = m.Groups.TotalFreeBlocks()
	m.sb.Clean = true
	if err := m.writeSuperblockLocked(ctx); err != nil {
		return err
	}
	return m.Backend.Flush(ctx)
}
