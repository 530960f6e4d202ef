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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nvfuse/nvfuse/cfg"
	"github.com/nvfuse/nvfuse/clock"
	"github.com/nvfuse/nvfuse/internal/bgroup"
	"github.com/nvfuse/nvfuse/internal/block"
	"github.com/nvfuse/nvfuse/internal/dirindex"
	"github.com/nvfuse/nvfuse/internal/inode"
)

func testConfig() *cfg.Config {
	c := &cfg.Config{}
	c.Format.ClusterSizeBytes = 512
	c.Format.BlocksPerGroup = 256
	c.Format.InodesPerGroup = 32
	c.Cache.PoolClusters = 64
	c.Cache.DirtyWatermarkPct = 0.9
	c.Cache.WriteBackRetryLimit = 2
	c.Mount.Tenant = "test-tenant"
	return c
}

func newTestBackend(t *testing.T, clusterSize int, clusters int64) block.Backend {
	t.Helper()
	backend := block.NewMemoryBackend(clusterSize, clusters*int64(clusterSize))
	require.NoError(t, backend.Open(context.Background()))
	t.Cleanup(func() { backend.Close() })
	return backend
}

func TestFormatThenMountSeesRootDirectory(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t, 512, 2048)
	c := testConfig()
	clk := &clock.FakeClock{}

	sb, err := Format(ctx, backend, c, clk)
	require.NoError(t, err)
	require.Equal(t, Magic, sb.Magic)
	require.True(t, sb.Clean)
	require.NotEqual(t, sb.MountID.String(), "00000000-0000-0000-0000-000000000000")

	mnt, err := Mount(ctx, backend, c, clk, nil)
	require.NoError(t, err)
	require.False(t, mnt.sb.Clean)
	require.EqualValues(t, 1, mnt.sb.MountCount)

	rootRec, err := inode.ReadRecord(ctx, mnt.Cache, mnt.ItableStart0, mnt.InodesPerGroup, mnt.ClusterSize, sb.RootIno)
	require.NoError(t, err)
	require.Equal(t, inode.TypeDirectory, rootRec.Type)
	require.NotZero(t, rootRec.BPIno)

	bpRec, err := inode.ReadRecord(ctx, mnt.Cache, mnt.ItableStart0, mnt.InodesPerGroup, mnt.ClusterSize, rootRec.BPIno)
	require.NoError(t, err)
	require.Equal(t, inode.TypeBptree, bpRec.Type)
	require.NotZero(t, bpRec.Blocks[0])

	dir := dirindex.OpenDirectory(mnt.Cache, mnt.Alloc, mnt.Addr, mnt.ClusterSize, 0, sb.RootIno, uint64(bpRec.Blocks[0]))
	ino, ok, err := dir.Lookup(ctx, &rootRec, ".")
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, sb.RootIno, ino)

	ino, ok, err = dir.Lookup(ctx, &rootRec, "..")
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, sb.RootIno, ino)

	require.NoError(t, Unmount(ctx, mnt))
}

func TestUnmountWritesCleanSuperblockAndRemountScansWhenDirty(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t, 512, 2048)
	c := testConfig()
	clk := &clock.FakeClock{}

	_, err := Format(ctx, backend, c, clk)
	require.NoError(t, err)

	mnt, err := Mount(ctx, backend, c, clk, nil)
	require.NoError(t, err)
	require.NoError(t, Unmount(ctx, mnt))

	buf := make([]byte, 512)
	require.NoError(t, backend.ReadClusters(ctx, SuperblockCluster, buf))
	sb := Decode(buf)
	require.True(t, sb.Clean)

	mnt2, err := Mount(ctx, backend, c, clk, nil)
	require.NoError(t, err)
	require.EqualValues(t, 2, mnt2.sb.MountCount)

	stat := mnt2.Statvfs(ctx)
	require.Equal(t, uint32(512), stat.ClusterSizeBytes)
	require.Equal(t, "test-tenant", stat.Tenant)

	// mnt2 is never unmounted, so the superblock on disk still says the
	// filesystem is not clean. Skew group 0's descriptor so that only the
	// next mount's consistency scan can restore its free-block count.
	require.NoError(t, backend.ReadClusters(ctx, SuperblockCluster, buf))
	require.False(t, Decode(buf).Clean)

	dbuf := make([]byte, 512)
	descCluster := descriptorCluster(0, mnt2.sb)
	require.NoError(t, backend.ReadClusters(ctx, descCluster, dbuf))
	desc := bgroup.DecodeDescriptor(dbuf)
	wantFree := desc.FreeBlocks
	require.Less(t, wantFree, desc.BlocksTotal)
	desc.FreeBlocks = 0
	desc.Encode(dbuf)
	require.NoError(t, backend.WriteClusters(ctx, descCluster, dbuf))

	mnt3, err := Mount(ctx, backend, c, clk, nil)
	require.NoError(t, err)
	group0, err := mnt3.Groups.Group(0)
	require.NoError(t, err)
	require.Equal(t, wantFree, group0.FreeBlocks)
}

func TestFormatRejectsUndersizedDevice(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t, 512, 2)
	c := testConfig()
	clk := &clock.FakeClock{}

	_, err := Format(ctx, backend, c, clk)
	require.Error(t, err)
}
