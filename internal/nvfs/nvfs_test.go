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

package nvfs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nvfuse/nvfuse/cfg"
	"github.com/nvfuse/nvfuse/clock"
	"github.com/nvfuse/nvfuse/internal/block"
	"github.com/nvfuse/nvfuse/internal/inode"
	"github.com/nvfuse/nvfuse/internal/nverr"
	"github.com/nvfuse/nvfuse/internal/super"
)

func testConfig() *cfg.Config {
	c := &cfg.Config{}
	c.Format.ClusterSizeBytes = 512
	c.Format.BlocksPerGroup = 256
	c.Format.InodesPerGroup = 32
	c.Cache.PoolClusters = 128
	c.Cache.DirtyWatermarkPct = 0.9
	c.Cache.WriteBackRetryLimit = 2
	c.Mount.Tenant = "test-tenant"
	c.Namespace = cfg.GetDefaultNamespaceConfig()
	return c
}

func mustMount(t *testing.T) (context.Context, *super.Mount, *Namespace) {
	t.Helper()
	ctx := context.Background()
	backend := block.NewMemoryBackend(512, 4096*512)
	require.NoError(t, backend.Open(ctx))
	t.Cleanup(func() { backend.Close() })

	c := testConfig()
	clk := &clock.FakeClock{}
	_, err := super.Format(ctx, backend, c, clk)
	require.NoError(t, err)

	mnt, err := super.Mount(ctx, backend, c, clk, nil)
	require.NoError(t, err)
	t.Cleanup(func() { super.Unmount(ctx, mnt) })

	ns := New(mnt, c.Namespace)
	return ctx, mnt, ns
}

func TestMkdirCreateWriteReadRoundTrip(t *testing.T) {
	ctx, _, ns := mustMount(t)

	require.NoError(t, ns.Mkdir(ctx, "/dir", 0755))
	attr, err := ns.Getattr(ctx, "/dir")
	require.NoError(t, err)
	require.Equal(t, inode.TypeDirectory, attr.Type)
	require.EqualValues(t, 2, attr.LinksCount)

	_, err = ns.CreateFile(ctx, "/dir/file.txt", 0644)
	require.NoError(t, err)

	handle, err := ns.OpenfilePath(ctx, "/dir/file.txt", OpenReadWrite)
	require.NoError(t, err)

	payload := []byte("hello nvfuse")
	n, err := ns.Writefile(ctx, handle, payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	_, err = ns.Lseek(ctx, handle, 0, SeekSet)
	require.NoError(t, err)

	buf := make([]byte, len(payload))
	n, err = ns.Readfile(ctx, handle, buf)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.Equal(t, payload, buf)

	require.NoError(t, ns.Closefile(ctx, handle))

	attr, err = ns.Getattr(ctx, "/dir/file.txt")
	require.NoError(t, err)
	require.EqualValues(t, len(payload), attr.Size)
}

func TestMkdirRmdirIsIdempotentOnFreeCounters(t *testing.T) {
	ctx, mnt, ns := mustMount(t)

	before := mnt.Statvfs(ctx).FreeBlocks
	beforeInodes := mnt.Statvfs(ctx).FreeInodes

	require.NoError(t, ns.Mkdir(ctx, "/dir", 0755))
	require.NoError(t, ns.Rmdir(ctx, "/dir"))

	after := mnt.Statvfs(ctx)
	require.Equal(t, before, after.FreeBlocks)
	require.Equal(t, beforeInodes, after.FreeInodes)
}

func TestRmdirRejectsNonEmptyDirectory(t *testing.T) {
	ctx, _, ns := mustMount(t)

	require.NoError(t, ns.Mkdir(ctx, "/dir", 0755))
	_, err := ns.CreateFile(ctx, "/dir/file.txt", 0644)
	require.NoError(t, err)

	err = ns.Rmdir(ctx, "/dir")
	require.True(t, errors.Is(err, nverr.NotEmpty))
}

func TestOpendirReaddirListsDotEntries(t *testing.T) {
	ctx, _, ns := mustMount(t)

	require.NoError(t, ns.Mkdir(ctx, "/dir", 0755))
	handle, err := ns.Opendir(ctx, "/dir")
	require.NoError(t, err)

	names := map[string]bool{}
	for {
		e, ok, err := ns.Readdir(ctx, handle)
		require.NoError(t, err)
		if !ok {
			break
		}
		names[e.Name] = true
	}
	require.True(t, names["."])
	require.True(t, names[".."])
	require.NoError(t, ns.Closedir(ctx, handle))
}

func TestUnlinkRemovesFileAfterLastLink(t *testing.T) {
	ctx, _, ns := mustMount(t)

	_, err := ns.CreateFile(ctx, "/a.txt", 0644)
	require.NoError(t, err)
	require.NoError(t, ns.HardlinkPath(ctx, "/a.txt", "/b.txt"))

	attr, err := ns.Getattr(ctx, "/a.txt")
	require.NoError(t, err)
	require.EqualValues(t, 2, attr.LinksCount)

	require.NoError(t, ns.Unlink(ctx, "/a.txt"))
	_, err = ns.Getattr(ctx, "/b.txt")
	require.NoError(t, err)

	require.NoError(t, ns.Unlink(ctx, "/b.txt"))
	_, err = ns.Getattr(ctx, "/b.txt")
	require.True(t, errors.Is(err, nverr.NotFound))
}

func TestSymlinkReadlinkAndFollow(t *testing.T) {
	ctx, _, ns := mustMount(t)

	_, err := ns.CreateFile(ctx, "/target.txt", 0644)
	require.NoError(t, err)
	require.NoError(t, ns.SymlinkPath(ctx, "/target.txt", "/link.txt"))

	target, err := ns.Readlink(ctx, "/link.txt")
	require.NoError(t, err)
	require.Equal(t, "/target.txt", target)

	attr, err := ns.Getattr(ctx, "/link.txt")
	require.NoError(t, err)
	require.Equal(t, inode.TypeRegular, attr.Type)

	noFollowIno, err := ns.ResolveNoFollow(ctx, "/link.txt")
	require.NoError(t, err)
	followIno, err := ns.Resolve(ctx, "/link.txt")
	require.NoError(t, err)
	require.NotEqual(t, noFollowIno, followIno)
}

func TestRenameSameParentAndCrossParent(t *testing.T) {
	ctx, _, ns := mustMount(t)

	_, err := ns.CreateFile(ctx, "/a.txt", 0644)
	require.NoError(t, err)
	require.NoError(t, ns.RenamePath(ctx, "/a.txt", "/b.txt"))
	_, err = ns.Getattr(ctx, "/a.txt")
	require.True(t, errors.Is(err, nverr.NotFound))
	_, err = ns.Getattr(ctx, "/b.txt")
	require.NoError(t, err)

	require.NoError(t, ns.Mkdir(ctx, "/src", 0755))
	require.NoError(t, ns.Mkdir(ctx, "/dst", 0755))
	require.NoError(t, ns.RenamePath(ctx, "/b.txt", "/src/b.txt"))
	require.NoError(t, ns.RenamePath(ctx, "/src/b.txt", "/dst/b.txt"))
	_, err = ns.Getattr(ctx, "/dst/b.txt")
	require.NoError(t, err)

	require.NoError(t, ns.Mkdir(ctx, "/src/child", 0755))
	require.NoError(t, ns.RenamePath(ctx, "/src/child", "/dst/child"))
	ino, err := ns.Resolve(ctx, "/dst/child")
	require.NoError(t, err)
	parentIno, err := ns.lookupChild(ctx, ino, "..")
	require.NoError(t, err)
	dstIno, err := ns.Resolve(ctx, "/dst")
	require.NoError(t, err)
	require.Equal(t, dstIno, parentIno)
}

func TestOpenCreateFlagCreatesMissingFile(t *testing.T) {
	ctx, _, ns := mustMount(t)

	handle, err := ns.OpenfilePath(ctx, "/new.txt", OpenCreate)
	require.NoError(t, err)
	require.NoError(t, ns.Closefile(ctx, handle))

	attr, err := ns.Getattr(ctx, "/new.txt")
	require.NoError(t, err)
	require.Equal(t, inode.TypeRegular, attr.Type)
}

func TestFtruncateShrinksAndGrows(t *testing.T) {
	ctx, _, ns := mustMount(t)

	handle, err := ns.OpenfilePath(ctx, "/f.txt", OpenCreate)
	require.NoError(t, err)
	_, err = ns.Writefile(ctx, handle, []byte("0123456789"))
	require.NoError(t, err)

	require.NoError(t, ns.Ftruncate(ctx, handle, 4))
	attr, err := ns.Getattr(ctx, "/f.txt")
	require.NoError(t, err)
	require.EqualValues(t, 4, attr.Size)

	require.NoError(t, ns.Ftruncate(ctx, handle, 100))
	attr, err = ns.Getattr(ctx, "/f.txt")
	require.NoError(t, err)
	require.EqualValues(t, 100, attr.Size)

	require.NoError(t, ns.Closefile(ctx, handle))
}

func TestDirectoryHandleRejectedByFileOps(t *testing.T) {
	ctx, _, ns := mustMount(t)

	require.NoError(t, ns.Mkdir(ctx, "/dir", 0755))
	handle, err := ns.Opendir(ctx, "/dir")
	require.NoError(t, err)

	_, err = ns.Readfile(ctx, handle, make([]byte, 1))
	require.True(t, errors.Is(err, nverr.Invalid))

	err = ns.Closefile(ctx, handle)
	require.True(t, errors.Is(err, nverr.Invalid))

	require.NoError(t, ns.Closedir(ctx, handle))
}

func TestFileHandleRejectedByReaddir(t *testing.T) {
	ctx, _, ns := mustMount(t)

	handle, err := ns.OpenfilePath(ctx, "/f.txt", OpenCreate)
	require.NoError(t, err)

	_, _, err = ns.Readdir(ctx, handle)
	require.True(t, errors.Is(err, nverr.Invalid))

	require.NoError(t, ns.Closefile(ctx, handle))
}

func TestChmodAndAccess(t *testing.T) {
	ctx, _, ns := mustMount(t)

	_, err := ns.CreateFile(ctx, "/f.txt", 0600)
	require.NoError(t, err)
	require.NoError(t, ns.Access(ctx, "/f.txt", AccessRead|AccessWrite))

	require.NoError(t, ns.Chmod(ctx, "/f.txt", 0400))
	require.NoError(t, ns.Access(ctx, "/f.txt", AccessRead))
	err = ns.Access(ctx, "/f.txt", AccessWrite)
	require.True(t, errors.Is(err, nverr.Invalid))
}
