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
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dirTestClusterSize is large enough to hold several DirEntrySize (128)
// slots per cluster, unlike the 128-byte testClusterSize used to exercise
// indirect addressing.
const dirTestClusterSize = 512

func newDirTestAddresser(t *testing.T, blocksTotal uint32) *Addresser {
	t.Helper()
	addr, _, _ := newTestAddresserSized(t, blocksTotal, dirTestClusterSize)
	return addr
}

func TestCreateLookupDeleteEntry(t *testing.T) {
	addr := newDirTestAddresser(t, 50)
	ctx := context.Background()
	const dirIno = 10
	var dir OnDisk
	dir.Type = TypeDirectory

	require.NoError(t, addr.CreateEntry(ctx, dirIno, &dir, 0, "alpha", 100))
	require.NoError(t, addr.CreateEntry(ctx, dirIno, &dir, 0, "beta", 101))

	ino, ok, err := addr.LookupEntry(ctx, dirIno, &dir, "alpha")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(100), ino)

	ino, ok, err = addr.LookupEntry(ctx, dirIno, &dir, "beta")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(101), ino)

	_, ok, err = addr.LookupEntry(ctx, dirIno, &dir, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	deleted, err := addr.DeleteEntry(ctx, dirIno, &dir, "alpha")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, ok, err = addr.LookupEntry(ctx, dirIno, &dir, "alpha")
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting an absent name is a no-op, not an error.
	deleted, err = addr.DeleteEntry(ctx, dirIno, &dir, "alpha")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestCreateEntryRejectsDuplicateName(t *testing.T) {
	addr := newDirTestAddresser(t, 50)
	ctx := context.Background()
	const dirIno = 11
	var dir OnDisk

	require.NoError(t, addr.CreateEntry(ctx, dirIno, &dir, 0, "dup", 1))
	err := addr.CreateEntry(ctx, dirIno, &dir, 0, "dup", 2)
	assert.Error(t, err)
}

func TestCreateEntryReusesDeletedSlot(t *testing.T) {
	addr := newDirTestAddresser(t, 50)
	ctx := context.Background()
	const dirIno = 12
	var dir OnDisk

	require.NoError(t, addr.CreateEntry(ctx, dirIno, &dir, 0, "first", 1))
	_, err := addr.DeleteEntry(ctx, dirIno, &dir, "first")
	require.NoError(t, err)
	sizeBefore := dir.Size

	require.NoError(t, addr.CreateEntry(ctx, dirIno, &dir, 0, "second", 2))
	assert.Equal(t, sizeBefore, dir.Size, "reusing a deleted slot must not grow the directory")

	ino, ok, err := addr.LookupEntry(ctx, dirIno, &dir, "second")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(2), ino)
}

func TestCreateEntryGrowsDirectoryWhenFull(t *testing.T) {
	addr := newDirTestAddresser(t, 50)
	ctx := context.Background()
	const dirIno = 13
	var dir OnDisk

	perCluster := EntriesPerCluster(dirTestClusterSize)
	for i := 0; i < perCluster; i++ {
		require.NoError(t, addr.CreateEntry(ctx, dirIno, &dir, 0, fmt.Sprintf("name-%d", i), uint32(i+1)))
	}
	assert.Equal(t, int64(dirTestClusterSize), dir.Size)

	require.NoError(t, addr.CreateEntry(ctx, dirIno, &dir, 0, "overflow", 999))
	assert.Equal(t, int64(dirTestClusterSize)*2, dir.Size)

	entries, err := addr.ListEntries(ctx, dirIno, &dir)
	require.NoError(t, err)
	assert.Len(t, entries, perCluster+1)
}
