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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPhysicalOnSparseInodeReturnsZero(t *testing.T) {
	addr, _, _ := newTestAddresser(t, 100)
	ctx := context.Background()
	var in OnDisk

	for _, l := range []uint32{0, 5, 10, 11, 40} {
		phys, err := addr.GetPhysical(ctx, &in, l)
		require.NoError(t, err)
		assert.Zero(t, phys)
	}
}

func TestEnsureMappedDirectBlocksAreDistinctAndStable(t *testing.T) {
	addr, _, _ := newTestAddresser(t, 100)
	ctx := context.Background()
	var in OnDisk

	seen := map[uint32]bool{}
	for l := uint32(0); l < DirectBlocks; l++ {
		phys, err := addr.EnsureMapped(ctx, &in, l, 0)
		require.NoError(t, err)
		assert.NotZero(t, phys)
		assert.False(t, seen[phys], "physical cluster %d reused for logical block %d", phys, l)
		seen[phys] = true
	}

	for l := uint32(0); l < DirectBlocks; l++ {
		phys, err := addr.GetPhysical(ctx, &in, l)
		require.NoError(t, err)
		assert.NotZero(t, phys)
	}
}

func TestEnsureMappedCrossesIntoSingleIndirect(t *testing.T) {
	addr, _, _ := newTestAddresser(t, 100)
	ctx := context.Background()
	var in OnDisk

	// Fill every direct slot, then one more: logical block 11 must cross
	// into the single-indirect root.
	for l := uint32(0); l < DirectBlocks; l++ {
		_, err := addr.EnsureMapped(ctx, &in, l, 0)
		require.NoError(t, err)
	}
	assert.Zero(t, in.Blocks[SingleIndirectIx])

	phys, err := addr.EnsureMapped(ctx, &in, DirectBlocks, 0)
	require.NoError(t, err)
	assert.NotZero(t, phys)
	assert.NotZero(t, in.Blocks[SingleIndirectIx], "single-indirect root should now be allocated")

	got, err := addr.GetPhysical(ctx, &in, DirectBlocks)
	require.NoError(t, err)
	assert.Equal(t, phys, got)
}

func TestUnmapFreesDirectBlockAndZerosSlot(t *testing.T) {
	addr, allocator, _ := newTestAddresser(t, 100)
	ctx := context.Background()
	var in OnDisk

	_, err := addr.EnsureMapped(ctx, &in, 0, 0)
	require.NoError(t, err)
	require.NotZero(t, in.Blocks[0])

	require.NoError(t, addr.Unmap(ctx, &in, 0))
	assert.Zero(t, in.Blocks[0])

	phys, err := addr.GetPhysical(ctx, &in, 0)
	require.NoError(t, err)
	assert.Zero(t, phys)

	// The freed cluster must be usable again.
	reused, err := addr.EnsureMapped(ctx, &in, 0, 0)
	require.NoError(t, err)
	assert.NotZero(t, reused)
	_ = allocator
}

func TestUnmapCollapsesEmptySingleIndirect(t *testing.T) {
	addr, _, _ := newTestAddresser(t, 100)
	ctx := context.Background()
	var in OnDisk

	_, err := addr.EnsureMapped(ctx, &in, DirectBlocks, 0)
	require.NoError(t, err)
	require.NotZero(t, in.Blocks[SingleIndirectIx])

	require.NoError(t, addr.Unmap(ctx, &in, DirectBlocks))
	assert.Zero(t, in.Blocks[SingleIndirectIx], "the now-empty indirect root should be freed and cleared")
}

func TestTruncateShrinksAndFreesTrailingBlocks(t *testing.T) {
	addr, _, _ := newTestAddresser(t, 100)
	ctx := context.Background()
	var in OnDisk

	for l := uint32(0); l < DirectBlocks+5; l++ {
		_, err := addr.EnsureMapped(ctx, &in, l, 0)
		require.NoError(t, err)
	}
	in.Size = int64(DirectBlocks+5) * testClusterSize
	require.NotZero(t, in.Blocks[SingleIndirectIx])

	require.NoError(t, addr.Truncate(ctx, &in, testClusterSize*3))
	assert.Equal(t, int64(testClusterSize*3), in.Size)

	for l := uint32(3); l < DirectBlocks+5; l++ {
		phys, err := addr.GetPhysical(ctx, &in, l)
		require.NoError(t, err)
		assert.Zero(t, phys, "logical block %d should be unmapped after truncate", l)
	}
	for l := uint32(0); l < 3; l++ {
		phys, err := addr.GetPhysical(ctx, &in, l)
		require.NoError(t, err)
		assert.NotZero(t, phys, "logical block %d should survive truncate", l)
	}
	assert.Zero(t, in.Blocks[SingleIndirectIx], "single-indirect root fully collapsed")
}

func TestTruncateGrowOnlyChangesSize(t *testing.T) {
	addr, _, _ := newTestAddresser(t, 100)
	ctx := context.Background()
	var in OnDisk
	in.Size = 10

	require.NoError(t, addr.Truncate(ctx, &in, 1000))
	assert.Equal(t, int64(1000), in.Size)
	for _, b := range in.Blocks {
		assert.Zero(t, b)
	}
}

func TestMaxFileSizeMatchesFormula(t *testing.T) {
	addr, _, _ := newTestAddresser(t, 100)
	p := int64(testClusterSize / 4)
	want := (11 + p + p*p + p*p*p) * testClusterSize
	assert.Equal(t, want, addr.MaxFileSize())
}
