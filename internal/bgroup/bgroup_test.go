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

package bgroup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescriptorEncodeDecodeRoundTrip(t *testing.T) {
	d := Descriptor{
		Magic:              DescriptorMagic,
		Tenant:             1,
		GroupID:            3,
		InodeBitmapStart:   10,
		DataBitmapStart:    11,
		InodeTableStart:    12,
		DataTableStart:     20,
		InodeTableClusters: 8,
		DataTableClusters:  1000,
		InodesTotal:        2048,
		BlocksTotal:        8192,
		FreeInodes:         2000,
		FreeBlocks:         8000,
	}

	buf := make([]byte, DescriptorSize)
	d.Encode(buf)
	got := DecodeDescriptor(buf)

	assert.Equal(t, d, got)
}

func TestBitmapSetClearAndCounts(t *testing.T) {
	bm := make(Bitmap, 4) // 32 bits

	idx, ok := bm.FirstClear(0)
	require.True(t, ok)
	assert.Equal(t, uint32(0), idx)
	assert.Equal(t, uint32(32), bm.CountClear())

	bm.Set(0)
	bm.Set(1)
	bm.Set(2)
	assert.Equal(t, uint32(29), bm.CountClear())
	assert.Equal(t, uint32(3), bm.LongestRunFrom(0, 32))

	idx, ok = bm.FirstClear(0)
	require.True(t, ok)
	assert.Equal(t, uint32(3), idx)

	bm.Clear(1)
	assert.False(t, bm.Test(1))
	assert.Equal(t, uint32(30), bm.CountClear())
}

func TestManagerCursorsRotate(t *testing.T) {
	groups := []*Descriptor{
		{Magic: DescriptorMagic, GroupID: 0, FreeBlocks: 10, FreeInodes: 5},
		{Magic: DescriptorMagic, GroupID: 1, FreeBlocks: 20, FreeInodes: 7},
	}
	m := NewManager(groups)

	assert.Equal(t, 2, m.Count())
	assert.Equal(t, uint64(30), m.TotalFreeBlocks())
	assert.Equal(t, uint64(12), m.TotalFreeInodes())

	assert.Equal(t, uint32(0), m.DataCursorGroup().GroupID)
	assert.Equal(t, uint32(1), m.NextDataGroup().GroupID)
	assert.Equal(t, uint32(0), m.NextDataGroup().GroupID)
}

func TestManagerGroupOutOfRange(t *testing.T) {
	m := NewManager([]*Descriptor{{Magic: DescriptorMagic, GroupID: 0}})
	_, err := m.Group(5)
	assert.Error(t, err)
}
