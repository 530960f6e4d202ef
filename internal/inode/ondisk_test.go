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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOnDiskEncodeDecodeRoundTrip(t *testing.T) {
	o := OnDisk{
		Ino:        42,
		Type:       TypeRegular,
		Deleted:    false,
		LinksCount: 2,
		BPIno:      0,
		Size:       123456,
		Version:    7,
		Ptr:        3,
		ATime:      100,
		CTime:      101,
		MTime:      102,
		DTime:      0,
		UID:        1000,
		GID:        1000,
		Mode:       0o644,
	}
	for i := range o.Blocks {
		o.Blocks[i] = uint32(i * 11)
	}

	buf := make([]byte, Size)
	o.Encode(buf)
	got := Decode(buf)

	assert.Equal(t, o, got)
}

func TestOnDiskEncodeZeroesUnusedTail(t *testing.T) {
	buf := make([]byte, Size)
	for i := range buf {
		buf[i] = 0xff
	}
	var o OnDisk
	o.Encode(buf)

	for i := 50 + NumBlockPointers*4; i < Size; i++ {
		assert.Zero(t, buf[i], "byte %d should be zeroed padding", i)
	}
}

func TestDeletedFlagRoundTrips(t *testing.T) {
	o := OnDisk{Deleted: true}
	buf := make([]byte, Size)
	o.Encode(buf)
	assert.True(t, Decode(buf).Deleted)
}

func TestPerClusterSlots(t *testing.T) {
	assert.Equal(t, 32, PerClusterSlots(4096))
	assert.Equal(t, 1, PerClusterSlots(testClusterSize))
}
