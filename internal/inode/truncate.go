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

	"github.com/nvfuse/nvfuse/internal/alloc"
)

// blockCount returns how many logical blocks a file of size bytes spans.
func blockCount(size int64, clusterSize int) uint32 {
	if size <= 0 {
		return 0
	}
	return uint32((size + int64(clusterSize) - 1) / int64(clusterSize))
}

// Truncate implements spec.md §4.E "Truncate": unmap every logical block
// from the file's current last block down to the one new Size still needs,
// freeing data clusters and collapsing empty indirect clusters as it goes,
// and only updates in.Size once every block past the new boundary has been
// freed in the bitmaps. Growing a file (newSize beyond the current
// size) only ever changes the recorded size: nvfuse, like the original,
// leaves the newly exposed range sparse until something writes to it.
func (a *Addresser) Truncate(ctx context.Context, in *OnDisk, newSize int64) error {
	if newSize >= in.Size {
		in.Size = newSize
		return nil
	}

	oldBlocks := blockCount(in.Size, a.clusterSize)
	newBlocks := blockCount(newSize, a.clusterSize)

	for l := oldBlocks; l > newBlocks; l-- {
		if err := a.Unmap(ctx, in, l-1); err != nil {
			return err
		}
	}

	in.Size = newSize
	return nil
}

// Delete implements spec.md §4.E "Delete": truncate the inode to zero
// length, freeing every data and indirect cluster it owns, then return its
// inode number to the free-inode bitmap. The caller is responsible for
// recording the deletion in the on-disk record and marking its cluster
// dirty; the namespace layer sets Deleted and keeps the record's other
// fields rather than zeroing the slot. Delete only handles the data-side
// and bitmap-side frees.
func (a *Addresser) Delete(ctx context.Context, in *OnDisk, allocator *alloc.Allocator) error {
	if err := a.Truncate(ctx, in, 0); err != nil {
		return err
	}
	if in.BPIno != 0 {
		// The companion B+tree inode (directories only) is reclaimed by the
		// namespace layer, which owns dirindex lifecycle; Delete here only
		// frees the plain-file data this inode directly addresses.
		in.BPIno = 0
	}
	return allocator.FreeInode(ctx, in.Ino)
}
