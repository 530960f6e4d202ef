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

	"github.com/nvfuse/nvfuse/internal/cache"
)

// WriteRecord writes rec directly into its on-disk inode-table slot. It
// exists for internal/super's format path, which must seed the root inode
// and its companion B+tree inode before either one has ever been through
// Open — Context.Mutate requires an already-open context, which a
// freshly-minted inode does not yet have.
func WriteRecord(ctx context.Context, c *cache.Cache, itableStart uint64, inodesPerGroup uint32, clusterSize int, rec OnDisk) error {
	phys, slot := clusterForIno(rec.Ino, inodesPerGroup, itableStart, clusterSize)
	bh, err := c.Get(ctx, cache.Key{Ino: 0, Block: phys}, func(context.Context) (uint64, error) { return phys, nil })
	if err != nil {
		return err
	}
	off := slot * Size
	rec.Encode(bh.Data[off : off+Size])
	c.Put(ctx, bh, true)
	return nil
}

// ReadRecord reads ino's on-disk record directly out of the inode table,
// without opening a Context. Used by the consistency scan at mount time to
// check an inode's Deleted bit before anything else touches it.
func ReadRecord(ctx context.Context, c *cache.Cache, itableStart uint64, inodesPerGroup uint32, clusterSize int, ino uint32) (OnDisk, error) {
	phys, slot := clusterForIno(ino, inodesPerGroup, itableStart, clusterSize)
	bh, err := c.Get(ctx, cache.Key{Ino: 0, Block: phys}, func(context.Context) (uint64, error) { return phys, nil })
	if err != nil {
		return OnDisk{}, err
	}
	off := slot * Size
	rec := Decode(bh.Data[off : off+Size])
	c.Put(ctx, bh, false)
	return rec, nil
}
