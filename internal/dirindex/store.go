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

// Package dirindex wires internal/dirhash and internal/bptree into the
// directory index of spec.md §4.F: a B+tree keyed on a filename's half-MD4
// hash, living in a directory's companion bpino inode, mapping onto the
// linear directory-entry array internal/inode's direntry.go owns. The tree
// accelerates lookup; the entry array stays the byte-exact ground truth.
package dirindex

import (
	"context"

	"github.com/nvfuse/nvfuse/internal/alloc"
	"github.com/nvfuse/nvfuse/internal/bptree"
	"github.com/nvfuse/nvfuse/internal/cache"
)

// clusterStore binds a bptree.Tree to the buffer cache and block allocator,
// so its nodes are cached and write-back tracked exactly like any other
// metadata cluster (spec.md §4.B "Keying": "Metadata blocks key on
// (0, physical-block)" — a B+tree node is addressed the same way an
// indirect block is).
type clusterStore struct {
	cache       *cache.Cache
	alloc       *alloc.Allocator
	clusterSize int
	hintGroup   uint32
}

func identityResolver(phys uint64) cache.Resolver {
	return func(ctx context.Context) (uint64, error) { return phys, nil }
}

func (s *clusterStore) ClusterSize() int { return s.clusterSize }

func (s *clusterStore) ReadCluster(ctx context.Context, phys uint64) ([]byte, error) {
	bh, err := s.cache.Get(ctx, cache.Key{Ino: 0, Block: phys}, identityResolver(phys))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(bh.Data))
	copy(out, bh.Data)
	s.cache.Put(ctx, bh, false)
	return out, nil
}

func (s *clusterStore) WriteCluster(ctx context.Context, phys uint64, data []byte) error {
	bh, err := s.cache.Get(ctx, cache.Key{Ino: 0, Block: phys}, identityResolver(phys))
	if err != nil {
		return err
	}
	copy(bh.Data, data)
	s.cache.Put(ctx, bh, true)
	return nil
}

func (s *clusterStore) AllocateCluster(ctx context.Context) (uint64, error) {
	phys, err := s.alloc.AllocateOneBlock(ctx, s.hintGroup)
	return uint64(phys), err
}

func (s *clusterStore) FreeCluster(ctx context.Context, phys uint64) error {
	err := s.alloc.FreeAbsoluteBlock(ctx, uint32(phys))
	s.cache.Invalidate(cache.Key{Ino: 0, Block: phys})
	return err
}

var _ bptree.ClusterStore = (*clusterStore)(nil)
