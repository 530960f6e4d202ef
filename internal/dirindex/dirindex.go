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

package dirindex

import (
	"context"

	"github.com/nvfuse/nvfuse/internal/alloc"
	"github.com/nvfuse/nvfuse/internal/bptree"
	"github.com/nvfuse/nvfuse/internal/cache"
	"github.com/nvfuse/nvfuse/internal/dirhash"
	"github.com/nvfuse/nvfuse/internal/inode"
	"github.com/nvfuse/nvfuse/internal/nverr"
)

// collisionBits is how many low bits of the composite key spec.md §4.F
// reserves for chaining filenames that hash to the same major/minor pair
// ("2 collision bits allocated").
const collisionBits = 2
const maxCollisionChain = 1 << collisionBits

// EntryLookup resolves the filename stored at a directory-entry offset, so
// a B+tree hit can be verified byte-for-byte before being trusted (spec.md
// §4.F "Lookup"). ok is false if the slot is not currently in use.
type EntryLookup func(ctx context.Context, offset uint32) (name string, ok bool, err error)

// Index is the B+tree half of a directory index: a tree of composite
// dirhash keys mapping to directory-entry offsets, rooted in a companion
// bpino inode. Index never touches the entry array itself; Directory below
// composes it with internal/inode's entry operations.
type Index struct {
	tree  *bptree.Tree
	store *clusterStore
}

// New wraps an existing (possibly empty, root==0) tree.
func New(c *cache.Cache, a *alloc.Allocator, clusterSize int, hintGroup uint32, root uint64) *Index {
	store := &clusterStore{cache: c, alloc: a, clusterSize: clusterSize, hintGroup: hintGroup}
	return &Index{tree: bptree.Open(store, root), store: store}
}

// Root returns the tree's current root cluster (0 if empty), for the
// caller to persist into the bpino inode's first block pointer.
func (ix *Index) Root() uint64 { return ix.tree.Root() }

// Clear frees every cluster backing the tree, for when the owning directory
// is being removed entirely.
func (ix *Index) Clear(ctx context.Context) error { return ix.tree.Clear(ctx) }

func baseKey(h dirhash.Hash) uint64 {
	return uint64(h.Major)<<32 | uint64(h.Minor&^(maxCollisionChain-1))
}

// Insert adds name -> offset, per spec.md §4.F "Insert": compute the hash,
// and if an existing key already names a different file, chain through the
// key's low collision bits until a free slot or a same-named match is
// found.
func (ix *Index) Insert(ctx context.Context, name string, offset uint32, lookup EntryLookup) error {
	base := baseKey(dirhash.Name(name))
	for i := uint64(0); i < maxCollisionChain; i++ {
		key := base | i
		existing, ok, err := ix.tree.Lookup(ctx, key)
		if err != nil {
			return err
		}
		if !ok {
			return ix.tree.Insert(ctx, key, uint64(offset))
		}
		existingName, used, err := lookup(ctx, uint32(existing))
		if err != nil {
			return err
		}
		if used && existingName == name {
			return nverr.Exists.Withf(nil, "directory entry %q already exists", name)
		}
	}
	return nverr.NoSpace.Withf(nil, "directory hash collision chain exhausted for %q", name)
}

// Lookup hashes name and searches the tree, verifying each collision-chain
// candidate by name before trusting it (spec.md §4.F "Lookup").
func (ix *Index) Lookup(ctx context.Context, name string, lookup EntryLookup) (offset uint32, ok bool, err error) {
	base := baseKey(dirhash.Name(name))
	for i := uint64(0); i < maxCollisionChain; i++ {
		candidate, found, err := ix.tree.Lookup(ctx, base|i)
		if err != nil {
			return 0, false, err
		}
		if !found {
			continue
		}
		candidateName, used, err := lookup(ctx, uint32(candidate))
		if err != nil {
			return 0, false, err
		}
		if used && candidateName == name {
			return uint32(candidate), true, nil
		}
	}
	return 0, false, nil
}

// Delete removes name's tree entry, if present (spec.md §4.F "Delete").
func (ix *Index) Delete(ctx context.Context, name string, lookup EntryLookup) (bool, error) {
	base := baseKey(dirhash.Name(name))
	for i := uint64(0); i < maxCollisionChain; i++ {
		key := base | i
		candidate, found, err := ix.tree.Lookup(ctx, key)
		if err != nil {
			return false, err
		}
		if !found {
			continue
		}
		candidateName, used, err := lookup(ctx, uint32(candidate))
		if err != nil {
			return false, err
		}
		if used && candidateName == name {
			return ix.tree.Delete(ctx, key)
		}
	}
	return false, nil
}

// Directory composes an Index with internal/inode's directory-entry
// operations: it keeps the hash tree and the linear entry array (the
// byte-exact ground truth, spec.md §4.F rationale) in lockstep so callers
// never have to touch both separately.
type Directory struct {
	ix        *Index
	addr      *inode.Addresser
	ino       uint32 // the directory's own inode, owning its entry clusters
	hintGroup uint32
}

// OpenDirectory builds a Directory over ino's entry clusters and a B+tree
// rooted at bpRoot (0 for a brand-new, empty directory).
func OpenDirectory(c *cache.Cache, a *alloc.Allocator, addr *inode.Addresser, clusterSize int, hintGroup uint32, ino uint32, bpRoot uint64) *Directory {
	return &Directory{
		ix:        New(c, a, clusterSize, hintGroup, bpRoot),
		addr:      addr,
		ino:       ino,
		hintGroup: hintGroup,
	}
}

// Root reports the companion B+tree's current root cluster, for the caller
// to persist into the directory's bpino inode.
func (d *Directory) Root() uint64 { return d.ix.Root() }

func (d *Directory) entryLookup(in *inode.OnDisk) EntryLookup {
	return func(ctx context.Context, offset uint32) (string, bool, error) {
		e, err := d.addr.EntryAtOffset(ctx, d.ino, in, offset)
		if err != nil {
			return "", false, err
		}
		return e.Name, e.Flag == inode.EntryUsed, nil
	}
}

// Create appends a new directory entry for name -> childIno and indexes it.
// The entry-array write (and its already-exists / no-free-slot handling)
// stays the authoritative step per spec.md §4.F's rationale; the B+tree
// insert that follows chains past keys held by different names, and returns
// Exists only if a chained key already points at an entry with this name.
func (d *Directory) Create(ctx context.Context, in *inode.OnDisk, name string, childIno uint32) error {
	if err := d.addr.CreateEntry(ctx, d.ino, in, d.hintGroup, name, childIno); err != nil {
		return err
	}
	offset := in.Ptr - 1
	return d.ix.Insert(ctx, name, offset, d.entryLookup(in))
}

// Lookup resolves name to its child inode number via the accelerated
// B+tree path, falling back to nothing (ok=false) if the tree has no entry
// for it — callers that suspect the index and entry array have drifted
// (e.g. after a dirty remount without a full rescan) can fall back to
// Addresser.LookupEntry's linear scan directly.
func (d *Directory) Lookup(ctx context.Context, in *inode.OnDisk, name string) (uint32, bool, error) {
	offset, ok, err := d.ix.Lookup(ctx, name, d.entryLookup(in))
	if err != nil || !ok {
		return 0, false, err
	}
	e, err := d.addr.EntryAtOffset(ctx, d.ino, in, offset)
	if err != nil {
		return 0, false, err
	}
	if e.Flag != inode.EntryUsed || e.Name != name {
		return 0, false, nil
	}
	return e.Ino, true, nil
}

// Delete removes name from both the B+tree and the entry array.
func (d *Directory) Delete(ctx context.Context, in *inode.OnDisk, name string) (bool, error) {
	if _, err := d.ix.Delete(ctx, name, d.entryLookup(in)); err != nil {
		return false, err
	}
	return d.addr.DeleteEntry(ctx, d.ino, in, name)
}

// Clear frees the directory's entire B+tree, for use when the directory
// itself is being deleted.
func (d *Directory) Clear(ctx context.Context) error { return d.ix.Clear(ctx) }
