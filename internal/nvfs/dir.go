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

	"github.com/nvfuse/nvfuse/internal/dirindex"
	"github.com/nvfuse/nvfuse/internal/inode"
	"github.com/nvfuse/nvfuse/internal/nverr"
)

const (
	dotName    = "."
	dotDotName = ".."
)

// writeNewRecord seeds a freshly allocated inode's on-disk slot directly,
// the way internal/super's Format does for the root and its bpino before
// either has ever been through Open.
func (ns *Namespace) writeNewRecord(ctx context.Context, rec inode.OnDisk) error {
	gid := rec.Ino / ns.inodesPerGroup
	desc, err := ns.groups.Group(gid)
	if err != nil {
		return err
	}
	return inode.WriteRecord(ctx, ns.cache, desc.InodeTableStart, ns.inodesPerGroup, ns.clusterSize, rec)
}

// Mkdir implements mkdir_path: allocate a directory inode and its companion
// B+tree inode, seed "." and ".." in the new directory, link it into its
// parent, and bump the parent's link count for the child's ".." back
// reference (spec.md §4.G, §8 "mkdir(p); rmdir(p) -> fs-free counters equal
// to pre-mkdir state").
func (ns *Namespace) Mkdir(ctx context.Context, path string, mode uint16) error {
	ns.countOp(ctx, "mkdir")
	parentIno, leaf, err := ns.resolveParent(ctx, path)
	if err != nil {
		return err
	}

	parent, err := ns.openDir(ctx, parentIno)
	if err != nil {
		return err
	}
	defer parent.close(ctx)

	parentRec := parent.in.View()
	if _, ok, err := parent.dir.Lookup(ctx, &parentRec, leaf); err != nil {
		return err
	} else if ok {
		return nverr.Exists.Withf(nil, "mkdir %q: already exists", path)
	}

	childIno, err := ns.alloc.AllocateInode(ctx)
	if err != nil {
		return err
	}
	bpIno, err := ns.alloc.AllocateInode(ctx)
	if err != nil {
		return err
	}

	now := ns.now()
	child := inode.OnDisk{
		Ino: childIno, Type: inode.TypeDirectory, LinksCount: 2, BPIno: bpIno,
		Mode: mode, ATime: now, CTime: now, MTime: now,
	}
	bp := inode.OnDisk{Ino: bpIno, Type: inode.TypeBptree, LinksCount: 1, ATime: now, CTime: now, MTime: now}

	hint := ns.hintGroup(parentIno)
	childDir := dirindex.OpenDirectory(ns.cache, ns.alloc, ns.addr, ns.clusterSize, hint, childIno, 0)
	if err := childDir.Create(ctx, &child, dotName, childIno); err != nil {
		return err
	}
	if err := childDir.Create(ctx, &child, dotDotName, parentIno); err != nil {
		return err
	}
	bp.Blocks[0] = uint32(childDir.Root())

	if err := ns.writeNewRecord(ctx, child); err != nil {
		return err
	}
	if err := ns.writeNewRecord(ctx, bp); err != nil {
		return err
	}

	if err := parent.dir.Create(ctx, &parentRec, leaf, childIno); err != nil {
		return err
	}
	parent.in.Mutate(ctx, func(o *inode.OnDisk) {
		o.Ptr = parentRec.Ptr
		o.Size = parentRec.Size
		o.Blocks = parentRec.Blocks
		o.LinksCount++
		o.MTime = now
	})
	return nil
}

// Rmdir implements rmdir_path: refuse a non-empty directory (anything past
// "." and ".."), free its whole B+tree index, its data, and both inodes,
// then remove the parent's entry and drop its link count.
func (ns *Namespace) Rmdir(ctx context.Context, path string) error {
	ns.countOp(ctx, "rmdir")
	parentIno, leaf, err := ns.resolveParent(ctx, path)
	if err != nil {
		return err
	}
	if leaf == dotName || leaf == dotDotName {
		return nverr.Invalid.Withf(nil, "rmdir %q: refusing to remove . or ..", path)
	}

	parent, err := ns.openDir(ctx, parentIno)
	if err != nil {
		return err
	}
	defer parent.close(ctx)

	parentRec := parent.in.View()
	childIno, ok, err := parent.dir.Lookup(ctx, &parentRec, leaf)
	if err != nil {
		return err
	}
	if !ok {
		return nverr.NotFound.Withf(nil, "rmdir %q: no such directory", path)
	}

	child, err := ns.openDir(ctx, childIno)
	if err != nil {
		return err
	}
	defer child.close(ctx)

	childRec := child.in.View()
	entries, err := ns.addr.ListEntries(ctx, childIno, &childRec)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Name != dotName && e.Name != dotDotName {
			return nverr.NotEmpty.Withf(nil, "rmdir %q: directory not empty", path)
		}
	}

	if err := child.dir.Clear(ctx); err != nil {
		return err
	}
	bpIno := child.bp.View().Ino
	child.bp.Mutate(ctx, func(o *inode.OnDisk) {
		o.Deleted = true
		o.Blocks[0] = 0
	})
	if err := ns.alloc.FreeInode(ctx, bpIno); err != nil {
		return err
	}

	if err := ns.addr.Delete(ctx, &childRec, ns.alloc); err != nil {
		return err
	}
	child.in.Mutate(ctx, func(o *inode.OnDisk) {
		*o = childRec
		o.Deleted = true
	})

	if _, err := parent.dir.Delete(ctx, &parentRec, leaf); err != nil {
		return err
	}
	parent.in.Mutate(ctx, func(o *inode.OnDisk) {
		o.Ptr = parentRec.Ptr
		o.LinksCount--
		o.MTime = ns.now()
	})
	return nil
}

// Opendir resolves path to a directory and installs a file-table handle for
// it, per spec.md §6 `opendir`.
func (ns *Namespace) Opendir(ctx context.Context, path string) (int, error) {
	ns.countOp(ctx, "opendir")
	ino, err := ns.Resolve(ctx, path)
	if err != nil {
		return 0, err
	}
	h, err := ns.openDir(ctx, ino)
	if err != nil {
		return 0, err
	}
	handle, err := ns.table.acquireDir(h)
	if err != nil {
		h.close(ctx)
		return 0, err
	}
	return handle, nil
}

// Readdir returns the next used directory entry for handle, ok=false once
// every entry has been returned. It re-reads the entry array each call
// rather than snapshotting it at Opendir, so entries added or removed by a
// concurrent path op are reflected (spec.md §6 notes this was left a
// working implementation rather than mirrored from the external bridge's
// FIXME stub).
func (ns *Namespace) Readdir(ctx context.Context, handle int) (inode.DirEntry, bool, error) {
	ns.countOp(ctx, "readdir")
	e, err := ns.table.get(handle)
	if err != nil {
		return inode.DirEntry{}, false, err
	}
	if e.dir == nil {
		return inode.DirEntry{}, false, nverr.Invalid.Withf(nil, "handle %d is not a directory", handle)
	}
	rec := e.dir.in.View()
	entries, err := ns.addr.ListEntries(ctx, e.dir.in.Ino, &rec)
	if err != nil {
		return inode.DirEntry{}, false, err
	}
	if e.dirPos >= len(entries) {
		return inode.DirEntry{}, false, nil
	}
	out := entries[e.dirPos]
	e.dirPos++
	return out, true, nil
}

// Closedir releases a handle opened by Opendir.
func (ns *Namespace) Closedir(ctx context.Context, handle int) error {
	ns.countOp(ctx, "closedir")
	h, err := ns.table.releaseDirHandle(handle)
	if err != nil {
		return err
	}
	h.close(ctx)
	return nil
}
