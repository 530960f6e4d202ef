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

	"github.com/nvfuse/nvfuse/internal/inode"
	"github.com/nvfuse/nvfuse/internal/nverr"
)

// Unlink implements unlink / rmfile_path: remove a name from its parent
// directory, decrement the target's link count, and delete the inode once
// both its link count reaches zero and no file-table entry still
// references it (spec.md §4.G "Link/unlink/rename").
func (ns *Namespace) Unlink(ctx context.Context, path string) error {
	ns.countOp(ctx, "unlink")
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
	targetIno, ok, err := parent.dir.Lookup(ctx, &parentRec, leaf)
	if err != nil {
		return err
	}
	if !ok {
		return nverr.NotFound.Withf(nil, "unlink %q: no such file", path)
	}

	target, err := ns.openInode(ctx, targetIno)
	if err != nil {
		return err
	}
	defer target.Close(ctx)
	targetRec := target.View()
	if targetRec.Type == inode.TypeDirectory {
		return nverr.IsDirectory.Withf(nil, "unlink %q: is a directory, use rmdir", path)
	}

	if _, err := parent.dir.Delete(ctx, &parentRec, leaf); err != nil {
		return err
	}
	parent.in.Mutate(ctx, func(o *inode.OnDisk) {
		o.Ptr = parentRec.Ptr
		o.MTime = ns.now()
	})

	var linksLeft uint16
	target.Mutate(ctx, func(o *inode.OnDisk) {
		if o.LinksCount > 0 {
			o.LinksCount--
		}
		o.CTime = ns.now()
		linksLeft = o.LinksCount
	})
	if linksLeft > 0 {
		return nil
	}

	finalRec := target.View()
	if err := ns.addr.Delete(ctx, &finalRec, ns.alloc); err != nil {
		return err
	}
	target.Mutate(ctx, func(o *inode.OnDisk) {
		*o = finalRec
		o.Deleted = true
	})
	return nil
}

// HardlinkPath implements hardlink_path: add a second name for an existing
// inode and bump its link count. Directories may not be hard-linked, per
// the usual POSIX restriction (it would let a cycle form in the namespace
// without the ".." back-reference bookkeeping mkdir/rmdir maintain).
func (ns *Namespace) HardlinkPath(ctx context.Context, oldPath, newPath string) error {
	ns.countOp(ctx, "hardlink")
	targetIno, err := ns.Resolve(ctx, oldPath)
	if err != nil {
		return err
	}
	target, err := ns.openInode(ctx, targetIno)
	if err != nil {
		return err
	}
	defer target.Close(ctx)
	if target.View().Type == inode.TypeDirectory {
		return nverr.IsDirectory.Withf(nil, "hardlink %q: cannot link a directory", oldPath)
	}

	parentIno, leaf, err := ns.resolveParent(ctx, newPath)
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
		return nverr.Exists.Withf(nil, "hardlink %q: already exists", newPath)
	}

	if err := parent.dir.Create(ctx, &parentRec, leaf, targetIno); err != nil {
		return err
	}
	parent.in.Mutate(ctx, func(o *inode.OnDisk) {
		o.Ptr = parentRec.Ptr
		o.Size = parentRec.Size
		o.Blocks = parentRec.Blocks
		o.MTime = ns.now()
	})
	target.Mutate(ctx, func(o *inode.OnDisk) {
		o.LinksCount++
		o.CTime = ns.now()
	})
	return nil
}

// SymlinkPath implements symlink_path: allocate a regular-shaped inode
// tagged TypeSymlink and store target as its file data through the same
// addresser every regular file uses (OnDisk has no dedicated
// symlink-target field, so the link body lives in the inode's own data
// clusters, exactly like a tiny regular file).
func (ns *Namespace) SymlinkPath(ctx context.Context, target, linkPath string) error {
	ns.countOp(ctx, "symlink")
	parentIno, leaf, err := ns.resolveParent(ctx, linkPath)
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
		return nverr.Exists.Withf(nil, "symlink %q: already exists", linkPath)
	}

	childIno, err := ns.alloc.AllocateInode(ctx)
	if err != nil {
		return err
	}
	now := ns.now()
	child := inode.OnDisk{Ino: childIno, Type: inode.TypeSymlink, LinksCount: 1, Mode: 0777, ATime: now, CTime: now, MTime: now}
	if err := ns.writeNewRecord(ctx, child); err != nil {
		return err
	}

	c, err := ns.openInode(ctx, childIno)
	if err != nil {
		return err
	}
	defer c.Close(ctx)
	if _, err := c.WriteAt(ctx, []byte(target), 0); err != nil {
		return err
	}

	if err := parent.dir.Create(ctx, &parentRec, leaf, childIno); err != nil {
		return err
	}
	parent.in.Mutate(ctx, func(o *inode.OnDisk) {
		o.Ptr = parentRec.Ptr
		o.Size = parentRec.Size
		o.Blocks = parentRec.Blocks
		o.MTime = now
	})
	return nil
}

// Readlink returns a symlink's stored target.
func (ns *Namespace) Readlink(ctx context.Context, path string) (string, error) {
	ns.countOp(ctx, "readlink")
	ino, err := ns.ResolveNoFollow(ctx, path)
	if err != nil {
		return "", err
	}
	rec, err := ns.statInode(ctx, ino)
	if err != nil {
		return "", err
	}
	if rec.Type != inode.TypeSymlink {
		return "", nverr.Invalid.Withf(nil, "readlink %q: not a symlink", path)
	}
	return ns.readSymlinkTarget(ctx, ino, rec)
}

// RenamePath implements rename_path: link newPath to oldPath's inode and
// unlink oldPath, per spec.md §4.G ("add new entry, remove old entry;
// same-parent rename updates in place without data move"). A rename that
// replaces an existing newPath is rejected rather than silently clobbering
// it; the external API has no separate "replace" affordance to opt into
// that behavior.
func (ns *Namespace) RenamePath(ctx context.Context, oldPath, newPath string) error {
	ns.countOp(ctx, "rename")
	oldParentIno, oldLeaf, err := ns.resolveParent(ctx, oldPath)
	if err != nil {
		return err
	}
	newParentIno, newLeaf, err := ns.resolveParent(ctx, newPath)
	if err != nil {
		return err
	}

	if oldParentIno == newParentIno {
		return ns.renameSameParent(ctx, oldParentIno, oldLeaf, newLeaf)
	}
	return ns.renameCrossParent(ctx, oldParentIno, oldLeaf, newParentIno, newLeaf)
}

func (ns *Namespace) renameSameParent(ctx context.Context, parentIno uint32, oldLeaf, newLeaf string) error {
	parent, err := ns.openDir(ctx, parentIno)
	if err != nil {
		return err
	}
	defer parent.close(ctx)

	rec := parent.in.View()
	childIno, ok, err := parent.dir.Lookup(ctx, &rec, oldLeaf)
	if err != nil {
		return err
	}
	if !ok {
		return nverr.NotFound.Withf(nil, "rename: no such file %q", oldLeaf)
	}
	if _, ok, err := parent.dir.Lookup(ctx, &rec, newLeaf); err != nil {
		return err
	} else if ok {
		return nverr.Exists.Withf(nil, "rename: %q already exists", newLeaf)
	}

	if err := parent.dir.Create(ctx, &rec, newLeaf, childIno); err != nil {
		return err
	}
	if _, err := parent.dir.Delete(ctx, &rec, oldLeaf); err != nil {
		return err
	}
	parent.in.Mutate(ctx, func(o *inode.OnDisk) {
		o.Ptr = rec.Ptr
		o.Size = rec.Size
		o.Blocks = rec.Blocks
		o.MTime = ns.now()
	})
	return nil
}

func (ns *Namespace) renameCrossParent(ctx context.Context, oldParentIno uint32, oldLeaf string, newParentIno uint32, newLeaf string) error {
	oldParent, err := ns.openDir(ctx, oldParentIno)
	if err != nil {
		return err
	}
	defer oldParent.close(ctx)

	oldRec := oldParent.in.View()
	childIno, ok, err := oldParent.dir.Lookup(ctx, &oldRec, oldLeaf)
	if err != nil {
		return err
	}
	if !ok {
		return nverr.NotFound.Withf(nil, "rename: no such file %q", oldLeaf)
	}

	newParent, err := ns.openDir(ctx, newParentIno)
	if err != nil {
		return err
	}
	defer newParent.close(ctx)

	newRec := newParent.in.View()
	if _, ok, err := newParent.dir.Lookup(ctx, &newRec, newLeaf); err != nil {
		return err
	} else if ok {
		return nverr.Exists.Withf(nil, "rename: %q already exists", newLeaf)
	}

	if err := newParent.dir.Create(ctx, &newRec, newLeaf, childIno); err != nil {
		return err
	}
	newParent.in.Mutate(ctx, func(o *inode.OnDisk) {
		o.Ptr = newRec.Ptr
		o.Size = newRec.Size
		o.Blocks = newRec.Blocks
		o.MTime = ns.now()
	})

	if _, err := oldParent.dir.Delete(ctx, &oldRec, oldLeaf); err != nil {
		return err
	}
	oldParent.in.Mutate(ctx, func(o *inode.OnDisk) {
		o.Ptr = oldRec.Ptr
		o.MTime = ns.now()
	})

	moved, err := ns.statInode(ctx, childIno)
	if err != nil {
		return err
	}
	if moved.Type == inode.TypeDirectory {
		child, err := ns.openDir(ctx, childIno)
		if err != nil {
			return err
		}
		defer child.close(ctx)
		childRec := child.in.View()
		if _, err := child.dir.Delete(ctx, &childRec, dotDotName); err != nil {
			return err
		}
		if err := child.dir.Create(ctx, &childRec, dotDotName, newParentIno); err != nil {
			return err
		}
		child.in.Mutate(ctx, func(o *inode.OnDisk) {
			o.Ptr = childRec.Ptr
			o.Size = childRec.Size
			o.Blocks = childRec.Blocks
		})
		oldParent.in.Mutate(ctx, func(o *inode.OnDisk) { o.LinksCount-- })
		newParent.in.Mutate(ctx, func(o *inode.OnDisk) { o.LinksCount++ })
	}
	return nil
}
