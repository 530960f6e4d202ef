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
	"strings"

	"github.com/nvfuse/nvfuse/cfg"
	"github.com/nvfuse/nvfuse/clock"
	"github.com/nvfuse/nvfuse/internal/alloc"
	"github.com/nvfuse/nvfuse/internal/bgroup"
	"github.com/nvfuse/nvfuse/internal/cache"
	"github.com/nvfuse/nvfuse/internal/dirindex"
	"github.com/nvfuse/nvfuse/internal/inode"
	"github.com/nvfuse/nvfuse/internal/nverr"
	"github.com/nvfuse/nvfuse/internal/super"
	"github.com/nvfuse/nvfuse/metrics"
)

const defaultSymlinkMaxDepth = 8

// Namespace is the path/namespace layer of spec.md §4.G: path resolution
// through the directory index, the bounded file table, and the
// create/unlink/rename/link/symlink/mkdir/rmdir operation set. It holds no
// state beyond what it was handed at Mount; the only thing a live mount
// adds on top of the lower layers is this file-table and path-walk logic,
// the way the teacher repository's fs.FileSystem sits above its
// inode/DirInode/FileInode hierarchy.
type Namespace struct {
	cache   *cache.Cache
	groups  *bgroup.Manager
	alloc   *alloc.Allocator
	addr    *inode.Addresser
	clock   clock.Clock
	metrics metrics.Handle

	clusterSize     int
	inodesPerGroup  uint32
	rootIno         uint32
	symlinkMaxDepth int

	table *FileTable
}

// New builds a Namespace over a live mount, per spec.md §4.G / §4.H's
// "install the block cache, inode cache, file table" mount step.
func New(mnt *super.Mount, nsCfg cfg.NamespaceConfig) *Namespace {
	depth := nsCfg.SymlinkMaxDepth
	if depth <= 0 {
		depth = defaultSymlinkMaxDepth
	}
	return &Namespace{
		cache:           mnt.Cache,
		groups:          mnt.Groups,
		alloc:           mnt.Alloc,
		addr:            mnt.Addr,
		clock:           mnt.Clock,
		metrics:         mnt.Metrics,
		clusterSize:     mnt.ClusterSize,
		inodesPerGroup:  mnt.InodesPerGroup,
		rootIno:         mnt.RootIno(),
		symlinkMaxDepth: depth,
		table:           NewFileTable(nsCfg.MaxOpenFiles),
	}
}

// RootIno reports the mount's root directory inode number.
func (ns *Namespace) RootIno() uint32 { return ns.rootIno }

func (ns *Namespace) countOp(ctx context.Context, op string) {
	if ns.metrics != nil {
		ns.metrics.OpsCount(ctx, 1, op)
	}
}

func (ns *Namespace) now() uint32 { return uint32(ns.clock.Now().Unix()) }

// openInode opens an inode.Context for ino, locating its owning group's
// inode table the way every metadata access in this layer must.
func (ns *Namespace) openInode(ctx context.Context, ino uint32) (*inode.Context, error) {
	gid := ino / ns.inodesPerGroup
	desc, err := ns.groups.Group(gid)
	if err != nil {
		return nil, err
	}
	return inode.Open(ctx, ns.cache, ns.addr, ino, desc.InodeTableStart, ns.inodesPerGroup, ns.clusterSize)
}

func (ns *Namespace) statInode(ctx context.Context, ino uint32) (inode.OnDisk, error) {
	c, err := ns.openInode(ctx, ino)
	if err != nil {
		return inode.OnDisk{}, err
	}
	defer c.Close(ctx)
	return c.View(), nil
}

// hintGroup derives a block-group allocation hint from an owning directory,
// so new metadata tends to land near the directory that names it.
func (ns *Namespace) hintGroup(ino uint32) uint32 { return ino / ns.inodesPerGroup }

// dirHandle pairs a directory's own inode context (owning its entry-array
// data) with its companion B+tree inode context (owning the index root),
// the two pieces spec.md §4.F's dirindex.Directory composes.
type dirHandle struct {
	ns  *Namespace
	in  *inode.Context
	bp  *inode.Context
	dir *dirindex.Directory
}

func (ns *Namespace) openDir(ctx context.Context, ino uint32) (*dirHandle, error) {
	in, err := ns.openInode(ctx, ino)
	if err != nil {
		return nil, err
	}
	rec := in.View()
	if rec.Type != inode.TypeDirectory {
		in.Close(ctx)
		return nil, nverr.NotDirectory.Withf(nil, "inode %d is not a directory", ino)
	}
	bp, err := ns.openInode(ctx, rec.BPIno)
	if err != nil {
		in.Close(ctx)
		return nil, err
	}
	bpRec := bp.View()
	d := dirindex.OpenDirectory(ns.cache, ns.alloc, ns.addr, ns.clusterSize, ns.hintGroup(ino), ino, uint64(bpRec.Blocks[0]))
	return &dirHandle{ns: ns, in: in, bp: bp, dir: d}, nil
}

// persistRoot writes the B+tree's current root cluster back into the
// companion bpino if a mutation changed it.
func (h *dirHandle) persistRoot(ctx context.Context) {
	root := uint32(h.dir.Root())
	if h.bp.View().Blocks[0] != root {
		h.bp.Mutate(ctx, func(o *inode.OnDisk) { o.Blocks[0] = root })
	}
}

func (h *dirHandle) close(ctx context.Context) {
	h.persistRoot(ctx)
	h.bp.Close(ctx)
	h.in.Close(ctx)
}

// lookupChild resolves name within directory dirIno.
func (ns *Namespace) lookupChild(ctx context.Context, dirIno uint32, name string) (uint32, error) {
	h, err := ns.openDir(ctx, dirIno)
	if err != nil {
		return 0, err
	}
	defer h.close(ctx)
	rec := h.in.View()
	childIno, ok, err := h.dir.Lookup(ctx, &rec, name)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nverr.NotFound.Withf(nil, "no such file or directory: %q in inode %d", name, dirIno)
	}
	return childIno, nil
}

func splitPath(path string) ([]string, error) {
	if path == "" || path[0] != '/' {
		return nil, nverr.Invalid.Withf(nil, "path %q is not absolute", path)
	}
	raw := strings.Split(path, "/")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		if p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

func joinRemaining(comps []string) string {
	return "/" + strings.Join(comps, "/")
}

// resolveFrom walks path starting at directory inode startIno, following
// intermediate and final symlinks up to symlinkMaxDepth levels (spec.md
// §4.G "symlinks resolved up to a bounded depth (default 8)").
func (ns *Namespace) resolveFrom(ctx context.Context, startIno uint32, path string, depth int) (uint32, error) {
	if depth > ns.symlinkMaxDepth {
		return 0, nverr.Invalid.Withf(nil, "too many levels of symbolic links resolving %q", path)
	}
	comps, err := splitPath(path)
	if err != nil {
		return 0, err
	}

	dirIno := startIno
	cur := startIno
	for _, name := range comps {
		switch name {
		case ".":
			continue
		case "..":
			parent, err := ns.lookupChild(ctx, dirIno, "..")
			if err != nil {
				return 0, err
			}
			dirIno, cur = parent, parent
			continue
		}

		childIno, err := ns.lookupChild(ctx, dirIno, name)
		if err != nil {
			return 0, err
		}
		rec, err := ns.statInode(ctx, childIno)
		if err != nil {
			return 0, err
		}
		if rec.Type == inode.TypeSymlink {
			target, err := ns.readSymlinkTarget(ctx, childIno, rec)
			if err != nil {
				return 0, err
			}
			var resolved uint32
			if strings.HasPrefix(target, "/") {
				resolved, err = ns.resolveFrom(ctx, ns.rootIno, target, depth+1)
			} else {
				resolved, err = ns.resolveFrom(ctx, dirIno, target, depth+1)
			}
			if err != nil {
				return 0, err
			}
			childIno = resolved
		}
		dirIno, cur = childIno, childIno
	}
	return cur, nil
}

// Resolve resolves an absolute path, starting at root, fully following a
// trailing symlink (the `stat`/`getattr` contract).
func (ns *Namespace) Resolve(ctx context.Context, path string) (uint32, error) {
	return ns.resolveFrom(ctx, ns.rootIno, path, 0)
}

// ResolveNoFollow resolves path but, if the final component is a symlink,
// returns the symlink's own inode rather than its target (the
// `readlink`/`unlink`/`lstat` contract).
func (ns *Namespace) ResolveNoFollow(ctx context.Context, path string) (uint32, error) {
	comps, err := splitPath(path)
	if err != nil {
		return 0, err
	}
	if len(comps) == 0 {
		return ns.rootIno, nil
	}
	parentPath := joinRemaining(comps[:len(comps)-1])
	parentIno, err := ns.resolveFrom(ctx, ns.rootIno, parentPath, 0)
	if err != nil {
		return 0, err
	}
	return ns.lookupChild(ctx, parentIno, comps[len(comps)-1])
}

// resolveParent resolves every component but the last (following
// intermediate symlinks) and returns the parent directory inode plus the
// raw final component name, for operations that create or remove a name.
func (ns *Namespace) resolveParent(ctx context.Context, path string) (parentIno uint32, leaf string, err error) {
	comps, err := splitPath(path)
	if err != nil {
		return 0, "", err
	}
	if len(comps) == 0 {
		return 0, "", nverr.Invalid.Withf(nil, "path %q names the root, which has no parent", path)
	}
	leaf = comps[len(comps)-1]
	if leaf == "." || leaf == ".." {
		return 0, "", nverr.Invalid.Withf(nil, "path %q must not end in . or ..", path)
	}
	parentPath := joinRemaining(comps[:len(comps)-1])
	parentIno, err = ns.resolveFrom(ctx, ns.rootIno, parentPath, 0)
	return parentIno, leaf, err
}

func (ns *Namespace) readSymlinkTarget(ctx context.Context, ino uint32, rec inode.OnDisk) (string, error) {
	c, err := ns.openInode(ctx, ino)
	if err != nil {
		return "", err
	}
	defer c.Close(ctx)
	buf := make([]byte, rec.Size)
	if _, err := c.ReadAt(ctx, buf, 0); err != nil {
		return "", err
	}
	return string(buf), nil
}
