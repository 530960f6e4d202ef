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
	"errors"

	"github.com/nvfuse/nvfuse/internal/inode"
	"github.com/nvfuse/nvfuse/internal/nverr"
)

// Open flags, mirroring the small set spec.md §4.G's openfile_path actually
// needs: whether a missing file gets created.
const (
	OpenReadWrite = 0
	OpenCreate    = 1
)

// Seek whence values for Lseek, matching the shell's lseek(2)-style API.
const (
	SeekSet = iota
	SeekCur
	SeekEnd
)

// CreateFile implements the create half of spec.md §4.G's create/unlink
// family: allocate a plain-file inode and link it into its parent.
func (ns *Namespace) CreateFile(ctx context.Context, path string, mode uint16) (uint32, error) {
	ns.countOp(ctx, "create")
	parentIno, leaf, err := ns.resolveParent(ctx, path)
	if err != nil {
		return 0, err
	}

	parent, err := ns.openDir(ctx, parentIno)
	if err != nil {
		return 0, err
	}
	defer parent.close(ctx)

	parentRec := parent.in.View()
	if _, ok, err := parent.dir.Lookup(ctx, &parentRec, leaf); err != nil {
		return 0, err
	} else if ok {
		return 0, nverr.Exists.Withf(nil, "create %q: already exists", path)
	}

	childIno, err := ns.alloc.AllocateInode(ctx)
	if err != nil {
		return 0, err
	}
	now := ns.now()
	child := inode.OnDisk{Ino: childIno, Type: inode.TypeRegular, LinksCount: 1, Mode: mode, ATime: now, CTime: now, MTime: now}
	if err := ns.writeNewRecord(ctx, child); err != nil {
		return 0, err
	}

	if err := parent.dir.Create(ctx, &parentRec, leaf, childIno); err != nil {
		return 0, err
	}
	parent.in.Mutate(ctx, func(o *inode.OnDisk) {
		o.Ptr = parentRec.Ptr
		o.Size = parentRec.Size
		o.Blocks = parentRec.Blocks
		o.MTime = now
	})
	return childIno, nil
}

// OpenfilePath implements openfile_path: resolve path (creating it first if
// OpenCreate is set and it is missing), open its inode context, and install
// a file-table handle over it.
func (ns *Namespace) OpenfilePath(ctx context.Context, path string, flags int) (int, error) {
	ns.countOp(ctx, "openfile")
	ino, err := ns.Resolve(ctx, path)
	if err != nil {
		if !errors.Is(err, nverr.NotFound) || flags&OpenCreate == 0 {
			return 0, err
		}
		ino, err = ns.CreateFile(ctx, path, 0644)
		if err != nil {
			return 0, err
		}
	}

	c, err := ns.openInode(ctx, ino)
	if err != nil {
		return 0, err
	}
	if c.View().Type != inode.TypeRegular {
		c.Close(ctx)
		return 0, nverr.IsDirectory.Withf(nil, "openfile %q: not a regular file", path)
	}
	handle, err := ns.table.acquire(c, ino, flags)
	if err != nil {
		c.Close(ctx)
		return 0, err
	}
	return handle, nil
}

// Closefile releases a handle opened by OpenfilePath, syncing its dirty
// buffers first (spec.md §4.G "closefile").
func (ns *Namespace) Closefile(ctx context.Context, handle int) error {
	ns.countOp(ctx, "closefile")
	c, err := ns.table.release(handle)
	if err != nil {
		return err
	}
	syncErr := c.Sync(ctx)
	c.Close(ctx)
	return syncErr
}

// requireFileEntry fetches handle's file-table slot and rejects one that
// holds a directory handle instead of an open file.
func (ns *Namespace) requireFileEntry(handle int) (*fileEntry, error) {
	e, err := ns.table.get(handle)
	if err != nil {
		return nil, err
	}
	if e.ctx == nil {
		return nil, nverr.Invalid.Withf(nil, "handle %d is not an open file", handle)
	}
	return e, nil
}

// Readfile implements readfile: copy up to len(buf) bytes starting at the
// handle's current read/write offset, advancing it by the amount read.
func (ns *Namespace) Readfile(ctx context.Context, handle int, buf []byte) (int, error) {
	ns.countOp(ctx, "readfile")
	e, err := ns.requireFileEntry(handle)
	if err != nil {
		return 0, err
	}
	n, err := e.ctx.ReadAt(ctx, buf, e.rwOffset)
	e.rwOffset += int64(n)
	return n, err
}

// Writefile implements writefile: write buf at the handle's current offset,
// allocating and extending as needed, then advance the offset.
func (ns *Namespace) Writefile(ctx context.Context, handle int, buf []byte) (int, error) {
	ns.countOp(ctx, "writefile")
	e, err := ns.requireFileEntry(handle)
	if err != nil {
		return 0, err
	}
	n, err := e.ctx.WriteAt(ctx, buf, e.rwOffset)
	e.rwOffset += int64(n)
	return n, err
}

// Lseek implements lseek: reposition handle's read/write offset relative to
// whence, rejecting a result that would go negative.
func (ns *Namespace) Lseek(ctx context.Context, handle int, offset int64, whence int) (int64, error) {
	e, err := ns.requireFileEntry(handle)
	if err != nil {
		return 0, err
	}
	var base int64
	switch whence {
	case SeekSet:
		base = 0
	case SeekCur:
		base = e.rwOffset
	case SeekEnd:
		base = e.ctx.View().Size
	default:
		return 0, nverr.Invalid.Withf(nil, "lseek: bad whence %d", whence)
	}
	newOff := base + offset
	if newOff < 0 {
		return 0, nverr.Invalid.Withf(nil, "lseek: negative resulting offset %d", newOff)
	}
	e.rwOffset = newOff
	return newOff, nil
}

// Ftruncate implements ftruncate: resize handle's file, freeing data past a
// shrink and leaving a grow sparse (spec.md §4.E "Truncate").
func (ns *Namespace) Ftruncate(ctx context.Context, handle int, size int64) error {
	ns.countOp(ctx, "ftruncate")
	e, err := ns.requireFileEntry(handle)
	if err != nil {
		return err
	}
	if size < 0 {
		return nverr.Invalid.Withf(nil, "ftruncate: negative size %d", size)
	}
	rec := e.ctx.View()
	if err := e.ctx.Addresser().Truncate(ctx, &rec, size); err != nil {
		return err
	}
	e.ctx.Mutate(ctx, func(o *inode.OnDisk) {
		o.Size = rec.Size
		o.Blocks = rec.Blocks
		o.MTime = ns.now()
	})
	return nil
}

// Fallocate implements fallocate as an eager EnsureMapped sweep over the
// requested logical range without writing data, so a subsequent write to
// any block in the range is guaranteed not to hit NoSpace (spec.md §3's
// supplemented MAX_FILE_SIZE-bound preallocation).
func (ns *Namespace) Fallocate(ctx context.Context, handle int, offset, length int64) error {
	ns.countOp(ctx, "fallocate")
	e, err := ns.requireFileEntry(handle)
	if err != nil {
		return err
	}
	if offset < 0 || length <= 0 {
		return nverr.Invalid.Withf(nil, "fallocate: bad range [%d,%d)", offset, offset+length)
	}
	addr := e.ctx.Addresser()
	if offset+length > addr.MaxFileSize() {
		return nverr.TooLarge.Withf(nil, "fallocate: range exceeds max file size %d", addr.MaxFileSize())
	}

	clusterSize := int64(ns.clusterSize)
	firstBlock := uint32(offset / clusterSize)
	lastBlock := uint32((offset + length - 1) / clusterSize)
	for l := firstBlock; l <= lastBlock; l++ {
		if _, err := e.ctx.EnsureBlock(ctx, l); err != nil {
			return err
		}
	}
	if newSize := offset + length; newSize > e.ctx.View().Size {
		e.ctx.Mutate(ctx, func(o *inode.OnDisk) { o.Size = newSize })
	}
	return nil
}

// Fsync implements fsync: flush every dirty buffer belonging to handle's
// inode, per spec.md §4.G.
func (ns *Namespace) Fsync(ctx context.Context, handle int) error {
	ns.countOp(ctx, "fsync")
	e, err := ns.requireFileEntry(handle)
	if err != nil {
		return err
	}
	return e.ctx.Sync(ctx)
}
