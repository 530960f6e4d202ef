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

// Package nvfs implements the path and namespace layer of spec.md §4.G:
// path resolution, the per-mount file table, and the create/unlink/rename/
// link/symlink/mkdir/rmdir family of operations built over internal/inode
// and internal/dirindex. It plays the role the teacher repository's fs
// package plays over fuseutil.FileSystem, minus the FUSE bridge itself.
package nvfs

import (
	"sync"

	"github.com/nvfuse/nvfuse/internal/inode"
	"github.com/nvfuse/nvfuse/internal/nverr"
)

// reservedFileTableSlots is the count of low file-table indices spec.md
// §4.G reserves (0-2) before ordinary opens begin handing out index 3.
const reservedFileTableSlots = 3

// fileEntry is one file-table slot: an open inode context plus the
// per-open cursor state spec.md §3 "File table entry" describes. A
// directory opened via Opendir uses the same slot space, with dir set and
// dirPos tracking the next readdir position instead of rwOffset.
type fileEntry struct {
	ctx      *inode.Context
	ino      uint32
	rwOffset int64
	flags    int
	dir      *dirHandle
	dirPos   int
	inUse    bool
}

// FileTable is the bounded, per-mount pool of open-file handles of spec.md
// §4.G: "beginning at index 3 (0-2 reserved). Open returns the first free
// index; close releases."
type FileTable struct {
	mu      sync.Mutex
	entries []fileEntry
}

// NewFileTable allocates a table sized maxOpenFiles, including the three
// reserved low slots, matching cfg.NamespaceConfig.MaxOpenFiles.
func NewFileTable(maxOpenFiles int) *FileTable {
	if maxOpenFiles < reservedFileTableSlots+1 {
		maxOpenFiles = reservedFileTableSlots + 1
	}
	return &FileTable{entries: make([]fileEntry, maxOpenFiles)}
}

// acquire installs ctx into the first free slot at or past index 3,
// returning its handle. It reports Busy if the table is exhausted.
func (t *FileTable) acquire(ctx *inode.Context, ino uint32, flags int) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := reservedFileTableSlots; i < len(t.entries); i++ {
		if !t.entries[i].inUse {
			t.entries[i] = fileEntry{ctx: ctx, ino: ino, flags: flags, inUse: true}
			return i, nil
		}
	}
	return -1, nverr.Busy.Withf(nil, "file table exhausted (%d slots)", len(t.entries))
}

// acquireDir installs an open directory handle into the first free slot,
// mirroring acquire for the opendir/readdir/closedir family.
func (t *FileTable) acquireDir(h *dirHandle) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := reservedFileTableSlots; i < len(t.entries); i++ {
		if !t.entries[i].inUse {
			t.entries[i] = fileEntry{dir: h, inUse: true}
			return i, nil
		}
	}
	return -1, nverr.Busy.Withf(nil, "file table exhausted (%d slots)", len(t.entries))
}

// releaseDirHandle clears handle's slot, returning the directory handle it
// held so the caller can close it outside the table's own lock.
func (t *FileTable) releaseDirHandle(handle int) (*dirHandle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if handle < reservedFileTableSlots || handle >= len(t.entries) || !t.entries[handle].inUse {
		return nil, nverr.Invalid.Withf(nil, "bad file handle %d", handle)
	}
	h := t.entries[handle].dir
	if h == nil {
		return nil, nverr.Invalid.Withf(nil, "handle %d is not a directory", handle)
	}
	t.entries[handle] = fileEntry{}
	return h, nil
}

func (t *FileTable) get(handle int) (*fileEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if handle < reservedFileTableSlots || handle >= len(t.entries) || !t.entries[handle].inUse {
		return nil, nverr.Invalid.Withf(nil, "bad file handle %d", handle)
	}
	return &t.entries[handle], nil
}

// release clears handle's slot, returning the context it held so the
// caller can close it (outside the table's own lock, since Context.Close
// may touch the cache). It rejects a handle that holds a directory rather
// than a file, leaving that slot untouched for Closedir to release instead.
func (t *FileTable) release(handle int) (*inode.Context, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if handle < reservedFileTableSlots || handle >= len(t.entries) || !t.entries[handle].inUse {
		return nil, nverr.Invalid.Withf(nil, "bad file handle %d", handle)
	}
	c := t.entries[handle].ctx
	if c == nil {
		return nil, nverr.Invalid.Withf(nil, "handle %d is not an open file", handle)
	}
	t.entries[handle] = fileEntry{}
	return c, nil
}
