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

// Attr is the stat-like view of an inode's metadata getattr returns.
type Attr struct {
	Ino        uint32
	Type       inode.Type
	Mode       uint16
	UID, GID   uint16
	LinksCount uint16
	Size       int64
	ATime      uint32
	CTime      uint32
	MTime      uint32
}

func attrFromRecord(rec inode.OnDisk) Attr {
	return Attr{
		Ino: rec.Ino, Type: rec.Type, Mode: rec.Mode, UID: rec.UID, GID: rec.GID,
		LinksCount: rec.LinksCount, Size: rec.Size, ATime: rec.ATime, CTime: rec.CTime, MTime: rec.MTime,
	}
}

// Getattr resolves path (following a trailing symlink) and returns its
// attributes.
func (ns *Namespace) Getattr(ctx context.Context, path string) (Attr, error) {
	ns.countOp(ctx, "getattr")
	ino, err := ns.Resolve(ctx, path)
	if err != nil {
		return Attr{}, err
	}
	rec, err := ns.statInode(ctx, ino)
	if err != nil {
		return Attr{}, err
	}
	return attrFromRecord(rec), nil
}

// Chmod changes path's permission bits.
func (ns *Namespace) Chmod(ctx context.Context, path string, mode uint16) error {
	ns.countOp(ctx, "chmod")
	ino, err := ns.Resolve(ctx, path)
	if err != nil {
		return err
	}
	c, err := ns.openInode(ctx, ino)
	if err != nil {
		return err
	}
	defer c.Close(ctx)
	c.Mutate(ctx, func(o *inode.OnDisk) {
		o.Mode = mode
		o.CTime = ns.now()
	})
	return nil
}

// Access mode bits, matching the usual POSIX R_OK/W_OK/X_OK convention.
const (
	AccessRead    = 0x4
	AccessWrite   = 0x2
	AccessExecute = 0x1
)

// Access implements a simple owner/mode check: it does not model multiple
// uid/gid callers (the mount model in spec.md §5 is single-threaded and
// single-tenant), so it checks the mode's owner bits against want.
func (ns *Namespace) Access(ctx context.Context, path string, want int) error {
	ns.countOp(ctx, "access")
	ino, err := ns.Resolve(ctx, path)
	if err != nil {
		return err
	}
	rec, err := ns.statInode(ctx, ino)
	if err != nil {
		return err
	}
	ownerBits := int((rec.Mode >> 6) & 0x7)
	if ownerBits&want != want {
		return nverr.Invalid.Withf(nil, "access %q: permission denied", path)
	}
	return nil
}
