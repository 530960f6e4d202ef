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
	"bytes"
	"context"
	"encoding/binary"

	"github.com/nvfuse/nvfuse/internal/cache"
	"github.com/nvfuse/nvfuse/internal/nverr"
)

// Directory-entry flags (spec.md §4.E "Directory operations on inode").
const (
	EntryEmpty   uint32 = 0
	EntryUsed    uint32 = 1
	EntryDeleted uint32 = 2
)

// MaxNameLen is the longest filename a directory entry can hold: the
// 116-byte filename field always carries a NUL terminator (spec.md §3), so
// only 115 bytes are usable for the name itself.
const MaxNameLen = 115

// DirEntrySize is the fixed on-disk size of one directory entry: 4 bytes
// each for ino/flag/version, plus a 116-byte filename field.
const DirEntrySize = 128

// DirEntry is one slot of a directory's data (spec.md §4.F companion
// layout), grounded on original_source's struct nvfuse_dir_entry.
type DirEntry struct {
	Ino     uint32
	Flag    uint32
	Version uint32
	Name    string
}

func decodeDirEntry(buf []byte) DirEntry {
	var e DirEntry
	e.Ino = binary.LittleEndian.Uint32(buf[0:4])
	e.Flag = binary.LittleEndian.Uint32(buf[4:8])
	e.Version = binary.LittleEndian.Uint32(buf[8:12])
	name := buf[12:DirEntrySize]
	if nul := bytes.IndexByte(name, 0); nul >= 0 {
		name = name[:nul]
	}
	e.Name = string(name)
	return e
}

func (e DirEntry) encode(buf []byte) {
	for i := range buf[:DirEntrySize] {
		buf[i] = 0
	}
	binary.LittleEndian.PutUint32(buf[0:4], e.Ino)
	binary.LittleEndian.PutUint32(buf[4:8], e.Flag)
	binary.LittleEndian.PutUint32(buf[8:12], e.Version)
	copy(buf[12:DirEntrySize], e.Name)
}

// EntriesPerCluster returns how many directory-entry slots fit in one
// cluster.
func EntriesPerCluster(clusterSize int) int {
	return clusterSize / DirEntrySize
}

// dirClusterResolver resolves the physical cluster backing logical
// directory block l, consulting the live inode record each time so a
// freshly allocated cluster is visible to the write-back path without
// re-threading a pointer through every caller.
func dirClusterResolver(addr *Addresser, in *OnDisk, l uint32) cache.Resolver {
	return func(ctx context.Context) (uint64, error) {
		phys, err := addr.GetPhysical(ctx, in, l)
		return uint64(phys), err
	}
}

func (a *Addresser) getDirCluster(ctx context.Context, ino uint32, in *OnDisk, l uint32) (*cache.BufferHead, error) {
	return a.cache.Get(ctx, cache.Key{Ino: ino, Block: uint64(l)}, dirClusterResolver(a, in, l))
}

// entryAt reads the directory-entry slot at a flat index counted across
// every logical block of the directory's data (block*entriesPerCluster +
// offset within block).
func (a *Addresser) entryAt(ctx context.Context, ino uint32, in *OnDisk, globalSlot uint32) (DirEntry, *cache.BufferHead, int, error) {
	perCluster := uint32(EntriesPerCluster(a.clusterSize))
	l := globalSlot / perCluster
	localOff := int(globalSlot%perCluster) * DirEntrySize

	bh, err := a.getDirCluster(ctx, ino, in, l)
	if err != nil {
		return DirEntry{}, nil, 0, err
	}
	return decodeDirEntry(bh.Data[localOff : localOff+DirEntrySize]), bh, localOff, nil
}

// CreateEntry implements spec.md §4.E's directory-entry creation: scan
// existing slots for one that is empty or deleted and reuse it; if none is
// free, extend the directory by one cluster and use its first slot. It
// never compacts or reorders existing entries.
func (a *Addresser) CreateEntry(ctx context.Context, ino uint32, in *OnDisk, hintGroup uint32, name string, childIno uint32) error {
	if len(name) > MaxNameLen {
		return nverr.Invalid.Withf(nil, "filename %q exceeds %d bytes", name, MaxNameLen)
	}

	perCluster := uint32(EntriesPerCluster(a.clusterSize))
	total := blockCount(in.Size, a.clusterSize) * perCluster

	for slot := uint32(0); slot < total; slot++ {
		e, bh, off, err := a.entryAt(ctx, ino, in, slot)
		if err != nil {
			return err
		}
		if e.Flag == EntryUsed && e.Name == name {
			a.cache.Put(ctx, bh, false)
			return nverr.Exists.Withf(nil, "directory entry %q already exists", name)
		}
		if e.Flag != EntryEmpty && e.Flag != EntryDeleted {
			a.cache.Put(ctx, bh, false)
			continue
		}
		ne := DirEntry{Ino: childIno, Flag: EntryUsed, Version: e.Version + 1, Name: name}
		ne.encode(bh.Data[off : off+DirEntrySize])
		a.cache.Put(ctx, bh, true)
		in.Ptr = slot + 1
		return nil
	}

	// No free slot anywhere; verify every existing name first (the loop
	// above already did), then grow the directory by one cluster.
	l := blockCount(in.Size, a.clusterSize)
	if _, err := a.EnsureMapped(ctx, in, l, hintGroup); err != nil {
		return err
	}
	in.Size = int64(l+1) * int64(a.clusterSize)

	slot := l * perCluster
	_, bh, off, err := a.entryAt(ctx, ino, in, slot)
	if err != nil {
		return err
	}
	ne := DirEntry{Ino: childIno, Flag: EntryUsed, Version: 1, Name: name}
	ne.encode(bh.Data[off : off+DirEntrySize])
	a.cache.Put(ctx, bh, true)
	in.Ptr = slot + 1
	return nil
}

// LookupEntry linearly scans a directory's data for name, returning the
// child inode number it names. The namespace layer looks names up through
// the hash index in internal/dirindex for every directory; this scan reads
// the entry array that index is built against.
func (a *Addresser) LookupEntry(ctx context.Context, ino uint32, in *OnDisk, name string) (uint32, bool, error) {
	perCluster := uint32(EntriesPerCluster(a.clusterSize))
	total := blockCount(in.Size, a.clusterSize) * perCluster

	for slot := uint32(0); slot < total; slot++ {
		e, bh, _, err := a.entryAt(ctx, ino, in, slot)
		if err != nil {
			return 0, false, err
		}
		a.cache.Put(ctx, bh, false)
		if e.Flag == EntryUsed && e.Name == name {
			return e.Ino, true, nil
		}
	}
	return 0, false, nil
}

// DeleteEntry flips the slot holding name to EntryDeleted without
// compacting the directory; the slot is recycled by a later CreateEntry
// scan (spec.md §4.E).
func (a *Addresser) DeleteEntry(ctx context.Context, ino uint32, in *OnDisk, name string) (bool, error) {
	perCluster := uint32(EntriesPerCluster(a.clusterSize))
	total := blockCount(in.Size, a.clusterSize) * perCluster

	for slot := uint32(0); slot < total; slot++ {
		e, bh, off, err := a.entryAt(ctx, ino, in, slot)
		if err != nil {
			return false, err
		}
		if e.Flag != EntryUsed || e.Name != name {
			a.cache.Put(ctx, bh, false)
			continue
		}
		binary.LittleEndian.PutUint32(bh.Data[off+4:off+8], EntryDeleted)
		a.cache.Put(ctx, bh, true)
		return true, nil
	}
	return false, nil
}

// EntryAtOffset reads the directory-entry slot at globalSlot, releasing its
// buffer before returning. It exists for internal/dirindex's collision
// resolution, which must verify a B+tree candidate's offset names the same
// file byte-for-byte (spec.md §4.F "Lookup": "verify by reading the
// directory entry and comparing filename byte-for-byte").
func (a *Addresser) EntryAtOffset(ctx context.Context, ino uint32, in *OnDisk, globalSlot uint32) (DirEntry, error) {
	e, bh, _, err := a.entryAt(ctx, ino, in, globalSlot)
	if err != nil {
		return DirEntry{}, err
	}
	a.cache.Put(ctx, bh, false)
	return e, nil
}

// ListEntries returns every currently-used entry, in on-disk slot order,
// for readdir.
func (a *Addresser) ListEntries(ctx context.Context, ino uint32, in *OnDisk) ([]DirEntry, error) {
	perCluster := uint32(EntriesPerCluster(a.clusterSize))
	total := blockCount(in.Size, a.clusterSize) * perCluster

	var out []DirEntry
	for slot := uint32(0); slot < total; slot++ {
		e, bh, _, err := a.entryAt(ctx, ino, in, slot)
		if err != nil {
			return nil, err
		}
		a.cache.Put(ctx, bh, false)
		if e.Flag == EntryUsed {
			out = append(out, e)
		}
	}
	return out, nil
}
