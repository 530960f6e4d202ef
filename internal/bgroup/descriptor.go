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

// Package bgroup implements the block group manager of spec.md §4.D: the
// ordered, intrusive list of block-group descriptors a mount owns, plus the
// inode and data allocation cursors that rotate through it.
package bgroup

import "encoding/binary"

// DescriptorMagic is the BG descriptor signature of spec.md §6.
const DescriptorMagic uint32 = 0x709d2233

// Descriptor is the on-disk block-group descriptor header of spec.md §3:
// magic, owning tenant id, group id, the start/size of each subregion, and
// redundant free counters.
type Descriptor struct {
	Magic   uint32
	Tenant  uint32
	GroupID uint32

	InodeBitmapStart uint64
	DataBitmapStart  uint64
	InodeTableStart  uint64
	DataTableStart   uint64

	InodeTableClusters uint32
	DataTableClusters  uint32

	InodesTotal uint32
	BlocksTotal uint32

	FreeInodes uint32
	FreeBlocks uint32
}

// DescriptorSize is the encoded size of a Descriptor.
const DescriptorSize = 68

// Encode writes the descriptor into the first DescriptorSize bytes of buf.
func (d *Descriptor) Encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], d.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], d.Tenant)
	binary.LittleEndian.PutUint32(buf[8:12], d.GroupID)
	binary.LittleEndian.PutUint64(buf[12:20], d.InodeBitmapStart)
	binary.LittleEndian.PutUint64(buf[20:28], d.DataBitmapStart)
	binary.LittleEndian.PutUint64(buf[28:36], d.InodeTableStart)
	binary.LittleEndian.PutUint64(buf[36:44], d.DataTableStart)
	binary.LittleEndian.PutUint32(buf[44:48], d.InodeTableClusters)
	binary.LittleEndian.PutUint32(buf[48:52], d.DataTableClusters)
	binary.LittleEndian.PutUint32(buf[52:56], d.InodesTotal)
	binary.LittleEndian.PutUint32(buf[56:60], d.BlocksTotal)
	binary.LittleEndian.PutUint32(buf[60:64], d.FreeInodes)
	binary.LittleEndian.PutUint32(buf[64:68], d.FreeBlocks)
}

// DecodeDescriptor parses a Descriptor out of buf.
func DecodeDescriptor(buf []byte) Descriptor {
	return Descriptor{
		Magic:              binary.LittleEndian.Uint32(buf[0:4]),
		Tenant:             binary.LittleEndian.Uint32(buf[4:8]),
		GroupID:            binary.LittleEndian.Uint32(buf[8:12]),
		InodeBitmapStart:   binary.LittleEndian.Uint64(buf[12:20]),
		DataBitmapStart:    binary.LittleEndian.Uint64(buf[20:28]),
		InodeTableStart:    binary.LittleEndian.Uint64(buf[28:36]),
		DataTableStart:     binary.LittleEndian.Uint64(buf[36:44]),
		InodeTableClusters: binary.LittleEndian.Uint32(buf[44:48]),
		DataTableClusters:  binary.LittleEndian.Uint32(buf[48:52]),
		InodesTotal:        binary.LittleEndian.Uint32(buf[52:56]),
		BlocksTotal:        binary.LittleEndian.Uint32(buf[56:60]),
		FreeInodes:         binary.LittleEndian.Uint32(buf[60:64]),
		FreeBlocks:         binary.LittleEndian.Uint32(buf[64:68]),
	}
}
