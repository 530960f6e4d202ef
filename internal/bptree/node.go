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

// Package bptree implements the on-disk B+tree of spec.md §4.F: a tree
// living entirely in cluster-sized nodes reached through a pluggable
// ClusterStore, keyed on the 64-bit composite dirhash produces. The node
// layout is a flat key/value (or key/child) array per cluster, grounded on
// the teacher repository's preference for a small, explicit binary layout
// over a generic serialization library wherever an on-disk format is
// load-bearing (see the teacher's inode.Core and its fixed-field layout).
package bptree

import "encoding/binary"

const headerSize = 12

// entry is one (key, value-or-child) pair. For a leaf node, child is the
// directory-entry offset the key maps to. For an internal node, child is
// the physical cluster of the subtree holding keys >= key; the subtree for
// keys below every entry's key is the node's leftmost pointer.
type entry struct {
	key   uint64
	value uint64
}

const entrySize = 16

// node is the decoded in-memory form of one B+tree cluster.
type node struct {
	isLeaf   bool
	next     uint64 // leaf: sibling cluster (0 = none). internal: leftmost child.
	entries  []entry
	capacity int
}

func maxEntries(clusterSize int) int {
	return (clusterSize - headerSize) / entrySize
}

func newLeaf(clusterSize uint64) *node {
	return &node{isLeaf: true, capacity: maxEntries(int(clusterSize))}
}

func newInternal(clusterSize uint64, leftmost uint64) *node {
	return &node{isLeaf: false, next: leftmost, capacity: maxEntries(int(clusterSize))}
}

func decodeNode(buf []byte) *node {
	n := &node{
		isLeaf:   buf[0] != 0,
		next:     binary.LittleEndian.Uint64(buf[4:12]),
		capacity: maxEntries(len(buf)),
	}
	count := int(binary.LittleEndian.Uint16(buf[2:4]))
	n.entries = make([]entry, count)
	off := headerSize
	for i := 0; i < count; i++ {
		n.entries[i] = entry{
			key:   binary.LittleEndian.Uint64(buf[off : off+8]),
			value: binary.LittleEndian.Uint64(buf[off+8 : off+16]),
		}
		off += entrySize
	}
	return n
}

func (n *node) encode(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
	if n.isLeaf {
		buf[0] = 1
	}
	binary.LittleEndian.PutUint16(buf[2:4], uint16(len(n.entries)))
	binary.LittleEndian.PutUint64(buf[4:12], n.next)
	off := headerSize
	for _, e := range n.entries {
		binary.LittleEndian.PutUint64(buf[off:off+8], e.key)
		binary.LittleEndian.PutUint64(buf[off+8:off+16], e.value)
		off += entrySize
	}
}

func (n *node) full() bool {
	return len(n.entries) >= n.capacity
}

// search returns the index of the first entry whose key is >= key (the
// standard B+tree lower-bound search), and whether entries[idx].key == key
// exactly.
func (n *node) search(key uint64) (idx int, exact bool) {
	lo, hi := 0, len(n.entries)
	for lo < hi {
		mid := (lo + hi) / 2
		if n.entries[mid].key < key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, lo < len(n.entries) && n.entries[lo].key == key
}

// childFor returns the child cluster to descend into for key, valid only
// on internal nodes.
func (n *node) childFor(key uint64) uint64 {
	idx, exact := n.search(key)
	if exact {
		return n.entries[idx].value
	}
	if idx == 0 {
		return n.next
	}
	return n.entries[idx-1].value
}
