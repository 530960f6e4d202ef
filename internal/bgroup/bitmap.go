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

package bgroup

import "math/bits"

// Bitmap is a flat bit vector over a block group's inode or data bitmap
// cluster. One clear bit means free; one set bit means allocated.
type Bitmap []byte

// Test reports whether bit i is set.
func (b Bitmap) Test(i uint32) bool {
	return b[i/8]&(1<<(i%8)) != 0
}

// Set marks bit i allocated.
func (b Bitmap) Set(i uint32) {
	b[i/8] |= 1 << (i % 8)
}

// Clear marks bit i free. Clearing an already-clear bit is the caller's
// bug to catch (spec.md §4.C: "freeing an already-free bit is fatal").
func (b Bitmap) Clear(i uint32) {
	b[i/8] &^= 1 << (i % 8)
}

// CountClear returns the number of clear bits across the whole slice,
// including any bits past a group's inode or block total.
func (b Bitmap) CountClear() uint32 {
	var free uint32
	for _, byt := range b {
		free += uint32(8 - bits.OnesCount8(byt))
	}
	return free
}

// FirstClear returns the index of the first clear bit at or after start,
// wrapping once to the beginning. ok is false if every bit is set.
func (b Bitmap) FirstClear(start uint32) (idx uint32, ok bool) {
	total := uint32(len(b) * 8)
	if total == 0 {
		return 0, false
	}
	for i := uint32(0); i < total; i++ {
		pos := (start + i) % total
		if !b.Test(pos) {
			return pos, true
		}
	}
	return 0, false
}

// LongestRunFrom finds the longest contiguous run of clear bits starting
// at exactly `start`, capped at `max` bits; it does not wrap. Used by the
// block allocator's hint search (spec.md §4.C step 1).
func (b Bitmap) LongestRunFrom(start uint32, max uint32) uint32 {
	total := uint32(len(b) * 8)
	var run uint32
	for i := start; i < total && run < max; i++ {
		if b.Test(i) {
			break
		}
		run++
	}
	return run
}
