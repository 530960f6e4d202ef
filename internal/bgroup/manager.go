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

import (
	"fmt"

	"github.com/jacobsa/syncutil"

	"github.com/nvfuse/nvfuse/internal/nverr"
)

// Manager holds the ordered, intrusive list of block-group descriptors a
// mount currently owns, plus the rotating inode and data allocation
// cursors spec.md §4.D describes. A multi-tenant deployment would extend
// this with RequestGroup/RelinquishGroup calls to an external coordinator;
// single-tenant mounts (the only kind this implementation drives) treat
// the group list as fixed at mount time.
type Manager struct {
	// Mu must be held across any method that touches groups or the
	// cursors below it.
	Mu syncutil.InvariantMutex

	// GUARDED_BY(Mu)
	groups []*Descriptor

	// GUARDED_BY(Mu)
	inodeCursor int
	// GUARDED_BY(Mu)
	dataCursor int
}

// NewManager wraps an already-decoded, ordered slice of descriptors (as
// produced by format or read back at mount).
func NewManager(groups []*Descriptor) *Manager {
	m := &Manager{groups: groups}
	m.Mu = syncutil.NewInvariantMutex(m.checkInvariants)
	return m
}

func (m *Manager) checkInvariants() {
	for i, g := range m.groups {
		if g.GroupID != uint32(i) {
			panic(fmt.Sprintf("block group at slot %d has id %d", i, g.GroupID))
		}
		if g.Magic != DescriptorMagic {
			panic(fmt.Sprintf("block group %d has bad magic %x", g.GroupID, g.Magic))
		}
	}
}

// Count returns the number of block groups the mount owns.
func (m *Manager) Count() int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return len(m.groups)
}

// Group returns the descriptor for groupID, or an error if it is out of
// range.
func (m *Manager) Group(groupID uint32) (*Descriptor, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if int(groupID) >= len(m.groups) {
		return nil, nverr.Invalid.Withf(nil, "block group %d does not exist", groupID)
	}
	return m.groups[groupID], nil
}

// All returns every descriptor, in group-id order. Callers must not mutate
// the returned slice's contents without holding Mu.
func (m *Manager) All() []*Descriptor {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	out := make([]*Descriptor, len(m.groups))
	copy(out, m.groups)
	return out
}

// NextDataGroup advances the data allocation cursor and returns the group
// it now points to, wrapping around the list. The allocator does not use
// this cursor: AllocateBlocks walks the groups by id from its hint group.
func (m *Manager) NextDataGroup() *Descriptor {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.dataCursor = (m.dataCursor + 1) % len(m.groups)
	return m.groups[m.dataCursor]
}

// NextInodeGroup advances the inode allocation cursor analogously.
func (m *Manager) NextInodeGroup() *Descriptor {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.inodeCursor = (m.inodeCursor + 1) % len(m.groups)
	return m.groups[m.inodeCursor]
}

// DataCursorGroup returns the descriptor the data cursor currently points
// to without advancing it.
func (m *Manager) DataCursorGroup() *Descriptor {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return m.groups[m.dataCursor]
}

// InodeCursorGroup returns the descriptor the inode cursor currently
// points to without advancing it.
func (m *Manager) InodeCursorGroup() *Descriptor {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return m.groups[m.inodeCursor]
}

// TotalFreeBlocks sums bd_free_blocks across every group, the authoritative
// check for superblock.free_blocks (spec.md §3 invariant).
func (m *Manager) TotalFreeBlocks() uint64 {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	var total uint64
	for _, g := range m.groups {
		total += uint64(g.FreeBlocks)
	}
	return total
}

// TotalFreeInodes sums bd_free_inodes across every group.
func (m *Manager) TotalFreeInodes() uint64 {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	var total uint64
	for _, g := range m.groups {
		total += uint64(g.FreeInodes)
	}
	return total
}
