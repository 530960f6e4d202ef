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

package super

import (
	"context"

	"github.com/nvfuse/nvfuse/internal/nverr"
)

// Checkpoint implements spec.md §4.H's periodic/explicit sync point: flush
// every dirty buffer, write every group descriptor, refresh the
// superblock's free counters, and flush the backend. Unlike Unmount it
// leaves the superblock's Clean bit false — the mount is still live.
func Checkpoint(ctx context.Context, m *Mount) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.Cache.FlushAll(ctx); err != nil {
		return err
	}
	for gid := 0; gid < m.Groups.Count(); gid++ {
		desc, err := m.Groups.Group(uint32(gid))
		if err != nil {
			return err
		}
		dbuf := make([]byte, m.ClusterSize)
		desc.Encode(dbuf)
		cluster := descriptorCluster(uint32(gid), m.sb)
		if err := m.Backend.WriteClusters(ctx, cluster, dbuf); err != nil {
			return nverr.IoError.Withf(err, "checkpoint: write descriptor for group %d", gid)
		}
	}

	m.sb.FreeInodes = m.Groups.TotalFreeInodes()
	m.sb.FreeBlocks = m.Groups.TotalFreeBlocks()
	if err := m.writeSuperblockLocked(ctx); err != nil {
		return err
	}
	return m.Backend.Flush(ctx)
}
