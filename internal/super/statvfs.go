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

import "context"

// Stat is the result of Statvfs: the counters spec.md §4.H's statvfs
// surfaces to callers (e.g. `df`, FUSE's statfs).
type Stat struct {
	ClusterSizeBytes uint32
	TotalClusters    uint64
	FreeBlocks       uint64
	FreeInodes       uint64
	TotalInodes      uint64
	MountID          string
	Tenant           string
}

// Statvfs reports live capacity counters, reading them straight from the
// block group manager rather than the superblock snapshot so a caller sees
// the current state of a live mount, not the value as of the last
// checkpoint.
func (m *Mount) Statvfs(ctx context.Context) Stat {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Metrics != nil {
		m.Metrics.OpsCount(ctx, 1, "statvfs")
	}

	return Stat{
		ClusterSizeBytes: m.sb.ClusterSizeBytes,
		TotalClusters:    m.sb.TotalClusters,
		FreeBlocks:       m.Groups.TotalFreeBlocks(),
		FreeInodes:       m.Groups.TotalFreeInodes(),
		TotalInodes:      uint64(m.InodesPerGroup) * uint64(m.Groups.Count()),
		MountID:          m.sb.MountID.String(),
		Tenant:           m.sb.Tenant,
	}
}
