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

import "github.com/nvfuse/nvfuse/internal/inode"

// groupOverheadClusters is the fixed per-group metadata footprint ahead of
// a group's data table: descriptor, inode bitmap, data bitmap, inode table
// (spec.md §6 "Per BG: [descriptor][inode bitmap][data bitmap][inode
// table][data table]").
func groupOverheadClusters(inodesPerGroup uint32, clusterSize int) uint32 {
	return 3 + itableClusters(inodesPerGroup, clusterSize)
}

func itableClusters(inodesPerGroup uint32, clusterSize int) uint32 {
	perCluster := uint32(inode.PerClusterSlots(clusterSize))
	return (inodesPerGroup + perCluster - 1) / perCluster
}

// groupStride is the total cluster span of one block group, overhead plus
// its data table.
func groupStride(inodesPerGroup, blocksPerGroup uint32, clusterSize int) uint32 {
	return groupOverheadClusters(inodesPerGroup, clusterSize) + blocksPerGroup
}

// descriptorCluster returns the physical cluster holding block group gid's
// descriptor. Block group 0 starts immediately after the reserved cluster 0
// (spec.md §6).
func descriptorCluster(gid uint32, sb Superblock) uint64 {
	stride := groupStride(sb.InodesPerGroup, sb.BlocksPerGroup, int(sb.ClusterSizeBytes))
	return 1 + uint64(gid)*uint64(stride)
}
