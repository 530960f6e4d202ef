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

package cfg

import "time"

const (
	// DefaultClusterSizeBytes is the on-disk cluster size used by format
	// when none is given. 4 KiB matches the host page size on the
	// platforms spec.md §4.A targets.
	DefaultClusterSizeBytes = 4096

	DefaultBlocksPerGroup uint32 = 8192

	DefaultInodesPerGroup uint32 = 2048
)

const (
	DefaultCachePoolClusters = 4096

	DefaultDirtyWatermarkPct = 0.25

	DefaultWriteBackRetryLimit = 3
)

const (
	DefaultQueueDepth = 128

	DefaultCompletionTimeout = 30 * time.Second

	DefaultSubmitRetryLimit = 3
)

const (
	DefaultMaxOpenFiles = 1024

	DefaultSymlinkMaxDepth = 8
)
