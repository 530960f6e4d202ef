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

// GetDefaultLoggingConfig returns the default configuration that is to be
// used during application startup, before the provided configuration has
// been parsed.
func GetDefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Severity: InfoLogSeverity,
		LogRotate: LogRotateLoggingConfig{
			BackupFileCount: 10,
			Compress:        true,
			MaxFileSizeMb:   512,
		},
	}
}

// GetDefaultFormatConfig returns the layout parameters format uses when the
// caller gives none explicitly.
func GetDefaultFormatConfig() FormatConfig {
	return FormatConfig{
		ClusterSizeBytes: DefaultClusterSizeBytes,
		BlocksPerGroup:   DefaultBlocksPerGroup,
		InodesPerGroup:   DefaultInodesPerGroup,
	}
}

// GetDefaultCacheConfig returns the buffer cache defaults.
func GetDefaultCacheConfig() CacheConfig {
	return CacheConfig{
		PoolClusters:        DefaultCachePoolClusters,
		DirtyWatermarkPct:   DefaultDirtyWatermarkPct,
		WriteBackRetryLimit: DefaultWriteBackRetryLimit,
	}
}

// GetDefaultAsyncConfig returns the async I/O path defaults.
func GetDefaultAsyncConfig() AsyncConfig {
	return AsyncConfig{
		QueueDepth:        DefaultQueueDepth,
		CompletionTimeout: DefaultCompletionTimeout,
		SubmitRetryLimit:  DefaultSubmitRetryLimit,
	}
}

// GetDefaultNamespaceConfig returns the path/namespace layer defaults.
func GetDefaultNamespaceConfig() NamespaceConfig {
	return NamespaceConfig{
		MaxOpenFiles:    DefaultMaxOpenFiles,
		SymlinkMaxDepth: DefaultSymlinkMaxDepth,
	}
}
