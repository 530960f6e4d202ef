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

import (
	"fmt"
	"math/bits"
)

func isValidLogRotateConfig(config *LogRotateLoggingConfig) error {
	if config.MaxFileSizeMb <= 0 {
		return fmt.Errorf("max-file-size-mb should be atleast 1")
	}
	if config.BackupFileCount < 0 {
		return fmt.Errorf("backup-file-count should be 0 (to retain all backup files) or a positive value")
	}
	return nil
}

func isValidFormatConfig(c *FormatConfig) error {
	if c.ClusterSizeBytes <= 0 || bits.OnesCount(uint(c.ClusterSizeBytes)) != 1 {
		return fmt.Errorf("cluster-size-bytes must be a positive power of two, got %d", c.ClusterSizeBytes)
	}
	if c.BlocksPerGroup == 0 {
		return fmt.Errorf("blocks-per-group must be positive")
	}
	if c.InodesPerGroup == 0 {
		return fmt.Errorf("inodes-per-group must be positive")
	}
	return nil
}

func isValidCacheConfig(c *CacheConfig) error {
	if c.PoolClusters <= 0 {
		return fmt.Errorf("cache-pool-clusters must be positive")
	}
	if c.DirtyWatermarkPct <= 0 || c.DirtyWatermarkPct > 1 {
		return fmt.Errorf("dirty-watermark-pct must be in (0, 1], got %v", c.DirtyWatermarkPct)
	}
	if c.WriteBackRetryLimit < 0 {
		return fmt.Errorf("write-back-retry-limit cannot be negative")
	}
	return nil
}

func isValidAsyncConfig(c *AsyncConfig) error {
	if c.QueueDepth <= 0 || c.QueueDepth > 4096 {
		return fmt.Errorf("queue-depth must be in [1, 4096], got %d", c.QueueDepth)
	}
	if c.CompletionTimeout <= 0 {
		return fmt.Errorf("completion-timeout must be positive")
	}
	if c.SubmitRetryLimit < 0 {
		return fmt.Errorf("submit-retry-limit cannot be negative")
	}
	if c.SubmitRateHz < 0 {
		return fmt.Errorf("submit-rate-hz cannot be negative")
	}
	return nil
}

func isValidNamespaceConfig(c *NamespaceConfig) error {
	if c.MaxOpenFiles <= 0 {
		return fmt.Errorf("max-open-files must be positive")
	}
	if c.SymlinkMaxDepth <= 0 {
		return fmt.Errorf("symlink-max-depth must be positive")
	}
	return nil
}

func isValidDeviceConfig(c *DeviceConfig) error {
	if c.Kind != BackendMemory && c.Path == "" {
		return fmt.Errorf("device-path is required for device kind %q", c.Kind)
	}
	if c.Kind == BackendMemory && c.SizeBytes <= 0 {
		return fmt.Errorf("device-size-bytes must be positive for the memory backend")
	}
	return nil
}

// ValidateConfig returns a non-nil error if the config is invalid.
func ValidateConfig(config *Config) error {
	if err := isValidLogRotateConfig(&config.Logging.LogRotate); err != nil {
		return fmt.Errorf("error parsing log-rotate config: %w", err)
	}

	if err := isValidDeviceConfig(&config.Device); err != nil {
		return fmt.Errorf("error parsing device config: %w", err)
	}

	if err := isValidFormatConfig(&config.Format); err != nil {
		return fmt.Errorf("error parsing format config: %w", err)
	}

	if err := isValidCacheConfig(&config.Cache); err != nil {
		return fmt.Errorf("error parsing cache config: %w", err)
	}

	if err := isValidAsyncConfig(&config.Async); err != nil {
		return fmt.Errorf("error parsing async config: %w", err)
	}

	if err := isValidNamespaceConfig(&config.Namespace); err != nil {
		return fmt.Errorf("error parsing namespace config: %w", err)
	}

	return nil
}
