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

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvfuse/nvfuse/clock"
	"github.com/nvfuse/nvfuse/internal/block"
	"github.com/nvfuse/nvfuse/internal/super"
	"github.com/nvfuse/nvfuse/logger"
)

var formatCmd = &cobra.Command{
	Use:   "format",
	Short: "Write a fresh superblock, block groups, and root directory to the device",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := logger.Init(resolvedCfg.Logging, "text"); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		defer logger.Close()

		backend, err := block.Open(resolvedCfg.Device, resolvedCfg.Format.ClusterSizeBytes)
		if err != nil {
			return fmt.Errorf("open device: %w", err)
		}
		ctx := cmd.Context()
		if err := backend.Open(ctx); err != nil {
			return fmt.Errorf("open backend: %w", err)
		}
		defer backend.Close()

		sb, err := super.Format(ctx, backend, &resolvedCfg, clock.RealClock{})
		if err != nil {
			return fmt.Errorf("format: %w", err)
		}
		logger.Infof("format: wrote superblock, mount id %s, %d groups, root inode %d", sb.MountID, sb.GroupCount, sb.RootIno)
		fmt.Printf("formatted %s: %d groups, cluster size %d bytes, root inode %d\n",
			resolvedCfg.Device.Path, sb.GroupCount, sb.ClusterSizeBytes, sb.RootIno)
		return nil
	},
}
