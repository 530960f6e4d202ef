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
)

var dfCmd = &cobra.Command{
	Use:   "df",
	Short: "Report free blocks and inodes for an already-formatted device",
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := block.Open(resolvedCfg.Device, resolvedCfg.Format.ClusterSizeBytes)
		if err != nil {
			return fmt.Errorf("open device: %w", err)
		}
		ctx := cmd.Context()
		if err := backend.Open(ctx); err != nil {
			return fmt.Errorf("open backend: %w", err)
		}
		defer backend.Close()

		mnt, err := super.Mount(ctx, backend, &resolvedCfg, clock.RealClock{}, nil)
		if err != nil {
			return fmt.Errorf("mount: %w", err)
		}
		defer super.Unmount(ctx, mnt)

		stat := mnt.Statvfs(ctx)
		fmt.Printf("tenant:          %s\n", stat.Tenant)
		fmt.Printf("mount id:        %s\n", stat.MountID)
		fmt.Printf("cluster size:    %d bytes\n", stat.ClusterSizeBytes)
		fmt.Printf("total clusters:  %d\n", stat.TotalClusters)
		fmt.Printf("free blocks:     %d\n", stat.FreeBlocks)
		fmt.Printf("total inodes:    %d\n", stat.TotalInodes)
		fmt.Printf("free inodes:     %d\n", stat.FreeInodes)
		return nil
	},
}
