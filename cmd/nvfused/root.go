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

// Command nvfused implements the command-line surface: format, mount, df,
// and fsck, each driving internal/super and internal/nvfs the way the
// teacher repository's cmd package drives fs.NewServer and fuse.Mount.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nvfuse/nvfuse/cfg"
)

var (
	cfgFile      string
	bindErr      error
	unmarshalErr error
	resolvedCfg  cfg.Config
)

var rootCmd = &cobra.Command{
	Use:   "nvfused",
	Short: "Format, mount, and inspect an nvfuse block-backed filesystem",
	Long: `nvfused is the userspace driver for the nvfuse on-disk filesystem:
it formats a fresh device, mounts it and serves metadata and data
operations over the device's own block backend, reports free-space
statistics, and runs an offline consistency check.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		if unmarshalErr != nil {
			return unmarshalErr
		}
		return cfg.ValidateConfig(&resolvedCfg)
	},
}

// Execute runs the root command, exiting the process on failure the way
// the teacher's cmd.Execute does.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to a YAML config file.")
	bindErr = cfg.BindFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(formatCmd, mountCmd, dfCmd, fsckCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		viper.SetConfigType("yaml")
		if err := viper.ReadInConfig(); err != nil {
			unmarshalErr = fmt.Errorf("reading config file: %w", err)
			return
		}
	}
	unmarshalErr = viper.Unmarshal(&resolvedCfg)
}
