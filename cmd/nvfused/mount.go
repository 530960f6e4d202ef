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
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/nvfuse/nvfuse/clock"
	"github.com/nvfuse/nvfuse/internal/block"
	"github.com/nvfuse/nvfuse/internal/nvfs"
	"github.com/nvfuse/nvfuse/internal/super"
	"github.com/nvfuse/nvfuse/logger"
	"github.com/nvfuse/nvfuse/metrics"
)

var metricsAddr string

var mountCmd = &cobra.Command{
	Use:   "mount",
	Short: "Mount the device and serve metrics until interrupted",
	Long: `mount opens the device's block backend, mounts the superblock and
block groups, and installs the path/namespace layer over them. It holds the
mount open and serves a Prometheus /metrics endpoint until interrupted,
then unmounts cleanly. There is no FUSE bridge here: this surface is the
namespace layer a bridge would sit on top of.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := logger.Init(resolvedCfg.Logging, "text"); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		defer logger.Close()

		registry := prometheus.NewRegistry()
		shutdownMetrics, err := metrics.Init(registry)
		if err != nil {
			return fmt.Errorf("init metrics: %w", err)
		}
		metricHandle, err := metrics.NewOTelMetrics()
		if err != nil {
			return fmt.Errorf("new metrics instruments: %w", err)
		}

		backend, err := block.Open(resolvedCfg.Device, resolvedCfg.Format.ClusterSizeBytes)
		if err != nil {
			return fmt.Errorf("open device: %w", err)
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := backend.Open(ctx); err != nil {
			return fmt.Errorf("open backend: %w", err)
		}
		defer backend.Close()

		mnt, err := super.Mount(ctx, backend, &resolvedCfg, clock.RealClock{}, metricHandle)
		if err != nil {
			return fmt.Errorf("mount: %w", err)
		}
		ns := nvfs.New(mnt, resolvedCfg.Namespace)
		logger.Infof("mount: root inode %d, serving metrics on %s", ns.RootIno(), metricsAddr)

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		server := &http.Server{Addr: metricsAddr, Handler: mux}
		serveErr := make(chan error, 1)
		go func() { serveErr <- server.ListenAndServe() }()

		select {
		case <-ctx.Done():
			logger.Infof("mount: received shutdown signal, unmounting")
		case err := <-serveErr:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorf("mount: metrics server: %v", err)
			}
		}

		shutdownCtx := context.Background()
		_ = server.Shutdown(shutdownCtx)
		_ = shutdownMetrics(shutdownCtx)
		return super.Unmount(shutdownCtx, mnt)
	},
}

func init() {
	mountCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "Address to serve the Prometheus /metrics endpoint on.")
}
