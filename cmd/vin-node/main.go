// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Command vin-node runs the VIN confidential inference proxy: the x402
// payment gate, the confidential envelope pipeline, and the receipt
// engine, behind a single HTTP listener.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vin-protocol/vin/config"
	"github.com/vin-protocol/vin/health"
	"github.com/vin-protocol/vin/internal/logger"
	"github.com/vin-protocol/vin/internal/metrics"
	"github.com/vin-protocol/vin/keymanager"
	"github.com/vin-protocol/vin/server"
	"github.com/vin-protocol/vin/teeadapter"
)

var (
	configDir string
	keyPath   string
)

var rootCmd = &cobra.Command{
	Use:   "vin-node",
	Short: "VIN confidential inference proxy node",
	RunE:  runNode,
}

func main() {
	rootCmd.Flags().StringVar(&configDir, "config-dir", "config", "directory containing environment config files")
	rootCmd.Flags().StringVar(&keyPath, "key-path", "", "override the node's persisted key file path")
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "vin-node: %v\n", err)
		os.Exit(1)
	}
}

func runNode(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(config.LoaderOptions{ConfigDir: configDir})
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if keyPath != "" {
		cfg.KeyPath = keyPath
	}

	log := logger.GetDefaultLogger()
	log.Info("starting vin-node", logger.String("environment", cfg.Environment), logger.Int("port", cfg.Port))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tee := teeadapter.New(cfg.PlatformAgentURL)
	km, err := keymanager.Resolve(ctx, tee, cfg.KeyPath)
	if err != nil {
		return fmt.Errorf("resolve node identity: %w", err)
	}
	if km.Ephemeral() {
		log.Warn("node identity is ephemeral; node_pubkey will change on restart")
	}

	checker := health.NewHealthChecker(5 * time.Second)
	checker.RegisterCheck("keystore", health.KeyStoreHealthCheck(func() error {
		if len(km.SigningKey().Public) == 0 {
			return fmt.Errorf("signing key not loaded")
		}
		return nil
	}))
	checker.RegisterCheck("platform_agent", health.PlatformAgentHealthCheck(func(ctx context.Context) error {
		if cfg.PlatformAgentURL == "" {
			return nil
		}
		if !tee.Available(ctx) {
			return fmt.Errorf("platform agent unreachable at %s", cfg.PlatformAgentURL)
		}
		return nil
	}))

	srv := server.New(cfg, km, tee)

	checker.RegisterCheck("replay_cache", func(ctx context.Context) error {
		if n := srv.ReplayCacheLen(); n >= cfg.ReplayCacheMax {
			return fmt.Errorf("replay cache at capacity (%d/%d)", n, cfg.ReplayCacheMax)
		}
		return nil
	})
	checker.RegisterCheck("rate_limiter", func(ctx context.Context) error {
		_ = srv.RateLimiterBuckets()
		return nil
	})
	mux := srv.Mux()
	if cfg.Health.Enabled {
		mux.HandleFunc(healthzPath(cfg), func(w http.ResponseWriter, r *http.Request) {
			status := checker.GetOverallStatus(r.Context())
			code := http.StatusOK
			if status != health.StatusHealthy {
				code = http.StatusServiceUnavailable
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(code)
			fmt.Fprintf(w, `{"status":%q}`, status)
		})
	}

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      150 * time.Second, // outbound calls may take up to callDeadline
		IdleTimeout:       120 * time.Second,
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(metricsPath(cfg), metrics.Handler())
		metricsSrv = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler:           metricsMux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Info("metrics listening", logger.Int("port", cfg.Metrics.Port))
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server failed", logger.Error(err))
			}
		}()
	}

	go func() {
		log.Info("vin-node listening", logger.Int("port", cfg.Port))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server failed", logger.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", logger.Error(err))
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			log.Error("metrics server shutdown error", logger.Error(err))
		}
	}
	return nil
}

func healthzPath(cfg *config.Config) string {
	if cfg.Health.Path == "" {
		return "/healthz"
	}
	return cfg.Health.Path
}

func metricsPath(cfg *config.Config) string {
	if cfg.Metrics.Path == "" {
		return "/metrics"
	}
	return cfg.Metrics.Path
}
