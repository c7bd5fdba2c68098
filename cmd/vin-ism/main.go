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

// Command vin-ism runs the Input Sanitization Module as a standalone
// service: it attests raw inputs from approved non-human sources and
// exposes a stateless verify endpoint, independent of the confidential
// inference proxy.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vin-protocol/vin/internal/logger"
	"github.com/vin-protocol/vin/internal/metrics"
	"github.com/vin-protocol/vin/ism"
	"github.com/vin-protocol/vin/keymanager"
	"github.com/vin-protocol/vin/teeadapter"
)

var (
	ismID       string
	keyPath     string
	sourcesPath string
	port        int
)

var rootCmd = &cobra.Command{
	Use:   "vin-ism",
	Short: "VIN Input Sanitization Module service",
	RunE:  runISM,
}

func main() {
	rootCmd.Flags().StringVar(&ismID, "id", "ism-1", "identifier this instance signs attestations as")
	rootCmd.Flags().StringVar(&keyPath, "key-path", "", "persisted signing key file; empty generates an ephemeral key")
	rootCmd.Flags().StringVar(&sourcesPath, "sources", "", "JSON file listing approved input sources")
	rootCmd.Flags().IntVar(&port, "port", 8090, "HTTP listen port")
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "vin-ism: %v\n", err)
		os.Exit(1)
	}
}

func runISM(cmd *cobra.Command, args []string) error {
	log := logger.GetDefaultLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	km, err := keymanager.Resolve(ctx, teeadapter.New(""), keyPath)
	if err != nil {
		return fmt.Errorf("resolve signing identity: %w", err)
	}

	sources, err := loadSources(sourcesPath)
	if err != nil {
		return fmt.Errorf("load approved sources: %w", err)
	}
	log.Info("vin-ism starting", logger.String("id", ismID), logger.Int("approved_sources", len(sources)))

	module := ism.New(ismID, km.SigningKey(), sources)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/attest", handleAttest(module))
	mux.HandleFunc("/v1/verify", handleVerify())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	go func() {
		log.Info("vin-ism listening", logger.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server failed", logger.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func loadSources(path string) ([]ism.ApprovedSource, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sources []ism.ApprovedSource
	if err := json.Unmarshal(data, &sources); err != nil {
		return nil, fmt.Errorf("parse sources file: %w", err)
	}
	return sources, nil
}

func handleAttest(module *ism.Module) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var raw ism.RawInput
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_payload"})
			return
		}

		att, err := module.Attest(raw)
		if err != nil {
			status := http.StatusForbidden
			switch err {
			case ism.ErrInputTooLarge:
				status = http.StatusRequestEntityTooLarge
				metrics.ISMEvents.WithLabelValues("rejected_too_large").Inc()
			case ism.ErrClockError:
				status = http.StatusInternalServerError
				metrics.ISMEvents.WithLabelValues("rejected_clock_error").Inc()
			default:
				metrics.ISMEvents.WithLabelValues("rejected").Inc()
			}
			writeJSON(w, status, map[string]string{"error": err.Error()})
			return
		}
		metrics.ISMEvents.WithLabelValues("accepted").Inc()
		writeJSON(w, http.StatusOK, att)
	}
}

func handleVerify() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Attestation     ism.InputAttestation `json:"attestation"`
			NowMS           int64                `json:"now_ms"`
			MaxClockDriftMS int64                `json:"max_clock_drift_ms"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_payload"})
			return
		}
		now := body.NowMS
		if now == 0 {
			now = time.Now().UnixMilli()
		}
		if err := ism.Verify(&body.Attestation, now, body.MaxClockDriftMS); err != nil {
			writeJSON(w, http.StatusOK, map[string]interface{}{"valid": false, "reason": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"valid": true})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
