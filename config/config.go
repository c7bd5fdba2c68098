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

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return nil, fmt.Errorf("failed to parse config file (tried YAML and JSON): %w", err)
		}
	}

	setDefaults(cfg)

	return cfg, nil
}

// SaveToFile saves configuration to a file, choosing format by extension.
func SaveToFile(cfg *Config, path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".json") {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setDefaults fills every unset field with its documented default.
func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.Port == 0 {
		cfg.Port = 3402
	}
	if cfg.Payment.Network == "" {
		cfg.Payment.Network = "eip155:8453"
	}
	if cfg.Payment.PriceAmount == "" {
		cfg.Payment.PriceAmount = "10000"
	}
	if cfg.MaxInputSize == 0 {
		cfg.MaxInputSize = 1 << 20 // 1 MB
	}
	if cfg.ReplayCacheMax == 0 {
		cfg.ReplayCacheMax = 10000
	}
	if cfg.ReceiptValiditySeconds == 0 {
		cfg.ReceiptValiditySeconds = int64((10 * time.Minute).Seconds())
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 100
	}
	if cfg.RateLimit.PerSecond == 0 {
		cfg.RateLimit.PerSecond = 10
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Health.Path == "" {
		cfg.Health.Path = "/healthz"
	}
}

// ValidationIssue describes a single configuration problem.
type ValidationIssue struct {
	Field   string
	Message string
	Level   string // "error" or "warning"
}

// ValidateConfiguration checks a Config for internally inconsistent or
// unsafe values. Only "error"-level issues block Load.
func ValidateConfiguration(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	if cfg.Port <= 0 || cfg.Port > 65535 {
		issues = append(issues, ValidationIssue{Field: "port", Message: "must be between 1 and 65535", Level: "error"})
	}
	if cfg.MaxInputSize <= 0 {
		issues = append(issues, ValidationIssue{Field: "max_input_size", Message: "must be positive", Level: "error"})
	}
	if cfg.ReplayCacheMax <= 0 {
		issues = append(issues, ValidationIssue{Field: "replay_cache_max", Message: "must be positive", Level: "error"})
	}
	if cfg.ReceiptValiditySeconds <= 0 {
		issues = append(issues, ValidationIssue{Field: "receipt_validity_seconds", Message: "must be positive", Level: "error"})
	}
	if cfg.RateLimit.Burst <= 0 {
		issues = append(issues, ValidationIssue{Field: "rate_limit.burst", Message: "must be positive", Level: "error"})
	}
	if cfg.RateLimit.PerSecond <= 0 {
		issues = append(issues, ValidationIssue{Field: "rate_limit.per_second", Message: "must be positive", Level: "error"})
	}
	if !cfg.TestMode && cfg.Payment.PayTo == "" {
		issues = append(issues, ValidationIssue{Field: "payment.pay_to", Message: "unset outside test_mode, all paid requests will 402 forever", Level: "warning"})
	}
	if cfg.AllowLegacy {
		issues = append(issues, ValidationIssue{Field: "allow_legacy", Message: "non-encrypted request branch enabled", Level: "warning"})
	}

	return issues
}
