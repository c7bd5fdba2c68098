// Package config provides configuration management for the vin node.
package config

import (
	"time"
)

// Config represents the complete runtime configuration of a vin node.
// Every field has a documented default applied by setDefaults so a zero
// Config is always safe to use.
type Config struct {
	Environment string `yaml:"environment" json:"environment"`

	// Port is the TCP port the HTTP listener binds to.
	Port int `yaml:"port" json:"port"`

	// KeyPath persists the node's Ed25519 signing key across restarts.
	// Empty means the key is generated fresh on each start (ephemeral).
	KeyPath string `yaml:"key_path" json:"key_path"`

	// TestMode enables the ?paid=true admission bypass used in integration
	// tests and local development. Never set in production.
	TestMode bool `yaml:"test_mode" json:"test_mode"`

	// AllowLegacy governs bodies that carry the non-encrypted request
	// branch instead of an encrypted_payload. Disabled (the default), such
	// bodies are rejected as legacy_mode_disabled; enabled, they are
	// rejected as invalid_payload, as no legacy admission path exists.
	AllowLegacy bool `yaml:"allow_legacy" json:"allow_legacy"`

	Payment PaymentConfig `yaml:"payment" json:"payment"`

	PlatformAgentURL string `yaml:"platform_agent_url" json:"platform_agent_url"`

	MaxInputSize int `yaml:"max_input_size" json:"max_input_size"`

	ReplayCacheMax int `yaml:"replay_cache_max" json:"replay_cache_max"`

	ReceiptValiditySeconds int64 `yaml:"receipt_validity_seconds" json:"receipt_validity_seconds"`

	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	Logging LoggingConfig `yaml:"logging" json:"logging"`

	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`

	Health HealthConfig `yaml:"health" json:"health"`
}

// PaymentConfig describes the x402 PaymentRequirements the node advertises
// on its 402 challenges.
type PaymentConfig struct {
	PayTo       string `yaml:"pay_to" json:"pay_to"`
	PriceAmount string `yaml:"price_amount" json:"price_amount"`
	Network     string `yaml:"network" json:"network"` // CAIP-2, e.g. eip155:8453
}

// RateLimitConfig configures the per-client token bucket.
type RateLimitConfig struct {
	Burst      int     `yaml:"burst" json:"burst"`
	PerSecond  float64 `yaml:"per_second" json:"per_second"`
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

// MetricsConfig represents metrics configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Port    int    `yaml:"port" json:"port"`
	Path    string `yaml:"path" json:"path"`
}

// HealthConfig represents health check configuration.
type HealthConfig struct {
	Enabled bool     `yaml:"enabled" json:"enabled"`
	Path    string   `yaml:"path" json:"path"`
	Checks  []string `yaml:"checks" json:"checks"`
}

// CacheTTLDefault is a five-minute TTL constant. No cache in this module
// reads it: the DNS pin cache uses its own 60 s TTL and the receipt
// replay cache uses twice the receipt validity.
const CacheTTLDefault = 5 * time.Minute
