package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetDefaults(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)

	assert.Equal(t, 3402, cfg.Port)
	assert.Equal(t, "eip155:8453", cfg.Payment.Network)
	assert.Equal(t, 1<<20, cfg.MaxInputSize)
	assert.Equal(t, 10000, cfg.ReplayCacheMax)
	assert.EqualValues(t, 600, cfg.ReceiptValiditySeconds)
	assert.Equal(t, 100, cfg.RateLimit.Burst)
	assert.Equal(t, 10.0, cfg.RateLimit.PerSecond)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "/healthz", cfg.Health.Path)
}

func TestLoadFromFileYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vin.yaml")
	content := []byte("port: 9999\npayment:\n  pay_to: \"0xabc\"\n  price_amount: \"5000\"\n")
	require.NoError(t, os.WriteFile(path, content, 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, "0xabc", cfg.Payment.PayTo)
	assert.Equal(t, "5000", cfg.Payment.PriceAmount)
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path/vin.yaml")
	assert.Error(t, err)
}

func TestValidateConfiguration(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)

	issues := ValidateConfiguration(cfg)
	var hasPayToWarning bool
	for _, iss := range issues {
		if iss.Field == "payment.pay_to" {
			hasPayToWarning = true
			assert.Equal(t, "warning", iss.Level)
		}
	}
	assert.True(t, hasPayToWarning)

	cfg.Port = 0
	issues = ValidateConfiguration(cfg)
	found := false
	for _, iss := range issues {
		if iss.Field == "port" && iss.Level == "error" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestSubstituteEnvVars(t *testing.T) {
	os.Setenv("VIN_TEST_VAR", "resolved")
	defer os.Unsetenv("VIN_TEST_VAR")

	assert.Equal(t, "resolved", SubstituteEnvVars("${VIN_TEST_VAR}"))
	assert.Equal(t, "fallback", SubstituteEnvVars("${VIN_UNSET_VAR:fallback}"))
}

func TestLoadWithDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(LoaderOptions{ConfigDir: dir, SkipValidation: true})
	require.NoError(t, err)
	assert.Equal(t, 3402, cfg.Port)
}
