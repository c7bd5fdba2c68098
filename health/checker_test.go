package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckAllReportsOverallStatus(t *testing.T) {
	h := NewHealthChecker(time.Second)
	h.RegisterCheck("ok", func(ctx context.Context) error { return nil })
	h.RegisterCheck("bad", func(ctx context.Context) error { return errors.New("boom") })

	results := h.CheckAll(context.Background())
	require.Len(t, results, 2)
	assert.Equal(t, StatusHealthy, results["ok"].Status)
	assert.Equal(t, StatusUnhealthy, results["bad"].Status)
	assert.Equal(t, StatusUnhealthy, h.GetOverallStatus(context.Background()))
}

func TestGetOverallStatusHealthyWithNoChecks(t *testing.T) {
	h := NewHealthChecker(time.Second)
	assert.Equal(t, StatusHealthy, h.GetOverallStatus(context.Background()))
}

func TestCheckResultIsCached(t *testing.T) {
	h := NewHealthChecker(time.Second)
	h.SetCacheTTL(time.Minute)

	calls := 0
	h.RegisterCheck("counted", func(ctx context.Context) error {
		calls++
		return nil
	})

	_, err := h.Check(context.Background(), "counted")
	require.NoError(t, err)
	_, err = h.Check(context.Background(), "counted")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestKeyStoreHealthCheckPropagatesError(t *testing.T) {
	check := KeyStoreHealthCheck(func() error { return errors.New("no key loaded") })
	assert.Error(t, check(context.Background()))

	ok := KeyStoreHealthCheck(func() error { return nil })
	assert.NoError(t, ok(context.Background()))
}

func TestPlatformAgentHealthCheckPropagatesError(t *testing.T) {
	check := PlatformAgentHealthCheck(func(ctx context.Context) error { return errors.New("unreachable") })
	assert.Error(t, check(context.Background()))

	ok := PlatformAgentHealthCheck(func(ctx context.Context) error { return nil })
	assert.NoError(t, ok(context.Background()))
}

func TestUnregisterCheckRemovesIt(t *testing.T) {
	h := NewHealthChecker(time.Second)
	h.RegisterCheck("gone", func(ctx context.Context) error { return nil })
	h.UnregisterCheck("gone")

	_, err := h.Check(context.Background(), "gone")
	assert.Error(t, err)
}
