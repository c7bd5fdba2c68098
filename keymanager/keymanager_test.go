package keymanager

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vin-protocol/vin/teeadapter"
)

func TestResolveEphemeralWhenNoKeyPath(t *testing.T) {
	mgr, err := Resolve(context.Background(), teeadapter.New(""), "")
	require.NoError(t, err)
	assert.True(t, mgr.Ephemeral())
	assert.NotEmpty(t, mgr.NodePubkeyBase64URL())
}

func TestResolveGeneratesAndPersistsWhenFileMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.key")

	mgr, err := Resolve(context.Background(), teeadapter.New(""), path)
	require.NoError(t, err)
	assert.False(t, mgr.Ephemeral())
	assert.FileExists(t, path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestResolveLoadsPersistedIdentityOnRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.key")

	first, err := Resolve(context.Background(), teeadapter.New(""), path)
	require.NoError(t, err)

	second, err := Resolve(context.Background(), teeadapter.New(""), path)
	require.NoError(t, err)

	assert.Equal(t, first.NodePubkeyBase64URL(), second.NodePubkeyBase64URL())
	assert.False(t, second.Ephemeral())
}

func TestResolveFallsBackWhenTeeUnavailable(t *testing.T) {
	// A base URL pointing nowhere makes Available() false on first probe,
	// exercising the same fallback path as no TEE configured at all.
	mgr, err := Resolve(context.Background(), teeadapter.New("http://127.0.0.1:0"), "")
	require.NoError(t, err)
	assert.True(t, mgr.Ephemeral())
}

func TestResolveRejectsCorruptKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.key")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0600))

	_, err := Resolve(context.Background(), teeadapter.New(""), path)
	assert.Error(t, err)
}
