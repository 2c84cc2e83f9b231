package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenLifecycle(t *testing.T) {
	cfg := Default()
	cfg.Auth.TokenFile = filepath.Join(t.TempDir(), "dlwatch", "token")

	token, err := cfg.Token()
	require.NoError(t, err)
	assert.Empty(t, token, "no token is an anonymous client")

	require.NoError(t, cfg.SaveToken("  abc123\n"))

	info, err := os.Stat(cfg.Auth.TokenFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	token, err = cfg.Token()
	require.NoError(t, err)
	assert.Equal(t, "abc123", token)

	require.NoError(t, cfg.ClearToken())
	token, err = cfg.Token()
	require.NoError(t, err)
	assert.Empty(t, token)

	// clearing twice is fine
	assert.NoError(t, cfg.ClearToken())
}

func TestInlineTokenWins(t *testing.T) {
	cfg := Default()
	cfg.Auth.TokenFile = filepath.Join(t.TempDir(), "token")
	require.NoError(t, cfg.SaveToken("from-file"))

	cfg.Auth.Token = "inline"
	token, err := cfg.Token()
	require.NoError(t, err)
	assert.Equal(t, "inline", token)
}

func TestDefaultTokenFileUnderHome(t *testing.T) {
	home := isolateHome(t)

	cfg := Default()
	require.NoError(t, cfg.SaveToken("xyz"))

	data, err := os.ReadFile(filepath.Join(home, ".config", "dlwatch", "token"))
	require.NoError(t, err)
	assert.Equal(t, "xyz\n", string(data))
}
