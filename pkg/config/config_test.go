package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPoolConfig(t *testing.T) {
	cfg := DefaultPoolConfig()

	assert.Equal(t, 100, cfg.MaxConnections)
	assert.Equal(t, 20, cfg.MaxKeepaliveConnections)
	assert.Equal(t, 5*time.Second, cfg.KeepaliveExpiry)
	assert.True(t, cfg.Versions.HTTP1)
	assert.True(t, cfg.Versions.HTTP2)
}

func TestAddFlagsToCommand(t *testing.T) {
	cfg := DefaultPoolConfig()
	cmd := &cobra.Command{Use: "test"}
	cfg.AddFlagsToCommand(cmd)

	cmd.SetArgs([]string{"--max-connections=50", "--http2=false"})
	require.NoError(t, cmd.ParseFlags([]string{"--max-connections=50", "--http2=false"}))

	assert.Equal(t, 50, cfg.MaxConnections)
	assert.False(t, cfg.Versions.HTTP2)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wayfare.yaml")
	content := `
max_connections: 42
keepalive_expiry: 10s
http2: false
proxy:
  mode: tunnel
  url: https://proxy.example:8443
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	base := DefaultPoolConfig()
	cfg, err := LoadFromFile(base, path)
	require.NoError(t, err)

	assert.Equal(t, 42, cfg.MaxConnections)
	assert.Equal(t, 10*time.Second, cfg.KeepaliveExpiry)
	assert.False(t, cfg.Versions.HTTP2)
	assert.Equal(t, "tunnel", cfg.Proxy.Mode)
	assert.Equal(t, "https://proxy.example:8443", cfg.Proxy.URL)

	// Base config is untouched.
	assert.Equal(t, 100, base.MaxConnections)
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(DefaultPoolConfig(), "/nonexistent/path.yaml")
	require.Error(t, err)
}
