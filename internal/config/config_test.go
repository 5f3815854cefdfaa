package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
backend:
  base_url: http://backend.local
  api_key: secret
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, 3, cfg.Backend.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Backend.RetryBaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Business.SyncLockTTL)
	assert.Equal(t, 5*time.Minute, cfg.Business.WebhookClaimLease)
	assert.False(t, cfg.Server.IsDebug())
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, `
server:
  mode: release
backend:
  base_url: http://backend.local
  timeout: 3s
`)
	t.Setenv("CREDITSYNC_SERVER_MODE", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Server.IsDebug())
	assert.Equal(t, 3*time.Second, cfg.Backend.Timeout)
}

func TestLoadRequiresBackendURL(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9090\n")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
