package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "remindd.db", cfg.Database.Path)
	assert.Equal(t, time.Hour, cfg.Sweep.Interval)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.Push.CredentialsFile)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("REMINDD_DATABASE_PATH", "/tmp/other.db")
	t.Setenv("REMINDD_SWEEP_INTERVAL", "30m")
	t.Setenv("REMINDD_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/other.db", cfg.Database.Path)
	assert.Equal(t, 30*time.Minute, cfg.Sweep.Interval)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"database:\n  path: from-file.db\nsweep:\n  interval: 2h\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file.db", cfg.Database.Path)
	assert.Equal(t, 2*time.Hour, cfg.Sweep.Interval)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("REMINDD_LOG_LEVEL", "loud")
	_, err := Load("")
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
