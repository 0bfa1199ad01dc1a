package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultDeviceHost, cfg.Device.Host)
	assert.Equal(t, DefaultDocumentsDir, cfg.Device.DocumentsDir)
	assert.Equal(t, StrategyDeviceWins, cfg.Sync.ConflictStrategy)
	assert.Equal(t, 500*time.Millisecond, cfg.Monitor.Debounce.Std())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, Default().Device.Host, cfg.Device.Host)
	assert.Equal(t, path, cfg.Path)
	assert.NoError(t, cfg.Validate())
}

func TestLoadOverridesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
device:
  host: 192.168.1.50
  user: sync
cache:
  dir: /data/notes
sync:
  conflict_strategy: newest-wins
  workers: 8
monitor:
  event_stream: false
  poll_interval: 2s
  debounce: 250ms
  exclude:
    - "**/*.bak"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "192.168.1.50", cfg.Device.Host)
	assert.Equal(t, "sync", cfg.Device.User)
	assert.Equal(t, "/data/notes", cfg.Cache.Dir)
	assert.Equal(t, StrategyNewestWins, cfg.Sync.ConflictStrategy)
	assert.Equal(t, 8, cfg.Sync.Workers)
	assert.False(t, cfg.Monitor.EventStream)
	assert.Equal(t, 2*time.Second, cfg.Monitor.PollInterval.Std())
	assert.Equal(t, 250*time.Millisecond, cfg.Monitor.Debounce.Std())
	assert.Equal(t, []string{"**/*.bak"}, cfg.Monitor.Exclude)

	// untouched sections keep their defaults
	assert.Equal(t, 22, cfg.Device.Port)
	assert.True(t, cfg.Outbox.Enabled)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("INKSYNC_DEVICE_HOST", "10.0.0.9")
	t.Setenv("INKSYNC_MONITOR_RECONNECT_DELAY", "30s")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.9", cfg.Device.Host)
	assert.Equal(t, 30*time.Second, cfg.Monitor.ReconnectDelay.Std())
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := Default()
	cfg.Device.Host = "10.11.99.2"
	cfg.Monitor.Debounce = Duration(750 * time.Millisecond)
	require.NoError(t, cfg.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "10.11.99.2", loaded.Device.Host)
	assert.Equal(t, 750*time.Millisecond, loaded.Monitor.Debounce.Std())
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty host", func(c *Config) { c.Device.Host = "" }},
		{"empty documents dir", func(c *Config) { c.Device.DocumentsDir = "" }},
		{"empty cache dir", func(c *Config) { c.Cache.Dir = "" }},
		{"unknown strategy", func(c *Config) { c.Sync.ConflictStrategy = "coin-flip" }},
		{"zero workers", func(c *Config) { c.Sync.Workers = 0 }},
		{"zero poll interval", func(c *Config) { c.Monitor.PollInterval = 0 }},
		{"zero debounce", func(c *Config) { c.Monitor.Debounce = 0 }},
		{"zero reconnect delay", func(c *Config) { c.Monitor.ReconnectDelay = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestOutboxDBPathDefaultsUnderCache(t *testing.T) {
	cfg := Default()
	cfg.Cache.Dir = "/data/notes"
	assert.Equal(t, filepath.Join("/data/notes", ".inksync", "outbox.db"), cfg.OutboxDBPath())

	cfg.Outbox.DBPath = "/elsewhere/queue.db"
	assert.Equal(t, "/elsewhere/queue.db", cfg.OutboxDBPath())
}
