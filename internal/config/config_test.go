package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "flowpilot", cfg.Name)
	assert.Equal(t, 0.8, cfg.Daemon.IntentThreshold)
	assert.Equal(t, 0.8, cfg.Confidence.AutonomyThreshold)
	assert.Equal(t, 5, cfg.Confidence.MinRuns)
	assert.Equal(t, 60*time.Second, cfg.GetPollInterval())
	assert.Equal(t, 120*time.Second, cfg.GetActionCountdown())
	assert.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	t.Run("missing file returns defaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig().Daemon.PollInterval, cfg.Daemon.PollInterval)
	})

	t.Run("file values override defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		content := `
daemon:
  poll_interval: 15s
  intent_threshold: 0.9
confidence:
  min_runs: 10
storage:
  database_path: /tmp/pilot.db
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))

		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, 15*time.Second, cfg.GetPollInterval())
		assert.Equal(t, 0.9, cfg.Daemon.IntentThreshold)
		assert.Equal(t, 10, cfg.Confidence.MinRuns)
		assert.Equal(t, "/tmp/pilot.db", cfg.Storage.DatabasePath)
		// Untouched sections keep defaults.
		assert.Equal(t, "exponential", cfg.Retry.Backoff)
	})

	t.Run("malformed yaml errors", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("daemon: [not a map"), 0644))

		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestEnvOverrides(t *testing.T) {
	t.Run("FLOWPILOT_DB overrides database path", func(t *testing.T) {
		t.Setenv("FLOWPILOT_DB", "/custom/db.sqlite")

		cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.NoError(t, err)
		assert.Equal(t, "/custom/db.sqlite", cfg.Storage.DatabasePath)
	})

	t.Run("FLOWPILOT_DEBUG enables debug logging", func(t *testing.T) {
		t.Setenv("FLOWPILOT_DEBUG", "1")

		cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.NoError(t, err)
		assert.True(t, cfg.Logging.DebugMode)
	})
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults are valid", func(c *Config) {}, true},
		{"intent threshold above 1", func(c *Config) { c.Daemon.IntentThreshold = 1.5 }, false},
		{"negative autonomy threshold", func(c *Config) { c.Confidence.AutonomyThreshold = -0.1 }, false},
		{"negative retries", func(c *Config) { c.Retry.MaxRetries = -1 }, false},
		{"unknown backoff", func(c *Config) { c.Retry.Backoff = "fibonacci" }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if tc.ok {
				assert.NoError(t, cfg.Validate())
			} else {
				assert.Error(t, cfg.Validate())
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := DefaultConfig()
	cfg.Daemon.PollInterval = "5m"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, loaded.GetPollInterval())
}
