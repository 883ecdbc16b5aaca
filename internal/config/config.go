// Package config loads flowpilot configuration from .flowpilot/config.yaml,
// applying defaults and environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all flowpilot configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Daemon loop configuration
	Daemon DaemonConfig `yaml:"daemon"`

	// Confidence tracker configuration
	Confidence ConfidenceConfig `yaml:"confidence"`

	// Retry/backoff defaults
	Retry RetryConfig `yaml:"retry"`

	// Storage
	Storage StorageConfig `yaml:"storage"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// DaemonConfig configures the poll/act loop.
type DaemonConfig struct {
	PollInterval    string  `yaml:"poll_interval"`    // between cycles
	ActionCountdown string  `yaml:"action_countdown"` // cancellable delay before autonomous execution
	IntentThreshold float64 `yaml:"intent_threshold"` // min classification confidence to enqueue

	// InboxDir is the drop directory polled for inbox items.
	InboxDir string `yaml:"inbox_dir"`

	// Directories scanned for file triggers in addition to fsnotify events.
	WatchDirs []string `yaml:"watch_dirs"`
}

// ConfidenceConfig configures trust score arithmetic and graduation.
type ConfidenceConfig struct {
	AutonomyThreshold float64 `yaml:"autonomy_threshold"` // step runs unattended at or above this
	MinRuns           int     `yaml:"min_runs"`           // workflow runs required before graduation
	ApproveDelta      float64 `yaml:"approve_delta"`
	CorrectDelta      float64 `yaml:"correct_delta"` // negative
	SkipDelta         float64 `yaml:"skip_delta"`    // negative
}

// RetryConfig configures the default retry policy. Per-tool overrides live in
// the recovery package.
type RetryConfig struct {
	MaxRetries int    `yaml:"max_retries"`
	Backoff    string `yaml:"backoff"` // constant, linear, exponential
	BaseDelay  string `yaml:"base_delay"`
	MaxDelay   string `yaml:"max_delay"`
}

// StorageConfig configures the SQLite store.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig configures categorized file logging. The logging package
// reads this section directly from disk to avoid a circular import; the
// struct here exists so Save round-trips the full file.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "flowpilot",
		Version: "0.3.0",

		Daemon: DaemonConfig{
			PollInterval:    "60s",
			ActionCountdown: "120s",
			IntentThreshold: 0.8,
			InboxDir:        filepath.Join(".flowpilot", "inbox"),
		},

		Confidence: ConfidenceConfig{
			AutonomyThreshold: 0.8,
			MinRuns:           5,
			ApproveDelta:      0.2,
			CorrectDelta:      -0.3,
			SkipDelta:         -0.5,
		},

		Retry: RetryConfig{
			MaxRetries: 3,
			Backoff:    "exponential",
			BaseDelay:  "1s",
			MaxDelay:   "30s",
		},

		Storage: StorageConfig{
			DatabasePath: filepath.Join(".flowpilot", "flowpilot.db"),
		},

		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// DefaultPath returns the conventional config location under home.
func DefaultPath(home string) string {
	return filepath.Join(home, ".flowpilot", "config.yaml")
}

// Load reads a config file, falling back to defaults if it does not exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save writes the config back to disk, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// applyEnvOverrides lets environment variables take precedence over file
// values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("FLOWPILOT_DB"); v != "" {
		c.Storage.DatabasePath = v
	}
	if v := os.Getenv("FLOWPILOT_POLL_INTERVAL"); v != "" {
		c.Daemon.PollInterval = v
	}
	if v := os.Getenv("FLOWPILOT_DEBUG"); v == "1" || v == "true" {
		c.Logging.DebugMode = true
		if c.Logging.Level == "" {
			c.Logging.Level = "debug"
		}
	}
}

// parseDuration parses a string duration with a fallback for empty/bad input.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GetPollInterval returns the daemon poll interval.
func (c *Config) GetPollInterval() time.Duration {
	return parseDuration(c.Daemon.PollInterval, 60*time.Second)
}

// GetActionCountdown returns the cancellable action countdown.
func (c *Config) GetActionCountdown() time.Duration {
	return parseDuration(c.Daemon.ActionCountdown, 120*time.Second)
}

// GetRetryBaseDelay returns the default retry base delay.
func (c *Config) GetRetryBaseDelay() time.Duration {
	return parseDuration(c.Retry.BaseDelay, time.Second)
}

// GetRetryMaxDelay returns the default retry delay cap.
func (c *Config) GetRetryMaxDelay() time.Duration {
	return parseDuration(c.Retry.MaxDelay, 30*time.Second)
}

// Validate checks ranges that would otherwise fail deep inside the engine.
func (c *Config) Validate() error {
	if c.Daemon.IntentThreshold < 0 || c.Daemon.IntentThreshold > 1 {
		return fmt.Errorf("daemon.intent_threshold must be in [0,1], got %v", c.Daemon.IntentThreshold)
	}
	if c.Confidence.AutonomyThreshold < 0 || c.Confidence.AutonomyThreshold > 1 {
		return fmt.Errorf("confidence.autonomy_threshold must be in [0,1], got %v", c.Confidence.AutonomyThreshold)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0, got %d", c.Retry.MaxRetries)
	}
	switch c.Retry.Backoff {
	case "", "constant", "linear", "exponential":
	default:
		return fmt.Errorf("retry.backoff must be constant, linear or exponential, got %q", c.Retry.Backoff)
	}
	return nil
}
