package main

import (
	"fmt"
	"os"
	"path/filepath"

	"flowpilot/internal/config"
	"flowpilot/internal/logging"
	"flowpilot/internal/recovery"
	"flowpilot/internal/store"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose bool
	homeDir string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "flowpilot",
	Short: "flowpilot - a personal automation agent",
	Long: `flowpilot watches your schedule, files and inbox, learns workflows from
repeated approvals, and runs trusted steps on its own.

Workflows start supervised: every low-confidence step asks before running.
Approvals raise a step's confidence; corrections lower it. Once a workflow
has graduated, the daemon runs it autonomously, with a cancellable countdown
before any independent action.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize logger
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// resolveHome picks the agent home directory: the --home flag, then
// FLOWPILOT_HOME, then the user's home directory.
func resolveHome() (string, error) {
	if homeDir != "" {
		return homeDir, nil
	}
	if env := os.Getenv("FLOWPILOT_HOME"); env != "" {
		return env, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return home, nil
}

// app is everything a command needs after bootstrap.
type app struct {
	home  string
	cfg   *config.Config
	store *store.LocalStore
}

// bootstrap loads config, wires file logging and opens the store.
func bootstrap() (*app, error) {
	home, err := resolveHome()
	if err != nil {
		return nil, err
	}
	if err := logging.Initialize(home); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	cfg, err := config.Load(filepath.Join(home, ".flowpilot", "config.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	recovery.SetDefaultPolicy(recovery.Policy{
		MaxRetries: cfg.Retry.MaxRetries,
		Backoff:    recovery.Backoff(cfg.Retry.Backoff),
		BaseDelay:  cfg.GetRetryBaseDelay(),
		MaxDelay:   cfg.GetRetryMaxDelay(),
	})

	dbPath := cfg.Storage.DatabasePath
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(home, dbPath)
	}
	st, err := store.NewLocalStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	return &app{home: home, cfg: cfg, store: st}, nil
}

// close releases the app's resources in reverse order of acquisition.
func (a *app) close() {
	if err := a.store.Close(); err != nil {
		logger.Warn("store close failed", zap.Error(err))
	}
	logging.CloseAll()
}

// initCmd writes the default configuration.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration to <home>/.flowpilot/config.yaml",
	RunE: func(cmd *cobra.Command, args []string) error {
		home, err := resolveHome()
		if err != nil {
			return err
		}
		path := filepath.Join(home, ".flowpilot", "config.yaml")
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists at %s", path)
		}
		if err := config.DefaultConfig().Save(path); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&homeDir, "home", "", "agent home directory (default: $FLOWPILOT_HOME or $HOME)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(workflowCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(actionsCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
