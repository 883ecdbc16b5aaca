// Package store implements flowpilot's SQLite persistence layer.
//
// One LocalStore owns all seven tables (workflows, steps, workflow_runs,
// corrections, trigger_history, actions, watched_items). Every state
// transition is committed here before the daemon acts on it, so a crash
// between commit and side effect is recoverable.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"flowpilot/internal/logging"

	_ "github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrInvalidTransition is returned when an action status change is not
	// legal from the row's current status.
	ErrInvalidTransition = errors.New("store: invalid action transition")
)

// LocalStore is the single source of truth for workflow/action state.
type LocalStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// NewLocalStore initializes the SQLite database at the given path.
func NewLocalStore(path string) (*LocalStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewLocalStore")
	defer timer.Stop()

	logging.Store("Initializing LocalStore at path: %s", path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to create directory %s: %v", dir, err)
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to open database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	// synchronous=NORMAL is safe with WAL and substantially faster than FULL.
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}

	s := &LocalStore{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to initialize schema: %v", err)
		db.Close()
		return nil, err
	}

	if err := RunMigrations(db); err != nil {
		logging.Get(logging.CategoryStore).Warn("Schema migrations reported error: %v", err)
	}

	logging.StoreDebug("Database schema initialized successfully")
	return s, nil
}

// initialize creates the schema if it does not exist yet.
func (s *LocalStore) initialize() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			description TEXT DEFAULT '',
			trigger_json TEXT NOT NULL,
			overall_confidence REAL DEFAULT 0,
			run_count INTEGER DEFAULT 0,
			success_count INTEGER DEFAULT 0,
			enabled INTEGER DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS steps (
			workflow_id TEXT NOT NULL,
			step_order INTEGER NOT NULL,
			tool TEXT NOT NULL,
			params_json TEXT DEFAULT '{}',
			output_key TEXT DEFAULT '',
			description TEXT DEFAULT '',
			confidence REAL DEFAULT 0,
			PRIMARY KEY (workflow_id, step_order)
		)`,
		`CREATE TABLE IF NOT EXISTS workflow_runs (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			completed_at DATETIME,
			state_json TEXT DEFAULT '{}',
			log_json TEXT DEFAULT '[]'
		)`,
		`CREATE TABLE IF NOT EXISTS corrections (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			step_order INTEGER NOT NULL,
			type TEXT NOT NULL,
			original TEXT DEFAULT '',
			corrected TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS trigger_history (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			trigger_type TEXT NOT NULL,
			data TEXT DEFAULT '',
			fired_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS actions (
			id TEXT PRIMARY KEY,
			intent TEXT NOT NULL,
			description TEXT DEFAULT '',
			source_id TEXT DEFAULT '',
			data_json TEXT DEFAULT '{}',
			prompt TEXT DEFAULT '',
			status TEXT NOT NULL,
			confidence REAL DEFAULT 0,
			not_before DATETIME,
			result TEXT DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS watched_items (
			source TEXT NOT NULL,
			source_id TEXT NOT NULL,
			first_seen DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (source, source_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_workflow ON workflow_runs(workflow_id, started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_corrections_step ON corrections(workflow_id, step_order)`,
		`CREATE INDEX IF NOT EXISTS idx_history_workflow ON trigger_history(workflow_id, fired_at)`,
		`CREATE INDEX IF NOT EXISTS idx_actions_status ON actions(status)`,
	}

	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *LocalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	logging.StoreDebug("Closing LocalStore at %s", s.dbPath)
	return s.db.Close()
}

// Path returns the database file path.
func (s *LocalStore) Path() string {
	return s.dbPath
}
