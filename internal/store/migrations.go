// Column-level schema migrations for existing flowpilot databases.
// Follows the additive model: missing columns are added with defaults,
// nothing is ever dropped.
package store

import (
	"database/sql"
	"fmt"

	"flowpilot/internal/logging"
)

// Migration defines a single additive column migration.
type Migration struct {
	Table  string
	Column string
	Def    string
}

// pendingMigrations lists all schema migrations to apply. These handle
// databases created before a column existed.
var pendingMigrations = []Migration{
	// success_count split out of run_count (pre-0.2 databases)
	{"workflows", "success_count", "INTEGER DEFAULT 0"},
	// run log added to workflow_runs (pre-0.2 databases)
	{"workflow_runs", "log_json", "TEXT DEFAULT '[]'"},
	// action audit timestamps
	{"actions", "updated_at", "DATETIME"},
	// structured extraction payload on actions
	{"actions", "data_json", "TEXT DEFAULT '{}'"},
}

// RunMigrations applies schema migrations for existing databases.
func RunMigrations(db *sql.DB) error {
	timer := logging.StartTimer(logging.CategoryStore, "RunMigrations")
	defer timer.Stop()

	applied := 0
	skipped := 0

	for _, m := range pendingMigrations {
		if !tableExists(db, m.Table) {
			skipped++
			continue
		}

		if columnExists(db, m.Table, m.Column) {
			skipped++
			continue
		}

		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := db.Exec(query); err != nil {
			logging.Get(logging.CategoryStore).Warn("Migration failed (may already exist): %s.%s: %v", m.Table, m.Column, err)
			skipped++
		} else {
			logging.Store("Migration applied: added %s.%s", m.Table, m.Column)
			applied++
		}
	}

	logging.StoreDebug("Schema migrations complete: applied=%d, skipped=%d", applied, skipped)
	return nil
}

// columnExists checks if a column exists in a table using PRAGMA table_info.
func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}

// tableExists checks if a table exists in the database.
func tableExists(db *sql.DB, table string) bool {
	var count int
	query := "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?"
	if err := db.QueryRow(query, table).Scan(&count); err != nil {
		return false
	}
	return count > 0
}
