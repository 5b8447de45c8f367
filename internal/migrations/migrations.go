// Package migrations applies versioned schema changes to the history
// database.
package migrations

import (
	"database/sql"
	"fmt"
)

// Migration represents a single database migration
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version: 1,
		Name:    "Add run lookup indices",
		Up: `
			CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);
			CREATE INDEX IF NOT EXISTS idx_results_run ON results(run_id);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_runs_started;
			DROP INDEX IF EXISTS idx_results_run;
		`,
	},
	{
		Version: 2,
		Name:    "Add remote_addr to results",
		Up: `
			-- No-op: the base schema already creates remote_addr, so
			-- this version is only recorded and alters no table.
		`,
		Down: `
			-- SQLite cannot drop columns easily; leave in place.
		`,
	},
}

// Run applies every pending migration in order.
func Run(db *sql.DB) error {
	if err := ensureVersionTable(db); err != nil {
		return err
	}

	current, err := currentVersion(db)
	if err != nil {
		return err
	}

	for _, m := range AllMigrations {
		if m.Version <= current {
			continue
		}
		if _, err := db.Exec(m.Up); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}
		if _, err := db.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, m.Version); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}
	}
	return nil
}

func ensureVersionTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}
	return nil
}

func currentVersion(db *sql.DB) (int, error) {
	var version sql.NullInt64
	err := db.QueryRow(`SELECT MAX(version) FROM schema_migrations`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}
