package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures required tables exist.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Basic health check + apply a few safe pragmas.
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign_keys: %w", err)
	}
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables/indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS health_log (
  id          TEXT PRIMARY KEY,
  plugin      TEXT NOT NULL,
  status      TEXT NOT NULL,
  detail      TEXT,
  observed_at TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS restart_log (
  id          TEXT PRIMARY KEY,
  plugin      TEXT NOT NULL,
  attempt     INTEGER NOT NULL,
  reason      TEXT NOT NULL,
  outcome     TEXT NOT NULL,
  detail      TEXT,
  occurred_at TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS incidents (
  id          TEXT PRIMARY KEY,
  plugin      TEXT NOT NULL,
  kind        TEXT NOT NULL,
  message     TEXT NOT NULL,
  occurred_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS health_log_plugin_observed_at_idx ON health_log(plugin, observed_at);`,
		`CREATE INDEX IF NOT EXISTS restart_log_plugin_occurred_at_idx ON restart_log(plugin, occurred_at);`,
		`CREATE INDEX IF NOT EXISTS incidents_plugin_occurred_at_idx ON incidents(plugin, occurred_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
