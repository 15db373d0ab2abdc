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
		`CREATE TABLE IF NOT EXISTS usage_records (
  id            TEXT PRIMARY KEY,
  invocation_id TEXT NOT NULL,
  model         TEXT NOT NULL,
  tokens        INTEGER NOT NULL,
  cost          REAL NOT NULL,
  recorded_at   TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS audit_log (
  id            TEXT PRIMARY KEY,
  invocation_id TEXT NOT NULL,
  agent         TEXT NOT NULL,
  tool          TEXT NOT NULL,
  action        TEXT,
  rule_id       TEXT,
  status        TEXT NOT NULL,
  detail        TEXT,
  duration_ms   INTEGER,
  created_at    TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS ledger_meta (
  key   TEXT PRIMARY KEY,
  value TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS usage_records_model_idx ON usage_records(model);`,
		`CREATE INDEX IF NOT EXISTS audit_log_invocation_idx ON audit_log(invocation_id);`,
		`CREATE INDEX IF NOT EXISTS audit_log_created_at_idx ON audit_log(created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
