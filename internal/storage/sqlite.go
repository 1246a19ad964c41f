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
		`CREATE TABLE IF NOT EXISTS instances (
  id                TEXT PRIMARY KEY,
  name              TEXT NOT NULL,
  url               TEXT NOT NULL,
  encrypted_api_key TEXT NOT NULL,
  is_active         INTEGER NOT NULL DEFAULT 1,
  health_status     TEXT NOT NULL DEFAULT 'unknown',
  last_health_check TEXT,
  created_at        TEXT NOT NULL,
  updated_at        TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS execution_cache (
  id             TEXT PRIMARY KEY,
  instance_id    TEXT NOT NULL,
  workflow_scope TEXT NOT NULL,
  executions     JSON NOT NULL,
  cached_at      INTEGER NOT NULL,
  UNIQUE(instance_id, workflow_scope)
);`,
		`CREATE TABLE IF NOT EXISTS retention_policies (
  id             TEXT PRIMARY KEY,
  instance_id    TEXT NOT NULL,
  workflow_id    TEXT,
  retention_days INTEGER NOT NULL,
  created_at     TEXT NOT NULL,
  updated_at     TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS webhook_events (
  id          TEXT PRIMARY KEY,
  source      TEXT NOT NULL,
  payload     JSON NOT NULL,
  received_at TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS audit_log (
  id         TEXT PRIMARY KEY,
  user_id    TEXT NOT NULL,
  action     TEXT NOT NULL,
  resource   TEXT NOT NULL,
  metadata   JSON,
  created_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS execution_cache_cached_at_idx ON execution_cache(cached_at);`,
		`CREATE INDEX IF NOT EXISTS execution_cache_instance_idx ON execution_cache(instance_id, workflow_scope);`,
		`CREATE INDEX IF NOT EXISTS retention_policies_instance_idx ON retention_policies(instance_id, workflow_id);`,
		`CREATE INDEX IF NOT EXISTS audit_log_created_at_idx ON audit_log(created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
