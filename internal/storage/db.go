package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQL database connection
type DB struct {
	*sql.DB
}

// New opens (creating if needed) the sqlite database at dbPath.
func New(dbPath string) (*DB, error) {
	if dbPath == "" {
		return nil, ErrNoPath
	}

	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// one writer per invocation
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &DB{db}, nil
}

// Open is New followed by Migrate.
func Open(ctx context.Context, dbPath string) (*DB, error) {
	db, err := New(dbPath)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate runs database migrations
func (db *DB) Migrate(ctx context.Context) error {
	migrations := []string{
		migrationSelfTestRuns,
		migrationIndexes,
	}

	for i, migration := range migrations {
		if _, err := db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

const migrationSelfTestRuns = `
CREATE TABLE IF NOT EXISTS selftest_runs (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	machine_id INTEGER NOT NULL,
	offer_id INTEGER NOT NULL DEFAULT 0,
	instance_id INTEGER NOT NULL DEFAULT 0,
	gpu_name TEXT,
	passed INTEGER NOT NULL,
	reason TEXT,
	duration_ms INTEGER NOT NULL,
	started_at DATETIME NOT NULL
);
`

const migrationIndexes = `
CREATE INDEX IF NOT EXISTS idx_selftest_runs_machine_id ON selftest_runs(machine_id);
CREATE INDEX IF NOT EXISTS idx_selftest_runs_run_id ON selftest_runs(run_id);
CREATE INDEX IF NOT EXISTS idx_selftest_runs_started_at ON selftest_runs(started_at);
`
