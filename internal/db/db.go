package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	*sql.DB
}

// New opens the SQLite database at path. The special path ":memory:" opens
// a private in-memory database.
func New(path string) (*DB, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// Every connection would get its own empty database otherwise
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &DB{db}, nil
}

// Migrate creates the schema. It is safe to run repeatedly.
func (db *DB) Migrate() error {
	return Migrate(db.DB)
}

// Migrate applies all migrations to conn
func Migrate(conn *sql.DB) error {
	for _, m := range Migrations {
		if _, err := conn.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Migrations in the order they are applied
var Migrations = []string{
	migrationJobs,
	migrationJobFires,
}

const migrationJobs = `
CREATE TABLE IF NOT EXISTS jobs (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    freq TEXT NOT NULL,
    start_date TEXT NOT NULL,
    end_date TEXT,
    trigger_timings JSON,
    rule_type TEXT,
    rule_value JSON,
    override_dates JSON,
    callback_url TEXT NOT NULL,
    metadata JSON,
    status TEXT NOT NULL DEFAULT 'active',
    last_triggered TIMESTAMP,
    call_count INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_jobs_user_id ON jobs(user_id);
CREATE INDEX IF NOT EXISTS idx_jobs_status_window ON jobs(status, start_date, end_date);
`

const migrationJobFires = `
CREATE TABLE IF NOT EXISTS job_fires (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
    fired_at TIMESTAMP NOT NULL,
    success INTEGER NOT NULL,
    status_code INTEGER,
    error TEXT,
    advanced INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_job_fires_job ON job_fires(job_id, fired_at);
CREATE INDEX IF NOT EXISTS idx_job_fires_fired_at ON job_fires(fired_at);
`
