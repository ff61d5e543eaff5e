// Package database opens the relational store and creates the schema.
// Two backends: Postgres (DATABASE_URL=postgres://…) for deployments and
// embedded pure-Go sqlite (DATABASE_URL=sqlite://path) for local use.
package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/lib/pq"       // postgres driver
	_ "modernc.org/sqlite"      // embedded sqlite driver
)

// Open connects to the store named by the URL and verifies connectivity.
func Open(databaseURL string) (*sql.DB, error) {
	driver, dsn, err := split(databaseURL)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("database: open %s: %w", driver, err)
	}
	if driver == "sqlite" {
		// Single writer; the per-run append discipline does the rest.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database: ping: %w", err)
	}
	return db, nil
}

func split(databaseURL string) (driver, dsn string, err error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return "postgres", databaseURL, nil
	case strings.HasPrefix(databaseURL, "sqlite://"):
		path := strings.TrimPrefix(databaseURL, "sqlite://")
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return "", "", fmt.Errorf("database: mkdir %s: %w", dir, err)
			}
		}
		return "sqlite", path, nil
	default:
		return "", "", fmt.Errorf("database: unsupported DATABASE_URL %q", databaseURL)
	}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		run_id    TEXT NOT NULL,
		seq       BIGINT NOT NULL,
		id        TEXT NOT NULL,
		ts        TEXT NOT NULL,
		type      TEXT NOT NULL,
		payload   TEXT NOT NULL,
		prev_hash CHAR(64) NOT NULL,
		hash      CHAR(64) NOT NULL,
		PRIMARY KEY (run_id, seq),
		UNIQUE (run_id, hash)
	)`,
	`CREATE TABLE IF NOT EXISTS runs (
		id         TEXT PRIMARY KEY,
		mission_id TEXT NOT NULL,
		status     TEXT NOT NULL,
		started_at TEXT NOT NULL,
		ended_at   TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS missions (
		id         TEXT PRIMARY KEY,
		title      TEXT NOT NULL,
		goal_x     DOUBLE PRECISION NOT NULL,
		goal_y     DOUBLE PRECISION NOT NULL,
		status     TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS telemetry_samples (
		run_id  TEXT NOT NULL,
		ts      TEXT NOT NULL,
		payload TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_telemetry_run_ts ON telemetry_samples (run_id, ts)`,
}

// Migrate creates the schema if absent. Idempotent.
func Migrate(db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("database: migrate: %w", err)
		}
	}
	return nil
}
