// Package store persists the daemon's durable state in a local sqlite
// database: known agents, task run history, routed message envelopes,
// scheduled tasks, and encrypted secrets.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkatsogr/crewd/internal/config"
	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(cfg config.StoreConfig) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Enable WAL mode for concurrent read/write access and set a busy
	// timeout so writers retry instead of immediately returning SQLITE_BUSY.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("exec %s: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS agents (
			name          TEXT PRIMARY KEY,
			type          TEXT NOT NULL,
			capabilities  TEXT,
			registered_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			last_seen     DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS task_runs (
			id          TEXT PRIMARY KEY,
			agent_name  TEXT NOT NULL,
			task_type   TEXT NOT NULL,
			params      TEXT,
			status      TEXT NOT NULL,
			result      TEXT,
			error       TEXT,
			queued      BOOLEAN DEFAULT FALSE,
			duration_ms INTEGER,
			started_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_agent ON task_runs(agent_name, started_at)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id           TEXT PRIMARY KEY,
			sender       TEXT NOT NULL,
			receiver     TEXT NOT NULL,
			task_id      TEXT,
			status       TEXT NOT NULL,
			result       TEXT,
			error        TEXT,
			created_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
			completed_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_receiver ON messages(receiver, created_at)`,
		`CREATE TABLE IF NOT EXISTS scheduled_tasks (
			id          TEXT PRIMARY KEY,
			agent_name  TEXT NOT NULL,
			name        TEXT NOT NULL,
			schedule    TEXT NOT NULL,
			task_type   TEXT NOT NULL,
			params      TEXT,
			status      TEXT DEFAULT 'active',
			next_run_at DATETIME,
			last_run_at DATETIME,
			last_status TEXT,
			last_error  TEXT,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_next_run ON scheduled_tasks(status, next_run_at)`,
		`CREATE TABLE IF NOT EXISTS secrets (
			name       TEXT PRIMARY KEY,
			description TEXT,
			value      BLOB NOT NULL,
			nonce      BLOB NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}

	return nil
}
