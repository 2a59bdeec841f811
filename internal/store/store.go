// Package store provides the embedded SQLite store backing calbridge.
//
// The store holds local records (accounts, projects, tasks) plus the
// sync data model: connected calendars, task-to-event mappings, and a
// read-optimized cache of remote events. It runs SQLite in embedded
// mode with WAL for concurrent access.
//
// All writes are scoped by account id and are either idempotent keyed
// upserts or uniqueness-constrained inserts; the schema's UNIQUE
// constraints are the only locking the sync engine relies on, with one
// exception: dedicated-calendar assignment uses a conditional update
// (see Account.SetDedicatedCalendar).
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store wraps the SQLite connection.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates or opens the database at path and prepares the
// connection for concurrent use. The caller must Close when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return s, nil
}

// RawDB returns the underlying sql.DB connection.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// InitSchema creates all tables and indexes if they don't exist.
// Idempotent, safe to call at every startup.
func (s *Store) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL DEFAULT '',
		access_token TEXT NOT NULL DEFAULT '',
		refresh_token TEXT NOT NULL DEFAULT '',
		token_expiry TEXT,
		-- legacy single-calendar model, kept for compatibility
		dedicated_calendar_id TEXT NOT NULL DEFAULT '',
		sync_enabled INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		name TEXT NOT NULL,
		color TEXT NOT NULL DEFAULT '',
		external_color_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (account_id, name),
		FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		project_id TEXT,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		scheduled_date TEXT,
		scheduled_time TEXT,
		end_time TEXT,
		deadline TEXT,
		urgent INTEGER NOT NULL DEFAULT 0,
		important INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'todo',
		completed INTEGER NOT NULL DEFAULT 0,
		-- deprecated direct event link, superseded by task_mappings
		remote_event_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE,
		FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE SET NULL
	);

	CREATE TABLE IF NOT EXISTS connected_calendars (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		external_id TEXT NOT NULL,
		summary TEXT NOT NULL DEFAULT '',
		is_primary INTEGER NOT NULL DEFAULT 0,
		writable INTEGER NOT NULL DEFAULT 0,
		is_synced INTEGER NOT NULL DEFAULT 0,
		channel_id TEXT NOT NULL DEFAULT '',
		resource_id TEXT NOT NULL DEFAULT '',
		channel_expiration TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (account_id, external_id),
		FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS task_mappings (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		external_event_id TEXT NOT NULL,
		external_calendar_id TEXT NOT NULL,
		content_hash TEXT NOT NULL DEFAULT '',
		last_synced_at TEXT NOT NULL,
		UNIQUE (task_id, provider),
		UNIQUE (account_id, provider, external_event_id),
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE,
		FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS event_cache (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		external_id TEXT NOT NULL,
		calendar_id TEXT NOT NULL,
		summary TEXT NOT NULL DEFAULT '',
		start_at TEXT,
		end_at TEXT,
		all_day INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'confirmed',
		last_synced_at TEXT NOT NULL,
		UNIQUE (account_id, external_id),
		FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_account ON tasks(account_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_scheduled ON tasks(scheduled_date);
	CREATE INDEX IF NOT EXISTS idx_tasks_account_title_date
	    ON tasks(account_id, title, scheduled_date);
	CREATE INDEX IF NOT EXISTS idx_projects_account ON projects(account_id);
	CREATE INDEX IF NOT EXISTS idx_calendars_account ON connected_calendars(account_id);
	CREATE INDEX IF NOT EXISTS idx_calendars_channel ON connected_calendars(channel_id);
	CREATE INDEX IF NOT EXISTS idx_calendars_expiration ON connected_calendars(channel_expiration);
	CREATE INDEX IF NOT EXISTS idx_mappings_account ON task_mappings(account_id, provider);
	CREATE INDEX IF NOT EXISTS idx_mappings_calendar ON task_mappings(external_calendar_id);
	CREATE INDEX IF NOT EXISTS idx_event_cache_range ON event_cache(account_id, calendar_id, start_at);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// timeToNullString converts a time pointer to a nullable string for SQL.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil || t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// nullStringToTime converts a nullable SQL string to a time pointer.
func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
