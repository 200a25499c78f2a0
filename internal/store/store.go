// Package store is the persisted side of the coordination service: every
// collection the engine treats as authoritative (inbox tabs, workspace
// window documents, window bindings, the classification queue and its lock,
// notes and the read-later archive) lives in one SQLite database. In-memory
// state elsewhere is a cache over this package and must be rebuildable
// from it.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// migration is a numbered schema change. Migrations are applied in order
// and tracked in the schema_migrations table so each runs exactly once.
type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "initial schema",
		SQL: `
CREATE TABLE IF NOT EXISTS profiles (
    id   TEXT PRIMARY KEY,
    name TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS items (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    type       TEXT NOT NULL,
    parent_id  TEXT NOT NULL DEFAULT '',
    profile_id TEXT NOT NULL DEFAULT '',
    ord        INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS bindings (
    window_handle      INTEGER PRIMARY KEY,
    workspace_id       TEXT NOT NULL,
    internal_window_id TEXT NOT NULL,
    workspace_name     TEXT NOT NULL DEFAULT '',
    ordinal            INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS windows (
    workspace_id       TEXT NOT NULL,
    internal_window_id TEXT NOT NULL,
    title              TEXT NOT NULL DEFAULT '',
    is_active          BOOLEAN NOT NULL DEFAULT 0,
    last_active        DATETIME,
    created_at         DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (workspace_id, internal_window_id)
);
CREATE TABLE IF NOT EXISTS tabs (
    uid                TEXT PRIMARY KEY,
    workspace_id       TEXT NOT NULL DEFAULT '',
    internal_window_id TEXT NOT NULL DEFAULT '',
    position           INTEGER NOT NULL DEFAULT 0,
    title              TEXT NOT NULL DEFAULT '',
    url                TEXT NOT NULL,
    favicon            TEXT NOT NULL DEFAULT '',
    incognito          BOOLEAN NOT NULL DEFAULT 0,
    ai_status          TEXT NOT NULL DEFAULT 'pending',
    ai_category        TEXT NOT NULL DEFAULT '',
    ai_confidence      INTEGER NOT NULL DEFAULT 0,
    ai_reasoning       TEXT NOT NULL DEFAULT '',
    ai_locked          BOOLEAN NOT NULL DEFAULT 0,
    ai_last_checked    DATETIME
);
CREATE TABLE IF NOT EXISTS queue (
    uid         TEXT PRIMARY KEY,
    url         TEXT NOT NULL,
    title       TEXT NOT NULL DEFAULT '',
    tab_handle  INTEGER NOT NULL DEFAULT 0,
    attempts    INTEGER NOT NULL DEFAULT 0,
    enqueued_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS queue_state (
    id            INTEGER PRIMARY KEY CHECK (id = 1),
    is_processing BOOLEAN NOT NULL DEFAULT 0,
    locked_at     INTEGER NOT NULL DEFAULT 0,
    last_call_at  INTEGER NOT NULL DEFAULT 0
);
INSERT OR IGNORE INTO queue_state (id, is_processing, locked_at, last_call_at) VALUES (1, 0, 0, 0);`,
	},
	{
		Version:     2,
		Description: "notes and read-later archive",
		SQL: `
CREATE TABLE notes (
    id           TEXT PRIMARY KEY,
    workspace_id TEXT NOT NULL DEFAULT '',
    title        TEXT NOT NULL,
    content      TEXT NOT NULL DEFAULT '',
    created_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at   DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE archive (
    workspace_id TEXT NOT NULL DEFAULT '',
    url          TEXT NOT NULL,
    title        TEXT NOT NULL DEFAULT '',
    read_later   BOOLEAN NOT NULL DEFAULT 0,
    saved_at     DATETIME NOT NULL,
    PRIMARY KEY (workspace_id, url)
);`,
	},
}

// OpenDB opens (or creates) the SQLite database at the given path.
// It creates parent directories if needed, enables foreign keys and WAL
// mode, and runs any pending migrations.
func OpenDB(path string) (*sql.DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	// WAL keeps readers (CLI subcommands) from blocking the daemon.
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version     INTEGER PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	for _, m := range migrations {
		var exists int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.Version).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if exists > 0 {
			continue
		}

		if _, err := db.Exec(m.SQL); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := db.Exec(
			"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// DefaultDBPath returns the default database file path:
// ~/.local/share/nexusd/nexus.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "nexusd", "nexus.db"), nil
}
