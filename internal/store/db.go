// Package store is the SQLite-backed persistence layer for echo entries:
// schema migration, FTS5 full-text search, access logging, semantic
// groups, and search-failure tracking (spec.md §3, §4.1).
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// SchemaVersion is the current PRAGMA user_version. Grounded on
// server.py's SCHEMA_VERSION = 2.
const SchemaVersion = 2

// DB wraps a SQLite connection configured for WAL mode and FTS5 search.
// Writes are serialized through mu, matching the teacher's db.go pattern
// (store/db.go: "mu sync.Mutex // serialize writes").
type DB struct {
	conn *sql.DB
	mu   sync.Mutex
}

// Open opens or creates the database at path, applying WAL mode and a
// 5s busy timeout (grounded on server.py's get_db), then runs schema
// migration up to SchemaVersion.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db := &DB{conn: conn}
	if err := db.ensureSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return db, nil
}

// OpenMemory opens an in-memory database, for tests.
func OpenMemory() (*DB, error) {
	conn, err := sql.Open("sqlite3", ":memory:?_txlock=immediate")
	if err != nil {
		return nil, err
	}
	db := &DB{conn: conn}
	if err := db.ensureSchema(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn exposes the underlying *sql.DB for ad-hoc queries by sibling packages.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// ensureSchema enables foreign key enforcement, then applies the v1/v2
// migrations inside a single immediate transaction when PRAGMA
// user_version is behind SchemaVersion. Grounded on server.py's ensure_schema.
func (db *DB) ensureSchema() error {
	if _, err := db.conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return err
	}
	var version int
	if err := db.conn.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return err
	}
	if version >= SchemaVersion {
		return nil
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	if err := tx.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return err
	}
	if version < 1 {
		if err := migrateV1(tx); err != nil {
			return fmt.Errorf("migrate v1: %w", err)
		}
	}
	if version < 2 {
		if err := migrateV2(tx); err != nil {
			return fmt.Errorf("migrate v2: %w", err)
		}
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", SchemaVersion)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// migrateV1 creates the core echo tables, access log, and FTS index.
func migrateV1(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS echo_entries (
			id TEXT PRIMARY KEY, role TEXT NOT NULL, layer TEXT NOT NULL,
			date TEXT, source TEXT, content TEXT NOT NULL,
			tags TEXT DEFAULT '', line_number INTEGER, file_path TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS echo_meta (key TEXT PRIMARY KEY, value TEXT)`,
		`CREATE TABLE IF NOT EXISTS echo_access_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT, entry_id TEXT NOT NULL,
			accessed_at TEXT NOT NULL, query TEXT DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_access_log_entry_id ON echo_access_log(entry_id)`,
		`CREATE INDEX IF NOT EXISTS idx_access_log_accessed_at ON echo_access_log(accessed_at)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS echo_entries_fts USING fts5(
			content, tags, source, content=echo_entries, tokenize='porter unicode61'
		)`,
	}
	for _, s := range stmts {
		if _, err := tx.Exec(s); err != nil {
			return fmt.Errorf("%w (sql: %s)", err, s)
		}
	}
	return nil
}

// migrateV2 adds semantic groups and search-failure tracking (spec.md §3.3/§3.4).
func migrateV2(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS semantic_groups (
			group_id TEXT NOT NULL, entry_id TEXT NOT NULL,
			similarity REAL NOT NULL DEFAULT 0.0, created_at TEXT NOT NULL,
			PRIMARY KEY (group_id, entry_id),
			FOREIGN KEY (entry_id) REFERENCES echo_entries(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_semantic_groups_entry ON semantic_groups(entry_id)`,
		`CREATE INDEX IF NOT EXISTS idx_semantic_groups_group ON semantic_groups(group_id)`,
		`CREATE TABLE IF NOT EXISTS echo_search_failures (
			id INTEGER PRIMARY KEY AUTOINCREMENT, entry_id TEXT NOT NULL,
			token_fingerprint TEXT NOT NULL, retry_count INTEGER NOT NULL DEFAULT 0,
			first_failed_at TEXT NOT NULL, last_retried_at TEXT,
			FOREIGN KEY (entry_id) REFERENCES echo_entries(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_search_failures_fingerprint ON echo_search_failures(token_fingerprint)`,
		`CREATE INDEX IF NOT EXISTS idx_search_failures_entry ON echo_search_failures(entry_id)`,
	}
	for _, s := range stmts {
		if _, err := tx.Exec(s); err != nil {
			return fmt.Errorf("%w (sql: %s)", err, s)
		}
	}
	return nil
}

// IntegrityCheck runs PRAGMA integrity_check, grounded on the teacher's
// store/db.go IntegrityCheck helper.
func (db *DB) IntegrityCheck() error {
	var result string
	if err := db.conn.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check query failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

// inClause builds a "?,?,?,..." placeholder string for n parameters.
func inClause(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, 0, n*2-1)
	for i := 0; i < n; i++ {
		if i > 0 {
			b = append(b, ',')
		}
		b = append(b, '?')
	}
	return string(b)
}
