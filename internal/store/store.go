// Package store provides the SQLite-backed persistence collaborator for
// ragbot: full-text documents and prompt templates. The retrieval core only
// reads documents through this package; embeddings are never persisted and
// are recomputed per process lifetime.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// ErrNotFound is returned when a document or template id does not exist.
var ErrNotFound = errors.New("store: not found")

// Store owns the SQLite connection shared by the document and template DAOs.
type Store struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default path for the ragbot database.
// It resolves to ~/.ragbot/ragbot.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".ragbot")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "ragbot.db"), nil
}

// Open opens (or creates) a Store at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*Store, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist and seeds the
// default prompt template so a fresh install can chat immediately.
func (s *Store) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS documents (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    title       TEXT,
    content     TEXT    NOT NULL,
    created_at  INTEGER NOT NULL,  -- Unix timestamp (seconds)
    updated_at  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS prompt_templates (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    name          TEXT    NOT NULL UNIQUE,
    description   TEXT    NOT NULL DEFAULT '',
    system_prompt TEXT    NOT NULL,
    created_at    INTEGER NOT NULL,
    updated_at    INTEGER NOT NULL
);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return s.seedDefaultTemplate()
}

// seedDefaultTemplate inserts the built-in template if the table is empty.
func (s *Store) seedDefaultTemplate() error {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM prompt_templates`).Scan(&n); err != nil {
		return fmt.Errorf("store: count templates: %w", err)
	}
	if n > 0 {
		return nil
	}
	const q = `INSERT INTO prompt_templates (name, description, system_prompt, created_at, updated_at)
VALUES (?, ?, ?, strftime('%s','now'), strftime('%s','now'))`
	if _, err := s.db.Exec(q, "default", "general-purpose assistant with retrieved context",
		defaultSystemPrompt); err != nil {
		return fmt.Errorf("store: seed default template: %w", err)
	}
	return nil
}

// defaultSystemPrompt is the system framing seeded for new installations.
const defaultSystemPrompt = `You are a helpful assistant. Answer the user's question using the ` +
	`provided reference context when it is relevant. If the context does not contain the ` +
	`answer, say so instead of guessing.`

// Close releases the underlying database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}
