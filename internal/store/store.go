// Package store persists repositories, documents, and generated artifacts in
// SQLite. Every write is a single short transaction; cross-worker claiming is
// a conditional-update lease on the repositories table.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrLeaseLost signals that a guarded write found the row leased elsewhere.
// The worker must abandon the repository without further writes.
var ErrLeaseLost = errors.New("repository lease lost")

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Store wraps the SQLite handle.
type Store struct {
	db *sql.DB
}

// Open opens (and migrates) the database at path. Use ":memory:" in tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows one writer; serialize access through a single conn to
	// keep "database is locked" out of the worker loop.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS repositories (
		id TEXT PRIMARY KEY,
		address TEXT NOT NULL,
		branch TEXT NOT NULL DEFAULT '',
		git_user_name TEXT NOT NULL DEFAULT '',
		git_password TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		organization_name TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		local_path TEXT NOT NULL DEFAULT '',
		version TEXT NOT NULL DEFAULT '',
		optimized_directory_structure TEXT NOT NULL DEFAULT '',
		classify TEXT,
		readme TEXT NOT NULL DEFAULT '',
		lease_owner TEXT,
		lease_deadline INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_repositories_status ON repositories(status);

	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		repository_id TEXT NOT NULL UNIQUE,
		git_path TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		last_update INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS catalogues (
		id TEXT PRIMARY KEY,
		repository_id TEXT NOT NULL,
		parent_id TEXT,
		title TEXT NOT NULL,
		name TEXT NOT NULL,
		url TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		prompt TEXT NOT NULL DEFAULT '',
		order_index INTEGER NOT NULL DEFAULT 0,
		is_completed INTEGER NOT NULL DEFAULT 0,
		is_deleted INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_catalogues_repository ON catalogues(repository_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_catalogues_url
		ON catalogues(repository_id, url) WHERE is_deleted = 0;

	CREATE TABLE IF NOT EXISTS file_items (
		id TEXT PRIMARY KEY,
		catalogue_id TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		sources TEXT NOT NULL DEFAULT '[]',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS overviews (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_overviews_document ON overviews(document_id);

	CREATE TABLE IF NOT EXISTS minimaps (
		id TEXT PRIMARY KEY,
		repository_id TEXT NOT NULL,
		value TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_minimaps_repository ON minimaps(repository_id);

	CREATE TABLE IF NOT EXISTS commit_records (
		id TEXT PRIMARY KEY,
		repository_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		commit_date INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_commit_records_repository ON commit_records(repository_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// inTx runs fn inside a transaction, committing on nil error.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
