package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ReplaceOverview deletes any prior overview for the document and inserts the
// new one (stage 5 persistence contract).
func (s *Store) ReplaceOverview(ctx context.Context, documentID, content string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM overviews WHERE document_id = ?`, documentID); err != nil {
			return fmt.Errorf("delete overview: %w", err)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO overviews (id, document_id, content, created_at) VALUES (?, ?, ?, ?)`,
			uuid.NewString(), documentID, content, time.Now().Unix())
		if err != nil {
			return fmt.Errorf("insert overview: %w", err)
		}
		return nil
	})
}

// GetOverview returns the current overview for a document.
func (s *Store) GetOverview(ctx context.Context, documentID string) (*Overview, error) {
	var (
		o       Overview
		created int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, document_id, content, created_at FROM overviews WHERE document_id = ?`,
		documentID).Scan(&o.ID, &o.DocumentID, &o.Content, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get overview: %w", err)
	}
	o.CreatedAt = time.Unix(created, 0)
	return &o, nil
}

// ReplaceMiniMap deletes any prior mind map for the repository and inserts the
// new one (stage 4 persistence contract).
func (s *Store) ReplaceMiniMap(ctx context.Context, repositoryID, value string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM minimaps WHERE repository_id = ?`, repositoryID); err != nil {
			return fmt.Errorf("delete minimap: %w", err)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO minimaps (id, repository_id, value, created_at) VALUES (?, ?, ?, ?)`,
			uuid.NewString(), repositoryID, value, time.Now().Unix())
		if err != nil {
			return fmt.Errorf("insert minimap: %w", err)
		}
		return nil
	})
}

// GetMiniMap returns the current mind map for a repository.
func (s *Store) GetMiniMap(ctx context.Context, repositoryID string) (*MiniMap, error) {
	var (
		m       MiniMap
		created int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, repository_id, value, created_at FROM minimaps WHERE repository_id = ?`,
		repositoryID).Scan(&m.ID, &m.RepositoryID, &m.Value, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get minimap: %w", err)
	}
	m.CreatedAt = time.Unix(created, 0)
	return &m, nil
}

// ReplaceCommitRecords regenerates the changelog set for a repository
// (stage 8 persistence contract).
func (s *Store) ReplaceCommitRecords(ctx context.Context, repositoryID string, records []CommitRecord) error {
	now := time.Now().Unix()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM commit_records WHERE repository_id = ?`, repositoryID); err != nil {
			return fmt.Errorf("delete commit records: %w", err)
		}
		for i := range records {
			r := &records[i]
			if r.ID == "" {
				r.ID = uuid.NewString()
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO commit_records (id, repository_id, title, description, commit_date, created_at)
				VALUES (?, ?, ?, ?, ?, ?)`,
				r.ID, repositoryID, r.Title, r.Description, r.CommitDate.Unix(), now); err != nil {
				return fmt.Errorf("insert commit record: %w", err)
			}
		}
		return nil
	})
}

// ListCommitRecords returns a repository's changelog ordered by insertion.
func (s *Store) ListCommitRecords(ctx context.Context, repositoryID string) ([]CommitRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, repository_id, title, description, commit_date, created_at
		FROM commit_records WHERE repository_id = ? ORDER BY created_at ASC, commit_date ASC`,
		repositoryID)
	if err != nil {
		return nil, fmt.Errorf("query commit records: %w", err)
	}
	defer rows.Close()

	var out []CommitRecord
	for rows.Next() {
		var (
			r             CommitRecord
			date, created int64
		)
		if err := rows.Scan(&r.ID, &r.RepositoryID, &r.Title, &r.Description, &date, &created); err != nil {
			return nil, fmt.Errorf("scan commit record: %w", err)
		}
		r.CommitDate = time.Unix(date, 0)
		r.CreatedAt = time.Unix(created, 0)
		out = append(out, r)
	}
	return out, rows.Err()
}
