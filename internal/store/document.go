package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UpsertDocument creates the per-repository document row if missing, or
// refreshes its git path and status if present.
func (s *Store) UpsertDocument(ctx context.Context, repositoryID, gitPath string, status RepositoryStatus) (*Document, error) {
	doc := &Document{
		ID:           uuid.NewString(),
		RepositoryID: repositoryID,
		GitPath:      gitPath,
		Status:       status,
		LastUpdate:   time.Now(),
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO documents (id, repository_id, git_path, status, last_update)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(repository_id) DO UPDATE SET git_path = excluded.git_path, status = excluded.status`,
			doc.ID, doc.RepositoryID, doc.GitPath, string(doc.Status), doc.LastUpdate.Unix())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("upsert document: %w", err)
	}
	return s.GetDocument(ctx, repositoryID)
}

// GetDocument loads the document for a repository.
func (s *Store) GetDocument(ctx context.Context, repositoryID string) (*Document, error) {
	var (
		doc        Document
		status     string
		lastUpdate int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, repository_id, git_path, status, last_update
		FROM documents WHERE repository_id = ?`, repositoryID).
		Scan(&doc.ID, &doc.RepositoryID, &doc.GitPath, &status, &lastUpdate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	doc.Status = RepositoryStatus(status)
	doc.LastUpdate = time.Unix(lastUpdate, 0)
	return &doc, nil
}

// SetDocumentStatus mirrors the repository status onto the document and, when
// touch is true, stamps last_update so the incremental updater sees it fresh.
func (s *Store) SetDocumentStatus(ctx context.Context, documentID string, status RepositoryStatus, touch bool) error {
	query := `UPDATE documents SET status = ? WHERE id = ?`
	args := []any{string(status), documentID}
	if touch {
		query = `UPDATE documents SET status = ?, last_update = ? WHERE id = ?`
		args = []any{string(status), time.Now().Unix(), documentID}
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	return nil
}
