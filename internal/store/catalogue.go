package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ReplaceCatalogueForest deletes the repository's existing catalogue rows and
// inserts the new forest in one transaction (stage 6 persistence contract).
// Nodes must already carry IDs and parent references.
func (s *Store) ReplaceCatalogueForest(ctx context.Context, repositoryID string, nodes []Catalogue) error {
	now := time.Now().Unix()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM file_items WHERE catalogue_id IN (SELECT id FROM catalogues WHERE repository_id = ?)`,
			repositoryID); err != nil {
			return fmt.Errorf("delete file items: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM catalogues WHERE repository_id = ?`, repositoryID); err != nil {
			return fmt.Errorf("delete catalogues: %w", err)
		}
		for i := range nodes {
			n := &nodes[i]
			if n.ID == "" {
				n.ID = uuid.NewString()
			}
			var parent any
			if n.ParentID != nil {
				parent = *n.ParentID
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO catalogues (id, repository_id, parent_id, title, name, url, description,
					prompt, order_index, is_completed, is_deleted, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				n.ID, repositoryID, parent, n.Title, n.Name, n.URL, n.Description,
				n.Prompt, n.OrderIndex, boolInt(n.IsCompleted), boolInt(n.IsDeleted), now); err != nil {
				return fmt.Errorf("insert catalogue %s: %w", n.Title, err)
			}
		}
		return nil
	})
}

// CreateCatalogue inserts a single node (incremental "add" action).
func (s *Store) CreateCatalogue(ctx context.Context, n *Catalogue) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	var parent any
	if n.ParentID != nil {
		parent = *n.ParentID
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO catalogues (id, repository_id, parent_id, title, name, url, description,
				prompt, order_index, is_completed, is_deleted, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
			n.ID, n.RepositoryID, parent, n.Title, n.Name, n.URL, n.Description,
			n.Prompt, n.OrderIndex, boolInt(n.IsCompleted), time.Now().Unix())
		if err != nil {
			return fmt.Errorf("insert catalogue: %w", err)
		}
		return nil
	})
}

// ListCatalogues returns all live (non-deleted) nodes of a repository ordered
// by parent then order index.
func (s *Store) ListCatalogues(ctx context.Context, repositoryID string) ([]Catalogue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, repository_id, parent_id, title, name, url, description, prompt,
			order_index, is_completed, is_deleted, created_at
		FROM catalogues
		WHERE repository_id = ? AND is_deleted = 0
		ORDER BY parent_id NULLS FIRST, order_index ASC`, repositoryID)
	if err != nil {
		return nil, fmt.Errorf("query catalogues: %w", err)
	}
	defer rows.Close()

	var out []Catalogue
	for rows.Next() {
		n, err := scanCatalogue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

// GetCatalogue loads one node by id, deleted or not.
func (s *Store) GetCatalogue(ctx context.Context, id string) (*Catalogue, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, repository_id, parent_id, title, name, url, description, prompt,
			order_index, is_completed, is_deleted, created_at
		FROM catalogues WHERE id = ?`, id)
	return scanCatalogue(row)
}

// SetCatalogueCompleted flips the per-node completion flag (stage 7 contract:
// set true only after the file item is committed).
func (s *Store) SetCatalogueCompleted(ctx context.Context, id string, completed bool) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE catalogues SET is_completed = ? WHERE id = ?`, boolInt(completed), id); err != nil {
		return fmt.Errorf("update catalogue completion: %w", err)
	}
	return nil
}

// UpdateCatalogueMeta rewrites the mutable description fields (incremental
// "update" action) and clears completion so stage 7 regenerates the content.
func (s *Store) UpdateCatalogueMeta(ctx context.Context, id, name, description, prompt string) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE catalogues SET name = ?, description = ?, prompt = ?, is_completed = 0
		WHERE id = ?`, name, description, prompt, id); err != nil {
		return fmt.Errorf("update catalogue: %w", err)
	}
	return nil
}

// SoftDeleteCatalogue hides a node (and its subtree) from readers while
// retaining history.
func (s *Store) SoftDeleteCatalogue(ctx context.Context, repositoryID, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		// Walk down the live forest; SQLite recursive CTE keeps it one statement.
		_, err := tx.ExecContext(ctx, `
			WITH RECURSIVE subtree(id) AS (
				SELECT id FROM catalogues WHERE id = ? AND repository_id = ?
				UNION ALL
				SELECT c.id FROM catalogues c JOIN subtree s ON c.parent_id = s.id
			)
			UPDATE catalogues SET is_deleted = 1 WHERE id IN (SELECT id FROM subtree)`,
			id, repositoryID)
		if err != nil {
			return fmt.Errorf("soft delete catalogue: %w", err)
		}
		return nil
	})
}

// UpsertFileItem writes the generated content for a leaf node. Idempotent per
// catalogue id.
func (s *Store) UpsertFileItem(ctx context.Context, item *FileItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	sources, err := json.Marshal(item.Sources)
	if err != nil {
		return fmt.Errorf("marshal sources: %w", err)
	}
	now := time.Now().Unix()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO file_items (id, catalogue_id, title, content, sources, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(catalogue_id) DO UPDATE SET
				title = excluded.title, content = excluded.content,
				sources = excluded.sources, updated_at = excluded.updated_at`,
			item.ID, item.CatalogueID, item.Title, item.Content, string(sources), now, now)
		if err != nil {
			return fmt.Errorf("upsert file item: %w", err)
		}
		return nil
	})
}

// GetFileItem loads the content row for a leaf node.
func (s *Store) GetFileItem(ctx context.Context, catalogueID string) (*FileItem, error) {
	var (
		item             FileItem
		sources          string
		created, updated int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, catalogue_id, title, content, sources, created_at, updated_at
		FROM file_items WHERE catalogue_id = ?`, catalogueID).
		Scan(&item.ID, &item.CatalogueID, &item.Title, &item.Content, &sources, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get file item: %w", err)
	}
	if err := json.Unmarshal([]byte(sources), &item.Sources); err != nil {
		return nil, fmt.Errorf("unmarshal sources: %w", err)
	}
	item.CreatedAt = time.Unix(created, 0)
	item.UpdatedAt = time.Unix(updated, 0)
	return &item, nil
}

func scanCatalogue(row rowScanner) (*Catalogue, error) {
	var (
		n                    Catalogue
		parent               sql.NullString
		completed, deleted   int
		created              int64
	)
	err := row.Scan(&n.ID, &n.RepositoryID, &parent, &n.Title, &n.Name, &n.URL,
		&n.Description, &n.Prompt, &n.OrderIndex, &completed, &deleted, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan catalogue: %w", err)
	}
	if parent.Valid {
		p := parent.String
		n.ParentID = &p
	}
	n.IsCompleted = completed != 0
	n.IsDeleted = deleted != 0
	n.CreatedAt = time.Unix(created, 0)
	return &n, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
