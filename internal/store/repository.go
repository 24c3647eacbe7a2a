package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const repositoryColumns = `id, address, branch, git_user_name, git_password, type, status, error,
	organization_name, name, local_path, version, optimized_directory_structure, classify, readme,
	lease_owner, lease_deadline, created_at, updated_at`

// CreateRepository inserts a new Pending repository row. The surrounding API
// collaborator calls this; the worker only ever claims existing rows.
func (s *Store) CreateRepository(ctx context.Context, repo *Repository) error {
	if repo.ID == "" {
		repo.ID = uuid.NewString()
	}
	if repo.Status == "" {
		repo.Status = StatusPending
	}
	now := time.Now()
	repo.CreatedAt = now
	repo.UpdatedAt = now

	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO repositories (id, address, branch, git_user_name, git_password, type, status,
				organization_name, name, local_path, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			repo.ID, repo.Address, repo.Branch, repo.GitUserName, repo.GitPassword,
			string(repo.Type), string(repo.Status), repo.OrganizationName, repo.Name,
			repo.LocalPath, now.Unix(), now.Unix())
		if err != nil {
			return fmt.Errorf("insert repository: %w", err)
		}
		return nil
	})
}

// GetRepository loads a repository by id.
func (s *Store) GetRepository(ctx context.Context, id string) (*Repository, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+repositoryColumns+` FROM repositories WHERE id = ?`, id)
	return scanRepository(row)
}

// Claim leases the next workable repository for owner: Processing rows first
// (finish interrupted work), then Pending, skipping rows leased by a live
// owner. The lease is taken with a conditional update; zero rows affected
// means another worker won the race and nil is returned.
func (s *Store) Claim(ctx context.Context, owner string, lease time.Duration) (*Repository, error) {
	now := time.Now()

	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM repositories
		WHERE status IN (?, ?) AND (lease_owner IS NULL OR lease_owner = ? OR lease_deadline < ?)
		ORDER BY status = ? DESC, created_at ASC
		LIMIT 1`,
		string(StatusPending), string(StatusProcessing), owner, now.Unix(),
		string(StatusProcessing)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query claimable repository: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE repositories SET lease_owner = ?, lease_deadline = ?, updated_at = ?
		WHERE id = ? AND (lease_owner IS NULL OR lease_owner = ? OR lease_deadline < ?)`,
		owner, now.Add(lease).Unix(), now.Unix(), id, owner, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("take lease: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil // lost the race; caller polls again
	}

	return s.GetRepository(ctx, id)
}

// guardedUpdate executes an UPDATE restricted to the caller's lease and maps
// zero affected rows to ErrLeaseLost.
func (s *Store) guardedUpdate(ctx context.Context, repo *Repository, query string, args ...any) error {
	args = append(args, repo.ID, repo.LeaseOwner)
	res, err := s.db.ExecContext(ctx, query+` WHERE id = ? AND lease_owner = ?`, args...)
	if err != nil {
		return fmt.Errorf("update repository: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrLeaseLost
	}
	return nil
}

// SetStatus transitions the repository status and records the error text
// (empty on success paths).
func (s *Store) SetStatus(ctx context.Context, repo *Repository, status RepositoryStatus, errText string) error {
	if err := s.guardedUpdate(ctx, repo,
		`UPDATE repositories SET status = ?, error = ?, updated_at = ?`,
		string(status), errText, time.Now().Unix()); err != nil {
		return err
	}
	repo.Status = status
	repo.Error = errText
	return nil
}

// SaveCloneResult records what the git primitive resolved during clone.
func (s *Store) SaveCloneResult(ctx context.Context, repo *Repository, name, branch, org, localPath, version string) error {
	if err := s.guardedUpdate(ctx, repo,
		`UPDATE repositories SET name = ?, branch = ?, organization_name = ?, local_path = ?, version = ?, updated_at = ?`,
		name, branch, org, localPath, version, time.Now().Unix()); err != nil {
		return err
	}
	repo.Name, repo.Branch, repo.OrganizationName = name, branch, org
	repo.LocalPath, repo.Version = localPath, version
	return nil
}

// SetReadme caches the synthesized or discovered README text.
func (s *Store) SetReadme(ctx context.Context, repo *Repository, readme string) error {
	if err := s.guardedUpdate(ctx, repo,
		`UPDATE repositories SET readme = ?, updated_at = ?`, readme, time.Now().Unix()); err != nil {
		return err
	}
	repo.Readme = readme
	return nil
}

// SetOptimizedStructure caches the directory manifest.
func (s *Store) SetOptimizedStructure(ctx context.Context, repo *Repository, manifest string) error {
	if err := s.guardedUpdate(ctx, repo,
		`UPDATE repositories SET optimized_directory_structure = ?, updated_at = ?`,
		manifest, time.Now().Unix()); err != nil {
		return err
	}
	repo.OptimizedDirectoryStructure = manifest
	return nil
}

// SetClassify stores the parsed classification; nil stores SQL null.
func (s *Store) SetClassify(ctx context.Context, repo *Repository, c *Classification) error {
	var v any
	if c != nil {
		v = string(*c)
	}
	if err := s.guardedUpdate(ctx, repo,
		`UPDATE repositories SET classify = ?, updated_at = ?`, v, time.Now().Unix()); err != nil {
		return err
	}
	repo.Classify = c
	return nil
}

// SetVersion refreshes the head commit hash after an incremental pull.
func (s *Store) SetVersion(ctx context.Context, repo *Repository, version string) error {
	if err := s.guardedUpdate(ctx, repo,
		`UPDATE repositories SET version = ?, updated_at = ?`, version, time.Now().Unix()); err != nil {
		return err
	}
	repo.Version = version
	return nil
}

// ReleaseLease clears the lease so other workers may claim the row. Best
// effort: a lost lease here is not an error.
func (s *Store) ReleaseLease(ctx context.Context, repo *Repository) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE repositories SET lease_owner = NULL, lease_deadline = 0, updated_at = ?
		WHERE id = ? AND lease_owner = ?`,
		time.Now().Unix(), repo.ID, repo.LeaseOwner)
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

// LeaseRepository takes the lease on one specific repository, the incremental
// updater's entry point for re-processing a Completed row. Returns nil when
// another worker holds a live lease.
func (s *Store) LeaseRepository(ctx context.Context, id, owner string, lease time.Duration) (*Repository, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE repositories SET lease_owner = ?, lease_deadline = ?, updated_at = ?
		WHERE id = ? AND (lease_owner IS NULL OR lease_owner = ? OR lease_deadline < ?)`,
		owner, now.Add(lease).Unix(), now.Unix(), id, owner, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("take lease: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}
	return s.GetRepository(ctx, id)
}

// ResetRepository is the administrative reset: Failed back to Pending with the
// error cleared. Never called by the worker itself.
func (s *Store) ResetRepository(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE repositories SET status = ?, error = '', lease_owner = NULL, lease_deadline = 0, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(StatusPending), time.Now().Unix(), id, string(StatusFailed))
	if err != nil {
		return fmt.Errorf("reset repository: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListCompletedBefore returns Completed repositories whose document has not
// been updated since the cutoff; the incremental updater's work list.
func (s *Store) ListCompletedBefore(ctx context.Context, cutoff time.Time) ([]*Repository, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+prefixColumns("r", repositoryColumns)+`
		FROM repositories r JOIN documents d ON d.repository_id = r.id
		WHERE r.status = ? AND d.last_update < ?
		ORDER BY d.last_update ASC`,
		string(StatusCompleted), cutoff.Unix())
	if err != nil {
		return nil, fmt.Errorf("query stale repositories: %w", err)
	}
	defer rows.Close()

	var out []*Repository
	for rows.Next() {
		repo, err := scanRepository(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, repo)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRepository(row rowScanner) (*Repository, error) {
	var (
		repo                        Repository
		typ, status                 string
		classify, leaseOwner        sql.NullString
		leaseDeadline, created, updated int64
	)
	err := row.Scan(&repo.ID, &repo.Address, &repo.Branch, &repo.GitUserName, &repo.GitPassword,
		&typ, &status, &repo.Error, &repo.OrganizationName, &repo.Name, &repo.LocalPath,
		&repo.Version, &repo.OptimizedDirectoryStructure, &classify, &repo.Readme,
		&leaseOwner, &leaseDeadline, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan repository: %w", err)
	}
	repo.Type = RepositoryType(typ)
	repo.Status = RepositoryStatus(status)
	if classify.Valid {
		c := Classification(classify.String)
		repo.Classify = &c
	}
	repo.LeaseOwner = leaseOwner.String
	repo.LeaseDeadline = time.Unix(leaseDeadline, 0)
	repo.CreatedAt = time.Unix(created, 0)
	repo.UpdatedAt = time.Unix(updated, 0)
	return &repo, nil
}

// prefixColumns qualifies a comma-separated column list with a table alias.
func prefixColumns(alias, cols string) string {
	parts := strings.Split(cols, ",")
	for i, c := range parts {
		parts[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(parts, ", ")
}
