// Package gitrepo wraps the go-git transport into the three primitives the
// pipeline consumes: clone, pull-since-version, and commit diff.
package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/utils/merkletrie"

	"github.com/YickelFuboo/OpenDeepWiki/internal/logfields"
)

// Client performs git operations inside a workspace directory. Working trees
// land at <workspace>/<organization>/<name>.
type Client struct {
	workspaceDir string
}

// NewClient creates a git client rooted at workspaceDir.
func NewClient(workspaceDir string) *Client {
	return &Client{workspaceDir: workspaceDir}
}

// CloneResult is what clone resolves about the remote.
type CloneResult struct {
	LocalPath      string
	RepositoryName string
	BranchName     string
	Organization   string
	Version        string // head commit hash
}

// CommitInfo is one commit surfaced by Pull.
type CommitInfo struct {
	Hash    string
	Message string
	Author  string
	When    time.Time
}

// FileChange is one changed path between two commits.
type FileChange struct {
	Status string // added | modified | deleted
	Path   string
}

// PullResult carries the commits fetched since a prior version.
type PullResult struct {
	Commits     []CommitInfo // oldest first
	HeadVersion string
}

// Clone materializes the remote at its workspace path. An existing checkout is
// removed first so the working tree always matches the remote head.
func (c *Client) Clone(ctx context.Context, address, branch, username, password string) (*CloneResult, error) {
	org, name := SplitRemote(address)
	repoPath := filepath.Join(c.workspaceDir, org, name)

	slog.Debug("cloning repository", slog.String("address", address), logfields.Branch(branch), logfields.Path(repoPath))

	if err := os.RemoveAll(repoPath); err != nil {
		return nil, fmt.Errorf("remove existing checkout: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(repoPath), 0o755); err != nil {
		return nil, fmt.Errorf("create workspace dir: %w", err)
	}

	opts := &git.CloneOptions{URL: address, Auth: basicAuth(username, password)}
	if branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(branch)
		opts.SingleBranch = true
	}

	repo, err := git.PlainCloneContext(ctx, repoPath, false, opts)
	if err != nil {
		return nil, classifyError("clone", address, err)
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve head after clone: %w", err)
	}
	resolvedBranch := branch
	if resolvedBranch == "" {
		resolvedBranch = head.Name().Short()
	}

	slog.Info("repository cloned",
		logfields.Repository(name),
		logfields.Branch(resolvedBranch),
		slog.String("commit", shortHash(head.Hash().String())),
		logfields.Path(repoPath))

	return &CloneResult{
		LocalPath:      repoPath,
		RepositoryName: name,
		BranchName:     resolvedBranch,
		Organization:   org,
		Version:        head.Hash().String(),
	}, nil
}

// Pull fetches and fast-forwards the checkout, returning the commits made
// since sinceVersion (exclusive), oldest first.
func (c *Client) Pull(ctx context.Context, localPath, sinceVersion, username, password string) (*PullResult, error) {
	repo, err := git.PlainOpen(localPath)
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("get worktree: %w", err)
	}

	err = wt.PullContext(ctx, &git.PullOptions{RemoteName: "origin", Auth: basicAuth(username, password)})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil, classifyError("pull", localPath, err)
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve head after pull: %w", err)
	}

	result := &PullResult{HeadVersion: head.Hash().String()}
	if sinceVersion == head.Hash().String() {
		return result, nil
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("walk commit log: %w", err)
	}
	defer iter.Close()

	var newer []CommitInfo
	err = iter.ForEach(func(commit *object.Commit) error {
		if commit.Hash.String() == sinceVersion {
			return errStopIteration
		}
		newer = append(newer, CommitInfo{
			Hash:    commit.Hash.String(),
			Message: strings.TrimSpace(commit.Message),
			Author:  commit.Author.Name,
			When:    commit.Author.When,
		})
		return nil
	})
	if err != nil && !errors.Is(err, errStopIteration) {
		return nil, fmt.Errorf("walk commit log: %w", err)
	}

	// Log order is newest first; callers want oldest first.
	for i, j := 0, len(newer)-1; i < j; i, j = i+1, j-1 {
		newer[i], newer[j] = newer[j], newer[i]
	}
	result.Commits = newer
	return result, nil
}

// Diff lists file changes between two commits of the local checkout.
func (c *Client) Diff(localPath, hashA, hashB string) ([]FileChange, error) {
	repo, err := git.PlainOpen(localPath)
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}

	treeA, err := commitTree(repo, hashA)
	if err != nil {
		return nil, err
	}
	treeB, err := commitTree(repo, hashB)
	if err != nil {
		return nil, err
	}

	changes, err := treeA.Diff(treeB)
	if err != nil {
		return nil, fmt.Errorf("diff trees: %w", err)
	}

	out := make([]FileChange, 0, len(changes))
	for _, ch := range changes {
		action, err := ch.Action()
		if err != nil {
			return nil, fmt.Errorf("resolve change action: %w", err)
		}
		fc := FileChange{Path: ch.To.Name}
		switch action {
		case merkletrie.Insert:
			fc.Status = "added"
		case merkletrie.Delete:
			fc.Status = "deleted"
			fc.Path = ch.From.Name
		default:
			fc.Status = "modified"
		}
		out = append(out, fc)
	}
	return out, nil
}

// History returns the most recent commits of the local checkout, newest
// first. limit <= 0 walks the full history.
func (c *Client) History(localPath string, limit int) ([]CommitInfo, error) {
	repo, err := git.PlainOpen(localPath)
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("walk commit log: %w", err)
	}
	defer iter.Close()

	var out []CommitInfo
	err = iter.ForEach(func(commit *object.Commit) error {
		if limit > 0 && len(out) >= limit {
			return errStopIteration
		}
		out = append(out, CommitInfo{
			Hash:    commit.Hash.String(),
			Message: strings.TrimSpace(commit.Message),
			Author:  commit.Author.Name,
			When:    commit.Author.When,
		})
		return nil
	})
	if err != nil && !errors.Is(err, errStopIteration) {
		return nil, fmt.Errorf("walk commit log: %w", err)
	}
	return out, nil
}

var errStopIteration = errors.New("stop iteration")

func commitTree(repo *git.Repository, hash string) (*object.Tree, error) {
	commit, err := repo.CommitObject(plumbing.NewHash(hash))
	if err != nil {
		return nil, fmt.Errorf("load commit %s: %w", shortHash(hash), err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("load tree %s: %w", shortHash(hash), err)
	}
	return tree, nil
}

func basicAuth(username, password string) transport.AuthMethod {
	if username == "" && password == "" {
		return nil
	}
	user := username
	if user == "" {
		// Token-only auth: go-git requires a non-empty username.
		user = "git"
	}
	return &http.BasicAuth{Username: user, Password: password}
}

// SplitRemote derives (organization, name) from a remote address or local path.
func SplitRemote(address string) (org, name string) {
	trimmed := strings.TrimSuffix(strings.TrimRight(address, "/"), ".git")
	trimmed = strings.ReplaceAll(trimmed, ":", "/")
	parts := strings.Split(trimmed, "/")
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return "", parts[0]
	default:
		return parts[len(parts)-2], parts[len(parts)-1]
	}
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}
