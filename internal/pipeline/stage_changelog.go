package pipeline

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/YickelFuboo/OpenDeepWiki/internal/store"
)

// changelogLimit caps how far back the commit record list reaches.
const changelogLimit = 50

// runChangelogStage snapshots recent commit history into commit records.
// Plain-directory repositories have no history and skip.
func runChangelogStage(ctx context.Context, env *Env) error {
	if !env.Config.Document.EnableWarehouseCommit {
		env.Logger.Debug("commit records disabled, skipping changelog")
		return nil
	}
	if env.Repo.Type != store.TypeGit {
		env.Logger.Debug("not a git repository, skipping changelog")
		return nil
	}

	commits, err := env.Git.History(env.Workdir, changelogLimit)
	if err != nil {
		return err
	}

	// History is newest first; records insert oldest first so created_at
	// follows commit order.
	records := make([]store.CommitRecord, 0, len(commits))
	for i := len(commits) - 1; i >= 0; i-- {
		c := commits[i]
		title, description, _ := strings.Cut(c.Message, "\n")
		records = append(records, store.CommitRecord{
			ID:           uuid.NewString(),
			RepositoryID: env.Repo.ID,
			Title:        strings.TrimSpace(title),
			Description:  strings.TrimSpace(description),
			CommitDate:   c.When,
		})
	}
	return env.Store.ReplaceCommitRecords(ctx, env.Repo.ID, records)
}
