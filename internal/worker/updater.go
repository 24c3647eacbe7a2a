package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"github.com/YickelFuboo/OpenDeepWiki/internal/config"
	"github.com/YickelFuboo/OpenDeepWiki/internal/gitrepo"
	"github.com/YickelFuboo/OpenDeepWiki/internal/kernel"
	"github.com/YickelFuboo/OpenDeepWiki/internal/logfields"
	"github.com/YickelFuboo/OpenDeepWiki/internal/metrics"
	"github.com/YickelFuboo/OpenDeepWiki/internal/pipeline"
	"github.com/YickelFuboo/OpenDeepWiki/internal/prompts"
	"github.com/YickelFuboo/OpenDeepWiki/internal/store"
)

// defaultCheckInterval is how often the updater scans for stale
// repositories; the staleness threshold itself is UpdateIntervalDays.
const defaultCheckInterval = time.Hour

// Updater periodically reconciles completed repositories against new
// commits: pull, diff, catalogue adjustment, regeneration of invalidated
// documents.
type Updater struct {
	id     string
	st     *store.Store
	cfg    *config.Config
	git    *gitrepo.Client
	pipe   *pipeline.Pipeline
	logger *slog.Logger

	scheduler gocron.Scheduler
	lease     time.Duration

	newKernel func(workdir string) (pipeline.Invoker, error)
}

func NewUpdater(st *store.Store, cfg *config.Config, git *gitrepo.Client, logger *slog.Logger) (*Updater, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	host, _ := os.Hostname()
	u := &Updater{
		id:        fmt.Sprintf("%s-updater-%s", host, uuid.NewString()[:8]),
		st:        st,
		cfg:       cfg,
		git:       git,
		pipe:      pipeline.New(st, cfg, git, logger),
		logger:    logger,
		scheduler: s,
		lease:     defaultLease,
	}
	u.newKernel = func(workdir string) (pipeline.Invoker, error) {
		return kernel.New(cfg, workdir, cfg.OpenAI.ChatModel, true, logger)
	}
	return u, nil
}

// Start schedules the periodic scan and begins the scheduler.
func (u *Updater) Start(ctx context.Context) error {
	interval := u.cfg.Updater.Interval
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	_, err := u.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { u.RunOnce(ctx) }),
		gocron.WithName("incremental-update"),
	)
	if err != nil {
		return fmt.Errorf("schedule incremental update: %w", err)
	}
	u.scheduler.Start()
	u.logger.Info("incremental updater started", slog.Duration("check_interval", interval))
	return nil
}

// Stop shuts the scheduler down.
func (u *Updater) Stop() error {
	return u.scheduler.Shutdown()
}

// RunOnce scans for stale completed repositories and updates each in turn.
func (u *Updater) RunOnce(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -u.cfg.Document.UpdateIntervalDays)
	repos, err := u.st.ListCompletedBefore(ctx, cutoff)
	if err != nil {
		u.logger.Error("list stale repositories failed", logfields.Error(err))
		return
	}
	for _, repo := range repos {
		if ctx.Err() != nil {
			return
		}
		if repo.Type != store.TypeGit {
			continue // nothing to pull for plain directories
		}
		if err := u.UpdateOne(ctx, repo.ID); err != nil {
			u.logger.Error("incremental update failed",
				logfields.RepositoryID(repo.ID), logfields.Error(err))
			metrics.IncrementalUpdates.WithLabelValues("failure").Inc()
		} else {
			metrics.IncrementalUpdates.WithLabelValues("success").Inc()
		}
	}
}

// UpdateOne pulls one repository forward and reconciles its documentation.
func (u *Updater) UpdateOne(ctx context.Context, repositoryID string) error {
	repo, err := u.st.LeaseRepository(ctx, repositoryID, u.id, u.lease)
	if err != nil {
		return err
	}
	if repo == nil {
		return nil // leased elsewhere
	}
	logger := u.logger.With(logfields.RepositoryID(repo.ID), logfields.Repository(repo.Name))

	if err := u.st.SetStatus(ctx, repo, store.StatusProcessing, ""); err != nil {
		return err
	}
	err = u.update(ctx, repo, logger)
	if err != nil {
		if serr := u.st.SetStatus(ctx, repo, store.StatusFailed, err.Error()); serr != nil {
			logger.Error("mark failed failed", logfields.Error(serr))
		}
		_ = u.st.ReleaseLease(ctx, repo)
		return err
	}
	if err := u.st.SetStatus(ctx, repo, store.StatusCompleted, ""); err != nil {
		return err
	}
	return u.st.ReleaseLease(ctx, repo)
}

func (u *Updater) update(ctx context.Context, repo *store.Repository, logger *slog.Logger) error {
	pull, err := u.git.Pull(ctx, repo.LocalPath, repo.Version, repo.GitUserName, repo.GitPassword)
	if err != nil {
		return err
	}
	doc, err := u.st.GetDocument(ctx, repo.ID)
	if err != nil {
		return err
	}

	if len(pull.Commits) == 0 {
		logger.Debug("no new commits")
		return u.st.SetDocumentStatus(ctx, doc.ID, store.StatusCompleted, true)
	}
	logger.Info("new commits pulled", slog.Int("commits", len(pull.Commits)))

	k, err := u.newKernel(repo.LocalPath)
	if err != nil {
		return err
	}
	if err := u.reconcileCatalogue(ctx, repo, k, pull); err != nil {
		return err
	}
	if err := u.pipe.RunDocs(ctx, repo, doc, k); err != nil {
		return err
	}
	if err := u.replaceCommitRecords(ctx, repo, pull.Commits); err != nil {
		return err
	}
	if err := u.st.SetVersion(ctx, repo, pull.HeadVersion); err != nil {
		return err
	}
	return u.st.SetDocumentStatus(ctx, doc.ID, store.StatusCompleted, true)
}

// catalogueActions is the JSON diff the reconciliation prompt returns.
type catalogueActions struct {
	Add []struct {
		Title       string `json:"title"`
		Name        string `json:"name"`
		Prompt      string `json:"prompt"`
		ParentTitle string `json:"parent_title"`
	} `json:"add"`
	Update []string `json:"update"`
	Delete []string `json:"delete"`
}

// reconcileCatalogue asks the model which catalogue nodes the new commits
// invalidate and applies the returned add/update/delete actions.
func (u *Updater) reconcileCatalogue(ctx context.Context, repo *store.Repository, k pipeline.Invoker, pull *gitrepo.PullResult) error {
	existing, err := u.st.ListCatalogues(ctx, repo.ID)
	if err != nil {
		return err
	}

	out, err := k.InvokePrompt(ctx, "AnalyzeNewCatalogue", map[string]string{
		"git_repository":     repo.Address,
		"document_catalogue": encodeCatalogue(existing),
		"catalogue":          repo.OptimizedDirectoryStructure,
		"git_commit":         u.commitSummaries(repo, pull),
	}, nil)
	if err != nil {
		return err
	}

	var actions catalogueActions
	if err := json.Unmarshal([]byte(prompts.Extract(out, "documentation_structure")), &actions); err != nil {
		return fmt.Errorf("%w: %v", pipeline.ErrInvalidLLMOutput, err)
	}

	known := make(map[string]bool, len(existing))
	byTitle := make(map[string]store.Catalogue, len(existing))
	taken := make(map[string]bool, len(existing))
	for _, n := range existing {
		known[n.ID] = true
		byTitle[n.Title] = n
		taken[n.URL] = true
	}

	for _, id := range actions.Delete {
		if !known[id] {
			continue
		}
		if err := u.st.SoftDeleteCatalogue(ctx, repo.ID, id); err != nil {
			return err
		}
	}
	for _, id := range actions.Update {
		if !known[id] {
			continue
		}
		// Clearing the flag makes the per-document stage regenerate it.
		if err := u.st.SetCatalogueCompleted(ctx, id, false); err != nil {
			return err
		}
	}
	for i, add := range actions.Add {
		name := add.Name
		if name == "" {
			name = add.Title
		}
		node := store.Catalogue{
			ID:           uuid.NewString(),
			RepositoryID: repo.ID,
			Title:        add.Title,
			Name:         name,
			URL:          pipeline.UniqueSlug(pipeline.Slugify(name), taken),
			Prompt:       add.Prompt,
			OrderIndex:   len(existing) + i,
		}
		if parent, ok := byTitle[add.ParentTitle]; ok {
			id := parent.ID
			node.ParentID = &id
		}
		if err := u.st.CreateCatalogue(ctx, &node); err != nil {
			return err
		}
	}
	return nil
}

// commitSummaries renders the per-commit diff block the reconciliation
// prompt consumes.
func (u *Updater) commitSummaries(repo *store.Repository, pull *gitrepo.PullResult) string {
	var b strings.Builder
	prev := repo.Version
	for _, c := range pull.Commits {
		b.WriteString("<commit>\n")
		b.WriteString(c.Message)
		b.WriteString("\n")
		if prev != "" {
			changes, err := u.git.Diff(repo.LocalPath, prev, c.Hash)
			if err != nil {
				u.logger.Warn("diff failed", slog.String("commit", c.Hash), logfields.Error(err))
			}
			for _, ch := range changes {
				fmt.Fprintf(&b, " - %s: %s\n", ch.Status, ch.Path)
			}
		}
		b.WriteString("</commit>\n")
		prev = c.Hash
	}
	return b.String()
}

func (u *Updater) replaceCommitRecords(ctx context.Context, repo *store.Repository, commits []gitrepo.CommitInfo) error {
	records := make([]store.CommitRecord, 0, len(commits))
	for _, c := range commits {
		title, description, _ := strings.Cut(c.Message, "\n")
		records = append(records, store.CommitRecord{
			ID:           uuid.NewString(),
			RepositoryID: repo.ID,
			Title:        strings.TrimSpace(title),
			Description:  strings.TrimSpace(description),
			CommitDate:   c.When,
		})
	}
	return u.st.ReplaceCommitRecords(ctx, repo.ID, records)
}

// encodeCatalogue serializes the live forest for the reconciliation prompt;
// ids are included so returned actions can reference them.
func encodeCatalogue(nodes []store.Catalogue) string {
	type entry struct {
		ID     string `json:"id"`
		Title  string `json:"title"`
		Name   string `json:"name"`
		Parent string `json:"parent,omitempty"`
	}
	out := make([]entry, 0, len(nodes))
	for _, n := range nodes {
		e := entry{ID: n.ID, Title: n.Title, Name: n.Name}
		if n.ParentID != nil {
			e.Parent = *n.ParentID
		}
		out = append(out, e)
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(data)
}
