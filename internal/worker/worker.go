// Package worker runs the background loops: the claim/process loop that
// drives the documentation pipeline, and the periodic incremental updater.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/YickelFuboo/OpenDeepWiki/internal/config"
	"github.com/YickelFuboo/OpenDeepWiki/internal/gitrepo"
	"github.com/YickelFuboo/OpenDeepWiki/internal/kernel"
	"github.com/YickelFuboo/OpenDeepWiki/internal/logfields"
	"github.com/YickelFuboo/OpenDeepWiki/internal/metrics"
	"github.com/YickelFuboo/OpenDeepWiki/internal/pipeline"
	"github.com/YickelFuboo/OpenDeepWiki/internal/store"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultErrorSleep   = 5 * time.Second
	// Pipeline runs span many long streaming completions; the lease must
	// outlive the slowest plausible run.
	defaultLease = 6 * time.Hour
)

// ErrUnsupportedRepoType marks rows whose type the worker cannot process;
// such rows fail terminally instead of retrying.
var ErrUnsupportedRepoType = errors.New("unsupported repository type")

// Worker claims repositories one at a time and runs the pipeline against
// them. Multiple workers may share one store; the lease keeps them off each
// other's rows.
type Worker struct {
	id     string
	st     *store.Store
	cfg    *config.Config
	git    *gitrepo.Client
	pipe   *pipeline.Pipeline
	logger *slog.Logger

	poll       time.Duration
	errorSleep time.Duration
	lease      time.Duration

	// newKernel is swapped in tests.
	newKernel func(workdir string) (pipeline.Invoker, error)
}

func New(st *store.Store, cfg *config.Config, git *gitrepo.Client, logger *slog.Logger) *Worker {
	host, _ := os.Hostname()
	w := &Worker{
		id:         fmt.Sprintf("%s-%s", host, uuid.NewString()[:8]),
		st:         st,
		cfg:        cfg,
		git:        git,
		pipe:       pipeline.New(st, cfg, git, logger),
		logger:     logger,
		poll:       cfg.Worker.PollInterval,
		errorSleep: defaultErrorSleep,
		lease:      cfg.Worker.LeaseDuration,
	}
	if w.poll <= 0 {
		w.poll = defaultPollInterval
	}
	if w.lease <= 0 {
		w.lease = defaultLease
	}
	w.newKernel = func(workdir string) (pipeline.Invoker, error) {
		return kernel.New(cfg, workdir, cfg.OpenAI.ChatModel, true, logger)
	}
	return w
}

// ID returns the worker's lease owner identity.
func (w *Worker) ID() string { return w.id }

// Run claims and processes repositories until the context is canceled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", slog.String("worker_id", w.id))
	for {
		repo, err := w.st.Claim(ctx, w.id, w.lease)
		if err != nil {
			w.logger.Error("claim failed", logfields.Error(err))
			if !sleepCtx(ctx, w.errorSleep) {
				return ctx.Err()
			}
			continue
		}
		if repo == nil {
			if !sleepCtx(ctx, w.poll) {
				return ctx.Err()
			}
			continue
		}
		w.ProcessOne(ctx, repo)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// ProcessOne runs the full pipeline for one claimed repository and settles
// its final status.
func (w *Worker) ProcessOne(ctx context.Context, repo *store.Repository) {
	logger := w.logger.With(logfields.RepositoryID(repo.ID), logfields.Repository(repo.Address))
	logger.Info("repository claimed")
	start := time.Now()

	err := w.process(ctx, repo)
	switch {
	case err == nil:
		if err := w.settle(ctx, repo, store.StatusCompleted, ""); err != nil {
			logger.Error("mark completed failed", logfields.Error(err))
			return
		}
		metrics.RepositoriesProcessed.WithLabelValues("success").Inc()
		logger.Info("repository completed", logfields.DurationMS(time.Since(start)))

	case errors.Is(err, store.ErrLeaseLost):
		// Another worker owns the row now; abandon without writing.
		logger.Warn("lease lost, abandoning repository")

	default:
		logger.Error("repository failed", logfields.Error(err), logfields.DurationMS(time.Since(start)))
		if serr := w.settle(ctx, repo, store.StatusFailed, err.Error()); serr != nil {
			logger.Error("mark failed failed", logfields.Error(serr))
		}
		metrics.RepositoriesProcessed.WithLabelValues("failure").Inc()
		sleepCtx(ctx, w.errorSleep)
	}
}

func (w *Worker) process(ctx context.Context, repo *store.Repository) error {
	if err := w.st.SetStatus(ctx, repo, store.StatusProcessing, ""); err != nil {
		return err
	}
	if err := w.prepareWorkingCopy(ctx, repo); err != nil {
		return err
	}

	doc, err := w.st.UpsertDocument(ctx, repo.ID, repo.LocalPath, store.StatusProcessing)
	if err != nil {
		return err
	}
	k, err := w.newKernel(repo.LocalPath)
	if err != nil {
		return err
	}
	return w.pipe.Run(ctx, repo, doc, k)
}

// prepareWorkingCopy materializes the working tree: clone for git remotes,
// the configured address itself for plain directories.
func (w *Worker) prepareWorkingCopy(ctx context.Context, repo *store.Repository) error {
	switch repo.Type {
	case store.TypeGit:
		res, err := w.git.Clone(ctx, repo.Address, repo.Branch, repo.GitUserName, repo.GitPassword)
		if err != nil {
			return err
		}
		return w.st.SaveCloneResult(ctx, repo,
			res.RepositoryName, res.BranchName, res.Organization, res.LocalPath, res.Version)

	case store.TypeFile:
		info, err := os.Stat(repo.Address)
		if err != nil || !info.IsDir() {
			return fmt.Errorf("directory repository %s is not accessible", repo.Address)
		}
		org, name := gitrepo.SplitRemote(repo.Address)
		return w.st.SaveCloneResult(ctx, repo, name, repo.Branch, org, repo.Address, "")

	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedRepoType, repo.Type)
	}
}

// settle records the final status on both rows and releases the lease.
func (w *Worker) settle(ctx context.Context, repo *store.Repository, status store.RepositoryStatus, errText string) error {
	if err := w.st.SetStatus(ctx, repo, status, errText); err != nil {
		return err
	}
	if doc, err := w.st.GetDocument(ctx, repo.ID); err == nil {
		if err := w.st.SetDocumentStatus(ctx, doc.ID, status, status == store.StatusCompleted); err != nil {
			return err
		}
	}
	return w.st.ReleaseLease(ctx, repo)
}

// sleepCtx sleeps unless the context ends first; false means canceled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
