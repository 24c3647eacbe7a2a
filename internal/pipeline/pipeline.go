// Package pipeline drives the eight documentation stages for one repository.
// Stages are re-invokable; skip rules plus the store's persistence contracts
// make the whole run resumable after a crash.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/YickelFuboo/OpenDeepWiki/internal/config"
	"github.com/YickelFuboo/OpenDeepWiki/internal/gitrepo"
	"github.com/YickelFuboo/OpenDeepWiki/internal/kernel"
	"github.com/YickelFuboo/OpenDeepWiki/internal/logfields"
	"github.com/YickelFuboo/OpenDeepWiki/internal/markdown"
	"github.com/YickelFuboo/OpenDeepWiki/internal/metrics"
	"github.com/YickelFuboo/OpenDeepWiki/internal/prompts"
	"github.com/YickelFuboo/OpenDeepWiki/internal/retry"
	"github.com/YickelFuboo/OpenDeepWiki/internal/scanner"
	"github.com/YickelFuboo/OpenDeepWiki/internal/store"
)

// Invoker is the slice of the kernel the stages consume. *kernel.Kernel
// implements it.
type Invoker interface {
	InvokePrompt(ctx context.Context, template string, vars map[string]string, dc *kernel.DocumentContext) (string, error)
	InvokeStreaming(ctx context.Context, template string, vars map[string]string, dc *kernel.DocumentContext, onDelta func(string)) (string, error)
	Library() *prompts.Library
}

// Env bundles everything one stage run needs.
type Env struct {
	Store   *store.Store
	Config  *config.Config
	Git     *gitrepo.Client
	Kernel  Invoker
	Logger  *slog.Logger
	Repo    *store.Repository
	Doc     *store.Document
	Workdir string
}

// Stage is one pipeline step. Retryable stages carry a policy; stages that
// manage their own retry (smart filter, per-document) leave it nil.
type Stage struct {
	Name   string
	Policy *retry.Policy
	Run    func(ctx context.Context, env *Env) error
}

type Pipeline struct {
	store  *store.Store
	cfg    *config.Config
	git    *gitrepo.Client
	logger *slog.Logger
	stages []Stage
}

func New(st *store.Store, cfg *config.Config, git *gitrepo.Client, logger *slog.Logger) *Pipeline {
	def := retry.DefaultPolicy()
	return &Pipeline{
		store:  st,
		cfg:    cfg,
		git:    git,
		logger: logger,
		stages: []Stage{
			{Name: "readme", Policy: &def, Run: runReadmeStage},
			{Name: "catalogue", Run: runCatalogueStage},
			{Name: "classify", Policy: &def, Run: runClassifyStage},
			{Name: "mindmap", Policy: &def, Run: runMindMapStage},
			{Name: "overview", Policy: &def, Run: runOverviewStage},
			{Name: "structure", Policy: &def, Run: runStructureStage},
			{Name: "docs", Run: runDocsStage},
			{Name: "changelog", Run: runChangelogStage},
		},
	}
}

// Run executes the stage sequence against one leased repository.
func (p *Pipeline) Run(ctx context.Context, repo *store.Repository, doc *store.Document, k Invoker) error {
	env := p.newEnv(repo, doc, k)
	for _, stage := range p.stages {
		if err := p.runStage(ctx, stage, env); err != nil {
			return fmt.Errorf("stage %s: %w", stage.Name, err)
		}
	}
	return nil
}

// RunDocs re-runs only the per-document stage: the incremental updater's
// narrower stage set after catalogue reconciliation.
func (p *Pipeline) RunDocs(ctx context.Context, repo *store.Repository, doc *store.Document, k Invoker) error {
	env := p.newEnv(repo, doc, k)
	return p.runStage(ctx, Stage{Name: "docs", Run: runDocsStage}, env)
}

func (p *Pipeline) newEnv(repo *store.Repository, doc *store.Document, k Invoker) *Env {
	return &Env{
		Store:   p.store,
		Config:  p.cfg,
		Git:     p.git,
		Kernel:  k,
		Logger:  p.logger,
		Repo:    repo,
		Doc:     doc,
		Workdir: repo.LocalPath,
	}
}

func (p *Pipeline) runStage(ctx context.Context, stage Stage, env *Env) error {
	logger := p.logger.With(logfields.RepositoryID(env.Repo.ID), logfields.Stage(stage.Name))
	logger.Info("stage starting", logfields.Repository(env.Repo.Name))
	start := time.Now()

	fn := func() error { return stage.Run(ctx, env) }
	var err error
	if stage.Policy != nil {
		err = stage.Policy.Do(ctx, fn, stageRetryable, func(retryCount int, cause error) {
			metrics.LLMRetries.WithLabelValues(stage.Name).Inc()
			logger.Warn("stage retrying", logfields.Attempt(retryCount), logfields.Error(cause))
		})
	} else {
		err = fn()
	}

	metrics.StageDuration.WithLabelValues(stage.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		logger.Error("stage failed", logfields.DurationMS(time.Since(start)), logfields.Error(err))
		return err
	}
	logger.Info("stage finished", logfields.DurationMS(time.Since(start)))
	return nil
}

// renderTree renders the scanned working tree in the configured catalogue
// format and reports the file count.
func renderTree(workdir, rootName string, format config.CatalogueFormat) (string, int, error) {
	paths, err := scanner.Scan(workdir)
	if err != nil {
		return "", 0, err
	}
	root := scanner.BuildTree(paths, rootName)
	count := scanner.CountFiles(paths)
	switch format {
	case config.FormatJSON:
		out, err := scanner.JSON(root)
		return out, count, err
	case config.FormatPathList:
		return scanner.PathList(root), count, nil
	default:
		return scanner.Compact(root), count, nil
	}
}

// ResolveMiniMap deserializes a stored mind map and rewrites its node URLs
// against the repository's web host. Read-time behavior; the stored value
// keeps repository-relative paths.
func ResolveMiniMap(m *store.MiniMap, remote, branch string) (*markdown.MindMapNode, error) {
	var root markdown.MindMapNode
	if err := json.Unmarshal([]byte(m.Value), &root); err != nil {
		return nil, fmt.Errorf("decode mind map: %w", err)
	}
	markdown.ResolveURLs(&root, remote, branch)
	return &root, nil
}
