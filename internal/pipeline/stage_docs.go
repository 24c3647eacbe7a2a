package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/YickelFuboo/OpenDeepWiki/internal/kernel"
	"github.com/YickelFuboo/OpenDeepWiki/internal/logfields"
	"github.com/YickelFuboo/OpenDeepWiki/internal/markdown"
	"github.com/YickelFuboo/OpenDeepWiki/internal/prompts"
	"github.com/YickelFuboo/OpenDeepWiki/internal/retry"
	"github.com/YickelFuboo/OpenDeepWiki/internal/store"
)

// runDocsStage generates one page per incomplete leaf catalogue node. Each
// node retries independently and marks itself completed only after its
// content is persisted, so an interrupted run resumes at the first
// unfinished node.
func runDocsStage(ctx context.Context, env *Env) error {
	all, err := env.Store.ListCatalogues(ctx, env.Repo.ID)
	if err != nil {
		return err
	}

	policy := retry.DefaultPolicy()
	for i := range all {
		node := all[i]
		if !node.IsLeaf(all) || node.IsCompleted {
			continue
		}
		err := policy.Do(ctx, func() error {
			return generateDocument(ctx, env, &node)
		}, stageRetryable, func(retryCount int, cause error) {
			env.Logger.Warn("document retrying",
				logfields.Catalogue(node.Name), logfields.Attempt(retryCount), logfields.Error(cause))
		})
		if err != nil {
			return fmt.Errorf("catalogue %s: %w", node.Name, err)
		}
	}
	return nil
}

func generateDocument(ctx context.Context, env *Env, node *store.Catalogue) error {
	dc := kernel.NewDocumentContext()
	out, err := env.Kernel.InvokeStreaming(ctx, "GenerateDocs", map[string]string{
		"title":          node.Name,
		"prompt":         node.Prompt,
		"catalogue":      env.Repo.OptimizedDirectoryStructure,
		"git_repository": env.Repo.Address,
		"branch":         env.Repo.Branch,
	}, dc, nil)
	if err != nil {
		return err
	}

	content := prompts.ExtractBlog(out)
	if content == "" {
		return fmt.Errorf("%w: empty document body", ErrInvalidLLMOutput)
	}

	item := &store.FileItem{
		ID:          uuid.NewString(),
		CatalogueID: node.ID,
		Title:       node.Name,
		Content:     content,
		Sources:     collectSources(env.Workdir, dc, content),
	}
	if err := env.Store.UpsertFileItem(ctx, item); err != nil {
		return err
	}
	return env.Store.SetCatalogueCompleted(ctx, node.ID, true)
}

// collectSources attributes a generated page to repository files: everything
// the model read through tools, plus any path the page itself cites that
// exists in the working tree.
func collectSources(workdir string, dc *kernel.DocumentContext, content string) []string {
	seen := make(map[string]bool)
	var sources []string
	add := func(path string) {
		path = strings.TrimPrefix(strings.TrimSpace(path), "./")
		if path == "" || seen[path] {
			return
		}
		seen[path] = true
		sources = append(sources, path)
	}

	for _, f := range dc.Files() {
		add(f)
	}

	body := []byte(content)
	var cited []string
	for _, link := range markdown.ExtractLinks(body) {
		cited = append(cited, link.Destination)
	}
	cited = append(cited, markdown.CodeSpans(body)...)
	for _, c := range cited {
		c = strings.TrimPrefix(strings.TrimSpace(c), "./")
		if c == "" || strings.Contains(c, "://") || seen[c] {
			continue
		}
		if info, err := os.Stat(filepath.Join(workdir, filepath.FromSlash(c))); err == nil && !info.IsDir() {
			add(c)
		}
	}
	return sources
}
