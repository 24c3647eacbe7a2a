package pipeline

import (
	"context"
	"fmt"

	"github.com/YickelFuboo/OpenDeepWiki/internal/prompts"
)

// runOverviewStage writes the landing page. The prompt variant follows the
// stored classification; the scratch analysis block is stripped before
// persisting.
func runOverviewStage(ctx context.Context, env *Env) error {
	template := env.Kernel.Library().ClassifiedName("Overview", env.Repo.Classify)
	out, err := env.Kernel.InvokeStreaming(ctx, template, map[string]string{
		"catalogue":      env.Repo.OptimizedDirectoryStructure,
		"git_repository": env.Repo.Address,
		"branch":         env.Repo.Branch,
		"readme":         env.Repo.Readme,
	}, nil, nil)
	if err != nil {
		return err
	}

	content := prompts.ExtractBlog(prompts.StripProjectAnalysis(out))
	if content == "" {
		return fmt.Errorf("%w: empty overview", ErrInvalidLLMOutput)
	}
	return env.Store.ReplaceOverview(ctx, env.Doc.ID, content)
}
