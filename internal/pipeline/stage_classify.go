package pipeline

import (
	"context"

	"github.com/YickelFuboo/OpenDeepWiki/internal/prompts"
	"github.com/YickelFuboo/OpenDeepWiki/internal/store"
)

// runClassifyStage tags the repository with one of the known categories so
// later prompts can pick a category-specific variant. An unparseable answer
// stores null rather than failing the run.
func runClassifyStage(ctx context.Context, env *Env) error {
	if env.Repo.Classify != nil {
		env.Logger.Debug("classification already cached, skipping")
		return nil
	}

	out, err := env.Kernel.InvokePrompt(ctx, "RepositoryClassification", map[string]string{
		"category": env.Repo.OptimizedDirectoryStructure,
		"readme":   env.Repo.Readme,
	}, nil)
	if err != nil {
		return err
	}

	token := prompts.ExtractClassify(out)
	c, ok := store.ParseClassification(token)
	if !ok {
		env.Logger.Warn("classification unparseable, storing null", "token", token)
		return env.Store.SetClassify(ctx, env.Repo, nil)
	}
	return env.Store.SetClassify(ctx, env.Repo, &c)
}
