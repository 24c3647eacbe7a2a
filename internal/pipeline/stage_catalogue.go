package pipeline

import (
	"context"
	"fmt"

	"github.com/YickelFuboo/OpenDeepWiki/internal/logfields"
	"github.com/YickelFuboo/OpenDeepWiki/internal/prompts"
	"github.com/YickelFuboo/OpenDeepWiki/internal/retry"
)

// smartFilterThreshold is the file count at which the raw tree stops fitting
// a prompt comfortably and the model is asked to prune it.
const smartFilterThreshold = 800

// runCatalogueStage produces the directory manifest consumed by every later
// stage. Small trees pass through verbatim; large trees are pruned by the
// smart filter prompt under its own linear retry policy.
func runCatalogueStage(ctx context.Context, env *Env) error {
	if env.Repo.OptimizedDirectoryStructure != "" {
		env.Logger.Debug("directory manifest already cached, skipping")
		return nil
	}

	compact, fileCount, err := renderTree(env.Workdir, env.Repo.Name, env.Config.Document.CatalogueFormat)
	if err != nil {
		return err
	}

	manifest := compact
	if env.Config.Document.EnableSmartFilter && fileCount >= smartFilterThreshold {
		filtered, err := smartFilter(ctx, env, compact)
		if err != nil {
			// The raw tree is always a valid manifest; keep going with it.
			env.Logger.Warn("smart filter exhausted retries, using raw tree", logfields.Error(err))
		} else {
			manifest = filtered
		}
	}

	return env.Store.SetOptimizedStructure(ctx, env.Repo, manifest)
}

func smartFilter(ctx context.Context, env *Env, compact string) (string, error) {
	policy := retry.SmartFilterPolicy()
	var filtered string
	err := policy.Do(ctx, func() error {
		out, err := env.Kernel.InvokeStreaming(ctx, "CodeDirSimplifier", map[string]string{
			"code_files": compact,
			"readme":     env.Repo.Readme,
		}, nil, nil)
		if err != nil {
			return err
		}
		filtered = prompts.ExtractResponseFile(out)
		if filtered == "" {
			return fmt.Errorf("%w: missing response_file payload", ErrInvalidLLMOutput)
		}
		return nil
	}, stageRetryable, func(retryCount int, cause error) {
		env.Logger.Warn("smart filter retrying", logfields.Attempt(retryCount), logfields.Error(cause))
	})
	if err != nil {
		return "", err
	}
	return filtered, nil
}
