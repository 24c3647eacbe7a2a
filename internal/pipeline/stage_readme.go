package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/YickelFuboo/OpenDeepWiki/internal/logfields"
	"github.com/YickelFuboo/OpenDeepWiki/internal/prompts"
)

// Probe order matters: the first hit wins.
var readmeCandidates = []string{"README.md", "README.txt", "readme.md", "readme.txt"}

// runReadmeStage caches the repository README. An on-disk README is
// authoritative and re-synced even on resumed runs; only repositories without
// one get a synthesized README.
func runReadmeStage(ctx context.Context, env *Env) error {
	for _, name := range readmeCandidates {
		body, err := os.ReadFile(filepath.Join(env.Workdir, name))
		if err != nil {
			continue
		}
		env.Logger.Debug("readme discovered", logfields.Path(name))
		return env.Store.SetReadme(ctx, env.Repo, string(body))
	}

	if env.Repo.Readme != "" {
		env.Logger.Debug("readme already cached, skipping")
		return nil
	}

	manifest, _, err := renderTree(env.Workdir, env.Repo.Name, env.Config.Document.CatalogueFormat)
	if err != nil {
		return err
	}
	out, err := env.Kernel.InvokePrompt(ctx, "GenerateReadme", map[string]string{
		"git_repository": env.Repo.Address,
		"branch":         env.Repo.Branch,
		"code_files":     manifest,
	}, nil)
	if err != nil {
		return err
	}
	readme := prompts.ExtractReadme(out)
	if readme == "" {
		return fmt.Errorf("%w: empty readme", ErrInvalidLLMOutput)
	}
	return env.Store.SetReadme(ctx, env.Repo, readme)
}
