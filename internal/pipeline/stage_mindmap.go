package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/YickelFuboo/OpenDeepWiki/internal/markdown"
	"github.com/YickelFuboo/OpenDeepWiki/internal/prompts"
)

// runMindMapStage regenerates the navigation mind map on every run. Node
// paths stay repository-relative in storage; ResolveMiniMap rewrites them for
// display.
func runMindMapStage(ctx context.Context, env *Env) error {
	out, err := env.Kernel.InvokeStreaming(ctx, "GenerateMindMap", map[string]string{
		"repository_url": env.Repo.Address,
		"branch_name":    env.Repo.Branch,
		"code_files":     env.Repo.OptimizedDirectoryStructure,
	}, nil, nil)
	if err != nil {
		return err
	}

	root := markdown.ParseMindMap(prompts.StripThinking(out))
	if len(root.Children) == 0 {
		return fmt.Errorf("%w: mind map has no nodes", ErrInvalidLLMOutput)
	}
	value, err := json.Marshal(root)
	if err != nil {
		return fmt.Errorf("encode mind map: %w", err)
	}
	return env.Store.ReplaceMiniMap(ctx, env.Repo.ID, string(value))
}
