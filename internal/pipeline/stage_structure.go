package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/YickelFuboo/OpenDeepWiki/internal/prompts"
	"github.com/YickelFuboo/OpenDeepWiki/internal/store"
)

// structureItem mirrors the documentation_structure JSON the analyze prompt
// emits.
type structureItem struct {
	Title    string          `json:"title"`
	Name     string          `json:"name"`
	Prompt   string          `json:"prompt"`
	Children []structureItem `json:"children"`
}

type structurePayload struct {
	Items []structureItem `json:"items"`
}

// runStructureStage asks the model for the documentation plan and persists it
// as the catalogue forest. A live forest is authoritative: replacing it would
// drop per-document completion state and the generated pages hanging off it,
// so a resumed run keeps the existing plan and lets the next stage finish the
// incomplete leaves. The incremental updater is the only writer that revises
// an existing forest.
func runStructureStage(ctx context.Context, env *Env) error {
	existing, err := env.Store.ListCatalogues(ctx, env.Repo.ID)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		env.Logger.Debug("catalogue forest already present, skipping")
		return nil
	}

	template := env.Kernel.Library().ClassifiedName("AnalyzeCatalogue", env.Repo.Classify)
	out, err := env.Kernel.InvokeStreaming(ctx, template, map[string]string{
		"code_files":      env.Repo.OptimizedDirectoryStructure,
		"git_repository":  env.Repo.Address,
		"repository_name": env.Repo.Name,
	}, nil, nil)
	if err != nil {
		return err
	}

	payload := prompts.ExtractDocumentationStructure(out)
	var parsed structurePayload
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidLLMOutput, err)
	}
	if len(parsed.Items) == 0 {
		return fmt.Errorf("%w: documentation structure has no items", ErrInvalidLLMOutput)
	}

	nodes := flattenStructure(env.Repo.ID, parsed.Items)
	return env.Store.ReplaceCatalogueForest(ctx, env.Repo.ID, nodes)
}

// flattenStructure assigns IDs, parent links, sibling order, and unique url
// slugs in one preorder walk.
func flattenStructure(repositoryID string, items []structureItem) []store.Catalogue {
	var nodes []store.Catalogue
	taken := make(map[string]bool)

	var walk func(items []structureItem, parentID *string)
	walk = func(items []structureItem, parentID *string) {
		for i, item := range items {
			name := item.Name
			if name == "" {
				name = item.Title
			}
			node := store.Catalogue{
				ID:           uuid.NewString(),
				RepositoryID: repositoryID,
				ParentID:     parentID,
				Title:        item.Title,
				Name:         name,
				URL:          UniqueSlug(Slugify(name), taken),
				Prompt:       item.Prompt,
				OrderIndex:   i,
			}
			nodes = append(nodes, node)
			if len(item.Children) > 0 {
				id := node.ID
				walk(item.Children, &id)
			}
		}
	}
	walk(items, nil)
	return nodes
}
