package kernel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/YickelFuboo/OpenDeepWiki/internal/depgraph"
)

// depToolset lazily builds the dependency index on first use; a full
// Initialize pass is too expensive to pay when the model never asks.
type depToolset struct {
	workdir string
	logger  *slog.Logger

	once     sync.Once
	analyzer *depgraph.Analyzer
	initErr  error
}

func (d *depToolset) get(ctx context.Context) (*depgraph.Analyzer, error) {
	d.once.Do(func() {
		a := depgraph.NewAnalyzer(d.workdir, d.logger)
		if err := a.Initialize(ctx); err != nil {
			d.initErr = err
			return
		}
		d.analyzer = a
	})
	return d.analyzer, d.initErr
}

func (d *depToolset) fileTree(ctx context.Context, dc *DocumentContext, args json.RawMessage) string {
	var req struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &req); err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	a, err := d.get(ctx)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	tree, err := a.AnalyzeFileDependencyTree(req.Path)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	dc.RecordFile(req.Path)
	return marshalResult(tree)
}

func (d *depToolset) funcTree(ctx context.Context, dc *DocumentContext, args json.RawMessage) string {
	var req struct {
		Path string `json:"path"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(args, &req); err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	a, err := d.get(ctx)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	tree, err := a.AnalyzeFunctionDependencyTree(req.Path, req.Name)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	dc.RecordFile(req.Path)
	return marshalResult(tree)
}
