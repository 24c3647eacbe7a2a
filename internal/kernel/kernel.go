// Package kernel bundles the LLM connection, the filesystem tool set, the
// prompt library, and the per-invocation interception state behind one
// handle.
package kernel

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/YickelFuboo/OpenDeepWiki/internal/config"
	"github.com/YickelFuboo/OpenDeepWiki/internal/llm"
	"github.com/YickelFuboo/OpenDeepWiki/internal/logfields"
	"github.com/YickelFuboo/OpenDeepWiki/internal/prompts"
)

// maxToolRounds bounds the auto-invoke loop for one prompt.
const maxToolRounds = 32

type Kernel struct {
	provider llm.Provider
	model    string
	registry *Registry
	library  *prompts.Library
	logger   *slog.Logger
}

// New builds a kernel scoped to one working tree. The dependency tools are
// registered only when the code analysis plugin is requested and the global
// flag allows it.
func New(cfg *config.Config, workdir, model string, codeAnalysisPlugin bool, logger *slog.Logger) (*Kernel, error) {
	provider, err := llm.New(cfg.OpenAI)
	if err != nil {
		return nil, err
	}
	library, err := prompts.NewLibrary()
	if err != nil {
		return nil, err
	}

	k := &Kernel{
		provider: provider,
		model:    model,
		registry: NewRegistry(),
		library:  library,
		logger:   logger,
	}
	files := &fileToolset{
		workdir:  workdir,
		format:   cfg.Document.CatalogueFormat,
		compress: cfg.Document.EnableCodeCompression,
	}
	if err := k.registerFileTools(files); err != nil {
		return nil, err
	}
	if codeAnalysisPlugin && cfg.Document.EnableCodeDependencyAnalysis {
		deps := &depToolset{workdir: workdir, logger: logger}
		if err := k.registerDepTools(deps); err != nil {
			return nil, err
		}
	}
	return k, nil
}

// Library exposes the prompt library for render-and-extract callers.
func (k *Kernel) Library() *prompts.Library { return k.library }

func (k *Kernel) registerFileTools(f *fileToolset) error {
	stringArray := map[string]any{"type": "array", "items": map[string]any{"type": "string"}}
	tools := []Tool{
		{
			Name:        "GetTree",
			Description: "Return the repository directory tree in the configured catalogue format.",
			Handler:     f.tree,
		},
		{
			Name:        "FileInfo",
			Description: "Return name, byte size, extension and line count for each path in a batch.",
			Schema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"paths": stringArray},
				"required":   []any{"paths"},
			},
			Handler: f.info,
		},
		{
			Name:        "ReadFiles",
			Description: "Read several files at once; returns a path-to-content map. Large files return a hint to use the File tool.",
			Schema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"paths": stringArray},
				"required":   []any{"paths"},
			},
			Handler: f.readBatch,
		},
		{
			Name:        "ReadFile",
			Description: "Read one file. Large files return a hint to use the File tool.",
			Schema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"path": map[string]any{"type": "string"}},
				"required":   []any{"path"},
			},
			Handler: f.readSingle,
		},
		{
			Name:        "File",
			Description: "Read line ranges. Each item is {file_path, offset, limit}; offset<0 with limit<0 reads the whole file, limit<0 reads to the end. Lines are numbered and truncated at 2000 chars.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"items": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"file_path": map[string]any{"type": "string"},
								"offset":    map[string]any{"type": "integer"},
								"limit":     map[string]any{"type": "integer"},
							},
							"required": []any{"file_path"},
						},
					},
				},
				"required": []any{"items"},
			},
			Handler: f.readRanged,
		},
	}
	for _, t := range tools {
		if err := k.registry.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func (k *Kernel) registerDepTools(d *depToolset) error {
	tools := []Tool{
		{
			Name:        "AnalyzeFileDependencyTree",
			Description: "Return the import dependency tree of a file as JSON. Cycles are flagged, depth is bounded.",
			Schema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"path": map[string]any{"type": "string"}},
				"required":   []any{"path"},
			},
			Handler: d.fileTree,
		},
		{
			Name:        "AnalyzeFunctionDependencyTree",
			Description: "Return the call tree of one function as JSON. Cycles are flagged, depth is bounded.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{"type": "string"},
					"name": map[string]any{"type": "string"},
				},
				"required": []any{"path", "name"},
			},
			Handler: d.funcTree,
		},
	}
	for _, t := range tools {
		if err := k.registry.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// InvokePrompt renders the named template and runs it to completion,
// auto-invoking tool calls. The result is the final assistant text.
func (k *Kernel) InvokePrompt(ctx context.Context, template string, vars map[string]string, dc *DocumentContext) (string, error) {
	return k.InvokeStreaming(ctx, template, vars, dc, nil)
}

// InvokeStreaming is InvokePrompt with text deltas forwarded to onDelta as
// they arrive. A nil onDelta degrades to buffered invocation.
func (k *Kernel) InvokeStreaming(ctx context.Context, template string, vars map[string]string, dc *DocumentContext, onDelta func(string)) (string, error) {
	rendered, err := k.library.Render(template, vars)
	if err != nil {
		return "", err
	}

	messages := []llm.Message{{Role: llm.RoleUser, Content: rendered}}
	for round := 0; round < maxToolRounds; round++ {
		resp, err := k.completeStreaming(ctx, messages, onDelta)
		if err != nil {
			return "", err
		}
		if resp.FinishReason != llm.FinishToolCalls || len(resp.ToolCalls) == 0 {
			return resp.Content, nil
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			k.logger.Debug("invoking tool", logfields.Tool(call.Name), logfields.Model(k.model))
			result := k.registry.Invoke(ctx, dc, call.Name, call.Arguments)
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    result,
				ToolCallID: call.ID,
			})
		}
	}
	return "", fmt.Errorf("tool loop exceeded %d rounds", maxToolRounds)
}

func (k *Kernel) completeStreaming(ctx context.Context, messages []llm.Message, onDelta func(string)) (llm.Response, error) {
	req := llm.Request{
		Model:    k.model,
		Messages: messages,
		Tools:    k.registry.Definitions(),
	}
	maxTokens := llm.MaxTokensFor(k.model)
	req.MaxTokens = &maxTokens

	events, err := k.provider.Stream(ctx, req)
	if err != nil {
		return llm.Response{}, err
	}
	var final *llm.Response
	for ev := range events {
		switch ev.Type {
		case llm.StreamEventTextDelta:
			if onDelta != nil {
				onDelta(ev.Delta)
			}
		case llm.StreamEventFinish:
			final = ev.Response
		case llm.StreamEventError:
			return llm.Response{}, ev.Err
		}
	}
	if final == nil {
		return llm.Response{}, fmt.Errorf("stream ended without a finish event")
	}
	return *final, nil
}
