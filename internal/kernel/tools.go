package kernel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/YickelFuboo/OpenDeepWiki/internal/llm"
	"github.com/YickelFuboo/OpenDeepWiki/internal/metrics"
)

// Handler executes one tool call. Errors are reported as string payloads to
// the model, never returned; the returned string is always the tool output.
type Handler func(ctx context.Context, dc *DocumentContext, args json.RawMessage) string

// Tool is one callable registered on the kernel.
type Tool struct {
	Name        string
	Description string
	Schema      map[string]any
	Handler     Handler

	compiled *jsonschema.Schema
}

// Registry holds the kernel's tool set in registration order.
type Registry struct {
	tools map[string]*Tool
	order []string
}

func NewRegistry() *Registry {
	return &Registry{tools: map[string]*Tool{}}
}

// Register adds a tool, compiling its argument schema. Registering a
// duplicate name or an invalid schema fails.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" || t.Handler == nil {
		return fmt.Errorf("tool needs a name and a handler")
	}
	if _, dup := r.tools[t.Name]; dup {
		return fmt.Errorf("duplicate tool %s", t.Name)
	}
	if t.Schema == nil {
		t.Schema = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	raw, err := json.Marshal(t.Schema)
	if err != nil {
		return fmt.Errorf("marshal schema for %s: %w", t.Name, err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(t.Name+".json", bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("add schema for %s: %w", t.Name, err)
	}
	compiled, err := compiler.Compile(t.Name + ".json")
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", t.Name, err)
	}
	t.compiled = compiled
	r.tools[t.Name] = &t
	r.order = append(r.order, t.Name)
	return nil
}

// Definitions renders the registered tools for a chat request.
func (r *Registry) Definitions() []llm.ToolDefinition {
	out := make([]llm.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		out = append(out, llm.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Schema,
		})
	}
	return out
}

// Invoke validates the arguments and runs the tool. Every failure path
// returns a string for the model to react to.
func (r *Registry) Invoke(ctx context.Context, dc *DocumentContext, name string, args json.RawMessage) string {
	metrics.ToolInvocations.WithLabelValues(name).Inc()

	t, ok := r.tools[name]
	if !ok {
		result := fmt.Sprintf("Error: unknown tool %q", name)
		dc.RecordCall(name, string(args), result)
		return result
	}
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		result := fmt.Sprintf("Error: invalid JSON arguments: %v", err)
		dc.RecordCall(name, string(args), result)
		return result
	}
	if err := t.compiled.Validate(decoded); err != nil {
		result := fmt.Sprintf("Error: arguments do not match schema: %v", err)
		dc.RecordCall(name, string(args), result)
		return result
	}

	result := func() (out string) {
		defer func() {
			if rec := recover(); rec != nil {
				out = fmt.Sprintf("Error: tool %s panicked: %v", name, rec)
			}
		}()
		return t.Handler(ctx, dc, args)
	}()
	dc.RecordCall(name, string(args), result)
	return result
}
