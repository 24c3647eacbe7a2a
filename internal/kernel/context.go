package kernel

import "sync"

// ToolRecord is one intercepted tool invocation, kept for diagnostics.
type ToolRecord struct {
	Tool   string
	Args   string
	Result string
}

// DocumentContext collects the file paths and tool calls touched during one
// prompt invocation. It is per-invocation state and never shared across
// concurrent invocations.
type DocumentContext struct {
	mu    sync.Mutex
	files []string
	seen  map[string]bool
	calls []ToolRecord
}

func NewDocumentContext() *DocumentContext {
	return &DocumentContext{seen: map[string]bool{}}
}

// RecordFile notes an accessed repository-relative path, deduplicated in
// first-seen order.
func (d *DocumentContext) RecordFile(path string) {
	if d == nil || path == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.seen[path] {
		d.seen[path] = true
		d.files = append(d.files, path)
	}
}

// RecordCall notes one tool invocation and its result.
func (d *DocumentContext) RecordCall(tool, args, result string) {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, ToolRecord{Tool: tool, Args: args, Result: result})
}

// Files returns the accessed paths in first-seen order.
func (d *DocumentContext) Files() []string {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.files))
	copy(out, d.files)
	return out
}

// Calls returns the recorded tool invocations.
func (d *DocumentContext) Calls() []ToolRecord {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]ToolRecord, len(d.calls))
	copy(out, d.calls)
	return out
}
