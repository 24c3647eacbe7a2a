// Package llm provides chat-completion clients for the supported model
// providers, with tool calling and server-sent event streaming.
package llm

import "encoding/json"

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn of a conversation. Tool results travel as RoleTool
// messages carrying the originating call's ID.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolDefinition declares one callable tool. Parameters is a JSON Schema
// object.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCall is a model-issued invocation of a declared tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Request is one completion request. Nil Temperature and MaxTokens use
// provider defaults; MaxTokens falls back to the model catalog for providers
// that require it.
type Request struct {
	Model       string
	Messages    []Message
	Tools       []ToolDefinition
	Temperature *float64
	MaxTokens   *int
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

const (
	FinishStop      = "stop"
	FinishToolCalls = "tool_calls"
	FinishLength    = "length"
)

// Response is a complete assistant turn.
type Response struct {
	ID           string
	Model        string
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        Usage
}

type StreamEventType string

const (
	StreamEventTextDelta StreamEventType = "text_delta"
	StreamEventToolCall  StreamEventType = "tool_call"
	StreamEventFinish    StreamEventType = "finish"
	StreamEventError     StreamEventType = "error"
)

// StreamEvent is one streaming increment. Finish events carry the fully
// assembled Response; tool call events carry complete calls, not deltas.
type StreamEvent struct {
	Type     StreamEventType
	Delta    string
	ToolCall *ToolCall
	Response *Response
	Err      error
}
