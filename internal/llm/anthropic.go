package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const anthropicVersion = "2023-06-01"

type anthropicAdapter struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func newAnthropic(endpoint, apiKey string, client *http.Client) *anthropicAdapter {
	base := strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if base == "" {
		base = "https://api.anthropic.com"
	}
	return &anthropicAdapter{
		apiKey:  strings.TrimSpace(apiKey),
		baseURL: base,
		client:  client,
	}
}

func (a *anthropicAdapter) Name() string { return "anthropic" }

// body maps the shared request onto the messages API: system turns join into
// the top-level system field, tool results become tool_result content blocks,
// and assistant tool calls become tool_use blocks.
func (a *anthropicAdapter) body(req Request, stream bool) map[string]any {
	var system []string
	var messages []map[string]any
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			if t := strings.TrimSpace(m.Content); t != "" {
				system = append(system, t)
			}
		case RoleUser:
			messages = append(messages, map[string]any{"role": "user", "content": m.Content})
		case RoleAssistant:
			var blocks []map[string]any
			if m.Content != "" {
				blocks = append(blocks, map[string]any{"type": "text", "text": m.Content})
			}
			for _, tc := range m.ToolCalls {
				var input any = map[string]any{}
				if len(tc.Arguments) > 0 {
					_ = json.Unmarshal(tc.Arguments, &input)
				}
				blocks = append(blocks, map[string]any{
					"type":  "tool_use",
					"id":    tc.ID,
					"name":  tc.Name,
					"input": input,
				})
			}
			if len(blocks) > 0 {
				messages = append(messages, map[string]any{"role": "assistant", "content": blocks})
			}
		case RoleTool:
			messages = append(messages, map[string]any{
				"role": "user",
				"content": []map[string]any{{
					"type":        "tool_result",
					"tool_use_id": m.ToolCallID,
					"content":     m.Content,
				}},
			})
		}
	}

	maxTokens := MaxTokensFor(req.Model)
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	body := map[string]any{
		"model":      req.Model,
		"max_tokens": maxTokens,
		"messages":   messages,
	}
	if len(system) > 0 {
		body["system"] = strings.Join(system, "\n\n")
	}
	if len(req.Tools) > 0 {
		tools := make([]map[string]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			schema := t.Parameters
			if schema == nil {
				schema = map[string]any{"type": "object", "properties": map[string]any{}}
			}
			tools = append(tools, map[string]any{
				"name":         t.Name,
				"description":  t.Description,
				"input_schema": schema,
			})
		}
		body["tools"] = tools
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if stream {
		body["stream"] = true
	}
	return body
}

func (a *anthropicAdapter) do(ctx context.Context, req Request, stream bool) (*http.Response, error) {
	if a.apiKey == "" {
		return nil, &ConfigError{Message: "missing api key"}
	}
	b, err := json.Marshal(a.body(req, stream))
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		var raw map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&raw)
		return nil, &RequestError{
			Provider:   a.Name(),
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("messages.create failed: %v", raw),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}
	return resp, nil
}

func (a *anthropicAdapter) Complete(ctx context.Context, req Request) (Response, error) {
	resp, err := a.do(ctx, req, false)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	var raw anthropicMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return Response{}, fmt.Errorf("decode message: %w", err)
	}
	return raw.toResponse(req.Model), nil
}

func (a *anthropicAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	resp, err := a.do(ctx, req, true)
	if err != nil {
		return nil, err
	}

	out := make(chan StreamEvent, 16)
	go func() {
		defer resp.Body.Close()
		defer close(out)

		final := Response{Model: req.Model}
		var content strings.Builder
		type toolAcc struct {
			id   string
			name string
			args strings.Builder
		}
		blocks := map[int]*toolAcc{}
		stopReason := ""

		err := parseSSE(ctx, resp.Body, func(ev sseEvent) error {
			var payload struct {
				Type    string `json:"type"`
				Index   int    `json:"index"`
				Message *struct {
					ID    string `json:"id"`
					Model string `json:"model"`
					Usage *struct {
						InputTokens  int `json:"input_tokens"`
						OutputTokens int `json:"output_tokens"`
					} `json:"usage"`
				} `json:"message"`
				ContentBlock *struct {
					Type string `json:"type"`
					ID   string `json:"id"`
					Name string `json:"name"`
				} `json:"content_block"`
				Delta *struct {
					Type        string `json:"type"`
					Text        string `json:"text"`
					PartialJSON string `json:"partial_json"`
					StopReason  string `json:"stop_reason"`
				} `json:"delta"`
				Usage *struct {
					OutputTokens int `json:"output_tokens"`
				} `json:"usage"`
			}
			if err := json.Unmarshal(ev.Data, &payload); err != nil {
				return nil
			}

			switch payload.Type {
			case "message_start":
				if payload.Message != nil {
					final.ID = payload.Message.ID
					if payload.Message.Model != "" {
						final.Model = payload.Message.Model
					}
					if payload.Message.Usage != nil {
						final.Usage.InputTokens = payload.Message.Usage.InputTokens
					}
				}
			case "content_block_start":
				if payload.ContentBlock != nil && payload.ContentBlock.Type == "tool_use" {
					blocks[payload.Index] = &toolAcc{id: payload.ContentBlock.ID, name: payload.ContentBlock.Name}
				}
			case "content_block_delta":
				if payload.Delta == nil {
					return nil
				}
				switch payload.Delta.Type {
				case "text_delta":
					content.WriteString(payload.Delta.Text)
					out <- StreamEvent{Type: StreamEventTextDelta, Delta: payload.Delta.Text}
				case "input_json_delta":
					if acc := blocks[payload.Index]; acc != nil {
						acc.args.WriteString(payload.Delta.PartialJSON)
					}
				}
			case "content_block_stop":
				if acc := blocks[payload.Index]; acc != nil {
					args := acc.args.String()
					if args == "" {
						args = "{}"
					}
					call := ToolCall{ID: acc.id, Name: acc.name, Arguments: json.RawMessage(args)}
					final.ToolCalls = append(final.ToolCalls, call)
					c := call
					out <- StreamEvent{Type: StreamEventToolCall, ToolCall: &c}
					delete(blocks, payload.Index)
				}
			case "message_delta":
				if payload.Delta != nil && payload.Delta.StopReason != "" {
					stopReason = payload.Delta.StopReason
				}
				if payload.Usage != nil {
					final.Usage.OutputTokens = payload.Usage.OutputTokens
				}
			}
			return nil
		})
		if err != nil {
			out <- StreamEvent{Type: StreamEventError, Err: err}
			return
		}

		final.Content = content.String()
		final.Usage.TotalTokens = final.Usage.InputTokens + final.Usage.OutputTokens
		final.FinishReason = anthropicFinish(stopReason, len(final.ToolCalls) > 0)
		out <- StreamEvent{Type: StreamEventFinish, Response: &final}
	}()
	return out, nil
}

func anthropicFinish(stopReason string, hasToolCalls bool) string {
	switch stopReason {
	case "tool_use":
		return FinishToolCalls
	case "max_tokens":
		return FinishLength
	default:
		if hasToolCalls {
			return FinishToolCalls
		}
		return FinishStop
	}
}

type anthropicMessage struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content []struct {
		Type  string          `json:"type"`
		Text  string          `json:"text"`
		ID    string          `json:"id"`
		Name  string          `json:"name"`
		Input json.RawMessage `json:"input"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (m anthropicMessage) toResponse(requestedModel string) Response {
	r := Response{ID: m.ID, Model: requestedModel}
	if m.Model != "" {
		r.Model = m.Model
	}
	var text strings.Builder
	for _, block := range m.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			args := block.Input
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			r.ToolCalls = append(r.ToolCalls, ToolCall{ID: block.ID, Name: block.Name, Arguments: args})
		}
	}
	r.Content = text.String()
	r.Usage = Usage{
		InputTokens:  m.Usage.InputTokens,
		OutputTokens: m.Usage.OutputTokens,
		TotalTokens:  m.Usage.InputTokens + m.Usage.OutputTokens,
	}
	r.FinishReason = anthropicFinish(m.StopReason, len(r.ToolCalls) > 0)
	return r
}
