package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
)

const azureAPIVersion = "2024-06-01"

// openAIAdapter speaks the chat completions wire format, in both the
// api.openai.com and Azure deployment shapes.
type openAIAdapter struct {
	apiKey  string
	baseURL string
	azure   bool
	client  *http.Client
}

func newOpenAI(endpoint, apiKey string, azure bool, client *http.Client) *openAIAdapter {
	return &openAIAdapter{
		apiKey:  strings.TrimSpace(apiKey),
		baseURL: strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		azure:   azure,
		client:  client,
	}
}

func (a *openAIAdapter) Name() string {
	if a.azure {
		return "azure-openai"
	}
	return "openai"
}

func (a *openAIAdapter) url(model string) string {
	if a.azure {
		return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s", a.baseURL, model, azureAPIVersion)
	}
	if strings.HasSuffix(a.baseURL, "/v1") {
		return a.baseURL + "/chat/completions"
	}
	return a.baseURL + "/v1/chat/completions"
}

func (a *openAIAdapter) body(req Request, stream bool) map[string]any {
	messages := make([]map[string]any, 0, len(req.Messages))
	for _, m := range req.Messages {
		msg := map[string]any{"role": string(m.Role), "content": m.Content}
		if len(m.ToolCalls) > 0 {
			var calls []map[string]any
			for _, tc := range m.ToolCalls {
				calls = append(calls, map[string]any{
					"id":   tc.ID,
					"type": "function",
					"function": map[string]any{
						"name":      tc.Name,
						"arguments": string(tc.Arguments),
					},
				})
			}
			msg["tool_calls"] = calls
		}
		if m.ToolCallID != "" {
			msg["tool_call_id"] = m.ToolCallID
		}
		messages = append(messages, msg)
	}

	body := map[string]any{
		"model":    req.Model,
		"messages": messages,
	}
	if len(req.Tools) > 0 {
		tools := make([]map[string]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			params := t.Parameters
			if params == nil {
				params = map[string]any{"type": "object", "properties": map[string]any{}}
			}
			tools = append(tools, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        t.Name,
					"description": t.Description,
					"parameters":  params,
				},
			})
		}
		body["tools"] = tools
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if req.MaxTokens != nil {
		body["max_tokens"] = *req.MaxTokens
	}
	if stream {
		body["stream"] = true
		body["stream_options"] = map[string]any{"include_usage": true}
	}
	return body
}

func (a *openAIAdapter) do(ctx context.Context, req Request, stream bool) (*http.Response, error) {
	if a.apiKey == "" {
		return nil, &ConfigError{Message: "missing api key"}
	}
	b, err := json.Marshal(a.body(req, stream))
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url(req.Model), bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.azure {
		httpReq.Header.Set("api-key", a.apiKey)
	} else {
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

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
			Message:    fmt.Sprintf("chat.completions failed: %v", raw),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}
	return resp, nil
}

func (a *openAIAdapter) Complete(ctx context.Context, req Request) (Response, error) {
	resp, err := a.do(ctx, req, false)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	var raw chatCompletion
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return Response{}, fmt.Errorf("decode chat completion: %w", err)
	}
	return raw.toResponse(req.Model), nil
}

func (a *openAIAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
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
		tools := map[int]*toolAcc{}
		finish := ""

		err := parseSSE(ctx, resp.Body, func(ev sseEvent) error {
			if string(ev.Data) == "[DONE]" {
				return nil
			}
			var chunk chatChunk
			if err := json.Unmarshal(ev.Data, &chunk); err != nil {
				return nil
			}
			if chunk.ID != "" {
				final.ID = chunk.ID
			}
			if chunk.Model != "" {
				final.Model = chunk.Model
			}
			if chunk.Usage != nil {
				final.Usage = Usage{
					InputTokens:  chunk.Usage.PromptTokens,
					OutputTokens: chunk.Usage.CompletionTokens,
					TotalTokens:  chunk.Usage.TotalTokens,
				}
			}
			for _, choice := range chunk.Choices {
				if choice.Delta.Content != "" {
					content.WriteString(choice.Delta.Content)
					out <- StreamEvent{Type: StreamEventTextDelta, Delta: choice.Delta.Content}
				}
				for _, tc := range choice.Delta.ToolCalls {
					acc := tools[tc.Index]
					if acc == nil {
						acc = &toolAcc{}
						tools[tc.Index] = acc
					}
					if tc.ID != "" {
						acc.id = tc.ID
					}
					if tc.Function.Name != "" {
						acc.name = tc.Function.Name
					}
					acc.args.WriteString(tc.Function.Arguments)
				}
				if choice.FinishReason != "" {
					finish = choice.FinishReason
				}
			}
			return nil
		})
		if err != nil {
			out <- StreamEvent{Type: StreamEventError, Err: err}
			return
		}

		indexes := make([]int, 0, len(tools))
		for i := range tools {
			indexes = append(indexes, i)
		}
		sort.Ints(indexes)
		for _, i := range indexes {
			acc := tools[i]
			call := ToolCall{ID: acc.id, Name: acc.name, Arguments: json.RawMessage(acc.args.String())}
			final.ToolCalls = append(final.ToolCalls, call)
			c := call
			out <- StreamEvent{Type: StreamEventToolCall, ToolCall: &c}
		}
		final.Content = content.String()
		final.FinishReason = normalizeFinish(finish, len(final.ToolCalls) > 0)
		out <- StreamEvent{Type: StreamEventFinish, Response: &final}
	}()
	return out, nil
}

func normalizeFinish(reason string, hasToolCalls bool) string {
	switch reason {
	case "tool_calls", "function_call":
		return FinishToolCalls
	case "length", "max_tokens":
		return FinishLength
	case "", "stop", "end_turn":
		if hasToolCalls {
			return FinishToolCalls
		}
		return FinishStop
	default:
		return reason
	}
}

// Wire shapes for the chat completions API.

type chatCompletion struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string          `json:"name"`
					Arguments json.RawMessage `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *chatUsage `json:"usage"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *chatUsage `json:"usage"`
}

func (c chatCompletion) toResponse(requestedModel string) Response {
	r := Response{ID: c.ID, Model: requestedModel}
	if c.Model != "" {
		r.Model = c.Model
	}
	if c.Usage != nil {
		r.Usage = Usage{
			InputTokens:  c.Usage.PromptTokens,
			OutputTokens: c.Usage.CompletionTokens,
			TotalTokens:  c.Usage.TotalTokens,
		}
	}
	if len(c.Choices) == 0 {
		r.FinishReason = FinishStop
		return r
	}
	choice := c.Choices[0]
	r.Content = choice.Message.Content
	for _, tc := range choice.Message.ToolCalls {
		args := tc.Function.Arguments
		// Arguments arrive as a JSON-encoded string; some gateways send the
		// object directly. Accept both.
		var s string
		if json.Unmarshal(args, &s) == nil {
			args = json.RawMessage(s)
		}
		r.ToolCalls = append(r.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}
	r.FinishReason = normalizeFinish(choice.FinishReason, len(r.ToolCalls) > 0)
	return r
}
