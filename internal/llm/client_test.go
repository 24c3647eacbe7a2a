package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YickelFuboo/OpenDeepWiki/internal/config"
)

func TestNewRejectsUnknownProvider(t *testing.T) {
	_, err := New(config.OpenAIConfig{ModelProvider: "Mystery"})
	assert.ErrorIs(t, err, ErrUnsupportedProvider)
}

func TestOpenAIComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o", body["model"])

		fmt.Fprint(w, `{
			"id": "cmpl-1",
			"model": "gpt-4o-2024",
			"choices": [{
				"message": {
					"content": "",
					"tool_calls": [{
						"id": "call_1",
						"function": {"name": "read_file", "arguments": "{\"path\":\"main.go\"}"}
					}]
				},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`)
	}))
	defer srv.Close()

	p := newOpenAI(srv.URL, "sk-test", false, srv.Client())
	resp, err := p.Complete(context.Background(), Request{Model: "gpt-4o", Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.NoError(t, err)

	assert.Equal(t, FinishToolCalls, resp.FinishReason)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "read_file", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"path":"main.go"}`, string(resp.ToolCalls[0].Arguments))
	assert.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestOpenAIStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`{"id":"c1","choices":[{"delta":{"content":"Hel"}}]}`,
			`{"id":"c1","choices":[{"delta":{"content":"lo"}}]}`,
			`{"id":"c1","choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`,
		}
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := newOpenAI(srv.URL, "sk-test", false, srv.Client())
	events, err := p.Stream(context.Background(), Request{Model: "gpt-4o"})
	require.NoError(t, err)

	var deltas string
	var final *Response
	for ev := range events {
		switch ev.Type {
		case StreamEventTextDelta:
			deltas += ev.Delta
		case StreamEventFinish:
			final = ev.Response
		case StreamEventError:
			t.Fatalf("stream error: %v", ev.Err)
		}
	}
	assert.Equal(t, "Hello", deltas)
	require.NotNil(t, final)
	assert.Equal(t, "Hello", final.Content)
	assert.Equal(t, FinishStop, final.FinishReason)
	assert.Equal(t, 5, final.Usage.TotalTokens)
}

func TestOpenAIStreamAssemblesToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		chunks := []string{
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_9","function":{"name":"read_file","arguments":"{\"pa"}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"th\":\"x\"}"}}]}}]}`,
			`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
		}
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := newOpenAI(srv.URL, "sk-test", false, srv.Client())
	events, err := p.Stream(context.Background(), Request{Model: "gpt-4o"})
	require.NoError(t, err)

	var final *Response
	for ev := range events {
		if ev.Type == StreamEventFinish {
			final = ev.Response
		}
	}
	require.NotNil(t, final)
	require.Len(t, final.ToolCalls, 1)
	assert.Equal(t, "call_9", final.ToolCalls[0].ID)
	assert.JSONEq(t, `{"path":"x"}`, string(final.ToolCalls[0].Arguments))
	assert.Equal(t, FinishToolCalls, final.FinishReason)
}

func TestAzureURLAndHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/openai/deployments/gpt-4o/chat/completions", r.URL.Path)
		assert.Equal(t, azureAPIVersion, r.URL.Query().Get("api-version"))
		assert.Equal(t, "sk-az", r.Header.Get("api-key"))
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	p := newOpenAI(srv.URL, "sk-az", true, srv.Client())
	resp, err := p.Complete(context.Background(), Request{Model: "gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
}

func TestAnthropicComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-ant", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "analyze this", body["system"])
		assert.NotZero(t, body["max_tokens"])

		fmt.Fprint(w, `{
			"id": "msg_1",
			"model": "claude-sonnet-4-20250514",
			"content": [
				{"type": "text", "text": "Working on it."},
				{"type": "tool_use", "id": "tu_1", "name": "get_tree", "input": {}}
			],
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 20, "output_tokens": 7}
		}`)
	}))
	defer srv.Close()

	p := newAnthropic(srv.URL, "sk-ant", srv.Client())
	resp, err := p.Complete(context.Background(), Request{
		Model: "claude-sonnet-4-20250514",
		Messages: []Message{
			{Role: RoleSystem, Content: "analyze this"},
			{Role: RoleUser, Content: "go"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "Working on it.", resp.Content)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "get_tree", resp.ToolCalls[0].Name)
	assert.Equal(t, FinishToolCalls, resp.FinishReason)
	assert.Equal(t, 27, resp.Usage.TotalTokens)
}

func TestAnthropicStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		events := []string{
			`event: message_start` + "\n" + `data: {"type":"message_start","message":{"id":"msg_2","model":"claude-sonnet-4","usage":{"input_tokens":12}}}`,
			`event: content_block_start` + "\n" + `data: {"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"tu_2","name":"read_file"}}`,
			`event: content_block_delta` + "\n" + `data: {"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"path\":\"a\"}"}}`,
			`event: content_block_stop` + "\n" + `data: {"type":"content_block_stop","index":0}`,
			`event: message_delta` + "\n" + `data: {"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":4}}`,
			`event: message_stop` + "\n" + `data: {"type":"message_stop"}`,
		}
		for _, e := range events {
			fmt.Fprintf(w, "%s\n\n", e)
		}
	}))
	defer srv.Close()

	p := newAnthropic(srv.URL, "sk-ant", srv.Client())
	events, err := p.Stream(context.Background(), Request{Model: "claude-sonnet-4"})
	require.NoError(t, err)

	var calls []ToolCall
	var final *Response
	for ev := range events {
		switch ev.Type {
		case StreamEventToolCall:
			calls = append(calls, *ev.ToolCall)
		case StreamEventFinish:
			final = ev.Response
		case StreamEventError:
			t.Fatalf("stream error: %v", ev.Err)
		}
	}
	require.Len(t, calls, 1)
	assert.Equal(t, "read_file", calls[0].Name)
	assert.JSONEq(t, `{"path":"a"}`, string(calls[0].Arguments))
	require.NotNil(t, final)
	assert.Equal(t, FinishToolCalls, final.FinishReason)
	assert.Equal(t, 16, final.Usage.TotalTokens)
}

func TestRequestErrorClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limited"}}`)
	}))
	defer srv.Close()

	p := newOpenAI(srv.URL, "sk-test", false, srv.Client())
	_, err := p.Complete(context.Background(), Request{Model: "gpt-4o"})
	require.Error(t, err)

	var re *RequestError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusTooManyRequests, re.StatusCode)
	require.NotNil(t, re.RetryAfter)
	assert.True(t, re.Retryable())
	assert.True(t, IsRetryable(err))
}

func TestConfigErrorNotRetryable(t *testing.T) {
	p := newOpenAI("http://localhost:0", "", false, http.DefaultClient)
	_, err := p.Complete(context.Background(), Request{Model: "gpt-4o"})
	require.Error(t, err)
	assert.False(t, IsRetryable(err))
}

func TestMaxTokensFor(t *testing.T) {
	assert.Equal(t, 16384, MaxTokensFor("gpt-4o-mini"))
	assert.Equal(t, 8192, MaxTokensFor("gpt-4-turbo"))
	assert.Equal(t, 64000, MaxTokensFor("claude-sonnet-4-20250514"))
	assert.Equal(t, defaultMaxTokens, MaxTokensFor("unknown-model"))
}
