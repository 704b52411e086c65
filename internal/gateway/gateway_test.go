package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtzanidakis/orca/internal/config"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(config.GatewayConfig{
		BaseURL:      srv.URL + "/v1",
		APIKey:       "pk-test",
		VirtualKey:   "vk-test",
		DefaultModel: "@openai/gpt-4o-mini",
		Temperature:  0.2,
		MaxTokens:    256,
		Timeout:      5 * time.Second,
	})
}

func TestComplete(t *testing.T) {
	bodies := make(chan map[string]any, 1)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "pk-test", r.Header.Get("x-portkey-api-key"))
		assert.Equal(t, "vk-test", r.Header.Get("x-portkey-virtual-key"))
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies <- body

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "c1", "object": "chat.completion", "model": "gpt-4o-mini",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "done"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
		}`))
	})

	resp, err := c.Complete(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Content)
	assert.Equal(t, "gpt-4o-mini", resp.Model)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, Usage{PromptTokens: 12, CompletionTokens: 3, TotalTokens: 15}, resp.Usage)

	got := <-bodies
	assert.Equal(t, "@openai/gpt-4o-mini", got["model"])
	assert.EqualValues(t, 256, got["max_tokens"])
}

func TestCompleteEmptyChoices(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","choices":[]}`))
	})
	_, err := c.Complete(context.Background(), Request{Messages: []Message{{Role: "user", Content: "x"}}})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestCompleteAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
	})
	_, err := c.Complete(context.Background(), Request{Model: "m", Messages: []Message{{Role: "user", Content: "x"}}})
	require.Error(t, err)
	assert.Equal(t, http.StatusTooManyRequests, StatusCode(err))
}

func TestStream(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`{"id":"s","model":"gpt-4o-mini","choices":[{"index":0,"delta":{"content":"Hel"}}]}`,
			`{"id":"s","model":"gpt-4o-mini","choices":[{"index":0,"delta":{"content":"lo"},"finish_reason":"stop"}]}`,
			`{"id":"s","model":"gpt-4o-mini","choices":[],"usage":{"prompt_tokens":4,"completion_tokens":2,"total_tokens":6}}`,
		}
		for _, ch := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", ch)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	var deltas []string
	resp, err := c.Stream(context.Background(), Request{Messages: []Message{{Role: "user", Content: "hi"}}}, func(d string) {
		deltas = append(deltas, d)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, deltas)
	assert.Equal(t, "Hello", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 6, resp.Usage.TotalTokens)
}

func TestRouter(t *testing.T) {
	r := NewRouter(config.GatewayConfig{
		DefaultModel: "@openai/gpt-4o-mini",
		Routing:      map[string]string{"Docs": "@openai/gpt-4o"},
	})
	assert.Equal(t, "@anthropic/claude-3.7", r.ModelForTask("plan"))
	assert.Equal(t, "@anthropic/claude-3.7", r.ModelForTask(" Review "))
	assert.Equal(t, "@deepseek/deepseek-coder", r.ModelForTask("refactor"))
	assert.Equal(t, "@openai/gpt-4o", r.ModelForTask("docs"))
	assert.Equal(t, "@openai/gpt-4o-mini", r.ModelForTask("chat"))
	assert.Equal(t, "@openai/gpt-4o-mini", r.ModelForTask(""))
}

func TestRouterCost(t *testing.T) {
	r := NewRouter(config.GatewayConfig{
		Pricing: map[string]config.ModelPrice{"custom": {InputPer1K: 1, OutputPer1K: 2}},
	})
	u := Usage{PromptTokens: 1000, CompletionTokens: 500}
	assert.InDelta(t, 2.0, r.Cost("custom", u), 1e-9)
	assert.InDelta(t, 0.00015+0.0003, r.Cost("@openai/gpt-4o-mini", u), 1e-9)
	assert.Zero(t, r.Cost("unknown-model", u))
	assert.True(t, strings.HasPrefix(NewRouter(config.GatewayConfig{}).ModelForTask("x"), "@openai/"))
}
