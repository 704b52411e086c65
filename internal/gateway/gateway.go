// Package gateway talks to an OpenAI-compatible model gateway such as
// Portkey.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/mtzanidakis/orca/internal/config"
)

var ErrEmptyResponse = errors.New("gateway returned no choices")

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is one completion call. Zero Model, Temperature or MaxTokens fall
// back to the client defaults.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type Response struct {
	Content      string
	Model        string
	FinishReason string
	Usage        Usage
	Latency      time.Duration
}

type Client struct {
	api          *openai.Client
	defaultModel string
	temperature  float64
	maxTokens    int
	logger       *slog.Logger
}

type Option func(*Client)

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New builds a client from gateway settings. Portkey credentials are sent as
// x-portkey-* headers on every request.
func New(cfg config.GatewayConfig, opts ...Option) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	headers := map[string]string{}
	if cfg.APIKey != "" {
		headers["x-portkey-api-key"] = cfg.APIKey
	}
	if cfg.VirtualKey != "" {
		headers["x-portkey-virtual-key"] = cfg.VirtualKey
	}
	oc.HTTPClient = &http.Client{
		Timeout:   cfg.Timeout,
		Transport: &headerTransport{base: http.DefaultTransport, headers: headers},
	}

	c := &Client{
		api:          openai.NewClientWithConfig(oc),
		defaultModel: cfg.DefaultModel,
		temperature:  cfg.Temperature,
		maxTokens:    cfg.MaxTokens,
		logger:       slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if len(t.headers) == 0 {
		return t.base.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	return t.base.RoundTrip(req)
}

func (c *Client) chatRequest(req Request) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	temp := req.Temperature
	if temp == 0 {
		temp = c.temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}
	msgs := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	return openai.ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: float32(temp),
		MaxTokens:   maxTokens,
	}
}

// Complete performs a single-shot completion.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	creq := c.chatRequest(req)
	start := time.Now()

	resp, err := c.api.CreateChatCompletion(ctx, creq)
	if err != nil {
		return nil, fmt.Errorf("complete %s: %w", creq.Model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("complete %s: %w", creq.Model, ErrEmptyResponse)
	}

	out := &Response{
		Content:      resp.Choices[0].Message.Content,
		Model:        resp.Model,
		FinishReason: string(resp.Choices[0].FinishReason),
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		Latency: time.Since(start),
	}
	if out.Model == "" {
		out.Model = creq.Model
	}
	c.logger.Debug("completion finished", "model", out.Model, "tokens", out.Usage.TotalTokens, "latency", out.Latency)
	return out, nil
}

// Stream performs a streaming completion, calling onDelta for each content
// fragment as it arrives. The returned response carries the full content.
func (c *Client) Stream(ctx context.Context, req Request, onDelta func(string)) (*Response, error) {
	creq := c.chatRequest(req)
	creq.Stream = true
	creq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	start := time.Now()

	stream, err := c.api.CreateChatCompletionStream(ctx, creq)
	if err != nil {
		return nil, fmt.Errorf("stream %s: %w", creq.Model, err)
	}
	defer stream.Close()

	out := &Response{Model: creq.Model}
	var sb strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("stream %s: %w", creq.Model, err)
		}
		if chunk.Model != "" {
			out.Model = chunk.Model
		}
		if chunk.Usage != nil {
			out.Usage = Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}
		for _, ch := range chunk.Choices {
			if d := ch.Delta.Content; d != "" {
				sb.WriteString(d)
				if onDelta != nil {
					onDelta(d)
				}
			}
			if ch.FinishReason != "" {
				out.FinishReason = string(ch.FinishReason)
			}
		}
	}
	out.Content = sb.String()
	out.Latency = time.Since(start)
	return out, nil
}

// StatusCode extracts the HTTP status of a failed gateway call, or 0.
func StatusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
