// Package agent holds per-agent conversation state and the team of agents
// taking part in a workflow run.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mtzanidakis/orca/internal/gateway"
)

const defaultMaxHistory = 20

// Completer is the model gateway as seen by an agent.
type Completer interface {
	Complete(ctx context.Context, req gateway.Request) (*gateway.Response, error)
	Stream(ctx context.Context, req gateway.Request, onDelta func(string)) (*gateway.Response, error)
}

// Pricer prices token usage for a model.
type Pricer interface {
	Cost(model string, u gateway.Usage) float64
}

// MemoryCaller reaches the memory capability server.
type MemoryCaller interface {
	Execute(ctx context.Context, server, method, endpoint string, payload any) (json.RawMessage, error)
}

// Agent is one conversational participant. Its state is private and changed
// only through its methods.
type Agent struct {
	Name   string
	Model  string
	System string

	pricer     Pricer
	maxHistory int

	mu        sync.Mutex
	history   []gateway.Message
	tokensIn  int
	tokensOut int
	cost      float64
	memory    json.RawMessage
}

type Option func(*Agent)

func WithModel(m string) Option { return func(a *Agent) { a.Model = m } }

func WithSystem(s string) Option { return func(a *Agent) { a.System = s } }

func WithPricer(p Pricer) Option { return func(a *Agent) { a.pricer = p } }

// WithMaxHistory caps the retained messages. Older messages are dropped first.
func WithMaxHistory(n int) Option { return func(a *Agent) { a.maxHistory = n } }

func New(name string, opts ...Option) *Agent {
	a := &Agent{Name: name, maxHistory: defaultMaxHistory}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Prompt is one request to the agent.
type Prompt struct {
	Text string
	// Model overrides the agent's model for this request.
	Model string
	// System is appended to the agent's system prompt for this request only.
	System  string
	Stream  bool
	OnDelta func(string)
}

type Reply struct {
	Content   string
	Model     string
	TokensIn  int
	TokensOut int
	CostUSD   float64
	Latency   time.Duration
}

// Ask sends p with the agent's history and memory to the gateway and records
// the exchange.
func (a *Agent) Ask(ctx context.Context, gw Completer, p Prompt) (*Reply, error) {
	model := p.Model
	if model == "" {
		model = a.Model
	}

	a.mu.Lock()
	msgs := make([]gateway.Message, 0, len(a.history)+2)
	if sys := a.systemPromptLocked(p.System); sys != "" {
		msgs = append(msgs, gateway.Message{Role: "system", Content: sys})
	}
	msgs = append(msgs, a.history...)
	a.mu.Unlock()
	msgs = append(msgs, gateway.Message{Role: "user", Content: p.Text})

	req := gateway.Request{Model: model, Messages: msgs}
	var (
		resp *gateway.Response
		err  error
	)
	if p.Stream {
		resp, err = gw.Stream(ctx, req, p.OnDelta)
	} else {
		resp, err = gw.Complete(ctx, req)
	}
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", a.Name, err)
	}

	used := resp.Model
	if used == "" {
		used = model
	}
	reply := &Reply{
		Content:   resp.Content,
		Model:     used,
		TokensIn:  resp.Usage.PromptTokens,
		TokensOut: resp.Usage.CompletionTokens,
		Latency:   resp.Latency,
	}
	if a.pricer != nil {
		reply.CostUSD = a.pricer.Cost(used, resp.Usage)
	}

	a.mu.Lock()
	a.history = append(a.history,
		gateway.Message{Role: "user", Content: p.Text},
		gateway.Message{Role: "assistant", Content: resp.Content},
	)
	if a.maxHistory > 0 && len(a.history) > a.maxHistory {
		a.history = append([]gateway.Message(nil), a.history[len(a.history)-a.maxHistory:]...)
	}
	a.tokensIn += reply.TokensIn
	a.tokensOut += reply.TokensOut
	a.cost += reply.CostUSD
	a.mu.Unlock()

	return reply, nil
}

func (a *Agent) systemPromptLocked(extra string) string {
	var parts []string
	if a.System != "" {
		parts = append(parts, a.System)
	}
	if len(a.memory) > 0 && string(a.memory) != "null" {
		parts = append(parts, "Known system state:\n"+string(a.memory))
	}
	if extra != "" {
		parts = append(parts, extra)
	}
	return strings.Join(parts, "\n\n")
}

// LoadMemory fetches the memory blob stored under key and includes it in
// future prompts.
func (a *Agent) LoadMemory(ctx context.Context, c MemoryCaller, key string) error {
	raw, err := c.Execute(ctx, "memory", http.MethodPost, "retrieve", map[string]any{"key": key})
	if err != nil {
		return fmt.Errorf("load memory %s: %w", key, err)
	}
	a.mu.Lock()
	a.memory = raw
	a.mu.Unlock()
	return nil
}

// RecordResult stores the outcome of a task in the memory server.
func (a *Agent) RecordResult(ctx context.Context, c MemoryCaller, task, content string) error {
	now := time.Now().UTC()
	_, err := c.Execute(ctx, "memory", http.MethodPost, "store", map[string]any{
		"key": "task_" + now.Format(time.RFC3339Nano),
		"value": map[string]any{
			"task":      task,
			"agent":     a.Name,
			"response":  content,
			"timestamp": now.Format(time.RFC3339),
		},
	})
	if err != nil {
		return fmt.Errorf("record result: %w", err)
	}
	return nil
}

// State is a read-only copy of an agent's counters.
type State struct {
	Name      string          `json:"name"`
	Messages  int             `json:"messages"`
	TokensIn  int             `json:"tokens_in"`
	TokensOut int             `json:"tokens_out"`
	CostUSD   float64         `json:"cost_usd"`
	Memory    json.RawMessage `json:"memory,omitempty"`
}

func (a *Agent) Snapshot() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return State{
		Name:      a.Name,
		Messages:  len(a.history),
		TokensIn:  a.tokensIn,
		TokensOut: a.tokensOut,
		CostUSD:   a.cost,
		Memory:    append(json.RawMessage(nil), a.memory...),
	}
}

// History returns a copy of the retained messages.
func (a *Agent) History() []gateway.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]gateway.Message(nil), a.history...)
}

// Reset clears history, counters and memory.
func (a *Agent) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = nil
	a.tokensIn, a.tokensOut = 0, 0
	a.cost = 0
	a.memory = nil
}
