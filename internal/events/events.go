// Package events defines the lifecycle events emitted while a workflow runs
// and helpers for fanning them out to observers.
package events

import "sync"

// Type identifies a lifecycle event.
type Type string

const (
	Open       Type = "open"
	Thinking   Type = "thinking"
	Heartbeat  Type = "hb"
	StepStart  Type = "step_start"
	LLMRequest Type = "llm_request"
	ToolCall   Type = "tool_call"
	ToolResult Type = "tool_result"
	StepEnd    Type = "step_end"
	Error      Type = "error"
	Done       Type = "done"
	End        Type = "end"
)

// Event is one lifecycle notification. Data holds one of the payload types
// below, or nil.
type Event struct {
	Type Type `json:"type"`
	Data any  `json:"data,omitempty"`
}

// Emitter receives events. Emitters are called synchronously from the
// goroutine producing the event and must not block for long.
type Emitter func(Event)

// Discard drops every event.
func Discard(Event) {}

// Step indices are 1-based; zero means the event is not tied to a step
// position.

type StepStartData struct {
	StepID string `json:"stepId,omitempty"`
	Name   string `json:"name,omitempty"`
	Index  int    `json:"index,omitempty"`
	Agent  string `json:"agent,omitempty"`
	Action string `json:"action,omitempty"`
}

type LLMRequestData struct {
	StepID   string `json:"stepId,omitempty"`
	Model    string `json:"model"`
	Task     string `json:"task,omitempty"`
	TokensIn int    `json:"tokens_in,omitempty"`
}

type ToolCallData struct {
	StepID   string         `json:"stepId,omitempty"`
	Tool     string         `json:"tool"`
	Args     map[string]any `json:"args,omitempty"`
	Endpoint string         `json:"endpoint,omitempty"`
}

// ToolResultData reports a tool's output, or a model call's metrics.
type ToolResultData struct {
	StepID    string  `json:"stepId,omitempty"`
	Tool      string  `json:"tool,omitempty"`
	OK        bool    `json:"ok"`
	MS        int64   `json:"ms"`
	Output    any     `json:"output,omitempty"`
	Model     string  `json:"model,omitempty"`
	TokensIn  int     `json:"tokensIn,omitempty"`
	TokensOut int     `json:"tokensOut,omitempty"`
	Latency   int64   `json:"latency,omitempty"`
	CostUSD   float64 `json:"costUSD,omitempty"`
}

// StepEndData closes a step. The merge step carries Outputs, Failed and
// Total instead of an index.
type StepEndData struct {
	StepID    string         `json:"stepId,omitempty"`
	Index     int            `json:"index,omitempty"`
	Status    string         `json:"status"`
	ElapsedMS int64          `json:"elapsed_ms"`
	Outputs   map[string]any `json:"outputs,omitempty"`
	Failed    int            `json:"failed,omitempty"`
	Total     int            `json:"total,omitempty"`
}

type ErrorData struct {
	StepID     string `json:"stepId,omitempty"`
	Index      int    `json:"index,omitempty"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
	StatusCode int    `json:"statusCode,omitempty"`
	Details    any    `json:"details,omitempty"`
}

type ThinkingData struct {
	StepID string `json:"stepId,omitempty"`
	Text   string `json:"text"`
}

// OpenData and DoneData extend the otherwise empty bootstrap and terminal
// payloads.
type OpenData struct {
	RunID    string `json:"runId,omitempty"`
	Workflow string `json:"workflow,omitempty"`
	Topology string `json:"topology,omitempty"`
	Steps    int    `json:"steps"`
}

type DoneData struct {
	RunID string `json:"runId,omitempty"`
	OK    bool   `json:"ok"`
}

// Step end statuses.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
	StatusMerged = "merged"
)

// Fanout returns an Emitter that forwards every event to each non-nil emitter
// in order.
func Fanout(emitters ...Emitter) Emitter {
	var live []Emitter
	for _, e := range emitters {
		if e != nil {
			live = append(live, e)
		}
	}
	return func(ev Event) {
		for _, e := range live {
			e(ev)
		}
	}
}

// Serialize guards emit so that concurrent callers never interleave.
func Serialize(emit Emitter) Emitter {
	var mu sync.Mutex
	return func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		emit(ev)
	}
}

// Masked applies mask to textual payload fields before forwarding.
func Masked(emit Emitter, mask func(string) string) Emitter {
	if mask == nil {
		return emit
	}
	return func(ev Event) {
		switch d := ev.Data.(type) {
		case ToolResultData:
			d.Output = maskValue(d.Output, mask)
			ev.Data = d
		case StepEndData:
			if d.Outputs != nil {
				outs := make(map[string]any, len(d.Outputs))
				for k, v := range d.Outputs {
					outs[k] = maskValue(v, mask)
				}
				d.Outputs = outs
			}
			ev.Data = d
		case ErrorData:
			d.Message = mask(d.Message)
			ev.Data = d
		case ThinkingData:
			d.Text = mask(d.Text)
			ev.Data = d
		}
		emit(ev)
	}
}

// maskValue masks strings, and strings nested in maps and slices.
func maskValue(v any, mask func(string) string) any {
	switch t := v.(type) {
	case string:
		return mask(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = maskValue(e, mask)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = maskValue(e, mask)
		}
		return out
	}
	return v
}

// Recorder collects events in memory. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

// Run identifies one workflow execution for observers.
type Run struct {
	ID       string
	Workflow string
	Topology string
}

// Observer attaches to a run and returns the emitter that receives its
// events. Observe may return nil to ignore the run.
type Observer interface {
	Observe(run Run) Emitter
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(run Run) Emitter

func (f ObserverFunc) Observe(run Run) Emitter { return f(run) }
