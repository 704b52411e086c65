// Package executor runs a single workflow step and reports its lifecycle as
// events.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mtzanidakis/orca/internal/agent"
	"github.com/mtzanidakis/orca/internal/events"
	"github.com/mtzanidakis/orca/internal/gateway"
	"github.com/mtzanidakis/orca/internal/pool"
	"github.com/mtzanidakis/orca/internal/telemetry"
)

// Invoker runs a named tool. *tools.Registry satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, name string, params map[string]any) (any, error)
}

// ModelRouter picks a model for a task kind.
type ModelRouter interface {
	ModelForTask(task string) string
}

// StepError is returned for any step that ends in failure.
type StepError struct {
	StepID string
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.StepID, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Deps are the collaborators an Executor works with. Team is scoped to one
// workflow run.
type Deps struct {
	Tools   Invoker
	Gateway agent.Completer
	Router  ModelRouter
	Team    *agent.Team
	// Memory, when set with RecordResults, receives every model step result.
	Memory        agent.MemoryCaller
	RecordResults bool
	SafeMode      bool
	// Stream requests incremental completions; deltas are emitted as
	// thinking events.
	Stream bool
	Logger *slog.Logger
}

type Executor struct {
	deps   Deps
	logger *slog.Logger
	tracer trace.Tracer
}

func New(deps Deps) *Executor {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		deps:   deps,
		logger: logger,
		tracer: telemetry.Tracer("github.com/mtzanidakis/orca/internal/executor"),
	}
}

// Execute runs step with vars holding the outputs of earlier steps. It emits
// step_start, then exactly one step_end. On failure an error event precedes
// the step_end and a *StepError is returned.
func (e *Executor) Execute(ctx context.Context, step Step, vars map[string]any, emit events.Emitter) (any, error) {
	m := step.StepMeta()
	ctx, span := e.tracer.Start(ctx, "orca.step", trace.WithAttributes(
		attribute.String("step.id", m.ID),
		attribute.String("step.agent", m.Agent),
		attribute.Int("step.index", m.Index),
	))
	defer span.End()

	start := time.Now()
	emit(events.Event{Type: events.StepStart, Data: events.StepStartData{
		StepID: m.ID,
		Name:   m.Name,
		Index:  m.Index,
		Agent:  m.Agent,
		Action: m.Action,
	}})

	var (
		out any
		err error
	)
	switch s := step.(type) {
	case ToolStep:
		out, err = e.runTool(ctx, s, vars, emit)
	case ModelStep:
		out, err = e.runModel(ctx, s, vars, emit)
	default:
		err = fmt.Errorf("unsupported step type %T", step)
	}
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Warn("step failed", "step", m.ID, "index", m.Index, "error", err)
		emit(events.Event{Type: events.Error, Data: events.ErrorData{
			StepID:     m.ID,
			Index:      m.Index,
			Message:    err.Error(),
			Retryable:  false,
			StatusCode: statusCode(err),
		}})
		emit(events.Event{Type: events.StepEnd, Data: events.StepEndData{
			StepID:    m.ID,
			Index:     m.Index,
			Status:    events.StatusFailed,
			ElapsedMS: elapsed,
		}})
		return nil, &StepError{StepID: m.ID, Err: err}
	}

	emit(events.Event{Type: events.StepEnd, Data: events.StepEndData{
		StepID:    m.ID,
		Index:     m.Index,
		Status:    events.StatusOK,
		ElapsedMS: elapsed,
	}})
	return out, nil
}

func (e *Executor) runTool(ctx context.Context, s ToolStep, vars map[string]any, emit events.Emitter) (any, error) {
	if e.deps.Tools == nil {
		return nil, errors.New("no tool registry configured")
	}
	args := substituteArgs(s.Args, vars)
	emit(events.Event{Type: events.ToolCall, Data: events.ToolCallData{
		StepID: s.ID,
		Tool:   s.Tool,
		Args:   args,
	}})

	start := time.Now()
	out, err := e.deps.Tools.Invoke(ctx, s.Tool, args)
	if err != nil {
		return nil, err
	}
	emit(events.Event{Type: events.ToolResult, Data: events.ToolResultData{
		StepID: s.ID,
		Tool:   s.Tool,
		OK:     true,
		MS:     time.Since(start).Milliseconds(),
		Output: out,
	}})
	return out, nil
}

func (e *Executor) runModel(ctx context.Context, s ModelStep, vars map[string]any, emit events.Emitter) (any, error) {
	if e.deps.Gateway == nil || e.deps.Team == nil {
		return nil, errors.New("no model gateway configured")
	}
	a := e.deps.Team.Get(s.Agent)

	model := s.Model
	if model == "" {
		model = a.Model
	}
	task := s.Task
	if task == "" {
		task = s.Action
	}
	if model == "" && e.deps.Router != nil {
		model = e.deps.Router.ModelForTask(task)
	}

	prompt := agent.Prompt{Text: buildPrompt(s, vars), Model: model}
	if e.deps.SafeMode {
		prompt.System = safeModeSystem
	}
	if e.deps.Stream {
		prompt.Stream = true
		prompt.OnDelta = func(d string) {
			emit(events.Event{Type: events.Thinking, Data: events.ThinkingData{StepID: s.ID, Text: d}})
		}
	}

	emit(events.Event{Type: events.LLMRequest, Data: events.LLMRequestData{
		StepID:   s.ID,
		Model:    model,
		Task:     task,
		TokensIn: estimateTokens(prompt.Text),
	}})

	start := time.Now()
	reply, err := a.Ask(ctx, e.deps.Gateway, prompt)
	if err != nil {
		return nil, err
	}
	latency := time.Since(start).Milliseconds()
	emit(events.Event{Type: events.ToolResult, Data: events.ToolResultData{
		StepID:    s.ID,
		OK:        true,
		MS:        latency,
		Output:    reply.Content,
		Model:     reply.Model,
		TokensIn:  reply.TokensIn,
		TokensOut: reply.TokensOut,
		Latency:   latency,
		CostUSD:   reply.CostUSD,
	}})

	if e.deps.RecordResults && e.deps.Memory != nil {
		// A result that cannot be recorded does not fail the step.
		if err := a.RecordResult(ctx, e.deps.Memory, task, reply.Content); err != nil {
			e.logger.Warn("record step result", "step", s.ID, "error", err)
		}
	}
	return reply.Content, nil
}

func statusCode(err error) int {
	if code := pool.StatusCode(err); code != 0 {
		return code
	}
	return gateway.StatusCode(err)
}
