package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mtzanidakis/orca/internal/events"
	"github.com/mtzanidakis/orca/internal/executor"
	"github.com/mtzanidakis/orca/internal/taskpool"
)

// StepRunner executes one step. *executor.Executor satisfies it.
type StepRunner interface {
	Execute(ctx context.Context, step executor.Step, vars map[string]any, emit events.Emitter) (any, error)
}

// Options configure a single run.
type Options struct {
	RunID      string
	Workflow   string
	Topology   string
	MaxWorkers int
}

// Orchestrator drives a resolved step list through a StepRunner.
type Orchestrator struct {
	steps  StepRunner
	logger *slog.Logger
}

func NewOrchestrator(steps StepRunner, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{steps: steps, logger: logger}
}

// Run executes steps and reports progress on emit. The stream always starts
// with open, thinking and hb, and always finishes with done followed by end.
// Serial steps stop at the first failure, which also skips the fan-out.
// Parallel-eligible steps run concurrently, bounded by MaxWorkers, and are
// summarised by a single merge step_end. The outcome is the ok flag of the
// done event.
func (o *Orchestrator) Run(ctx context.Context, steps []Step, opts Options, emit events.Emitter) {
	emit = events.Serialize(emit)
	log := o.logger.With("run", opts.RunID, "workflow", opts.Workflow)

	topology := opts.Topology
	if !KnownTopology(topology) {
		log.Warn("unknown topology, running sequentially", "topology", topology)
		topology = TopologySequential
	}

	emit(events.Event{Type: events.Open, Data: events.OpenData{
		RunID:    opts.RunID,
		Workflow: opts.Workflow,
		Topology: topology,
		Steps:    len(steps),
	}})
	emit(events.Event{Type: events.Thinking, Data: events.ThinkingData{
		Text: fmt.Sprintf("Running workflow: %s", opts.Workflow),
	}})
	emit(events.Event{Type: events.Heartbeat})

	serial, parallel := Partition(steps, topology)
	wctx := NewContext()

	ok := true
	for _, s := range serial {
		if ctx.Err() != nil {
			log.Info("run cancelled", "before", s.ID())
			ok = false
			break
		}
		if s.Guard != nil && !s.Guard.Matches(wctx) {
			log.Debug("step skipped", "step", s.ID(), "guard", s.Guard.Key)
			continue
		}
		out, err := o.steps.Execute(ctx, s.Step, wctx.Snapshot(), emit)
		if err != nil {
			ok = false
			break
		}
		if err := wctx.Set(s.ID(), out); err != nil {
			log.Warn("step output dropped", "step", s.ID(), "error", err)
		}
	}

	if ok && len(parallel) > 0 && ctx.Err() == nil {
		o.fanOut(ctx, parallel, wctx, opts.MaxWorkers, emit)
	}

	emit(events.Event{Type: events.Done, Data: events.DoneData{RunID: opts.RunID, OK: ok}})
	emit(events.Event{Type: events.End})
	log.Info("workflow finished", "ok", ok)
}

func (o *Orchestrator) fanOut(ctx context.Context, parallel []Step, wctx *Context, workers int, emit events.Emitter) {
	var eligible []Step
	for _, s := range parallel {
		if s.Guard != nil && !s.Guard.Matches(wctx) {
			continue
		}
		eligible = append(eligible, s)
	}
	if len(eligible) == 0 {
		return
	}

	vars := wctx.Snapshot()
	tasks := make([]taskpool.Task[any], len(eligible))
	for i, s := range eligible {
		tasks[i] = func(ctx context.Context) (any, error) {
			return o.steps.Execute(ctx, s.Step, vars, emit)
		}
	}

	start := time.Now()
	results := taskpool.Run(ctx, tasks, workers)

	outputs := make(map[string]any, len(results))
	for _, r := range results {
		if r.Err == nil {
			outputs[eligible[r.Index].ID()] = r.Value
		}
	}
	emit(events.Event{Type: events.StepEnd, Data: events.StepEndData{
		StepID:    "merge",
		Status:    events.StatusMerged,
		ElapsedMS: time.Since(start).Milliseconds(),
		Outputs:   outputs,
		Failed:    taskpool.Failed(results),
		Total:     len(results),
	}})
}
