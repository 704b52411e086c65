package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/mtzanidakis/orca/internal/agent"
	"github.com/mtzanidakis/orca/internal/config"
	"github.com/mtzanidakis/orca/internal/events"
	"github.com/mtzanidakis/orca/internal/executor"
)

// RunnerConfig wires a Runner to the shared services of the process.
type RunnerConfig struct {
	Tools   executor.Invoker
	Gateway agent.Completer
	Router  executor.ModelRouter
	Pricer  agent.Pricer
	Roster  *agent.Roster
	// Memory, when set, preloads MemoryKey into each agent before the run and
	// receives model results when RecordResults is on.
	Memory        agent.MemoryCaller
	MemoryKey     string
	RecordResults bool
	Stream        bool
	MaxWorkers    int
	Observers     []events.Observer
	Logger        *slog.Logger
}

// Runner starts workflow runs by name. Each run gets a fresh agent team and
// execution context; the catalog and governance settings can be swapped
// between runs.
type Runner struct {
	cfg    RunnerConfig
	logger *slog.Logger

	mu       sync.RWMutex
	catalog  *Catalog
	safeMode bool
	mask     func(string) string
	router   executor.ModelRouter
	roster   *agent.Roster
}

func NewRunner(catalog *Catalog, cfg RunnerConfig) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Roster == nil {
		cfg.Roster = agent.NewRoster(config.AgentsConfig{})
	}
	return &Runner{
		cfg:     cfg,
		logger:  logger,
		catalog: catalog,
		router:  cfg.Router,
		roster:  cfg.Roster,
	}
}

// SetModels replaces the task router and agent roster used by later runs.
func (r *Runner) SetModels(router executor.ModelRouter, roster *agent.Roster) {
	r.mu.Lock()
	r.router = router
	if roster != nil {
		r.roster = roster
	}
	r.mu.Unlock()
}

func (r *Runner) Catalog() *Catalog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.catalog
}

func (r *Runner) SetCatalog(c *Catalog) {
	r.mu.Lock()
	r.catalog = c
	r.mu.Unlock()
}

// SetGovernance updates safe mode and the masking function applied to every
// event of later runs. A nil mask disables masking. Tool sets that support it
// also refuse mutating tools while safe mode is on.
func (r *Runner) SetGovernance(safeMode bool, mask func(string) string) {
	r.mu.Lock()
	r.safeMode = safeMode
	r.mask = mask
	r.mu.Unlock()
	if t, ok := r.cfg.Tools.(interface{ SetSafeMode(bool) }); ok {
		t.SetSafeMode(safeMode)
	}
}

// Run executes the named workflow to completion and returns its run id.
// Extra emitters receive the run's events alongside the configured
// observers. A failing step does not make Run return an error; the outcome
// is reported through the done event.
func (r *Runner) Run(ctx context.Context, name string, extra ...events.Emitter) (string, error) {
	p, err := r.prepare(name, extra)
	if err != nil {
		return "", err
	}
	r.execute(ctx, p)
	return p.run.ID, nil
}

// Start resolves the named workflow and runs it in the background. The
// returned run id is valid as soon as Start returns.
func (r *Runner) Start(ctx context.Context, name string, extra ...events.Emitter) (string, error) {
	p, err := r.prepare(name, extra)
	if err != nil {
		return "", err
	}
	go r.execute(context.WithoutCancel(ctx), p)
	return p.run.ID, nil
}

type preparedRun struct {
	run      events.Run
	steps    []Step
	emit     events.Emitter
	safeMode bool
	router   executor.ModelRouter
	roster   *agent.Roster
}

func (r *Runner) prepare(name string, extra []events.Emitter) (*preparedRun, error) {
	r.mu.RLock()
	catalog, safeMode, mask := r.catalog, r.safeMode, r.mask
	router, roster := r.router, r.roster
	r.mu.RUnlock()

	def, ok := catalog.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, name)
	}
	steps, err := def.Resolve()
	if err != nil {
		return nil, fmt.Errorf("workflow %s: %w", name, err)
	}

	run := events.Run{ID: uuid.NewString(), Workflow: name, Topology: def.TopologyName()}
	emitters := make([]events.Emitter, 0, len(r.cfg.Observers)+len(extra))
	for _, o := range r.cfg.Observers {
		emitters = append(emitters, o.Observe(run))
	}
	emitters = append(emitters, extra...)

	return &preparedRun{
		run:      run,
		steps:    steps,
		emit:     events.Masked(events.Fanout(emitters...), mask),
		safeMode: safeMode,
		router:   router,
		roster:   roster,
	}, nil
}

func (r *Runner) execute(ctx context.Context, p *preparedRun) {
	var teamOpts []agent.Option
	if r.cfg.Pricer != nil {
		teamOpts = append(teamOpts, agent.WithPricer(r.cfg.Pricer))
	}
	team := agent.NewTeam(p.roster, teamOpts...)
	r.preloadMemory(ctx, team, p.steps)

	exec := executor.New(executor.Deps{
		Tools:         r.cfg.Tools,
		Gateway:       r.cfg.Gateway,
		Router:        p.router,
		Team:          team,
		Memory:        r.cfg.Memory,
		RecordResults: r.cfg.RecordResults,
		SafeMode:      p.safeMode,
		Stream:        r.cfg.Stream,
		Logger:        r.logger,
	})

	r.logger.Info("workflow started", "run", p.run.ID, "workflow", p.run.Workflow, "steps", len(p.steps))
	NewOrchestrator(exec, r.logger).Run(ctx, p.steps, Options{
		RunID:      p.run.ID,
		Workflow:   p.run.Workflow,
		Topology:   p.run.Topology,
		MaxWorkers: r.cfg.MaxWorkers,
	}, p.emit)
}

func (r *Runner) preloadMemory(ctx context.Context, team *agent.Team, steps []Step) {
	if r.cfg.Memory == nil || r.cfg.MemoryKey == "" {
		return
	}
	for _, s := range steps {
		if _, ok := s.Step.(executor.ModelStep); !ok {
			continue
		}
		a := team.Get(s.StepMeta().Agent)
		if len(a.Snapshot().Memory) > 0 {
			continue
		}
		if err := a.LoadMemory(ctx, r.cfg.Memory, r.cfg.MemoryKey); err != nil {
			r.logger.Warn("memory preload failed", "agent", a.Name, "error", err)
		}
	}
}
