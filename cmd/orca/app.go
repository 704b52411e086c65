package main

import (
	"fmt"
	"log/slog"

	"github.com/mtzanidakis/orca/internal/agent"
	"github.com/mtzanidakis/orca/internal/config"
	"github.com/mtzanidakis/orca/internal/events"
	"github.com/mtzanidakis/orca/internal/gateway"
	"github.com/mtzanidakis/orca/internal/pii"
	"github.com/mtzanidakis/orca/internal/pool"
	"github.com/mtzanidakis/orca/internal/tools"
	"github.com/mtzanidakis/orca/internal/workflow"
)

// app holds the components shared by every command that runs workflows.
type app struct {
	cfg    *config.Config
	pool   *pool.Pool
	tools  *tools.Registry
	runner *workflow.Runner
}

// newApp wires the client pool, tool registry, model gateway and workflow
// runner. onHealth, when set, receives health status changes; observers
// receive every run's events.
func newApp(cfg *config.Config, onHealth func(string, pool.Health), observers []events.Observer) (*app, error) {
	opts := []pool.Option{
		pool.WithHealthConfig(cfg.Health),
		pool.WithRestrictEndpoints(cfg.Governance.RestrictEndpoints),
		pool.WithVersion(version),
	}
	if onHealth != nil {
		opts = append(opts, pool.WithHealthChangeHook(onHealth))
	}
	p, err := pool.New(cfg.Servers, opts...)
	if err != nil {
		return nil, fmt.Errorf("init client pool: %w", err)
	}

	reg := tools.NewRegistry()
	if err := tools.RegisterBuiltins(reg, p); err != nil {
		p.Close()
		return nil, fmt.Errorf("register tools: %w", err)
	}

	cat, err := workflow.Load(cfg.Workflows.Path)
	if err != nil {
		p.Close()
		return nil, err
	}
	slog.Info("workflows loaded", "path", cfg.Workflows.Path, "count", len(cat.Names()))

	gw := gateway.New(cfg.Gateway)
	router := gateway.NewRouter(cfg.Gateway)

	runner := workflow.NewRunner(cat, workflow.RunnerConfig{
		Tools:         reg,
		Gateway:       gw,
		Router:        router,
		Pricer:        router,
		Roster:        agent.NewRoster(cfg.Agents),
		Memory:        p,
		MemoryKey:     cfg.Agents.MemoryKey,
		RecordResults: cfg.Agents.RecordResults,
		Stream:        cfg.Gateway.Stream,
		MaxWorkers:    cfg.Workflows.MaxWorkers,
		Observers:     observers,
	})
	runner.SetGovernance(cfg.Governance.SafeMode, pii.New(cfg.Governance.PIIMask).Func())

	return &app{cfg: cfg, pool: p, tools: reg, runner: runner}, nil
}

// reload applies the reloadable parts of next and returns the diff. The
// workflow file is always re-read since it may change without the config.
func (a *app) reload(next *config.Config) config.ConfigDiff {
	d := config.Diff(a.cfg, next)

	cat, err := workflow.Load(next.Workflows.Path)
	if err != nil {
		slog.Error("reload workflows", "error", err)
	} else {
		a.runner.SetCatalog(cat)
		slog.Info("workflows reloaded", "count", len(cat.Names()))
	}
	if d.GovernanceChanged {
		a.runner.SetGovernance(next.Governance.SafeMode, pii.New(next.Governance.PIIMask).Func())
		slog.Info("governance updated", "safe_mode", next.Governance.SafeMode, "pii_mask", next.Governance.PIIMask)
	}
	if d.AgentsChanged || d.RoutingChanged {
		a.runner.SetModels(gateway.NewRouter(next.Gateway), agent.NewRoster(next.Agents))
		slog.Info("agents and routing updated")
	}

	a.cfg = next
	return d
}

func (a *app) Close() error {
	return a.pool.Close()
}
