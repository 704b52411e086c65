package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mtzanidakis/orca/internal/config"
	"github.com/mtzanidakis/orca/internal/events"
	"github.com/mtzanidakis/orca/internal/natsbus"
	"github.com/mtzanidakis/orca/internal/pool"
	"github.com/mtzanidakis/orca/internal/scheduler"
	"github.com/mtzanidakis/orca/internal/store"
	"github.com/mtzanidakis/orca/internal/telemetry"
	"github.com/mtzanidakis/orca/internal/web"
)

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	slog.Info("starting orca", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry.Endpoint, cfg.Telemetry.ServiceName, version, cfg.Telemetry.Insecure)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer shutdownTelemetry(context.Background())

	// SQLite store
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()
	slog.Info("store initialized", "path", cfg.Store.Path)

	observers := []events.Observer{store.NewRecorder(db, nil)}

	// Embedded NATS, or an external one when a URL is configured
	var nc *natsbus.Client
	if cfg.NATS.Enabled {
		if cfg.NATS.URL != "" {
			nc, err = natsbus.Connect(cfg.NATS.URL)
		} else {
			var bus *natsbus.Bus
			bus, err = natsbus.New(cfg.NATS)
			if err == nil {
				defer bus.Close()
				slog.Info("nats started", "url", bus.ClientURL())
				nc, err = natsbus.NewClient(bus)
			}
		}
		if err != nil {
			return fmt.Errorf("init nats: %w", err)
		}
		defer nc.Close()
		observers = append(observers, nc)
	}

	var onHealth func(string, pool.Health)
	if nc != nil {
		onHealth = nc.PublishHealth
	}

	var srv *web.Server
	if cfg.Web.Enabled && nc == nil {
		// Without a bus the web hub observes runs directly.
		observers = append(observers, events.ObserverFunc(func(run events.Run) events.Emitter {
			return srv.Hub().Observe(run)
		}))
	}

	a, err := newApp(cfg, onHealth, observers)
	if err != nil {
		return err
	}
	defer a.Close()
	if cfg.Web.Enabled {
		srv = web.NewServer(a.runner, a.pool, db, nc, cfg.Web, version)
	}

	a.pool.StartHealthLoop(ctx)
	if err := a.pool.WaitForHealth(ctx, cfg.Health.Timeout); err != nil {
		slog.Warn("not all servers healthy at startup", "error", err)
	}

	if nc != nil {
		if _, err := nc.ServeRuns(func(name string) (string, error) {
			return a.runner.Start(ctx, name)
		}); err != nil {
			return fmt.Errorf("serve run requests: %w", err)
		}
	}

	// Scheduler
	sched := scheduler.New(db, a.runner, cfg.Scheduler, nil)
	if err := sched.Sync(cfg.Scheduler.Schedules); err != nil {
		slog.Error("some schedules were not registered", "error", err)
	}
	go sched.Start(ctx)

	// Web API
	if srv != nil {
		go func() {
			if err := srv.Start(ctx); err != nil {
				slog.Error("web server error", "error", err)
			}
		}()
		slog.Info("web server started", "port", cfg.Web.Port)
	}

	// Wait for shutdown, reloading on SIGHUP
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigCh {
		if sig != syscall.SIGHUP {
			slog.Info("shutting down", "signal", sig)
			break
		}
		reload(a, sched)
	}
	cancel()
	return nil
}

func reload(a *app, sched *scheduler.Scheduler) {
	next, err := config.Load()
	if err != nil {
		slog.Error("config reload failed", "error", err)
		return
	}

	d := a.reload(next)
	if d.SchedulesChanged {
		if err := sched.UpdateConfig(next.Scheduler); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("schedule reload", "error", err)
		}
	}
	for _, key := range d.NonReloadable {
		slog.Warn("config change requires restart", "key", key)
	}
	slog.Info("config reloaded")
}
