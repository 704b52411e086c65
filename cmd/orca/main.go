package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/mtzanidakis/orca/internal/config"
	"github.com/mtzanidakis/orca/internal/events"
	"github.com/mtzanidakis/orca/internal/natsbus"
	"github.com/mtzanidakis/orca/internal/pool"
	"github.com/mtzanidakis/orca/internal/workflow"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "version":
		fmt.Printf("orca %s\n", version)
		return
	case "serve":
		err = runServe()
	case "run":
		err = runWorkflow(os.Args[2:])
	case "trigger":
		err = runTrigger(os.Args[2:])
	case "workflows":
		err = runList()
	case "health":
		err = runHealth()
	default:
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		slog.Error(os.Args[1]+" failed", "error", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: orca <command>

Commands:
  serve              Start the orchestrator with scheduler, event bus and web API
  run <workflow>     Run a workflow locally and stream its events to stdout
  trigger <workflow> Ask a running orchestrator to start a workflow
  workflows          List configured workflows
  health             Probe every configured server once
  version            Print version
`)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	setupLogger(cfg.Log)
	return cfg, nil
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

func runWorkflow(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: orca run <workflow>")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, nil, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	ok := true
	_, err = a.runner.Run(ctx, args[0], func(ev events.Event) {
		if d, isDone := ev.Data.(events.DoneData); isDone {
			ok = d.OK
		}
		frame, err := events.EncodeSSE(ev)
		if err != nil {
			return
		}
		os.Stdout.Write(frame)
	})
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("workflow did not complete")
	}
	return nil
}

func runTrigger(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: orca trigger <workflow>")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	url := cfg.NATS.URL
	if url == "" {
		url = fmt.Sprintf("nats://127.0.0.1:%d", cfg.NATS.Port)
	}
	client, err := natsbus.Connect(url)
	if err != nil {
		return err
	}
	defer client.Close()

	runID, err := client.RequestRun(args[0], 10*time.Second)
	if err != nil {
		return err
	}
	fmt.Println(runID)
	return nil
}

func runList() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cat, err := workflow.Load(cfg.Workflows.Path)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTOPOLOGY\tSTEPS\tDESCRIPTION")
	for _, s := range cat.Summary() {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", s.Name, s.Topology, s.Steps, s.Description)
	}
	return tw.Flush()
}

func runHealth() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	p, err := pool.New(cfg.Servers,
		pool.WithHealthConfig(cfg.Health),
		pool.WithVersion(version),
	)
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Health.Timeout+time.Second)
	defer cancel()
	p.CheckHealth(ctx)

	report := p.Snapshot()
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	if report.Status != pool.StatusHealthy {
		return fmt.Errorf("services %s", report.Status)
	}
	return nil
}
