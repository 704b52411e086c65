// Package scheduler starts workflows on the schedules listed in the
// configuration.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mtzanidakis/orca/internal/config"
	"github.com/mtzanidakis/orca/internal/events"
	"github.com/mtzanidakis/orca/internal/schedule"
	"github.com/mtzanidakis/orca/internal/store"
)

// Runner starts a workflow by name. *workflow.Runner satisfies it.
type Runner interface {
	Run(ctx context.Context, name string, extra ...events.Emitter) (string, error)
}

type Scheduler struct {
	store  *store.Store
	runner Runner
	logger *slog.Logger
	now    func() time.Time

	mu           sync.Mutex
	pollInterval time.Duration
	reloadCh     chan struct{}
}

func New(s *store.Store, r Runner, cfg config.SchedulerConfig, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:        s,
		runner:       r,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
		pollInterval: cfg.PollInterval,
		reloadCh:     make(chan struct{}, 1),
	}
}

// Sync makes the stored schedules match schedules. Entries whose expression
// and workflow are unchanged keep their next run time.
func (s *Scheduler) Sync(schedules []config.ScheduleConfig) error {
	now := s.now()
	names := make([]string, 0, len(schedules))
	var errs []error

	for _, sc := range schedules {
		parsed, err := schedule.Parse(sc.Schedule)
		if err != nil {
			errs = append(errs, fmt.Errorf("schedule %s: %w", sc.Name, err))
			continue
		}
		names = append(names, sc.Name)

		existing, err := s.store.GetSchedule(sc.Name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if existing != nil && existing.Schedule == sc.Schedule && existing.Workflow == sc.Workflow {
			continue
		}

		row := &store.Schedule{Name: sc.Name, Workflow: sc.Workflow, Schedule: sc.Schedule, Status: "active"}
		if next, ok := parsed.Next(now); ok {
			row.NextRunAt = &next
		} else {
			row.Status = "completed"
		}
		if err := s.store.SaveSchedule(row); err != nil {
			errs = append(errs, err)
			continue
		}
		s.logger.Info("schedule registered", "name", sc.Name, "workflow", sc.Workflow, "when", parsed.Describe())
	}

	if err := s.store.DeleteSchedulesNotIn(names); err != nil {
		errs = append(errs, fmt.Errorf("prune schedules: %w", err))
	}
	return errors.Join(errs...)
}

// UpdateConfig applies a reloaded scheduler configuration and resets the
// poll ticker.
func (s *Scheduler) UpdateConfig(cfg config.SchedulerConfig) error {
	s.mu.Lock()
	s.pollInterval = cfg.PollInterval
	s.mu.Unlock()

	err := s.Sync(cfg.Schedules)
	select {
	case s.reloadCh <- struct{}{}:
	default:
	}
	return err
}

func (s *Scheduler) interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pollInterval <= 0 {
		s.pollInterval = 30 * time.Second
	}
	return s.pollInterval
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval())
	defer ticker.Stop()

	s.logger.Info("scheduler started", "poll_interval", s.interval())

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-s.reloadCh:
			ticker.Reset(s.interval())
			s.logger.Info("scheduler config reloaded", "poll_interval", s.interval())
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *Scheduler) poll(ctx context.Context) {
	due, err := s.store.GetDueSchedules(s.now())
	if err != nil {
		s.logger.Error("failed to get due schedules", "error", err)
		return
	}

	for _, sc := range due {
		if ctx.Err() != nil {
			return
		}
		s.execute(ctx, sc)
	}
}

func (s *Scheduler) execute(ctx context.Context, sc store.Schedule) {
	s.logger.Info("running scheduled workflow", "name", sc.Name, "workflow", sc.Workflow)

	ok := true
	runID, err := s.runner.Run(ctx, sc.Workflow, func(ev events.Event) {
		if d, isDone := ev.Data.(events.DoneData); isDone {
			ok = d.OK
		}
	})

	var lastStatus, lastError string
	switch {
	case err != nil:
		lastStatus = "error"
		lastError = err.Error()
		s.logger.Error("scheduled workflow failed to start", "name", sc.Name, "error", err)
	case !ok:
		lastStatus = "failed"
	default:
		lastStatus = "success"
	}

	nextRun := schedule.CalculateNextRun(sc.Schedule, s.now())
	if err := s.store.UpdateScheduleRun(sc.Name, lastStatus, runID, lastError, nextRun); err != nil {
		s.logger.Error("failed to update schedule run", "name", sc.Name, "error", err)
	}

	if nextRun == nil {
		s.logger.Info("no next run, marking schedule as completed", "name", sc.Name)
		if err := s.store.UpdateScheduleStatus(sc.Name, "completed"); err != nil {
			s.logger.Error("failed to complete schedule", "name", sc.Name, "error", err)
		}
	}
}
