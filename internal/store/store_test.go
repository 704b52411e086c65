package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/mtzanidakis/orca/internal/config"
	"github.com/mtzanidakis/orca/internal/events"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := New(config.StoreConfig{Path: filepath.Join(dir, "test.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunCRUD(t *testing.T) {
	s := newTestStore(t)

	r := &Run{ID: "r1", Workflow: "deploy", Topology: "sequential", Status: RunRunning, Steps: 3}
	if err := s.SaveRun(r); err != nil {
		t.Fatalf("save run: %v", err)
	}

	got, err := s.GetRun("r1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got == nil {
		t.Fatal("expected run, got nil")
	}
	if got.Workflow != "deploy" || got.Steps != 3 || got.Status != RunRunning {
		t.Errorf("unexpected run %+v", got)
	}
	if got.CompletedAt != nil {
		t.Error("expected running run to have no completion time")
	}

	if err := s.FinishRun("r1", RunFailed, 1); err != nil {
		t.Fatalf("finish run: %v", err)
	}
	got, _ = s.GetRun("r1")
	if got.Status != RunFailed || got.Failed != 1 {
		t.Errorf("expected failed run with 1 failure, got %+v", got)
	}
	if got.CompletedAt == nil {
		t.Error("expected completion time")
	}

	// Not found
	got, err = s.GetRun("nonexistent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Error("expected nil for nonexistent run")
	}

	_ = s.SaveRun(&Run{ID: "r2", Workflow: "review", Topology: "manager-n", Status: RunRunning})
	runs, err := s.ListRuns(0)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != "r2" {
		t.Errorf("expected newest run first, got %s", runs[0].ID)
	}
	runs, _ = s.ListRuns(1)
	if len(runs) != 1 {
		t.Errorf("expected limit to apply, got %d", len(runs))
	}

	if err := s.DeleteRun("r1"); err != nil {
		t.Fatalf("delete run: %v", err)
	}
	got, _ = s.GetRun("r1")
	if got != nil {
		t.Error("expected run to be deleted")
	}
}

func TestStepResults(t *testing.T) {
	s := newTestStore(t)
	_ = s.SaveRun(&Run{ID: "r1", Workflow: "w", Topology: "sequential", Status: RunRunning})

	if err := s.SaveStep(&StepResult{RunID: "r1", StepID: "a", Index: 1, Status: "ok", ElapsedMS: 12}); err != nil {
		t.Fatalf("save step: %v", err)
	}
	if err := s.SaveStep(&StepResult{RunID: "r1", StepID: "merge", Status: "merged", Outputs: []byte(`{"p":"x"}`)}); err != nil {
		t.Fatalf("save step: %v", err)
	}

	steps, err := s.ListSteps("r1")
	if err != nil {
		t.Fatalf("list steps: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(steps))
	}
	if steps[0].StepID != "a" || steps[0].ElapsedMS != 12 {
		t.Errorf("unexpected first step %+v", steps[0])
	}
	if string(steps[1].Outputs) != `{"p":"x"}` {
		t.Errorf("unexpected merge outputs %s", steps[1].Outputs)
	}
}

func TestRecorder(t *testing.T) {
	s := newTestStore(t)
	rec := NewRecorder(s, nil)

	var _ events.Observer = rec
	emit := rec.Observe(events.Run{ID: "r1", Workflow: "deploy", Topology: "planner-worker"})
	emit(events.Event{Type: events.Open, Data: events.OpenData{RunID: "r1", Topology: "planner-worker", Steps: 3}})
	emit(events.Event{Type: events.StepStart, Data: events.StepStartData{StepID: "a", Index: 1}})
	emit(events.Event{Type: events.StepEnd, Data: events.StepEndData{StepID: "a", Index: 1, Status: events.StatusOK, ElapsedMS: 5}})
	emit(events.Event{Type: events.Error, Data: events.ErrorData{StepID: "p", Index: 2, Message: "boom"}})
	emit(events.Event{Type: events.StepEnd, Data: events.StepEndData{StepID: "p", Index: 2, Status: events.StatusFailed}})
	emit(events.Event{Type: events.StepEnd, Data: events.StepEndData{
		StepID: "merge", Status: events.StatusMerged, Outputs: map[string]any{"q": "done"}, Failed: 1, Total: 2,
	}})
	emit(events.Event{Type: events.Done, Data: events.DoneData{RunID: "r1", OK: true}})
	emit(events.Event{Type: events.End})

	run, err := s.GetRun("r1")
	if err != nil || run == nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != RunCompleted {
		t.Errorf("expected completed, got %s", run.Status)
	}
	if run.Failed != 1 {
		t.Errorf("expected 1 failed step, got %d", run.Failed)
	}
	if run.Topology != "planner-worker" || run.Steps != 3 {
		t.Errorf("unexpected run %+v", run)
	}

	steps, _ := s.ListSteps("r1")
	if len(steps) != 3 {
		t.Fatalf("expected 3 step rows, got %d", len(steps))
	}
	if steps[1].Error != "boom" {
		t.Errorf("expected error to be recorded, got %q", steps[1].Error)
	}
	if string(steps[2].Outputs) != `{"q":"done"}` {
		t.Errorf("unexpected merge outputs %s", steps[2].Outputs)
	}
}

func TestRecorderFailedRun(t *testing.T) {
	s := newTestStore(t)
	emit := NewRecorder(s, nil).Observe(events.Run{ID: "r1", Workflow: "deploy"})
	emit(events.Event{Type: events.Open, Data: events.OpenData{Topology: "sequential", Steps: 1}})
	emit(events.Event{Type: events.StepEnd, Data: events.StepEndData{StepID: "a", Index: 1, Status: events.StatusFailed}})
	emit(events.Event{Type: events.Done, Data: events.DoneData{OK: false}})

	run, _ := s.GetRun("r1")
	if run == nil || run.Status != RunFailed {
		t.Errorf("expected failed run, got %+v", run)
	}
}

func TestScheduleCRUD(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	if err := s.SaveSchedule(&Schedule{Name: "nightly", Workflow: "deploy", Schedule: "0 2 * * *", NextRunAt: &past}); err != nil {
		t.Fatalf("save schedule: %v", err)
	}
	if err := s.SaveSchedule(&Schedule{Name: "hourly", Workflow: "review", Schedule: "@hourly", NextRunAt: &future}); err != nil {
		t.Fatalf("save schedule: %v", err)
	}

	due, err := s.GetDueSchedules(now)
	if err != nil {
		t.Fatalf("get due: %v", err)
	}
	if len(due) != 1 || due[0].Name != "nightly" {
		t.Fatalf("expected nightly to be due, got %+v", due)
	}
	if due[0].Status != "active" {
		t.Errorf("expected default status active, got %s", due[0].Status)
	}

	if err := s.UpdateScheduleRun("nightly", "success", "run-1", "", &future); err != nil {
		t.Fatalf("update schedule run: %v", err)
	}
	got, _ := s.GetSchedule("nightly")
	if got.LastRunID != "run-1" || got.LastStatus != "success" || got.LastRunAt == nil {
		t.Errorf("unexpected schedule %+v", got)
	}

	if err := s.UpdateScheduleStatus("hourly", "paused"); err != nil {
		t.Fatalf("update status: %v", err)
	}
	due, _ = s.GetDueSchedules(future.Add(time.Minute))
	if len(due) != 1 || due[0].Name != "nightly" {
		t.Errorf("expected paused schedule to be skipped, got %+v", due)
	}

	if err := s.DeleteSchedulesNotIn([]string{"nightly"}); err != nil {
		t.Fatalf("delete not in: %v", err)
	}
	all, _ := s.ListSchedules()
	if len(all) != 1 || all[0].Name != "nightly" {
		t.Errorf("expected only nightly, got %+v", all)
	}
	if err := s.DeleteSchedulesNotIn(nil); err != nil {
		t.Fatalf("delete all: %v", err)
	}
	all, _ = s.ListSchedules()
	if len(all) != 0 {
		t.Errorf("expected no schedules, got %d", len(all))
	}
}
