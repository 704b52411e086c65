package store

import (
	"encoding/json"
	"log/slog"

	"github.com/mtzanidakis/orca/internal/events"
)

// Recorder persists runs as their events arrive. It expects the events of a
// run to be delivered one at a time. A run is marked failed only when its
// serial sequence stopped; failed fan-out steps are counted but tolerated.
type Recorder struct {
	store  *Store
	logger *slog.Logger
}

func NewRecorder(s *Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: s, logger: logger}
}

func (r *Recorder) Observe(run events.Run) events.Emitter {
	errs := map[string]string{}
	log := r.logger.With("run", run.ID)

	return func(ev events.Event) {
		var err error
		switch d := ev.Data.(type) {
		case events.OpenData:
			err = r.store.SaveRun(&Run{
				ID:       run.ID,
				Workflow: run.Workflow,
				Topology: d.Topology,
				Status:   RunRunning,
				Steps:    d.Steps,
			})
		case events.ErrorData:
			errs[d.StepID] = d.Message
		case events.StepEndData:
			res := &StepResult{
				RunID:     run.ID,
				StepID:    d.StepID,
				Index:     d.Index,
				Status:    d.Status,
				ElapsedMS: d.ElapsedMS,
				Error:     errs[d.StepID],
			}
			if d.Outputs != nil {
				res.Outputs, _ = json.Marshal(d.Outputs)
			}
			err = r.store.SaveStep(res)
		case events.DoneData:
			status := RunCompleted
			if !d.OK {
				status = RunFailed
			}
			err = r.store.FinishRun(run.ID, status, r.failedSteps(run.ID))
		}
		if err != nil {
			log.Warn("record run event", "type", ev.Type, "error", err)
		}
	}
}

func (r *Recorder) failedSteps(runID string) int {
	steps, err := r.store.ListSteps(runID)
	if err != nil {
		return 0
	}
	n := 0
	for _, s := range steps {
		if s.Status == events.StatusFailed {
			n++
		}
	}
	return n
}
