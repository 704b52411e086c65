package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

type Run struct {
	ID          string     `json:"id"`
	Workflow    string     `json:"workflow"`
	Topology    string     `json:"topology"`
	Status      string     `json:"status"`
	Steps       int        `json:"steps"`
	Failed      int        `json:"failed"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type StepResult struct {
	RunID     string          `json:"run_id"`
	StepID    string          `json:"step_id"`
	Index     int             `json:"index"`
	Status    string          `json:"status"`
	ElapsedMS int64           `json:"elapsed_ms"`
	Error     string          `json:"error,omitempty"`
	Outputs   json.RawMessage `json:"outputs,omitempty"`
}

func scanRun(scanner interface {
	Scan(dest ...any) error
}) (*Run, error) {
	r := &Run{}
	err := scanner.Scan(&r.ID, &r.Workflow, &r.Topology, &r.Status, &r.Steps, &r.Failed, &r.StartedAt, &r.CompletedAt)
	if err != nil {
		return nil, err
	}
	return r, nil
}

const runColumns = `id, workflow, topology, status, steps, failed, started_at, completed_at`

func (s *Store) SaveRun(r *Run) error {
	_, err := s.db.Exec(`
		INSERT INTO workflow_runs (id, workflow, topology, status, steps, failed)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			failed = excluded.failed,
			completed_at = CASE WHEN excluded.status IN ('completed', 'failed') THEN CURRENT_TIMESTAMP ELSE completed_at END`,
		r.ID, r.Workflow, r.Topology, r.Status, r.Steps, r.Failed)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

func (s *Store) FinishRun(id, status string, failed int) error {
	_, err := s.db.Exec(`
		UPDATE workflow_runs
		SET status = ?, failed = ?, completed_at = CURRENT_TIMESTAMP
		WHERE id = ?`, status, failed, id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

func (s *Store) GetRun(id string) (*Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM workflow_runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns the most recent runs first. A limit of zero or less
// returns every run.
func (s *Store) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM workflow_runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

func (s *Store) DeleteRun(id string) error {
	if _, err := s.db.Exec(`DELETE FROM step_results WHERE run_id = ?`, id); err != nil {
		return fmt.Errorf("delete steps: %w", err)
	}
	_, err := s.db.Exec(`DELETE FROM workflow_runs WHERE id = ?`, id)
	return err
}

func (s *Store) SaveStep(r *StepResult) error {
	var outputs *string
	if len(r.Outputs) > 0 {
		o := string(r.Outputs)
		outputs = &o
	}
	_, err := s.db.Exec(`
		INSERT INTO step_results (run_id, step_id, idx, status, elapsed_ms, error, outputs)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, step_id) DO UPDATE SET
			status = excluded.status,
			elapsed_ms = excluded.elapsed_ms,
			error = excluded.error,
			outputs = excluded.outputs`,
		r.RunID, r.StepID, r.Index, r.Status, r.ElapsedMS, r.Error, outputs)
	if err != nil {
		return fmt.Errorf("save step: %w", err)
	}
	return nil
}

func (s *Store) ListSteps(runID string) ([]StepResult, error) {
	rows, err := s.db.Query(`
		SELECT run_id, step_id, idx, status, elapsed_ms, error, outputs
		FROM step_results WHERE run_id = ? ORDER BY created_at, rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	var steps []StepResult
	for rows.Next() {
		var (
			r               StepResult
			errMsg, outputs *string
		)
		if err := rows.Scan(&r.RunID, &r.StepID, &r.Index, &r.Status, &r.ElapsedMS, &errMsg, &outputs); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		if errMsg != nil {
			r.Error = *errMsg
		}
		if outputs != nil {
			r.Outputs = json.RawMessage(*outputs)
		}
		steps = append(steps, r)
	}
	return steps, rows.Err()
}
