package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

type Schedule struct {
	Name       string     `json:"name"`
	Workflow   string     `json:"workflow"`
	Schedule   string     `json:"schedule"`
	Status     string     `json:"status"`
	NextRunAt  *time.Time `json:"next_run_at,omitempty"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	LastStatus string     `json:"last_status,omitempty"`
	LastRunID  string     `json:"last_run_id,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
}

func scanSchedule(scanner interface {
	Scan(dest ...any) error
}) (*Schedule, error) {
	sc := &Schedule{}
	var lastStatus, lastRunID, lastError *string
	err := scanner.Scan(&sc.Name, &sc.Workflow, &sc.Schedule, &sc.Status,
		&sc.NextRunAt, &sc.LastRunAt, &lastStatus, &lastRunID, &lastError)
	if err != nil {
		return nil, err
	}
	if lastStatus != nil {
		sc.LastStatus = *lastStatus
	}
	if lastRunID != nil {
		sc.LastRunID = *lastRunID
	}
	if lastError != nil {
		sc.LastError = *lastError
	}
	return sc, nil
}

const scheduleColumns = `name, workflow, schedule, status, next_run_at, last_run_at, last_status, last_run_id, last_error`

// SaveSchedule inserts or updates a schedule definition. Run history is kept
// across updates.
func (s *Store) SaveSchedule(sc *Schedule) error {
	status := sc.Status
	if status == "" {
		status = "active"
	}
	_, err := s.db.Exec(`
		INSERT INTO schedules (name, workflow, schedule, status, next_run_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			workflow = excluded.workflow,
			schedule = excluded.schedule,
			status = excluded.status,
			next_run_at = excluded.next_run_at`,
		sc.Name, sc.Workflow, sc.Schedule, status, sc.NextRunAt)
	if err != nil {
		return fmt.Errorf("save schedule: %w", err)
	}
	return nil
}

func (s *Store) GetSchedule(name string) (*Schedule, error) {
	row := s.db.QueryRow(`SELECT `+scheduleColumns+` FROM schedules WHERE name = ?`, name)
	sc, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return sc, nil
}

func (s *Store) ListSchedules() ([]Schedule, error) {
	return s.querySchedules(`SELECT ` + scheduleColumns + ` FROM schedules ORDER BY name`)
}

func (s *Store) GetDueSchedules(now time.Time) ([]Schedule, error) {
	return s.querySchedules(`
		SELECT `+scheduleColumns+` FROM schedules
		WHERE status = 'active' AND next_run_at <= ?
		ORDER BY next_run_at`, now)
}

func (s *Store) querySchedules(query string, args ...any) ([]Schedule, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query schedules: %w", err)
	}
	defer rows.Close()

	var out []Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		out = append(out, *sc)
	}
	return out, rows.Err()
}

func (s *Store) UpdateScheduleRun(name, lastStatus, runID, lastError string, nextRunAt *time.Time) error {
	_, err := s.db.Exec(`
		UPDATE schedules
		SET last_run_at = CURRENT_TIMESTAMP, last_status = ?, last_run_id = ?, last_error = ?, next_run_at = ?
		WHERE name = ?`, lastStatus, runID, lastError, nextRunAt, name)
	return err
}

func (s *Store) UpdateScheduleStatus(name, status string) error {
	_, err := s.db.Exec(`UPDATE schedules SET status = ? WHERE name = ?`, status, name)
	return err
}

// DeleteSchedulesNotIn removes every schedule whose name is not in keep.
func (s *Store) DeleteSchedulesNotIn(keep []string) error {
	if len(keep) == 0 {
		_, err := s.db.Exec(`DELETE FROM schedules`)
		return err
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keep)), ",")
	args := make([]any, len(keep))
	for i, k := range keep {
		args[i] = k
	}
	_, err := s.db.Exec(`DELETE FROM schedules WHERE name NOT IN (`+placeholders+`)`, args...)
	return err
}
