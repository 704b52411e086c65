// Package schedule parses the schedule expressions used to trigger workflows.
//
// An expression is one of:
//
//	0 9 * * 1-5        a cron expression, including @hourly style macros
//	@every 15m         a fixed interval
//	@at 2026-01-02T15:04:05Z
//	                   a single run at an RFC 3339 time
package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

const (
	KindCron     = "cron"
	KindInterval = "interval"
	KindOnce     = "once"
)

type Schedule struct {
	Kind     string
	CronExpr string
	Interval time.Duration
	At       time.Time
}

func Parse(raw string) (Schedule, error) {
	raw = strings.TrimSpace(raw)

	switch {
	case strings.HasPrefix(raw, "@every "):
		d, err := time.ParseDuration(strings.TrimSpace(strings.TrimPrefix(raw, "@every ")))
		if err != nil {
			return Schedule{}, fmt.Errorf("invalid interval: %w", err)
		}
		if d <= 0 {
			return Schedule{}, fmt.Errorf("interval must be positive")
		}
		return Schedule{Kind: KindInterval, Interval: d}, nil
	case strings.HasPrefix(raw, "@at "):
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(strings.TrimPrefix(raw, "@at ")))
		if err != nil {
			return Schedule{}, fmt.Errorf("invalid time: %w", err)
		}
		return Schedule{Kind: KindOnce, At: t}, nil
	}

	if !gronx.New().IsValid(raw) {
		return Schedule{}, fmt.Errorf("invalid schedule: not an interval, time or cron expression: %s", raw)
	}
	return Schedule{Kind: KindCron, CronExpr: raw}, nil
}

// Next returns the first run strictly after after. The second result is
// false once a one-off schedule has passed.
func (s Schedule) Next(after time.Time) (time.Time, bool) {
	switch s.Kind {
	case KindCron:
		next, err := gronx.NextTickAfter(s.CronExpr, after, false)
		if err != nil {
			return time.Time{}, false
		}
		return next, true
	case KindInterval:
		return after.Add(s.Interval), true
	case KindOnce:
		if s.At.After(after) {
			return s.At, true
		}
	}
	return time.Time{}, false
}

// CalculateNextRun parses raw and returns its next run after now, or nil when
// raw is invalid or will not run again.
func CalculateNextRun(raw string, now time.Time) *time.Time {
	s, err := Parse(raw)
	if err != nil {
		return nil
	}
	next, ok := s.Next(now)
	if !ok {
		return nil
	}
	return &next
}

// Describe returns a human-readable description of the schedule.
func (s Schedule) Describe() string {
	switch s.Kind {
	case KindCron:
		return s.CronExpr
	case KindInterval:
		d := s.Interval
		switch {
		case d%time.Hour == 0:
			h := int(d.Hours())
			if h == 1 {
				return "Every hour"
			}
			return fmt.Sprintf("Every %d hours", h)
		case d%time.Minute == 0:
			m := int(d.Minutes())
			if m == 1 {
				return "Every minute"
			}
			return fmt.Sprintf("Every %d minutes", m)
		default:
			return "Every " + d.String()
		}
	case KindOnce:
		return "Once at " + s.At.Format("Jan 2 15:04")
	}
	return ""
}
