// Package schedule parses and evaluates the schedule format stored with
// scheduled tasks: a JSON object with a kind of "cron", "interval", or
// "once". Plain cron expressions and @every durations are accepted as
// shorthand and normalized to the JSON form.
package schedule

import (
	"encoding/json"
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
	Kind       string `json:"kind"`
	CronExpr   string `json:"cron_expr,omitempty"`
	IntervalMs int64  `json:"interval_ms,omitempty"`
	AtMs       int64  `json:"at_ms,omitempty"`
}

func Parse(raw string) (*Schedule, error) {
	var s Schedule
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("parse schedule: %w", err)
	}
	if s.Kind == "" {
		return nil, fmt.Errorf("parse schedule: missing kind")
	}
	return &s, nil
}

// Next returns the next run time after now, or nil when the schedule will
// never fire again (a "once" whose time has passed, or an invalid entry).
func (s *Schedule) Next(now time.Time) *time.Time {
	var next time.Time

	switch s.Kind {
	case KindCron:
		t, err := gronx.NextTickAfter(s.CronExpr, now, false)
		if err != nil {
			return nil
		}
		next = t
	case KindInterval:
		if s.IntervalMs <= 0 {
			return nil
		}
		next = now.Add(time.Duration(s.IntervalMs) * time.Millisecond)
	case KindOnce:
		t := time.UnixMilli(s.AtMs)
		if !t.After(now) {
			return nil
		}
		next = t
	default:
		return nil
	}

	return &next
}

// NextRun evaluates a stored schedule string against the current time.
func NextRun(raw string) *time.Time {
	s, err := Parse(raw)
	if err != nil {
		return nil
	}
	return s.Next(time.Now())
}

// Normalize accepts the JSON form, a plain cron expression, or an
// "@every <duration>" shorthand, and returns the canonical JSON form.
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)

	var s Schedule
	if err := json.Unmarshal([]byte(raw), &s); err == nil && s.Kind != "" {
		switch s.Kind {
		case KindCron:
			if !gronx.New().IsValid(s.CronExpr) {
				return "", fmt.Errorf("invalid cron expression: %s", s.CronExpr)
			}
		case KindInterval:
			if s.IntervalMs <= 0 {
				return "", fmt.Errorf("interval_ms must be positive")
			}
		case KindOnce:
			if s.AtMs <= 0 {
				return "", fmt.Errorf("at_ms must be positive")
			}
		default:
			return "", fmt.Errorf("unknown schedule kind: %s", s.Kind)
		}
		return raw, nil
	}

	if rest, ok := strings.CutPrefix(raw, "@every "); ok {
		d, err := time.ParseDuration(strings.TrimSpace(rest))
		if err != nil || d <= 0 {
			return "", fmt.Errorf("invalid @every duration: %s", rest)
		}
		return marshal(Schedule{Kind: KindInterval, IntervalMs: d.Milliseconds()})
	}

	if !gronx.New().IsValid(raw) {
		return "", fmt.Errorf("invalid schedule: not valid JSON, cron expression, or @every duration: %s", raw)
	}
	return marshal(Schedule{Kind: KindCron, CronExpr: raw})
}

// Describe renders a schedule string for humans; invalid input is returned
// as-is.
func Describe(raw string) string {
	s, err := Parse(raw)
	if err != nil {
		return raw
	}

	switch s.Kind {
	case KindCron:
		return "cron " + s.CronExpr
	case KindInterval:
		d := time.Duration(s.IntervalMs) * time.Millisecond
		return "every " + d.String()
	case KindOnce:
		return "once at " + time.UnixMilli(s.AtMs).Format("Jan 2 15:04")
	default:
		return raw
	}
}

func marshal(s Schedule) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
