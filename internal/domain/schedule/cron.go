// Package schedule defines scheduler triggers, the daily run quota and the
// state snapshot the scheduler reports.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Cron is a minimal time-of-day schedule, optionally pinned to a weekday.
type Cron struct {
	Hour    int
	Minute  int
	Weekday *time.Weekday // nil = daily
}

// ParseCron parses a simple schedule expression.
// Supported formats:
//   - "daily"             → every day at 00:00
//   - "weekly"            → every Monday at 00:00
//   - "HH:MM"             → every day at HH:MM
//   - "daily:HH:MM"       → every day at HH:MM
//   - "weekly:Day"        → every Day at 00:00 (e.g. "weekly:Fri")
//   - "weekly:Day:HH:MM"  → every Day at HH:MM
//
// Times are wall-clock times in the location passed to NextAfter.
func ParseCron(expr string) (Cron, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Cron{}, fmt.Errorf("empty schedule expression")
	}

	switch {
	case expr == "daily":
		return Cron{}, nil

	case expr == "weekly":
		mon := time.Monday
		return Cron{Weekday: &mon}, nil

	case strings.HasPrefix(expr, "daily:"):
		h, m, err := parseHHMM(strings.TrimPrefix(expr, "daily:"))
		if err != nil {
			return Cron{}, err
		}
		return Cron{Hour: h, Minute: m}, nil

	case strings.HasPrefix(expr, "weekly:"):
		parts := strings.SplitN(strings.TrimPrefix(expr, "weekly:"), ":", 2)
		day, err := parseWeekday(parts[0])
		if err != nil {
			return Cron{}, err
		}
		h, m := 0, 0
		if len(parts) == 2 {
			h, m, err = parseHHMM(parts[1])
			if err != nil {
				return Cron{}, err
			}
		}
		return Cron{Hour: h, Minute: m, Weekday: &day}, nil

	default:
		h, m, err := parseHHMM(expr)
		if err != nil {
			return Cron{}, fmt.Errorf("unrecognized schedule expression: %q", expr)
		}
		return Cron{Hour: h, Minute: m}, nil
	}
}

// NextAfter returns the next occurrence strictly after t, evaluated on the
// wall clock of loc. A nil loc means UTC.
func (c Cron) NextAfter(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)

	for i := range 8 {
		candidate := time.Date(t.Year(), t.Month(), t.Day()+i, c.Hour, c.Minute, 0, 0, loc)
		if !candidate.After(t) {
			continue
		}
		if c.Weekday == nil || candidate.Weekday() == *c.Weekday {
			return candidate
		}
	}
	return time.Date(t.Year(), t.Month(), t.Day()+7, c.Hour, c.Minute, 0, 0, loc)
}

// String renders the schedule in the format ParseCron accepts.
func (c Cron) String() string {
	if c.Weekday == nil {
		return fmt.Sprintf("daily:%02d:%02d", c.Hour, c.Minute)
	}
	return fmt.Sprintf("weekly:%s:%02d:%02d", c.Weekday.String()[:3], c.Hour, c.Minute)
}

func parseHHMM(s string) (hour, minute int, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour %q", parts[0])
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute %q", parts[1])
	}
	return h, m, nil
}

func parseWeekday(s string) (time.Weekday, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sun", "sunday":
		return time.Sunday, nil
	case "mon", "monday":
		return time.Monday, nil
	case "tue", "tuesday":
		return time.Tuesday, nil
	case "wed", "wednesday":
		return time.Wednesday, nil
	case "thu", "thursday":
		return time.Thursday, nil
	case "fri", "friday":
		return time.Friday, nil
	case "sat", "saturday":
		return time.Saturday, nil
	default:
		return 0, fmt.Errorf("unknown weekday %q", s)
	}
}
