package schedule

import (
	"fmt"
	"time"
)

// Trigger names used by the scheduler.
const (
	TriggerBuzzCheck     = "buzz_check"
	TriggerDailyPipeline = "daily_pipeline"
	TriggerWeeklyReport  = "weekly_report"
)

// Kind distinguishes interval triggers from wall-clock triggers.
type Kind string

const (
	KindInterval Kind = "interval"
	KindCron     Kind = "cron"
)

// Trigger describes when a job fires.
type Trigger struct {
	Name  string        `json:"name"`
	Kind  Kind          `json:"kind"`
	Every time.Duration `json:"every,omitempty"`
	At    Cron          `json:"-"`
}

// Interval builds a trigger firing every d.
func Interval(name string, d time.Duration) (Trigger, error) {
	if d <= 0 {
		return Trigger{}, fmt.Errorf("trigger %s: interval must be positive", name)
	}
	return Trigger{Name: name, Kind: KindInterval, Every: d}, nil
}

// At builds a wall-clock trigger from a schedule expression.
func At(name, expr string) (Trigger, error) {
	c, err := ParseCron(expr)
	if err != nil {
		return Trigger{}, fmt.Errorf("trigger %s: %w", name, err)
	}
	return Trigger{Name: name, Kind: KindCron, At: c}, nil
}

// Next returns the first fire time after t.
func (tr Trigger) Next(t time.Time, loc *time.Location) time.Time {
	if tr.Kind == KindInterval {
		return t.Add(tr.Every)
	}
	return tr.At.NextAfter(t, loc)
}

// Spec renders the trigger configuration for status output.
func (tr Trigger) Spec() string {
	if tr.Kind == KindInterval {
		return "every " + tr.Every.String()
	}
	return tr.At.String()
}
