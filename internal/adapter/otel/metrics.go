package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "buzzforge"

// Metrics holds all BuzzForge metric instruments. A nil *Metrics records nothing.
type Metrics struct {
	TasksStarted    metric.Int64Counter
	TasksFinished   metric.Int64Counter
	TaskDuration    metric.Float64Histogram
	RunsFinished    metric.Int64Counter
	RunIterations   metric.Int64Histogram
	ReviewScores    metric.Float64Histogram
	BuzzEvents      metric.Int64Counter
	TriggerFirings  metric.Int64Counter
	TriggerDuration metric.Float64Histogram
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsWithProvider(otel.GetMeterProvider())
}

// NewMetricsWithProvider creates all metric instruments on mp.
func NewMetricsWithProvider(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TasksStarted, err = meter.Int64Counter("buzzforge.tasks.started",
		metric.WithDescription("Number of agent tasks started"))
	if err != nil {
		return nil, err
	}

	m.TasksFinished, err = meter.Int64Counter("buzzforge.tasks.finished",
		metric.WithDescription("Number of agent tasks reaching a terminal state"))
	if err != nil {
		return nil, err
	}

	m.TaskDuration, err = meter.Float64Histogram("buzzforge.task.duration_seconds",
		metric.WithDescription("Backend invocation duration in seconds"), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	m.RunsFinished, err = meter.Int64Counter("buzzforge.pipeline.runs",
		metric.WithDescription("Number of finished pipeline runs by status"))
	if err != nil {
		return nil, err
	}

	m.RunIterations, err = meter.Int64Histogram("buzzforge.pipeline.reviews",
		metric.WithDescription("Review invocations per pipeline run"))
	if err != nil {
		return nil, err
	}

	m.ReviewScores, err = meter.Float64Histogram("buzzforge.pipeline.review_score",
		metric.WithDescription("Review scores out of 100"))
	if err != nil {
		return nil, err
	}

	m.BuzzEvents, err = meter.Int64Counter("buzzforge.buzz.events",
		metric.WithDescription("Number of reported buzz events"))
	if err != nil {
		return nil, err
	}

	m.TriggerFirings, err = meter.Int64Counter("buzzforge.scheduler.firings",
		metric.WithDescription("Scheduler trigger firings by outcome"))
	if err != nil {
		return nil, err
	}

	m.TriggerDuration, err = meter.Float64Histogram("buzzforge.scheduler.job_duration_seconds",
		metric.WithDescription("Scheduler job duration in seconds"), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// TaskStarted records a task entering working on the named agent.
func (m *Metrics) TaskStarted(ctx context.Context, agent string) {
	if m == nil {
		return
	}
	m.TasksStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("agent", agent)))
}

// TaskFinished records a terminal task and its backend duration.
func (m *Metrics) TaskFinished(ctx context.Context, agent, state string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("agent", agent), attribute.String("state", state))
	m.TasksFinished.Add(ctx, 1, attrs)
	m.TaskDuration.Record(ctx, d.Seconds(), attrs)
}

// RunFinished records a finished pipeline run.
func (m *Metrics) RunFinished(ctx context.Context, status string, reviews int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.RunsFinished.Add(ctx, 1, attrs)
	m.RunIterations.Record(ctx, int64(reviews), attrs)
}

// ReviewScored records one review score.
func (m *Metrics) ReviewScored(ctx context.Context, score float64) {
	if m == nil {
		return
	}
	m.ReviewScores.Record(ctx, score)
}

// BuzzReported records n reported buzz events.
func (m *Metrics) BuzzReported(ctx context.Context, n int) {
	if m == nil || n == 0 {
		return
	}
	m.BuzzEvents.Add(ctx, int64(n))
}

// TriggerFired records a trigger firing. outcome is "ok", "error" or "skipped".
func (m *Metrics) TriggerFired(ctx context.Context, trigger, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("trigger", trigger), attribute.String("outcome", outcome))
	m.TriggerFirings.Add(ctx, 1, attrs)
	if outcome != "skipped" {
		m.TriggerDuration.Record(ctx, d.Seconds(), attrs)
	}
}
