package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "buzzforge"

// StartTaskSpan starts a span for one backend invocation of an agent task.
func StartTaskSpan(ctx context.Context, agent, taskID, backend string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "task",
		trace.WithAttributes(
			attribute.String("agent.name", agent),
			attribute.String("task.id", taskID),
			attribute.String("backend", backend),
		),
	)
}

// StartRunSpan starts a span for a pipeline run.
func StartRunSpan(ctx context.Context, runID, theme, templateID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "pipeline.run",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("run.theme", theme),
			attribute.String("run.template", templateID),
		),
	)
}

// StartStageSpan starts a span for one agent call within a run.
func StartStageSpan(ctx context.Context, runID, stage, agent string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "pipeline.stage",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("stage.name", stage),
			attribute.String("agent.name", agent),
		),
	)
}

// StartTriggerSpan starts a span for a scheduler job.
func StartTriggerSpan(ctx context.Context, trigger string, manual bool) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "scheduler.job",
		trace.WithAttributes(
			attribute.String("trigger.name", trigger),
			attribute.Bool("trigger.manual", manual),
		),
	)
}

// EndSpan records err on the span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
