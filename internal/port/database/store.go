// Package database defines the database store port (interface).
package database

import (
	"context"
	"time"

	"github.com/Strob0t/BuzzForge/internal/domain/buzz"
	"github.com/Strob0t/BuzzForge/internal/domain/pipeline"
)

// Day counter names.
const (
	CounterPipelineRuns = "pipeline_runs"
	CounterBuzzReports  = "buzz_reports"
)

// Store is the port interface for persisted scheduler state.
type Store interface {
	// Monitored entities
	ListEntities(ctx context.Context) ([]buzz.Entity, error)
	GetEntity(ctx context.Context, id string) (*buzz.Entity, error)
	UpsertEntity(ctx context.Context, e *buzz.Entity) error

	// MarkFlagged records a flagged observation. It reports false, without
	// error, when the (entity, observation) pair was already recorded.
	MarkFlagged(ctx context.Context, ev *buzz.Event) (bool, error)
	IsFlagged(ctx context.Context, entityID, observationID string) (bool, error)
	// ListFlagged returns events detected at or after since, newest first.
	ListFlagged(ctx context.Context, since time.Time, limit int) ([]buzz.Event, error)

	// Day counters keyed by name and local day (YYYY-MM-DD).
	GetCounter(ctx context.Context, name, day string) (int, error)
	IncrementCounter(ctx context.Context, name, day string) (int, error)
	// DecrementCounter gives one back; the count never drops below zero.
	DecrementCounter(ctx context.Context, name, day string) (int, error)

	// Pipeline runs
	SaveRun(ctx context.Context, r *pipeline.Run) error
	GetRun(ctx context.Context, id string) (*pipeline.Run, error)
	// ListRuns returns the most recent runs first.
	ListRuns(ctx context.Context, limit int) ([]pipeline.Run, error)

	Close() error
}
