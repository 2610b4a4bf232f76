package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Strob0t/BuzzForge/internal/domain"
	"github.com/Strob0t/BuzzForge/internal/domain/buzz"
	"github.com/Strob0t/BuzzForge/internal/domain/pipeline"
	"github.com/Strob0t/BuzzForge/internal/port/database"
)

var _ database.Store = (*Store)(nil)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestEntityRoundTripIsolated(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	e := &buzz.Entity{ID: "acc", Name: "Account", Enabled: true, Window: []buzz.Sample{{ID: "p1", Likes: 10}}}
	if err := s.UpsertEntity(ctx, e); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	e.Window[0].Likes = 999

	got, err := s.GetEntity(ctx, "acc")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Window[0].Likes != 10 {
		t.Fatalf("store shares window with caller: %d", got.Window[0].Likes)
	}

	if _, err := s.GetEntity(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.UpsertEntity(ctx, &buzz.Entity{}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestListEntitiesSorted(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	for _, id := range []string{"c", "a", "b"} {
		if err := s.UpsertEntity(ctx, &buzz.Entity{ID: id}); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	got, _ := s.ListEntities(ctx)
	if len(got) != 3 || got[0].ID != "a" || got[2].ID != "c" {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestMarkFlaggedOnce(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	ev := &buzz.Event{EntityID: "acc", ObservationID: "p1", DetectedAt: t0}

	first, err := s.MarkFlagged(ctx, ev)
	if err != nil || !first {
		t.Fatalf("first mark: inserted=%v err=%v", first, err)
	}
	second, err := s.MarkFlagged(ctx, ev)
	if err != nil || second {
		t.Fatalf("second mark: inserted=%v err=%v", second, err)
	}
	if ok, _ := s.IsFlagged(ctx, "acc", "p1"); !ok {
		t.Fatal("expected p1 flagged")
	}
	if ok, _ := s.IsFlagged(ctx, "acc", "p2"); ok {
		t.Fatal("p2 must not be flagged")
	}
}

func TestListFlaggedSinceNewestFirst(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	for i, id := range []string{"old", "mid", "new"} {
		ev := &buzz.Event{EntityID: "acc", ObservationID: id, DetectedAt: t0.Add(time.Duration(i) * time.Hour)}
		if _, err := s.MarkFlagged(ctx, ev); err != nil {
			t.Fatalf("mark: %v", err)
		}
	}

	got, _ := s.ListFlagged(ctx, t0.Add(time.Hour), 0)
	if len(got) != 2 || got[0].ObservationID != "new" || got[1].ObservationID != "mid" {
		t.Fatalf("unexpected events: %+v", got)
	}
	got, _ = s.ListFlagged(ctx, time.Time{}, 1)
	if len(got) != 1 || got[0].ObservationID != "new" {
		t.Fatalf("expected limit 1 newest, got %+v", got)
	}
}

func TestCountersPerDay(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	for range 2 {
		if _, err := s.IncrementCounter(ctx, database.CounterPipelineRuns, "2026-03-01"); err != nil {
			t.Fatalf("incr: %v", err)
		}
	}
	if n, _ := s.GetCounter(ctx, database.CounterPipelineRuns, "2026-03-01"); n != 2 {
		t.Fatalf("expected 2, got %d", n)
	}
	if n, _ := s.GetCounter(ctx, database.CounterPipelineRuns, "2026-03-02"); n != 0 {
		t.Fatalf("expected fresh day 0, got %d", n)
	}
	if n, _ := s.DecrementCounter(ctx, database.CounterPipelineRuns, "2026-03-01"); n != 1 {
		t.Fatalf("expected 1 after decrement, got %d", n)
	}
	if n, _ := s.DecrementCounter(ctx, database.CounterPipelineRuns, "2026-03-02"); n != 0 {
		t.Fatalf("decrement must not go below zero, got %d", n)
	}
	if n, _ := s.GetCounter(ctx, database.CounterBuzzReports, "2026-03-01"); n != 0 {
		t.Fatalf("counters must be independent, got %d", n)
	}
}

func TestRunsListedNewestFirst(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	for i, id := range []string{"r1", "r2", "r3"} {
		r := pipeline.NewRun(id, "theme", "short-video", pipeline.DefaultPolicy(), t0.Add(time.Duration(i)*time.Minute))
		if err := s.SaveRun(ctx, r); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	got, _ := s.ListRuns(ctx, 2)
	if len(got) != 2 || got[0].ID != "r3" || got[1].ID != "r2" {
		t.Fatalf("unexpected runs: %+v", got)
	}
	if _, err := s.GetRun(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
