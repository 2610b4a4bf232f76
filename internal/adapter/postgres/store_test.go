package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/BuzzForge/internal/adapter/postgres"
	"github.com/Strob0t/BuzzForge/internal/domain"
	"github.com/Strob0t/BuzzForge/internal/domain/buzz"
	"github.com/Strob0t/BuzzForge/internal/domain/pipeline"
	"github.com/Strob0t/BuzzForge/internal/port/database"
)

var _ database.Store = (*postgres.Store)(nil)

// setupStore creates a pgxpool connection, runs all migrations, and returns a
// ready-to-use Store. The pool is closed via t.Cleanup.
func setupStore(t *testing.T) *postgres.Store {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("requires DATABASE_URL")
	}

	ctx := context.Background()
	version, err := postgres.Migrate(ctx, dsn)
	if err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	if version < 2 {
		t.Fatalf("expected schema version >= 2, got %d", version)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	t.Cleanup(pool.Close)
	return postgres.NewStore(pool)
}

func TestStore_EntityUpsert(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	id := "acc-" + uuid.NewString()

	e := &buzz.Entity{
		ID:            id,
		Name:          "Account",
		Category:      "tech",
		Enabled:       true,
		Threshold:     500,
		AvgLikes:      120,
		Window:        []buzz.Sample{{ID: "p1", Likes: 120, Retweets: 4}},
		LastCheckedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := s.UpsertEntity(ctx, e); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	e.FlaggedCount = 2
	if err := s.UpsertEntity(ctx, e); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := s.GetEntity(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.FlaggedCount != 2 || got.Threshold != 500 || len(got.Window) != 1 {
		t.Fatalf("unexpected entity: %+v", got)
	}
	if !got.LastCheckedAt.Equal(e.LastCheckedAt) {
		t.Fatalf("last checked mismatch: %v vs %v", got.LastCheckedAt, e.LastCheckedAt)
	}

	if _, err := s.GetEntity(ctx, "missing-"+uuid.NewString()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_MarkFlaggedOnce(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	ev := &buzz.Event{EntityID: "acc-" + uuid.NewString(), ObservationID: "p1", Likes: 4000, DetectedAt: time.Now().UTC()}

	first, err := s.MarkFlagged(ctx, ev)
	if err != nil || !first {
		t.Fatalf("first mark: inserted=%v err=%v", first, err)
	}
	second, err := s.MarkFlagged(ctx, ev)
	if err != nil || second {
		t.Fatalf("second mark: inserted=%v err=%v", second, err)
	}
	if ok, err := s.IsFlagged(ctx, ev.EntityID, "p1"); err != nil || !ok {
		t.Fatalf("expected flagged: ok=%v err=%v", ok, err)
	}

	events, err := s.ListFlagged(ctx, ev.DetectedAt.Add(-time.Second), 0)
	if err != nil {
		t.Fatalf("list flagged: %v", err)
	}
	found := false
	for _, got := range events {
		if got.Key() == ev.Key() {
			found = got.Likes == 4000
		}
	}
	if !found {
		t.Fatalf("flagged event not listed: %+v", events)
	}
}

func TestStore_Counter(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	name := "test_" + uuid.NewString()

	if n, err := s.GetCounter(ctx, name, "2026-03-01"); err != nil || n != 0 {
		t.Fatalf("expected 0, got %d err=%v", n, err)
	}
	for want := 1; want <= 3; want++ {
		n, err := s.IncrementCounter(ctx, name, "2026-03-01")
		if err != nil {
			t.Fatalf("increment: %v", err)
		}
		if n != want {
			t.Fatalf("expected %d, got %d", want, n)
		}
	}
	if n, err := s.DecrementCounter(ctx, name, "2026-03-01"); err != nil || n != 2 {
		t.Fatalf("expected 2 after decrement, got %d err=%v", n, err)
	}
	if n, err := s.DecrementCounter(ctx, name, "2026-03-02"); err != nil || n != 0 {
		t.Fatalf("expected 0 for a missing counter, got %d err=%v", n, err)
	}
}

func TestStore_RunRoundTrip(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	r := pipeline.NewRun(uuid.NewString(), "theme", "short-video", pipeline.DefaultPolicy(), now)
	r.AddStage(pipeline.StageOutput{Phase: 0, Stage: "research", Agent: "researcher", Text: "notes"})
	r.SetDraft("draft")
	if err := s.SaveRun(ctx, r); err != nil {
		t.Fatalf("save running: %v", err)
	}
	if _, err := r.RecordReview(pipeline.Review{Score: 95, Breakdown: map[string]float64{"hook": 24}}, now); err != nil {
		t.Fatalf("review: %v", err)
	}
	if err := s.SaveRun(ctx, r); err != nil {
		t.Fatalf("save accepted: %v", err)
	}

	got, err := s.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != pipeline.StatusAccepted || got.Artifact != "draft" {
		t.Fatalf("unexpected run: %+v", got)
	}
	if len(got.Reviews) != 1 || got.Reviews[0].Breakdown["hook"] != 24 {
		t.Fatalf("unexpected reviews: %+v", got.Reviews)
	}
	if got.FinishedAt.IsZero() {
		t.Fatal("expected finished_at")
	}

	runs, err := s.ListRuns(ctx, 5)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) == 0 {
		t.Fatal("expected at least one run")
	}
}
