package schedule

import (
	"errors"
	"testing"
	"time"

	"github.com/Strob0t/BuzzForge/internal/domain"
)

func TestQuotaFourthRunRejectedUntilRollover(t *testing.T) {
	q := Quota{Limit: 3}
	morning := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i := range 3 {
		if err := q.Reserve(morning.Add(time.Duration(i)*time.Minute), time.UTC); err != nil {
			t.Fatalf("run %d: unexpected error %v", i+1, err)
		}
	}
	if err := q.Reserve(morning.Add(5*time.Hour), time.UTC); !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("fourth run same day: expected ErrQuotaExceeded, got %v", err)
	}
	if q.Remaining(morning.Add(6*time.Hour), time.UTC) != 0 {
		t.Fatal("expected no remaining runs")
	}

	nextDay := time.Date(2026, 3, 2, 0, 0, 1, 0, time.UTC)
	if err := q.Reserve(nextDay, time.UTC); err != nil {
		t.Fatalf("after rollover: unexpected error %v", err)
	}
	if q.Day != "2026-03-02" || q.Used != 1 {
		t.Fatalf("unexpected quota after rollover: %+v", q)
	}
}

func TestQuotaRollsOnLocalDay(t *testing.T) {
	loc := time.FixedZone("JST", 9*60*60)
	q := Quota{Limit: 1}

	// 14:00 UTC on Mar 1 is 23:00 JST on Mar 1.
	if err := q.Reserve(time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC), loc); err != nil {
		t.Fatal(err)
	}
	// 16:00 UTC on Mar 1 is 01:00 JST on Mar 2: a new local day.
	if err := q.Reserve(time.Date(2026, 3, 1, 16, 0, 0, 0, time.UTC), loc); err != nil {
		t.Fatalf("local rollover not applied: %v", err)
	}
	if q.Day != "2026-03-02" {
		t.Fatalf("expected local day 2026-03-02, got %s", q.Day)
	}
}

func TestQuotaZeroLimit(t *testing.T) {
	q := Quota{Limit: 0}
	if err := q.Reserve(time.Now(), time.UTC); !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
}

func TestQuotaRelease(t *testing.T) {
	q := Quota{Limit: 1}
	day := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	if err := q.Reserve(day, time.UTC); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	q.Release(day, time.UTC)
	if err := q.Reserve(day, time.UTC); err != nil {
		t.Fatalf("released slot should be reusable: %v", err)
	}

	q.Release(day.Add(24*time.Hour), time.UTC)
	if q.Used != 1 {
		t.Fatalf("release on another day must not touch today's count, got %d", q.Used)
	}
	q.Used = 0
	q.Release(day, time.UTC)
	if q.Used != 0 {
		t.Fatalf("release below zero, got %d", q.Used)
	}
}
