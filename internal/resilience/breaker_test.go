package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errDown = errors.New("agent unavailable")

type transition struct{ from, to string }

// newTestBreaker returns a breaker on a manual clock that records transitions.
func newTestBreaker(maxFailures int, opts ...Option) (*Breaker, *time.Time, *[]transition) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	var changes []transition
	opts = append([]Option{WithStateChange(func(_, from, to string) {
		changes = append(changes, transition{from, to})
	})}, opts...)
	b := NewBreaker("a2a:writer", maxFailures, time.Minute, opts...)
	b.now = func() time.Time { return now }
	return b, &now, &changes
}

func fail() error    { return errDown }
func succeed() error { return nil }

func TestBreakerLifecycle(t *testing.T) {
	b, now, changes := newTestBreaker(2)

	_ = b.Execute(fail)
	if b.State() != "closed" {
		t.Fatalf("one failure should not open, state %s", b.State())
	}
	_ = b.Execute(fail)
	if b.State() != "open" {
		t.Fatalf("expected open, got %s", b.State())
	}

	called := false
	if err := b.Execute(func() error { called = true; return nil }); !errors.Is(err, ErrCircuitOpen) || called {
		t.Fatalf("open breaker must reject without calling, err=%v called=%v", err, called)
	}

	*now = now.Add(time.Minute)
	if err := b.Execute(fail); !errors.Is(err, errDown) {
		t.Fatalf("trial should run, got %v", err)
	}
	if b.State() != "open" {
		t.Fatalf("failed trial should reopen, got %s", b.State())
	}

	*now = now.Add(time.Minute)
	if err := b.Execute(succeed); err != nil {
		t.Fatalf("trial: %v", err)
	}
	if b.State() != "closed" {
		t.Fatalf("successful trial should close, got %s", b.State())
	}

	want := []transition{
		{"closed", "open"},
		{"open", "half_open"},
		{"half_open", "open"},
		{"open", "half_open"},
		{"half_open", "closed"},
	}
	if len(*changes) != len(want) {
		t.Fatalf("transitions %v, want %v", *changes, want)
	}
	for i := range want {
		if (*changes)[i] != want[i] {
			t.Fatalf("transition %d = %v, want %v", i, (*changes)[i], want[i])
		}
	}
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	b, _, _ := newTestBreaker(2)
	_ = b.Execute(fail)
	_ = b.Execute(succeed)
	_ = b.Execute(fail)
	if b.State() != "closed" {
		t.Fatalf("failures are not consecutive, expected closed, got %s", b.State())
	}
}

func TestBreakerSingleTrial(t *testing.T) {
	b, now, _ := newTestBreaker(1)
	_ = b.Execute(fail)
	*now = now.Add(time.Minute)

	release := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = b.Execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := b.Execute(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("second caller during trial should be rejected, got %v", err)
	}
	close(release)
	wg.Wait()
	if b.State() != "closed" {
		t.Fatalf("expected closed after trial, got %s", b.State())
	}
}

func TestBreakerTripClassification(t *testing.T) {
	errRejected := errors.New("400 bad request")
	tests := []struct {
		name string
		opts []Option
		err  error
		open bool
	}{
		{"remote failure", nil, errDown, true},
		{"caller canceled", nil, context.Canceled, false},
		{"deadline counts", nil, context.DeadlineExceeded, true},
		{"ignored by classifier", []Option{WithTrip(func(err error) bool { return !errors.Is(err, errRejected) })}, errRejected, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _, _ := newTestBreaker(1, tt.opts...)
			if err := b.Execute(func() error { return tt.err }); !errors.Is(err, tt.err) {
				t.Fatalf("error not passed through: %v", err)
			}
			if got := b.State() == "open"; got != tt.open {
				t.Fatalf("open = %v, want %v", got, tt.open)
			}
		})
	}
}

func TestNewBreakerClampsThreshold(t *testing.T) {
	b := NewBreaker("x", 0, time.Second, WithStateChange(func(string, string, string) {}))
	_ = b.Execute(fail)
	if b.State() != "open" || b.Name() != "x" {
		t.Fatalf("expected open after one failure, got %s", b.State())
	}
}
