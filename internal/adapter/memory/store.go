// Package memory implements database.Store in process memory. It is the
// default driver for local runs and the store behind service tests.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Strob0t/BuzzForge/internal/domain"
	"github.com/Strob0t/BuzzForge/internal/domain/buzz"
	"github.com/Strob0t/BuzzForge/internal/domain/pipeline"
)

// Store is a mutex-guarded in-memory store. Values are copied on the way in
// and out so callers never share state with it.
type Store struct {
	mu       sync.RWMutex
	entities map[string]*buzz.Entity
	flagged  map[string]buzz.Event
	counters map[string]int
	runs     map[string]*pipeline.Run
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		entities: make(map[string]*buzz.Entity),
		flagged:  make(map[string]buzz.Event),
		counters: make(map[string]int),
		runs:     make(map[string]*pipeline.Run),
	}
}

func (s *Store) ListEntities(_ context.Context) ([]buzz.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]buzz.Entity, 0, len(s.entities))
	for _, e := range s.entities {
		out = append(out, *e.Clone())
	}
	slices.SortFunc(out, func(a, b buzz.Entity) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *Store) GetEntity(_ context.Context, id string) (*buzz.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	if !ok {
		return nil, fmt.Errorf("get entity %s: %w", id, domain.ErrNotFound)
	}
	return e.Clone(), nil
}

func (s *Store) UpsertEntity(_ context.Context, e *buzz.Entity) error {
	if e.ID == "" {
		return fmt.Errorf("upsert entity: id is required: %w", domain.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[e.ID] = e.Clone()
	return nil
}

func (s *Store) MarkFlagged(_ context.Context, ev *buzz.Event) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ev.Key()
	if _, ok := s.flagged[key]; ok {
		return false, nil
	}
	s.flagged[key] = *ev
	return true, nil
}

func (s *Store) IsFlagged(_ context.Context, entityID, observationID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.flagged[buzz.DedupKey(entityID, observationID)]
	return ok, nil
}

func (s *Store) ListFlagged(_ context.Context, since time.Time, limit int) ([]buzz.Event, error) {
	s.mu.RLock()
	var out []buzz.Event
	for _, ev := range s.flagged {
		if !ev.DetectedAt.Before(since) {
			out = append(out, ev)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b buzz.Event) int {
		if c := b.DetectedAt.Compare(a.DetectedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Key(), b.Key())
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func counterKey(name, day string) string { return name + "@" + day }

func (s *Store) GetCounter(_ context.Context, name, day string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counters[counterKey(name, day)], nil
}

func (s *Store) IncrementCounter(_ context.Context, name, day string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := counterKey(name, day)
	s.counters[k]++
	return s.counters[k], nil
}

func (s *Store) DecrementCounter(_ context.Context, name, day string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := counterKey(name, day)
	if s.counters[k] > 0 {
		s.counters[k]--
	}
	return s.counters[k], nil
}

func (s *Store) SaveRun(_ context.Context, r *pipeline.Run) error {
	if r.ID == "" {
		return fmt.Errorf("save run: id is required: %w", domain.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[r.ID] = r.Clone()
	return nil
}

func (s *Store) GetRun(_ context.Context, id string) (*pipeline.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("get run %s: %w", id, domain.ErrNotFound)
	}
	return r.Clone(), nil
}

func (s *Store) ListRuns(_ context.Context, limit int) ([]pipeline.Run, error) {
	s.mu.RLock()
	out := make([]pipeline.Run, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, *r.Clone())
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b pipeline.Run) int {
		if c := b.StartedAt.Compare(a.StartedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
