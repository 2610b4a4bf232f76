// Package service contains application services.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/BuzzForge/internal/adapter/otel"
	"github.com/Strob0t/BuzzForge/internal/domain"
	"github.com/Strob0t/BuzzForge/internal/domain/agent"
	"github.com/Strob0t/BuzzForge/internal/domain/task"
	"github.com/Strob0t/BuzzForge/internal/logger"
	"github.com/Strob0t/BuzzForge/internal/port/backend"
	"github.com/Strob0t/BuzzForge/internal/resilience"
)

// RuntimeOptions configure a RuntimeService.
type RuntimeOptions struct {
	SystemPrompt  string
	Timeout       time.Duration // bound on one backend call
	TaskTTL       time.Duration // terminal tasks older than this are evicted
	MaxConcurrent int
	Sync          bool // Submit waits for the terminal state
}

// RuntimeService owns the tasks of one agent process. Every task gets exactly
// one backend invocation, executed in the background.
type RuntimeService struct {
	card    agent.Card
	gen     backend.Generator
	opts    RuntimeOptions
	pool    *resilience.Pool
	metrics *otel.Metrics
	now     func() time.Time

	base  context.Context
	stop  context.CancelFunc
	wg    sync.WaitGroup
	mu    sync.Mutex
	tasks map[string]*taskEntry
}

type taskEntry struct {
	task   *task.Task
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (e *taskEntry) markDone() { e.once.Do(func() { close(e.done) }) }

// NewRuntimeService creates a RuntimeService wrapping gen.
func NewRuntimeService(card agent.Card, gen backend.Generator, opts RuntimeOptions) *RuntimeService {
	if opts.Timeout <= 0 {
		opts.Timeout = 300 * time.Second
	}
	if opts.TaskTTL <= 0 {
		opts.TaskTTL = time.Hour
	}
	base, stop := context.WithCancel(context.Background())
	return &RuntimeService{
		card:  card,
		gen:   gen,
		opts:  opts,
		pool:  resilience.NewPool(opts.MaxConcurrent),
		now:   time.Now,
		base:  base,
		stop:  stop,
		tasks: make(map[string]*taskEntry),
	}
}

// SetMetrics sets the metric instruments recorded per invocation.
func (s *RuntimeService) SetMetrics(m *otel.Metrics) { s.metrics = m }

// SetClock replaces the time source.
func (s *RuntimeService) SetClock(now func() time.Time) { s.now = now }

// Card returns the agent card served by this runtime.
func (s *RuntimeService) Card() agent.Card { return s.card }

// Submit validates the message, records a submitted task, and starts its
// execution. The returned task is a snapshot.
func (s *RuntimeService) Submit(ctx context.Context, req task.SendRequest) (*task.Task, error) {
	if err := req.Message.Validate(); err != nil {
		return nil, err
	}
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}

	execCtx, cancel := context.WithCancel(s.base)
	if rid := logger.RequestID(ctx); rid != "" {
		execCtx = logger.WithRequestID(execCtx, rid)
	}
	e := &taskEntry{
		task:   task.New(id, req.ContextID, req.Message, s.now()),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	if _, exists := s.tasks[id]; exists {
		s.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("task %s: %w", id, domain.ErrConflict)
	}
	s.tasks[id] = e
	snapshot := e.task.Clone()
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.execute(execCtx, e)
	}()

	if !s.opts.Sync {
		return snapshot, nil
	}
	select {
	case <-e.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.Get(ctx, id)
}

// Get returns a snapshot of the task. Repeated reads of a terminal task are
// identical.
func (s *RuntimeService) Get(_ context.Context, id string) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	return e.task.Clone(), nil
}

// Cancel moves a non-terminal task to canceled and stops its backend call.
// Cancelling a terminal task returns it unchanged.
func (s *RuntimeService) Cancel(_ context.Context, id string) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	if !e.task.Terminal() {
		if err := e.task.Cancel(s.now()); err != nil {
			return nil, err
		}
		e.cancel()
		e.markDone()
		slog.Info("task canceled", "task_id", id, "agent", s.card.Name)
	}
	return e.task.Clone(), nil
}

func (s *RuntimeService) execute(ctx context.Context, e *taskEntry) {
	err := s.pool.Run(ctx, func() error {
		s.mu.Lock()
		if e.task.Terminal() {
			s.mu.Unlock()
			return nil
		}
		if err := e.task.Start(s.now()); err != nil {
			s.mu.Unlock()
			return err
		}
		id := e.task.ID
		prompt := e.task.Input().Prompt()
		s.mu.Unlock()

		ctx, span := otel.StartTaskSpan(ctx, s.card.Name, id, s.gen.Name())
		s.metrics.TaskStarted(ctx, s.card.Name)
		start := time.Now()

		callCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
		out, err := s.gen.Generate(callCtx, backend.Request{TaskID: id, System: s.opts.SystemPrompt, Prompt: prompt})
		timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded)
		cancel()

		state := s.finish(ctx, e, out, err, timedOut)
		elapsed := time.Since(start)
		s.metrics.TaskFinished(ctx, s.card.Name, string(state), elapsed)
		otel.EndSpan(span, err)

		attrs := []any{"task_id", id, "agent", s.card.Name, "backend", s.gen.Name(), "state", state, "duration", elapsed}
		if err != nil {
			attrs = append(attrs, "error", err)
		}
		slog.InfoContext(ctx, "task finished", attrs...)
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.ErrorContext(ctx, "task execution", "task_id", e.task.ID, "error", err)
	}
	e.markDone()
}

// finish applies the backend result unless the task was canceled meanwhile.
func (s *RuntimeService) finish(ctx context.Context, e *taskEntry, out string, genErr error, timedOut bool) task.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := e.task
	if t.Terminal() {
		slog.DebugContext(ctx, "discarding result of finished task", "task_id", t.ID, "state", t.Status.State)
		return t.Status.State
	}

	now := s.now()
	var err error
	switch {
	case genErr == nil:
		err = t.CompleteWithData(out, jsonObject(out), now)
	case timedOut:
		err = t.Fail(task.CodeTimeout, fmt.Sprintf("backend call exceeded %s", s.opts.Timeout), now)
	default:
		err = t.Fail(task.CodeBackend, genErr.Error(), now)
	}
	if err != nil {
		slog.ErrorContext(ctx, "task transition", "task_id", t.ID, "error", err)
	}
	return t.Status.State
}

// jsonObject decodes out when the whole response is a JSON object.
func jsonObject(out string) map[string]any {
	trimmed := strings.TrimSpace(out)
	if !strings.HasPrefix(trimmed, "{") {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		return nil
	}
	return obj
}

// StartJanitor evicts terminal tasks older than the TTL until ctx is done.
func (s *RuntimeService) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.base.Done():
				return
			case <-ticker.C:
				if n := s.evict(s.now()); n > 0 {
					slog.Debug("evicted finished tasks", "count", n)
				}
			}
		}
	}()
}

func (s *RuntimeService) evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, e := range s.tasks {
		if e.task.Terminal() && now.Sub(e.task.UpdatedAt) > s.opts.TaskTTL {
			delete(s.tasks, id)
			n++
		}
	}
	return n
}

// Len returns the number of retained tasks.
func (s *RuntimeService) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Close cancels in-flight backend calls and waits for their goroutines.
func (s *RuntimeService) Close() {
	s.stop()
	s.wg.Wait()
}
