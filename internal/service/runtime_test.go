package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/BuzzForge/internal/domain"
	"github.com/Strob0t/BuzzForge/internal/domain/agent"
	"github.com/Strob0t/BuzzForge/internal/domain/task"
	"github.com/Strob0t/BuzzForge/internal/port/backend"
)

// fakeGenerator runs fn for every call and records the requests it saw.
type fakeGenerator struct {
	mu    sync.Mutex
	reqs  []backend.Request
	fn    func(ctx context.Context, req backend.Request) (string, error)
	calls int
}

func (g *fakeGenerator) Name() string { return "fake" }

func (g *fakeGenerator) Generate(ctx context.Context, req backend.Request) (string, error) {
	g.mu.Lock()
	g.reqs = append(g.reqs, req)
	g.calls++
	g.mu.Unlock()
	return g.fn(ctx, req)
}

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func echoGenerator() *fakeGenerator {
	return &fakeGenerator{fn: func(_ context.Context, req backend.Request) (string, error) {
		return "echo: " + req.Prompt, nil
	}}
}

// blockingGenerator waits for release or ctx.
func blockingGenerator(release <-chan struct{}) *fakeGenerator {
	return &fakeGenerator{fn: func(ctx context.Context, _ backend.Request) (string, error) {
		select {
		case <-release:
			return "late result", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}}
}

func newTestRuntime(t *testing.T, gen backend.Generator, opts RuntimeOptions) *RuntimeService {
	t.Helper()
	card := agent.Card{Name: "writer", URL: "http://localhost:8080", Version: "1.0.0"}
	rt := NewRuntimeService(card, gen, opts)
	t.Cleanup(rt.Close)
	return rt
}

func sendText(id, text string) task.SendRequest {
	return task.SendRequest{ID: id, Message: task.UserMessage(task.TextPart(text))}
}

func waitTerminal(t *testing.T, rt *RuntimeService, id string) *task.Task {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := rt.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if got.Terminal() {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s did not reach a terminal state", id)
	return nil
}

func TestRuntimeSubmitCompletes(t *testing.T) {
	gen := echoGenerator()
	rt := newTestRuntime(t, gen, RuntimeOptions{SystemPrompt: "be brief", MaxConcurrent: 2})

	got, err := rt.Submit(context.Background(), sendText("t1", "hello"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got.ID != "t1" {
		t.Fatalf("expected id t1, got %s", got.ID)
	}

	final := waitTerminal(t, rt, "t1")
	if final.Status.State != task.StateCompleted {
		t.Fatalf("expected completed, got %s", final.Status.State)
	}
	if final.Text() != "echo: hello" {
		t.Fatalf("unexpected text %q", final.Text())
	}
	if gen.callCount() != 1 {
		t.Fatalf("expected exactly one backend call, got %d", gen.callCount())
	}
	if gen.reqs[0].System != "be brief" || gen.reqs[0].TaskID != "t1" {
		t.Fatalf("unexpected request %+v", gen.reqs[0])
	}
}

func TestRuntimeSubmitAssignsID(t *testing.T) {
	rt := newTestRuntime(t, echoGenerator(), RuntimeOptions{})
	got, err := rt.Submit(context.Background(), task.SendRequest{Message: task.UserMessage(task.TextPart("x"))})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got.ID == "" {
		t.Fatal("expected a generated id")
	}
}

func TestRuntimeSubmitRejectsEmptyMessage(t *testing.T) {
	gen := echoGenerator()
	rt := newTestRuntime(t, gen, RuntimeOptions{})

	_, err := rt.Submit(context.Background(), sendText("t1", "   "))
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if rt.Len() != 0 {
		t.Fatalf("invalid input must not create a task, have %d", rt.Len())
	}
	if gen.callCount() != 0 {
		t.Fatal("backend must not be called for invalid input")
	}
}

func TestRuntimeSubmitDuplicateID(t *testing.T) {
	rt := newTestRuntime(t, echoGenerator(), RuntimeOptions{})
	if _, err := rt.Submit(context.Background(), sendText("dup", "a")); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	_, err := rt.Submit(context.Background(), sendText("dup", "b"))
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestRuntimeStructuredOutput(t *testing.T) {
	gen := &fakeGenerator{fn: func(context.Context, backend.Request) (string, error) {
		return `{"score": 92, "breakdown": {"hook": 24}}`, nil
	}}
	rt := newTestRuntime(t, gen, RuntimeOptions{})
	if _, err := rt.Submit(context.Background(), sendText("t1", "review")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	final := waitTerminal(t, rt, "t1")
	data := final.Data()
	if data == nil || data["score"] != float64(92) {
		t.Fatalf("expected structured data with score, got %v", data)
	}
}

func TestRuntimeBackendError(t *testing.T) {
	gen := &fakeGenerator{fn: func(context.Context, backend.Request) (string, error) {
		return "", errors.New("model overloaded")
	}}
	rt := newTestRuntime(t, gen, RuntimeOptions{})
	if _, err := rt.Submit(context.Background(), sendText("t1", "x")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	final := waitTerminal(t, rt, "t1")
	if final.Status.State != task.StateFailed {
		t.Fatalf("expected failed, got %s", final.Status.State)
	}
	if final.Error == nil || final.Error.Code != task.CodeBackend {
		t.Fatalf("expected backend_error, got %+v", final.Error)
	}
	if !strings.Contains(final.Error.Message, "model overloaded") {
		t.Fatalf("expected backend detail, got %q", final.Error.Message)
	}
}

func TestRuntimeTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	rt := newTestRuntime(t, blockingGenerator(release), RuntimeOptions{Timeout: 20 * time.Millisecond})

	if _, err := rt.Submit(context.Background(), sendText("slow", "x")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	final := waitTerminal(t, rt, "slow")
	if final.Status.State != task.StateFailed {
		t.Fatalf("expected failed, got %s", final.Status.State)
	}
	if final.Error == nil || final.Error.Code != task.CodeTimeout {
		t.Fatalf("expected timeout code, got %+v", final.Error)
	}
}

func TestRuntimeCancelDiscardsLateResult(t *testing.T) {
	release := make(chan struct{})
	gen := blockingGenerator(release)
	rt := newTestRuntime(t, gen, RuntimeOptions{})

	if _, err := rt.Submit(context.Background(), sendText("c1", "x")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	canceled, err := rt.Cancel(context.Background(), "c1")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if canceled.Status.State != task.StateCanceled {
		t.Fatalf("expected canceled, got %s", canceled.Status.State)
	}
	close(release)

	time.Sleep(20 * time.Millisecond)
	got, err := rt.Get(context.Background(), "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status.State != task.StateCanceled {
		t.Fatalf("late result must be discarded, state is %s", got.Status.State)
	}

	again, err := rt.Cancel(context.Background(), "c1")
	if err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if again.Status.State != task.StateCanceled {
		t.Fatalf("expected terminal task unchanged, got %s", again.Status.State)
	}
}

func TestRuntimeUnknownTask(t *testing.T) {
	rt := newTestRuntime(t, echoGenerator(), RuntimeOptions{})
	if _, err := rt.Get(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("get: expected ErrNotFound, got %v", err)
	}
	if _, err := rt.Cancel(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("cancel: expected ErrNotFound, got %v", err)
	}
}

func TestRuntimeSyncExecution(t *testing.T) {
	rt := newTestRuntime(t, echoGenerator(), RuntimeOptions{Sync: true})
	got, err := rt.Submit(context.Background(), sendText("s1", "now"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got.Status.State != task.StateCompleted {
		t.Fatalf("sync submit should return the terminal task, got %s", got.Status.State)
	}
}

func TestRuntimeConcurrencyLimit(t *testing.T) {
	release := make(chan struct{})
	gen := blockingGenerator(release)
	rt := newTestRuntime(t, gen, RuntimeOptions{MaxConcurrent: 1})

	for _, id := range []string{"a", "b"} {
		if _, err := rt.Submit(context.Background(), sendText(id, "x")); err != nil {
			t.Fatalf("submit %s: %v", id, err)
		}
	}
	time.Sleep(30 * time.Millisecond)
	if n := gen.callCount(); n != 1 {
		t.Fatalf("expected one call in flight, got %d", n)
	}
	close(release)
	waitTerminal(t, rt, "a")
	waitTerminal(t, rt, "b")
	if n := gen.callCount(); n != 2 {
		t.Fatalf("expected two calls total, got %d", n)
	}
}

func TestRuntimeEvict(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rt := newTestRuntime(t, echoGenerator(), RuntimeOptions{TaskTTL: time.Hour})
	rt.SetClock(func() time.Time { return now })

	if _, err := rt.Submit(context.Background(), sendText("old", "x")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitTerminal(t, rt, "old")

	if n := rt.evict(now.Add(30 * time.Minute)); n != 0 {
		t.Fatalf("expected nothing evicted before ttl, got %d", n)
	}
	if n := rt.evict(now.Add(2 * time.Hour)); n != 1 {
		t.Fatalf("expected one eviction, got %d", n)
	}
	if _, err := rt.Get(context.Background(), "old"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("evicted task should be gone, got %v", err)
	}
}
