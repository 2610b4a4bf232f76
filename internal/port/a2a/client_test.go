package a2a

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/BuzzForge/internal/domain"
	"github.com/Strob0t/BuzzForge/internal/domain/task"
	"github.com/Strob0t/BuzzForge/internal/logger"
	"github.com/Strob0t/BuzzForge/internal/middleware"
)

func newAgentServer(t *testing.T, tasks *fakeTasks) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(newTestRouter(tasks))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient() *Client {
	return NewClient(ClientOptions{PollInterval: 5 * time.Millisecond, HTTPClient: http.DefaultClient})
}

func TestClientCard(t *testing.T) {
	srv := newAgentServer(t, newFakeTasks())
	card, err := newTestClient().Card(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("card: %v", err)
	}
	if card.Name != "writer" {
		t.Fatalf("expected writer, got %s", card.Name)
	}
}

func TestClientCardFallsBackToAlias(t *testing.T) {
	r := chi.NewRouter()
	r.Get(PathCapabilities, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, testCard())
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	card, err := newTestClient().Card(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("card: %v", err)
	}
	if card.Name != "writer" {
		t.Fatalf("expected writer, got %s", card.Name)
	}
}

func TestClientCallCompleted(t *testing.T) {
	srv := newAgentServer(t, newFakeTasks())
	got, err := newTestClient().Call(context.Background(), srv.URL, task.UserMessage(task.TextPart("theme")))
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if got.Status.State != task.StateCompleted || got.Text() != "echo: theme" {
		t.Fatalf("unexpected task %+v", got)
	}
}

func TestClientAwaitPollsUntilTerminal(t *testing.T) {
	tasks := newFakeTasks()
	tasks.hold = true
	srv := newAgentServer(t, tasks)
	c := newTestClient()

	sent, err := c.Send(context.Background(), srv.URL, task.SendRequest{ID: "p-1", Message: task.UserMessage(task.TextPart("x"))})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if sent.Terminal() {
		t.Fatalf("expected non-terminal task, got %s", sent.Status.State)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		tasks.finish("p-1", "done")
	}()

	got, err := c.Await(context.Background(), srv.URL, "p-1")
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if got.Text() != "done" {
		t.Fatalf("expected done, got %q", got.Text())
	}
}

func TestClientAwaitCancelsOnDeadline(t *testing.T) {
	tasks := newFakeTasks()
	tasks.hold = true
	srv := newAgentServer(t, tasks)
	c := newTestClient()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := c.Call(ctx, srv.URL, task.UserMessage(task.TextPart("slow")))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	got, err := tasks.Get(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status.State != task.StateCanceled {
		t.Fatalf("expected remote task canceled, got %s", got.Status.State)
	}
}

func TestClientErrorMapping(t *testing.T) {
	srv := newAgentServer(t, newFakeTasks())
	c := newTestClient()

	_, err := c.Get(context.Background(), srv.URL, "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	_, err = c.Send(context.Background(), srv.URL, task.SendRequest{Message: task.UserMessage()})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	_, err = c.Get(context.Background(), "http://127.0.0.1:1", "x")
	if !errors.Is(err, domain.ErrBackend) {
		t.Fatalf("expected ErrBackend for unreachable agent, got %v", err)
	}
}

func TestClientForwardsRequestID(t *testing.T) {
	var seen atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.Store(r.Header.Get(middleware.HeaderRequestID))
		writeJSON(w, http.StatusOK, testCard())
	}))
	defer srv.Close()

	ctx := logger.WithRequestID(context.Background(), "req-42")
	if _, err := newTestClient().Card(ctx, srv.URL); err != nil {
		t.Fatalf("card: %v", err)
	}
	if got, _ := seen.Load().(string); got != "req-42" {
		t.Fatalf("expected req-42 forwarded, got %q", got)
	}
}

func TestClientBreakerOpensOnServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{
		PollInterval:       time.Millisecond,
		BreakerMaxFailures: 2,
		BreakerTimeout:     time.Minute,
		HTTPClient:         http.DefaultClient,
	})
	for range 4 {
		_, err := c.Get(context.Background(), srv.URL, "x")
		if !errors.Is(err, domain.ErrBackend) {
			t.Fatalf("expected ErrBackend, got %v", err)
		}
	}
	if n := hits.Load(); n != 2 {
		t.Fatalf("expected breaker to stop calls after 2 failures, got %d hits", n)
	}
}
