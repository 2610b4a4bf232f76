package litellm_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Strob0t/BuzzForge/internal/adapter/litellm"
	"github.com/Strob0t/BuzzForge/internal/domain"
	"github.com/Strob0t/BuzzForge/internal/port/backend"
	"github.com/Strob0t/BuzzForge/internal/resilience"
)

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Fatalf("unexpected auth: %q", auth)
		}

		var req litellm.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Model != "openai/gpt-4o-mini" {
			t.Fatalf("unexpected model: %s", req.Model)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Content != "write a hook" {
			t.Fatalf("unexpected messages: %+v", req.Messages)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Stop scrolling."}}]}`))
	}))
	defer srv.Close()

	g := litellm.NewGenerator(litellm.NewClient(srv.URL, "test-key"), "openai/gpt-4o-mini")
	out, err := g.Generate(context.Background(), backend.Request{System: "you write hooks", Prompt: "write a hook"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if out != "Stop scrolling." {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestGenerateOmitsEmptySystem(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req litellm.ChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
			t.Fatalf("expected a single user message, got %+v", req.Messages)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	g := litellm.NewGenerator(litellm.NewClient(srv.URL, ""), "m")
	if _, err := g.Generate(context.Background(), backend.Request{Prompt: "p"}); err != nil {
		t.Fatal(err)
	}
}

func TestGenerateBackendError(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"http 500", http.StatusInternalServerError, `{"error":"boom"}`},
		{"no choices", http.StatusOK, `{"choices":[]}`},
		{"bad json", http.StatusOK, `not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			g := litellm.NewGenerator(litellm.NewClient(srv.URL, ""), "m")
			_, err := g.Generate(context.Background(), backend.Request{Prompt: "p"})
			if !errors.Is(err, domain.ErrBackend) {
				t.Fatalf("expected ErrBackend, got %v", err)
			}
		})
	}
}

func TestGenerateHonoursDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	g := litellm.NewGenerator(litellm.NewClient(srv.URL, ""), "m")
	_, err := g.Generate(ctx, backend.Request{Prompt: "p"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := litellm.NewClient(srv.URL, "")
	c.SetBreaker(resilience.NewBreaker("litellm", 2, time.Minute))
	g := litellm.NewGenerator(c, "m")

	for range 3 {
		_, _ = g.Generate(context.Background(), backend.Request{Prompt: "p"})
	}
	if calls != 2 {
		t.Fatalf("expected breaker to stop the third call, got %d calls", calls)
	}
	_, err := g.Generate(context.Background(), backend.Request{Prompt: "p"})
	if !errors.Is(err, resilience.ErrCircuitOpen) || !errors.Is(err, domain.ErrBackend) {
		t.Fatalf("expected open-circuit backend error, got %v", err)
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health/liveliness" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`"I'm alive!"`))
	}))
	defer srv.Close()

	healthy, err := litellm.NewClient(srv.URL, "").Health(context.Background())
	if err != nil || !healthy {
		t.Fatalf("expected healthy, got %v %v", healthy, err)
	}
}

func TestRegister(t *testing.T) {
	litellm.Register()
	if _, err := backend.New("litellm", backend.Options{}); err == nil {
		t.Fatal("expected error without url")
	}
	g, err := backend.New("litellm", backend.Options{URL: "http://localhost:4000", Model: "m", BreakerMaxFailures: 3})
	if err != nil {
		t.Fatal(err)
	}
	if g.Name() != "litellm" {
		t.Fatalf("name = %s", g.Name())
	}
}
