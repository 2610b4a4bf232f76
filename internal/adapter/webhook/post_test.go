package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestPostJSONSuccess(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %q", ct)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := PostJSON(context.Background(), NewClient(), "test", srv.URL, map[string]string{"text": "hi"}); err != nil {
		t.Fatalf("post: %v", err)
	}
	if got["text"] != "hi" {
		t.Fatalf("unexpected payload %v", got)
	}
}

func TestPostJSONRetriesShortRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0.01")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := PostJSON(context.Background(), NewClient(), "test", srv.URL, struct{}{}); err != nil {
		t.Fatalf("post: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
}

func TestPostJSONErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		retryAfter string
		wantCalls  int32
	}{
		{"server error", http.StatusInternalServerError, "", 1},
		{"long rate limit", http.StatusTooManyRequests, "60", 1},
		{"repeated rate limit", http.StatusTooManyRequests, "0", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("nope"))
			}))
			defer srv.Close()

			err := PostJSON(context.Background(), NewClient(), "test", srv.URL, struct{}{})
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *APIError, got %v", err)
			}
			if apiErr.Status != tt.status || apiErr.Body != "nope" {
				t.Fatalf("unexpected error %+v", apiErr)
			}
			if calls.Load() != tt.wantCalls {
				t.Fatalf("expected %d calls, got %d", tt.wantCalls, calls.Load())
			}
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := map[string]time.Duration{
		"":     0,
		"2":    2 * time.Second,
		"0.25": 250 * time.Millisecond,
		"-1":   0,
		"soon": 0,
	}
	for in, want := range tests {
		if got := parseRetryAfter(in); got != want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", in, got, want)
		}
	}
}
