package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/Strob0t/BuzzForge/internal/config"
)

func TestNew(t *testing.T) {
	cfg := config.Logging{Level: "debug", Service: "test-svc"}
	l, closer := New(cfg)
	defer closer.Close()
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewAsync(t *testing.T) {
	cfg := config.Logging{Level: "debug", Service: "test-svc", Async: true}
	l, closer := New(cfg)
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
	closer.Close()
	closer.Close()
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"debug", "DEBUG"},
		{"info", "INFO"},
		{"warn", "WARN"},
		{"warning", "WARN"},
		{"error", "ERROR"},
		{"unknown", "INFO"},
		{"", "INFO"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseLevel(tt.input).String()
			if got != tt.want {
				t.Errorf("parseLevel(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()

	if got := RequestID(ctx); got != "" {
		t.Errorf("expected empty request ID, got %q", got)
	}

	ctx = WithRequestID(ctx, "req-123")
	if got := RequestID(ctx); got != "req-123" {
		t.Errorf("expected req-123, got %q", got)
	}
}

func TestLoggerAddsServiceAndRequestID(t *testing.T) {
	var buf bytes.Buffer
	l, closer := NewWithWriter(&buf, config.Logging{Level: "info", Service: "buzzforge-test"})
	defer closer.Close()

	l.InfoContext(WithRequestID(context.Background(), "abc"), "task submitted", "task_id", "t1")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if rec["service"] != "buzzforge-test" {
		t.Errorf("service = %v", rec["service"])
	}
	if rec["request_id"] != "abc" {
		t.Errorf("request_id = %v", rec["request_id"])
	}
	if rec["task_id"] != "t1" {
		t.Errorf("task_id = %v", rec["task_id"])
	}
}

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l, closer := NewWithWriter(&buf, config.Logging{Level: "warn", Service: "s"})
	defer closer.Close()

	l.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("expected info to be filtered, got %q", buf.String())
	}
	l.Warn("shown")
	if buf.Len() == 0 {
		t.Error("expected warn to be written")
	}
}

func TestContextAttrsThroughAsync(t *testing.T) {
	var buf syncBuffer
	l, closer := NewWithWriter(&buf, config.Logging{Level: "info", Service: "buzzforge-scheduler", Async: true})

	ctx := WithAttrs(context.Background(), "trigger", "daily_pipeline")
	ctx = WithAttrs(ctx, slog.String("run_id", "r1"))
	ctx = WithAttrs(ctx)
	l.InfoContext(ctx, "review scored", "score", 71)
	closer.Close()

	lines := buf.lines(t)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	rec := lines[0]
	for k, want := range map[string]any{
		"service": "buzzforge-scheduler",
		"trigger": "daily_pipeline",
		"run_id":  "r1",
		"score":   float64(71),
	} {
		if rec[k] != want {
			t.Errorf("%s = %v, want %v", k, rec[k], want)
		}
	}
}
