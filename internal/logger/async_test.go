package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

// slowHandler counts records and optionally sleeps per record.
type slowHandler struct {
	mu     sync.Mutex
	levels []slog.Level
	delay  time.Duration
}

func (h *slowHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *slowHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	time.Sleep(h.delay)
	h.mu.Lock()
	h.levels = append(h.levels, rec.Level)
	h.mu.Unlock()
	return nil
}

func (h *slowHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *slowHandler) WithGroup(string) slog.Handler      { return h }

func (h *slowHandler) count(level slog.Level) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, l := range h.levels {
		if l == level {
			n++
		}
	}
	return n
}

// syncBuffer guards a bytes.Buffer shared by the async workers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) lines(t *testing.T) []map[string]any {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(b.buf.String()), "\n") {
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid JSON %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestAsyncHandlerKeepsDerivedAttrs(t *testing.T) {
	var buf syncBuffer
	ah := NewAsyncHandler(slog.NewJSONHandler(&buf, nil), 100, 2)
	log := slog.New(ah).With("service", "buzzforge-scheduler")

	log.WithGroup("run").Info("scored", "score", 82)
	log.Info("plain")
	ah.Close()

	lines := buf.lines(t)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	for _, m := range lines {
		if m["service"] != "buzzforge-scheduler" {
			t.Errorf("service attr lost: %v", m)
		}
	}
	var grouped map[string]any
	for _, m := range lines {
		if m["msg"] == "scored" {
			grouped, _ = m["run"].(map[string]any)
		}
	}
	if grouped == nil || grouped["score"] != float64(82) {
		t.Fatalf("group lost: %v", lines)
	}
}

func TestAsyncHandlerDropsOnlyBelowError(t *testing.T) {
	inner := &slowHandler{delay: 2 * time.Millisecond}
	ah := NewAsyncHandler(inner, 1, 1)

	for range 30 {
		_ = ah.Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelInfo, "flood", 0))
		_ = ah.Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelError, "failure", 0))
	}
	ah.Close()

	if ah.DroppedCount() == 0 {
		t.Fatal("expected info records to be dropped on a full buffer")
	}
	if got := inner.count(slog.LevelError); got != 30 {
		t.Fatalf("expected all 30 error records, got %d", got)
	}
	if got := inner.count(slog.LevelInfo) + int(ah.DroppedCount()); got != 30 {
		t.Fatalf("info written plus dropped = %d, want 30", got)
	}
}

func TestAsyncHandlerConcurrentFlush(t *testing.T) {
	inner := &slowHandler{}
	ah := NewAsyncHandler(inner, 10000, 4)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				_ = ah.Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelInfo, "tick", 0))
			}
		}()
	}
	wg.Wait()
	ah.Close()

	if got := inner.count(slog.LevelInfo); got != 5000 {
		t.Fatalf("expected 5000 records after close, got %d", got)
	}
}

func TestAsyncHandlerAfterClose(t *testing.T) {
	inner := &slowHandler{}
	ah := NewAsyncHandler(inner, 10, 0)
	derived := ah.WithAttrs([]slog.Attr{slog.String("k", "v")}).(*AsyncHandler)

	ah.Close()
	derived.Close()
	_ = derived.Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelWarn, "late", 0))

	if got := inner.count(slog.LevelWarn); got != 1 {
		t.Fatalf("expected the late record to be written synchronously, got %d", got)
	}
}
