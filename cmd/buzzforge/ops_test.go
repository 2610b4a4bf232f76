package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Strob0t/BuzzForge/internal/domain/pipeline"
	"github.com/Strob0t/BuzzForge/internal/domain/schedule"
	"github.com/Strob0t/BuzzForge/internal/service"
)

func TestOpsClientDecodesAndReportsErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v1/scheduler/triggers/buzz_check":
			if r.Method != http.MethodPost {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			_ = json.NewEncoder(w).Encode(service.FireResult{Trigger: "buzz_check", Manual: true, Duration: time.Second})
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"trigger not found"}`))
		}
	}))
	defer srv.Close()

	c := newOpsClient(srv.URL+"/", time.Second)
	var res service.FireResult
	if err := c.do(context.Background(), http.MethodPost, "/api/v1/scheduler/triggers/buzz_check", &res); err != nil {
		t.Fatalf("do: %v", err)
	}
	if res.Trigger != "buzz_check" || !res.Manual {
		t.Fatalf("unexpected result %+v", res)
	}

	err := c.do(context.Background(), http.MethodPost, "/api/v1/scheduler/triggers/nope", &res)
	if err == nil || !strings.Contains(err.Error(), "trigger not found") || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected a 404 error carrying the message, got %v", err)
	}
}

func TestPrintStatus(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	st := schedule.State{
		Running:   true,
		Location:  "UTC",
		Quota:     schedule.Quota{Limit: 5},
		Remaining: 3,
		Triggers: []schedule.TriggerStatus{
			{Name: schedule.TriggerBuzzCheck, Spec: "every 30m", NextFireAt: now.Add(30 * time.Minute), Fired: 4, Failed: 1, LastError: "collector unreachable"},
			{Name: schedule.TriggerDailyPipeline, Spec: "daily 06:00", Running: true},
		},
	}
	run := pipeline.NewRun("0123456789abcdef", "standing desks", "single-draft", pipeline.DefaultPolicy(), now)
	run.Status = pipeline.StatusAccepted

	var buf bytes.Buffer
	printStatus(&buf, &st, []pipeline.Run{*run}, now)
	out := buf.String()

	for _, want := range []string{
		"Scheduler running (UTC), quota 2/5 used, 3 remaining",
		"buzz_check",
		"(in 30m0s)",
		"collector unreachable",
		"daily_pipeline",
		"01234567",
		"accepted",
		"standing desks",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatHelpers(t *testing.T) {
	if got := formatScores(nil); got != "-" {
		t.Errorf("formatScores(nil) = %q", got)
	}
	if got := formatScores([]float64{62, 71.4, 88}); got != "62→71→88" {
		t.Errorf("formatScores = %q", got)
	}
	if got := truncate("abcdefghij", 6); got != "abc..." {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate = %q", got)
	}
	if got := shortID("abc"); got != "abc" {
		t.Errorf("shortID = %q", got)
	}
}

func TestRunUnknownCommand(t *testing.T) {
	if err := run([]string{"frobnicate"}); err == nil {
		t.Fatal("expected an error for an unknown command")
	}
}
