package mcp_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	bfmcp "github.com/Strob0t/BuzzForge/internal/adapter/mcp"
	"github.com/Strob0t/BuzzForge/internal/domain"
	"github.com/Strob0t/BuzzForge/internal/domain/pipeline"
	"github.com/Strob0t/BuzzForge/internal/domain/schedule"
	"github.com/Strob0t/BuzzForge/internal/service"
)

// --- Mocks ---

type mockScheduler struct {
	state    schedule.State
	checked  []string
	themes   []string
	startErr error
}

func (m *mockScheduler) Status() schedule.State { return m.state }

func (m *mockScheduler) Check(_ context.Context, name string) (service.FireResult, error) {
	m.checked = append(m.checked, name)
	if _, ok := m.state.Trigger(name); !ok {
		return service.FireResult{}, fmt.Errorf("trigger %q: %w", name, domain.ErrNotFound)
	}
	return service.FireResult{Trigger: name, Manual: true}, nil
}

func (m *mockScheduler) StartTheme(_ context.Context, theme, _ string) (string, error) {
	if m.startErr != nil {
		return "", m.startErr
	}
	m.themes = append(m.themes, theme)
	return "run-1", nil
}

type mockRuns struct {
	runs map[string]*pipeline.Run
}

func (m *mockRuns) Get(_ context.Context, id string) (*pipeline.Run, error) {
	if r, ok := m.runs[id]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("run %s: %w", id, domain.ErrNotFound)
}

func (m *mockRuns) List(_ context.Context, _ int) ([]pipeline.Run, error) {
	out := make([]pipeline.Run, 0, len(m.runs))
	for _, r := range m.runs {
		out = append(out, *r)
	}
	return out, nil
}

func newTestServer() (*bfmcp.Server, *mockScheduler) {
	sched := &mockScheduler{state: schedule.State{
		Running:   true,
		Quota:     schedule.Quota{Limit: 3},
		Remaining: 3,
		Triggers:  []schedule.TriggerStatus{{Name: schedule.TriggerBuzzCheck}, {Name: schedule.TriggerDailyPipeline}},
	}}
	run := pipeline.NewRun("run-abc", "desk setups", "single-draft", pipeline.DefaultPolicy(), time.Now())
	deps := bfmcp.ServerDeps{Scheduler: sched, Runs: &mockRuns{runs: map[string]*pipeline.Run{"run-abc": run}}}
	return bfmcp.NewServer(bfmcp.ServerConfig{Name: "test", Version: "0.1.0"}, deps), sched
}

func callTool(t *testing.T, s *bfmcp.Server, name string, args map[string]any) *mcplib.CallToolResult {
	t.Helper()
	tool, ok := s.MCPServer().ListTools()[name]
	if !ok {
		t.Fatalf("%s tool not found", name)
	}
	result, err := tool.Handler(context.Background(), mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: name, Arguments: args},
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	return result
}

func resultText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	if result.IsError {
		t.Fatalf("tool returned error: %v", result.Content)
	}
	text, ok := result.Content[0].(mcplib.TextContent)
	if !ok {
		t.Fatal("expected TextContent")
	}
	return text.Text
}

// --- Tests ---

func TestToolRegistration(t *testing.T) {
	s, _ := newTestServer()
	tools := s.MCPServer().ListTools()
	expected := map[string]bool{
		"scheduler_status": false,
		"trigger_check":    false,
		"run_pipeline":     false,
		"get_pipeline_run": false,
	}
	if len(tools) != len(expected) {
		t.Fatalf("expected %d tools, got %d", len(expected), len(tools))
	}
	for name := range tools {
		if _, ok := expected[name]; !ok {
			t.Errorf("unexpected tool: %s", name)
		}
		expected[name] = true
	}
	for name, found := range expected {
		if !found {
			t.Errorf("expected tool %q not registered", name)
		}
	}
}

func TestSchedulerStatusTool(t *testing.T) {
	s, _ := newTestServer()
	var st schedule.State
	if err := json.Unmarshal([]byte(resultText(t, callTool(t, s, "scheduler_status", nil))), &st); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !st.Running || st.Remaining != 3 || len(st.Triggers) != 2 {
		t.Fatalf("unexpected state %+v", st)
	}
}

func TestTriggerCheckTool(t *testing.T) {
	s, sched := newTestServer()

	resultText(t, callTool(t, s, "trigger_check", nil))
	resultText(t, callTool(t, s, "trigger_check", map[string]any{"trigger": schedule.TriggerDailyPipeline}))
	if len(sched.checked) != 2 || sched.checked[0] != schedule.TriggerBuzzCheck || sched.checked[1] != schedule.TriggerDailyPipeline {
		t.Fatalf("unexpected checks %v", sched.checked)
	}

	if res := callTool(t, s, "trigger_check", map[string]any{"trigger": "nope"}); !res.IsError {
		t.Fatal("expected an error result for an unknown trigger")
	}
}

func TestRunPipelineTool(t *testing.T) {
	s, sched := newTestServer()

	var out map[string]string
	if err := json.Unmarshal([]byte(resultText(t, callTool(t, s, "run_pipeline", map[string]any{"theme": "cold plunges"}))), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["run_id"] != "run-1" || len(sched.themes) != 1 {
		t.Fatalf("unexpected result %v themes %v", out, sched.themes)
	}

	if res := callTool(t, s, "run_pipeline", nil); !res.IsError {
		t.Fatal("expected an error result for a missing theme")
	}

	sched.startErr = domain.ErrQuotaExceeded
	if res := callTool(t, s, "run_pipeline", map[string]any{"theme": "x"}); !res.IsError {
		t.Fatal("expected an error result once the quota is used")
	}
}

func TestGetPipelineRunTool(t *testing.T) {
	s, _ := newTestServer()

	var r pipeline.Run
	if err := json.Unmarshal([]byte(resultText(t, callTool(t, s, "get_pipeline_run", map[string]any{"run_id": "run-abc"}))), &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if r.Status != pipeline.StatusRunning || r.Theme != "desk setups" {
		t.Fatalf("unexpected run %+v", r)
	}

	if res := callTool(t, s, "get_pipeline_run", nil); !res.IsError {
		t.Fatal("expected error result for missing run_id")
	}
	if res := callTool(t, s, "get_pipeline_run", map[string]any{"run_id": "missing"}); !res.IsError {
		t.Fatal("expected error result for an unknown run")
	}
}

func TestHandleNilDeps(t *testing.T) {
	s := bfmcp.NewServer(bfmcp.ServerConfig{Name: "test", Version: "0.1.0"}, bfmcp.ServerDeps{})
	for _, name := range []string{"scheduler_status", "trigger_check", "run_pipeline", "get_pipeline_run"} {
		if res := callTool(t, s, name, map[string]any{"theme": "x", "run_id": "y"}); !res.IsError {
			t.Errorf("%s: expected error result when deps are nil", name)
		}
	}
}

func TestServerStartStop(t *testing.T) {
	s := bfmcp.NewServer(bfmcp.ServerConfig{Addr: "127.0.0.1:0", Name: "test", Version: "0.1.0"}, bfmcp.ServerDeps{})
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestAuthMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	tests := []struct {
		name   string
		key    string
		header string
		want   int
	}{
		{"disabled", "", "", http.StatusNoContent},
		{"missing", "secret", "", http.StatusUnauthorized},
		{"bearer", "secret", "Bearer secret", http.StatusNoContent},
		{"bare", "secret", "secret", http.StatusNoContent},
		{"wrong", "secret", "Bearer nope", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, bfmcp.EndpointPath, http.NoBody)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			bfmcp.AuthMiddleware(tt.key, ok).ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}
