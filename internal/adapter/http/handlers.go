package http

import (
	"context"
	"net/http"
	"time"

	"github.com/Strob0t/BuzzForge/internal/domain/buzz"
	"github.com/Strob0t/BuzzForge/internal/domain/pipeline"
	"github.com/Strob0t/BuzzForge/internal/domain/schedule"
	"github.com/Strob0t/BuzzForge/internal/service"
)

// Scheduler is the trigger and quota surface of the scheduler.
type Scheduler interface {
	Status() schedule.State
	Check(ctx context.Context, name string) (service.FireResult, error)
	StartTheme(ctx context.Context, theme, templateID string) (string, error)
}

// Pipelines reads stored pipeline runs.
type Pipelines interface {
	Get(ctx context.Context, id string) (*pipeline.Run, error)
	List(ctx context.Context, limit int) ([]pipeline.Run, error)
	Templates() []string
}

// Buzz reads monitored entities and flagged events.
type Buzz interface {
	Entities(ctx context.Context) ([]buzz.Entity, error)
	Recent(ctx context.Context, since time.Time, limit int) ([]buzz.Event, error)
}

// AgentDirectory discovers the configured agents.
type AgentDirectory interface {
	Discover(ctx context.Context) []service.AgentStatus
}

// QueueStatus reports the message queue connection.
type QueueStatus interface {
	IsConnected() bool
}

// LiveFeed serves the WebSocket event stream.
type LiveFeed interface {
	HandleWS(w http.ResponseWriter, r *http.Request)
}

// Handlers holds the services behind the ops API.
type Handlers struct {
	Scheduler Scheduler
	Pipelines Pipelines
	Buzz      Buzz
	Agents    AgentDirectory
	Live      LiveFeed
	Queue     QueueStatus // nil when no queue is configured
	Metrics   http.Handler
	Version   string
	Now       func() time.Time
}

func (h *Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// --- Scheduler ---

// SchedulerStatus handles GET /api/v1/scheduler/status
func (h *Handlers) SchedulerStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Scheduler.Status())
}

// FireTrigger handles POST /api/v1/scheduler/triggers/{name}
// The job runs to completion before the response; a job that is still
// running from an earlier firing is reported as skipped.
func (h *Handlers) FireTrigger(w http.ResponseWriter, r *http.Request) {
	name := urlParam(r, "name")
	res, err := h.Scheduler.Check(r.Context(), name)
	if err != nil {
		writeDomainError(w, err, "trigger not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- Pipelines ---

// StartPipelineRequest is the body of POST /api/v1/pipelines.
type StartPipelineRequest struct {
	Theme      string `json:"theme"`
	TemplateID string `json:"template_id,omitempty"`
}

// StartPipelineResponse acknowledges a started run.
type StartPipelineResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// StartPipeline handles POST /api/v1/pipelines
func (h *Handlers) StartPipeline(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[StartPipelineRequest](w, r, maxBodySize)
	if !ok {
		return
	}
	if !requireField(w, req.Theme, "theme") {
		return
	}
	id, err := h.Scheduler.StartTheme(r.Context(), req.Theme, req.TemplateID)
	if err != nil {
		writeDomainError(w, err, "template not found")
		return
	}
	w.Header().Set("Location", "/api/v1/pipelines/"+id)
	writeJSON(w, http.StatusAccepted, StartPipelineResponse{ID: id, Status: string(pipeline.StatusRunning)})
}

// GetPipeline handles GET /api/v1/pipelines/{id}
func (h *Handlers) GetPipeline(w http.ResponseWriter, r *http.Request) {
	run, err := h.Pipelines.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "pipeline run not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// ListPipelines handles GET /api/v1/pipelines
func (h *Handlers) ListPipelines(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Pipelines.List(r.Context(), queryLimit(r))
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if runs == nil {
		runs = []pipeline.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// ListTemplates handles GET /api/v1/templates
func (h *Handlers) ListTemplates(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Pipelines.Templates())
}

// --- Buzz ---

// ListEntities handles GET /api/v1/entities
func (h *Handlers) ListEntities(w http.ResponseWriter, r *http.Request) {
	entities, err := h.Buzz.Entities(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if entities == nil {
		entities = []buzz.Entity{}
	}
	writeJSON(w, http.StatusOK, entities)
}

// ListBuzz handles GET /api/v1/buzz?since=24h&limit=N
func (h *Handlers) ListBuzz(w http.ResponseWriter, r *http.Request) {
	since, ok := querySince(r, h.now(), 24*time.Hour)
	if !ok {
		writeError(w, http.StatusBadRequest, "since must be a duration or an RFC 3339 time")
		return
	}
	events, err := h.Buzz.Recent(r.Context(), since, queryLimit(r))
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if events == nil {
		events = []buzz.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// --- Agents ---

// ListAgents handles GET /api/v1/agents
// Unreachable agents are listed with their error rather than failing the call.
func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Agents.Discover(r.Context()))
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status           string `json:"status"`
	SchedulerRunning bool   `json:"scheduler_running"`
	Queue            string `json:"queue"`
}

// Health handles GET /health
// A lost queue connection reports degraded; runs continue without events.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{Status: "ok", SchedulerRunning: h.Scheduler.Status().Running, Queue: "disabled"}
	if h.Queue != nil {
		resp.Queue = "connected"
		if !h.Queue.IsConnected() {
			resp.Queue = "disconnected"
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
