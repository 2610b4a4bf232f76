// Package a2a implements the task protocol every agent runtime exposes: the
// agent card, task submission, polling and cancellation over HTTP, plus the
// client the coordinator uses to call remote agents.
package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/BuzzForge/internal/domain"
	"github.com/Strob0t/BuzzForge/internal/domain/agent"
	"github.com/Strob0t/BuzzForge/internal/domain/task"
)

// Protocol paths.
const (
	PathAgentCard        = "/.well-known/agent.json"
	PathCapabilities     = "/well-known-capabilities"
	PathSendTask         = "/a2a/tasks/send"
	PathTasks            = "/a2a/tasks"
	PathHealth           = "/health"

	// Unprefixed aliases of the task routes.
	pathSendTaskAlias = "/tasks/send"
	pathTasksAlias    = "/tasks"
	maxRequestBody int64 = 4 << 20
)

// TaskService is the runtime behind the protocol endpoints.
type TaskService interface {
	Submit(ctx context.Context, req task.SendRequest) (*task.Task, error)
	Get(ctx context.Context, id string) (*task.Task, error)
	Cancel(ctx context.Context, id string) (*task.Task, error)
}

// Handler serves the A2A protocol endpoints.
type Handler struct {
	card  agent.Card
	tasks TaskService
}

// NewHandler creates an A2A handler for one agent runtime.
func NewHandler(card agent.Card, tasks TaskService) *Handler {
	return &Handler{card: card, tasks: tasks}
}

// MountRoutes registers A2A routes on the given chi router. submit wraps the
// task submission route (rate limiting); nil leaves it bare.
func (h *Handler) MountRoutes(r chi.Router, submit func(http.Handler) http.Handler) {
	r.Get(PathAgentCard, h.handleAgentCard)
	r.Get(PathCapabilities, h.handleAgentCard)
	r.Get(PathHealth, h.handleHealth)

	send := http.Handler(http.HandlerFunc(h.handleSendTask))
	if submit != nil {
		send = submit(send)
	}
	for _, p := range [][2]string{{PathSendTask, PathTasks}, {pathSendTaskAlias, pathTasksAlias}} {
		r.Method(http.MethodPost, p[0], send)
		r.Get(p[1]+"/{id}", h.handleGetTask)
		r.Post(p[1]+"/{id}/cancel", h.handleCancelTask)
	}
}

func (h *Handler) handleAgentCard(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.card)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "agent": h.card.Name})
}

func (h *Handler) handleSendTask(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	var req task.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	t, err := h.tasks.Submit(r.Context(), req)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.tasks.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.tasks.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("a2a: failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeTaskError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "task not found")
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		slog.Error("a2a: request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
