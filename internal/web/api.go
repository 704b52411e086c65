package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/mtzanidakis/orca/internal/events"
	"github.com/mtzanidakis/orca/internal/workflow"
)

func (s *Server) registerAPI(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/status", s.getStatus)
	mux.HandleFunc("GET /api/health", s.getHealth)

	// Workflows
	mux.HandleFunc("GET /api/workflows", s.listWorkflows)
	mux.HandleFunc("POST /api/workflows/{name}/run", s.startWorkflow)
	mux.HandleFunc("GET /api/workflows/{name}/stream", s.streamWorkflow)
	mux.HandleFunc("POST /api/workflows/{name}/stream", s.streamWorkflow)

	// History
	mux.HandleFunc("GET /api/runs", s.listRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.getRun)
	mux.HandleFunc("GET /api/schedules", s.listSchedules)
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":    "ok",
		"workflows": len(s.runner.Catalog().Names()),
		"uptime":    formatUptime(time.Since(s.startedAt)),
		"nats":      s.nats != nil,
		"timestamp": time.Now().UTC(),
		"version":   s.version,
	}
	if s.health != nil {
		status["health"] = s.health.Snapshot().Status
	}
	jsonResponse(w, status)
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		jsonError(w, "health reporting unavailable", http.StatusServiceUnavailable)
		return
	}
	jsonResponse(w, s.health.Snapshot())
}

func (s *Server) listWorkflows(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, map[string]any{"workflows": s.runner.Catalog().Summary()})
}

func (s *Server) startWorkflow(w http.ResponseWriter, r *http.Request) {
	runID, err := s.runner.Start(r.Context(), r.PathValue("name"))
	if errors.Is(err, workflow.ErrWorkflowNotFound) {
		jsonError(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"runId": runID})
}

// streamWorkflow runs a workflow for the lifetime of the request and writes
// its events as server-sent events.
func (s *Server) streamWorkflow(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, ok := s.runner.Catalog().Get(name); !ok {
		jsonError(w, fmt.Sprintf("%s: %s", workflow.ErrWorkflowNotFound, name), http.StatusNotFound)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		jsonError(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	write := func(ev events.Event) {
		frame, err := events.EncodeSSE(ev)
		if err != nil {
			slog.Warn("encode sse frame", "type", ev.Type, "error", err)
			return
		}
		if _, err := w.Write(frame); err != nil {
			return
		}
		flusher.Flush()
	}

	if _, err := s.runner.Run(r.Context(), name, write); err != nil {
		write(events.Event{Type: events.Error, Data: events.ErrorData{Message: err.Error()}})
		write(events.Event{Type: events.End})
	}
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		jsonError(w, "run history unavailable", http.StatusServiceUnavailable)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			jsonError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	runs, err := s.store.ListRuns(limit)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]any{"runs": runs})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		jsonError(w, "run history unavailable", http.StatusServiceUnavailable)
		return
	}
	id := r.PathValue("id")
	run, err := s.store.GetRun(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		jsonError(w, "run not found", http.StatusNotFound)
		return
	}
	steps, err := s.store.ListSteps(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]any{"run": run, "steps": steps})
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		jsonError(w, "schedules unavailable", http.StatusServiceUnavailable)
		return
	}
	schedules, err := s.store.ListSchedules()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]any{"schedules": schedules})
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
