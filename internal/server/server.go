// Package server exposes the job submission, status, metrics, and source
// catalog endpoints over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"gridflow/internal/coordinator"
	"gridflow/internal/etl"
	"gridflow/internal/queue"
)

type Config struct {
	Port string
}

type Server struct {
	config      Config
	coordinator *coordinator.Coordinator
	server      *http.Server
}

func New(config Config, coord *coordinator.Coordinator) *Server {
	if config.Port == "" {
		config.Port = "8080"
	}
	return &Server{config: config, coordinator: coord}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/jobs", s.handleStartJob)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleJobStatus)
	mux.HandleFunc("GET /api/jobs/{id}/metrics", s.handleJobMetrics)
	mux.HandleFunc("GET /api/metrics", s.handleAggregateMetrics)
	mux.HandleFunc("GET /api/sources", s.handleSources)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:    ":" + s.config.Port,
		Handler: s.Handler(),
	}

	go func() {
		slog.Info("API server starting", "port", s.config.Port)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server error", "error", err)
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	var req coordinator.JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := s.coordinator.StartJob(r.Context(), req)
	if err != nil {
		if etl.IsConfiguration(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("Failed to start job", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to start job")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"jobId":  job.JobID,
		"status": job.Status,
	})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	job, err := s.coordinator.JobStatus(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown job")
			return
		}
		slog.Error("Failed to read job status", "job_id", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read job status")
		return
	}

	resp := map[string]any{
		"jobId":     job.JobID,
		"status":    job.Status,
		"startTime": job.StartTime,
	}
	if job.CompletedTime != nil {
		resp["completedTime"] = job.CompletedTime
	}
	if job.Metrics != nil {
		resp["metrics"] = job.Metrics
	}
	if stats, ok := s.coordinator.JobStats(jobID); ok {
		resp["stats"] = stats
	}
	if job.Error != "" {
		resp["error"] = job.Error
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleJobMetrics(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	job, err := s.coordinator.JobStatus(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown job")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to read job status")
		return
	}
	if job.Metrics == nil {
		writeJSON(w, http.StatusOK, etl.MetricsSnapshot{})
		return
	}
	writeJSON(w, http.StatusOK, job.Metrics)
}

func (s *Server) handleAggregateMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coordinator.AggregateMetrics())
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	type sourceInfo struct {
		ID              string `json:"id"`
		Name            string `json:"name"`
		Type            string `json:"type"`
		Description     string `json:"description,omitempty"`
		UpdateFrequency string `json:"updateFrequency,omitempty"`
	}
	srcs := s.coordinator.AvailableSources()
	out := make([]sourceInfo, 0, len(srcs))
	for _, src := range srcs {
		out = append(out, sourceInfo{
			ID:              src.ID,
			Name:            src.Name,
			Type:            string(src.Type),
			Description:     src.Description,
			UpdateFrequency: src.UpdateFrequency,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
