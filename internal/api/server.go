// Package api exposes the daemon's control surface over HTTP: queue status,
// job listing, submission, and cancellation.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"lingopipe/internal/config"
	"lingopipe/internal/logging"
	"lingopipe/internal/services"
	"lingopipe/internal/store"
	"lingopipe/internal/workflow"
)

// Server binds the workflow manager to the local HTTP control socket.
type Server struct {
	cfg     *config.Config
	store   *store.Store
	manager *workflow.Manager
	logger  *slog.Logger

	httpServer *http.Server
}

// NewServer constructs the control API server.
func NewServer(cfg *config.Config, st *store.Store, manager *workflow.Manager, logger *slog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		store:   st,
		manager: manager,
		logger:  logging.NewComponentLogger(logger, "api"),
	}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("POST /api/jobs/{id}/cancel", s.handleCancelJob)
	mux.HandleFunc("GET /api/videos", s.handleListVideos)
	mux.HandleFunc("POST /api/videos/{id}/process", s.handleProcessVideo)
	return mux
}

// Start listens on the configured bind address and serves until the context
// is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Paths.APIBind)
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.cfg.Paths.APIBind, err)
	}
	s.logger.Info("api listening", logging.String("bind", listener.Addr().String()))

	serveErr := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api shutdown: %w", err)
	}
	return <-serveErr
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.manager.Health(r.Context())
	ready := true
	for _, health := range report {
		if !health.Ready {
			ready = false
			break
		}
	}
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, map[string]any{"ready": ready, "stages": report})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.manager.Status(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	var stages []store.Stage
	if raw := r.URL.Query().Get("stage"); raw != "" {
		parsed, ok := store.ParseStage(raw)
		if !ok {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unknown stage %q", raw)})
			return
		}
		stages = append(stages, parsed)
	}
	jobs, err := s.store.ListJobs(r.Context(), stages...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": jobViews(jobs)})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if job == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("job %d not found", id)})
		return
	}
	s.writeJSON(w, http.StatusOK, jobView(job))
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	cancelled, err := s.manager.Cancel(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"cancelled": cancelled})
}

func (s *Server) handleListVideos(w http.ResponseWriter, r *http.Request) {
	var statuses []store.VideoStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, ok := store.ParseVideoStatus(raw)
		if !ok {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unknown status %q", raw)})
			return
		}
		statuses = append(statuses, parsed)
	}
	videos, err := s.store.ListVideos(r.Context(), statuses...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"videos": videos})
}

func (s *Server) handleProcessVideo(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	job, err := s.manager.Submit(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, jobView(job))
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrAlreadyProcessing):
		status = http.StatusConflict
	case errors.Is(err, services.ErrValidation):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrConfiguration):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			logging.String("path", r.URL.Path),
			logging.Error(err),
		)
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

// JobView is the wire shape for a processing job.
type JobView struct {
	ID            int64  `json:"id"`
	VideoID       int64  `json:"video_id"`
	Stage         string `json:"stage"`
	Attempts      int    `json:"attempts"`
	ErrorMessage  string `json:"error_message,omitempty"`
	Retryable     bool   `json:"retryable"`
	ResumeStage   string `json:"resume_stage,omitempty"`
	CorrelationID string `json:"correlation_id"`
	StartedAt     string `json:"started_at,omitempty"`
	FinishedAt    string `json:"finished_at,omitempty"`
	CreatedAt     string `json:"created_at"`
}

func jobView(job *store.ProcessingJob) JobView {
	view := JobView{
		ID:            job.ID,
		VideoID:       job.VideoID,
		Stage:         string(job.Stage),
		Attempts:      job.Attempts,
		ErrorMessage:  job.ErrorMessage,
		Retryable:     job.Retryable,
		ResumeStage:   string(job.ResumeStage),
		CorrelationID: job.CorrelationID,
		CreatedAt:     job.CreatedAt.Format(time.RFC3339),
	}
	if job.StartedAt != nil {
		view.StartedAt = job.StartedAt.Format(time.RFC3339)
	}
	if job.FinishedAt != nil {
		view.FinishedAt = job.FinishedAt.Format(time.RFC3339)
	}
	return view
}

func jobViews(jobs []*store.ProcessingJob) []JobView {
	views := make([]JobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, jobView(job))
	}
	return views
}
