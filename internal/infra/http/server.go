package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"appforge/internal/config"
	"appforge/internal/domain"
	"appforge/internal/domain/model"
	"appforge/internal/domain/ports/repository"
	"appforge/internal/infra/progress"
)

// Server exposes the orchestrator's read-only surface: health, metrics and
// the per-project progress stream. All write paths go through the job queue.
type Server struct {
	cfg      config.HTTPConfig
	bus      *progress.Broadcaster
	projects repository.ProjectRepository
	log      *zerolog.Logger
	server   *http.Server
}

func NewServer(cfg config.HTTPConfig, bus *progress.Broadcaster, projects repository.ProjectRepository, log *zerolog.Logger) *Server {
	return &Server{cfg: cfg, bus: bus, projects: projects, log: log}
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/projects/{projectID}/status", s.handleProjectStatus)
	r.Get("/projects/{projectID}/events", s.handleProjectEvents)
	return r
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.log.Info().Int("port", s.cfg.Port).Msg("http server listening")
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// handleProjectStatus serves the authoritative state a client re-syncs from,
// since progress events are transient and never replayed.
func (s *Server) handleProjectStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "projectID")
	p, err := s.projects.FindByID(r.Context(), nil, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "project not found", http.StatusNotFound)
			return
		}
		s.log.Error().Err(err).Str("project_id", id).Msg("loading project status")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":   p.Status,
		"progress": p.BuildProgress,
		"stage":    p.CurrentStage,
		"url":      p.DeploymentURL,
		"error":    p.ErrorMessage,
	})
}

// handleProjectEvents streams progress events over SSE until the client
// disconnects. No replay: the client is expected to hit /status first.
func (s *Server) handleProjectEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	id := chi.URLParam(r, "projectID")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	events := make(chan model.ProgressEvent)
	unsubscribe := s.bus.Subscribe(id, func(ev model.ProgressEvent) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	})
	defer unsubscribe()

	// Heartbeat keeps intermediaries from closing an idle stream.
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case ev := <-events:
			b, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", b)
			flusher.Flush()
		}
	}
}
