package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/felixgeelhaar/assay/internal/assessment"
	"github.com/felixgeelhaar/assay/internal/config"
	"github.com/felixgeelhaar/assay/internal/domain"
	"github.com/felixgeelhaar/assay/internal/exercise"
	"github.com/felixgeelhaar/assay/internal/metrics"
	"github.com/felixgeelhaar/assay/internal/queue"
	"github.com/felixgeelhaar/fortify/ratelimit"
	"github.com/google/uuid"
)

// JobPublisher enqueues asynchronous assessments
type JobPublisher interface {
	PublishAssessJob(ctx context.Context, job *queue.AssessJob) error
}

// JobTracker follows enqueued jobs until their results arrive
type JobTracker interface {
	Track(job *queue.AssessJob)
	Forget(id uuid.UUID)
	Lookup(id uuid.UUID) (queue.JobState, bool)
}

// Server represents the assay daemon HTTP server
type Server struct {
	cfg     *config.LocalConfig
	server  *http.Server
	router  *http.ServeMux
	handler http.Handler
	version string

	// Services
	registry   *exercise.Registry
	assessor   *assessment.Service
	metrics    *metrics.Metrics
	jobs       JobPublisher // nil when the queue is disabled
	tracker    JobTracker
	cacheOn    bool
	maxBody    int64
	rateLimits ratelimit.RateLimiter
}

// ServerConfig holds configuration for creating a new server
type ServerConfig struct {
	Config     *config.LocalConfig
	Registry   *exercise.Registry
	Assessment *assessment.Service
	Metrics    *metrics.Metrics
	Jobs       JobPublisher
	Tracker    JobTracker
	CacheOn    bool
	Version    string
}

// NewServer creates a new daemon server
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Config == nil {
		return nil, errors.New("daemon: config required")
	}
	if cfg.Registry == nil || cfg.Assessment == nil {
		return nil, errors.New("daemon: exercise registry and assessment service required")
	}

	s := &Server{
		cfg:      cfg.Config,
		router:   http.NewServeMux(),
		version:  cfg.Version,
		registry: cfg.Registry,
		assessor: cfg.Assessment,
		metrics:  cfg.Metrics,
		jobs:     cfg.Jobs,
		tracker:  cfg.Tracker,
		cacheOn:  cfg.CacheOn,
		maxBody:  int64(cfg.Config.Matcher.MaxInputBytes) + 64<<10,
	}
	if s.version == "" {
		s.version = "dev"
	}

	rate := cfg.Config.Limits.RequestsPerSecond
	if rate <= 0 {
		rate = 20
	}
	s.rateLimits = ratelimit.New(&ratelimit.Config{
		Rate:     rate,
		Burst:    rate * 2,
		Interval: time.Second,
	})

	s.setupRoutes()

	// recovery → correlation id → logging → metrics → rate limit → routes
	s.handler = recoveryMiddleware(
		correlationIDMiddleware(
			loggingMiddleware(
				metricsMiddleware(s.metrics,
					rateLimitMiddleware(s.rateLimits, s.metrics, s.router)))))

	addr := fmt.Sprintf("%s:%d", cfg.Config.Daemon.Bind, cfg.Config.Daemon.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	// Health & status
	s.router.HandleFunc("GET /v1/health", s.handleHealth)
	s.router.HandleFunc("GET /v1/status", s.handleStatus)

	// Exercises
	s.router.HandleFunc("GET /v1/exercises", s.handleListExercises)
	s.router.HandleFunc("GET /v1/exercises/{pack}", s.handleListPackExercises)
	s.router.HandleFunc("GET /v1/exercises/{pack}/{slug...}", s.handleGetExercise)

	// Assessment
	s.router.HandleFunc("POST /v1/assess", s.handleAssess)
	s.router.HandleFunc("POST /v1/synthesize", s.handleSynthesize)
	s.router.HandleFunc("POST /v1/jobs", s.handleEnqueue)
	s.router.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)

	// History
	s.router.HandleFunc("GET /v1/assessments", s.handleListAssessments)
	s.router.HandleFunc("GET /v1/assessments/summary", s.handleSummary)
	s.router.HandleFunc("GET /v1/assessments/{id}", s.handleGetAssessment)

	// Metrics
	s.router.Handle("GET /metrics", s.metrics.Handler())
}

// Handler returns the full middleware chain, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr returns the configured listen address
func (s *Server) Addr() string {
	return s.server.Addr
}

// Start starts the HTTP server
func (s *Server) Start() error {
	slog.Info("starting assay daemon",
		"addr", s.server.Addr,
		"version", s.version,
		"storage", s.cfg.Storage.Driver,
		"queue", s.jobs != nil,
		"cache", s.cacheOn,
	)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down daemon...")
	return s.server.Shutdown(ctx)
}

// Helper methods

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, data)
}

func (s *Server) jsonError(w http.ResponseWriter, status int, message string, err error) {
	writeError(w, status, message, err)
}

// domainError maps service errors onto HTTP statuses
func (s *Server) domainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		s.jsonError(w, http.StatusBadRequest, "invalid request", err)
	case errors.Is(err, domain.ErrExerciseNotFound):
		s.jsonError(w, http.StatusNotFound, "exercise not found", err)
	case errors.Is(err, domain.ErrExercisePackNotFound):
		s.jsonError(w, http.StatusNotFound, "pack not found", err)
	case errors.Is(err, domain.ErrJobNotFound):
		s.jsonError(w, http.StatusNotFound, "job not found", err)
	case errors.Is(err, domain.ErrAssessmentNotFound), errors.Is(err, domain.ErrNotFound):
		s.jsonError(w, http.StatusNotFound, "assessment not found", err)
	case errors.Is(err, domain.ErrOverloaded), errors.Is(err, domain.ErrQueueDisabled):
		s.jsonError(w, http.StatusServiceUnavailable, "service unavailable", err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		s.jsonError(w, http.StatusServiceUnavailable, "request cancelled", err)
	default:
		s.jsonError(w, http.StatusInternalServerError, "internal error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]any{
		"error":  message,
		"status": status,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	writeJSON(w, status, response)
}
