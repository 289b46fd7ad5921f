package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/felixgeelhaar/assay/internal/assessment"
	"github.com/felixgeelhaar/assay/internal/cache"
	"github.com/felixgeelhaar/assay/internal/config"
	"github.com/felixgeelhaar/assay/internal/daemon"
	"github.com/felixgeelhaar/assay/internal/exercise"
	"github.com/felixgeelhaar/assay/internal/grading"
	"github.com/felixgeelhaar/assay/internal/matcher"
	"github.com/felixgeelhaar/assay/internal/metrics"
	"github.com/felixgeelhaar/assay/internal/queue"
	"github.com/felixgeelhaar/assay/internal/storage"
)

// Version is set at build time via ldflags
var Version = "dev"

const (
	pidFileName = "assayd.pid"
	logFileName = "assayd.log"
)

func main() {
	if err := run(); err != nil {
		slog.Error("daemon error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	assayDir, err := config.EnsureAssayDir()
	if err != nil {
		return fmt.Errorf("ensure assay dir: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logFile, err := setupLogging(assayDir, parseLogLevel(cfg.Daemon.LogLevel))
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer logFile.Close()

	pidPath := filepath.Join(assayDir, pidFileName)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := matcher.New(matcher.Config{
		MaxPatternLength: cfg.Matcher.MaxPatternLength,
		MaxInputBytes:    cfg.Matcher.MaxInputBytes,
		CacheSize:        cfg.Matcher.CacheSize,
	})

	exercisePath, err := resolveExercisePath(cfg.ExercisesPath)
	if err != nil {
		return err
	}
	registry := exercise.NewRegistry(exercise.NewLoader(exercisePath, exercise.WithPatternCheck(m)))
	if err := registry.Load(); err != nil {
		return fmt.Errorf("load exercises from %s: %w", exercisePath, err)
	}
	stats := registry.Stats()
	slog.Info("exercises loaded", "path", exercisePath, "packs", stats.PackCount, "exercises", stats.ExerciseCount)

	collectors := metrics.New()
	service := assessment.NewService(registry, grading.New(grading.WithMatcher(m)), nil, assessment.Config{
		MaxConcurrent: cfg.Limits.MaxConcurrentAssessments,
	})
	service.SetRecorder(collectors)

	backend, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer backend.Close()
	if backend.Store != nil {
		service.SetStore(backend.Store)
	}
	if backend.Events != nil {
		service.SetEvents(backend.Events)
	}

	var reports purger
	if cfg.Cache.Enabled {
		rc, err := cache.New(ctx, cache.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
			TTL:      time.Duration(cfg.Cache.TTLSeconds) * time.Second,
		})
		if err != nil {
			// The daemon serves without a cache rather than not at all
			slog.Warn("report cache disabled", "addr", cfg.Cache.RedisAddr, "error", err)
		} else {
			defer rc.Close()
			service.SetCache(rc)
			reports = rc
		}
	}

	// Background maintenance stops before the cache and backend close
	var maintenance sync.WaitGroup
	maintenanceCtx, stopMaintenance := context.WithCancel(ctx)
	defer func() {
		stopMaintenance()
		maintenance.Wait()
	}()
	maintenance.Go(func() { watchHangup(maintenanceCtx, registry, reports) })
	if days := cfg.Storage.RetentionDays; days > 0 && backend.Store != nil {
		retention := time.Duration(days) * 24 * time.Hour
		maintenance.Go(func() { runRetention(maintenanceCtx, backend, retention, retentionInterval) })
	}

	var (
		jobs    daemon.JobPublisher
		tracker daemon.JobTracker
	)
	if cfg.Queue.Enabled {
		conn, err := queue.NewConnection(ctx, cfg.Queue.URL)
		if err != nil {
			return fmt.Errorf("connect to queue: %w", err)
		}
		defer conn.Close()

		consumer := queue.NewConsumer(conn, assessHandler(service), queue.ConsumerConfig{
			Workers:  cfg.Queue.Workers,
			Prefetch: cfg.Queue.Prefetch,
		})
		consumer.SetRecorder(collectors)
		if err := consumer.Start(ctx); err != nil {
			return fmt.Errorf("start queue consumer: %w", err)
		}
		defer consumer.Stop()

		results := queue.NewResultConsumer(conn)
		if err := results.Start(ctx); err != nil {
			return fmt.Errorf("start result consumer: %w", err)
		}
		defer results.Stop()

		jobs = queue.NewProducer(conn)
		tracker = queue.NewTracker(results, cfg.Queue.TrackedJobs)
	}

	server, err := daemon.NewServer(daemon.ServerConfig{
		Config:     cfg,
		Registry:   registry,
		Assessment: service,
		Metrics:    collectors,
		Jobs:       jobs,
		Tracker:    tracker,
		CacheOn:    reports != nil,
		Version:    Version,
	})
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		slog.Info("received signal, shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
		close(done)
	}()

	if err := server.Start(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	<-done
	slog.Info("daemon stopped")
	return nil
}

// assessHandler runs queued jobs through the assessment service
func assessHandler(service *assessment.Service) queue.JobHandler {
	return func(ctx context.Context, job *queue.AssessJob) (*queue.AssessResult, error) {
		result, err := service.Assess(ctx, assessment.Request{
			ExerciseID: job.ExerciseID,
			Rules:      job.Rules,
			Submission: job.Submission,
			Language:   job.Language,
		})
		if err != nil {
			return nil, err
		}
		return &queue.AssessResult{
			AssessmentID: result.ID,
			Status:       queue.StatusCompleted,
			Report:       result.Report,
		}, nil
	}
}

// resolveExercisePath prefers a relative path under the working directory,
// then under ~/.assay
func resolveExercisePath(path string) (string, error) {
	if !filepath.IsAbs(path) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			return filepath.Abs(path)
		}
	}
	return config.ResolvePath(path)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setupLogging(assayDir string, level slog.Level) (*os.File, error) {
	logPath := filepath.Join(assayDir, "logs", logFileName)

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	opts := &slog.HandlerOptions{Level: level}
	slog.SetDefault(slog.New(&multiHandler{
		handlers: []slog.Handler{
			slog.NewJSONHandler(logFile, opts),
			slog.NewTextHandler(os.Stderr, opts),
		},
	}))

	return logFile, nil
}

func writePIDFile(path string) error {
	return os.WriteFile(path, fmt.Appendf(nil, "%d\n", os.Getpid()), 0644)
}

// multiHandler fans records out to several handlers
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			errs = append(errs, handler.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}
