package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/felixgeelhaar/assay/internal/assessment"
	"github.com/felixgeelhaar/assay/internal/config"
	"github.com/felixgeelhaar/assay/internal/exercise"
	"github.com/felixgeelhaar/assay/internal/grading"
	"github.com/felixgeelhaar/assay/internal/matcher"
	"github.com/felixgeelhaar/assay/internal/storage"
)

// app is the set of services a CLI command runs against
type app struct {
	cfg      *config.LocalConfig
	registry *exercise.Registry // nil unless exercises were requested
	assessor *assessment.Service
	backend  *storage.Backend
}

// appOptions selects which parts of the app a command needs
type appOptions struct {
	exercises bool
	history   bool
}

// newApp loads configuration and builds the assessment service locally
func newApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	m := matcher.New(matcher.Config{
		MaxPatternLength: cfg.Matcher.MaxPatternLength,
		MaxInputBytes:    cfg.Matcher.MaxInputBytes,
		CacheSize:        cfg.Matcher.CacheSize,
	})

	a := &app{cfg: cfg}

	var source assessment.ExerciseSource
	if opts.exercises {
		path, err := config.ResolvePath(cfg.ExercisesPath)
		if err != nil {
			return nil, err
		}
		a.registry = exercise.NewRegistry(exercise.NewLoader(path, exercise.WithPatternCheck(m)))
		if err := a.registry.Load(); err != nil {
			return nil, fmt.Errorf("load exercises from %s: %w", path, err)
		}
		source = a.registry
	}

	a.assessor = assessment.NewService(source, grading.New(grading.WithMatcher(m)), nil, assessment.Config{
		MaxConcurrent: cfg.Limits.MaxConcurrentAssessments,
	})

	if opts.history {
		backend, err := storage.Open(ctx, cfg.Storage)
		if err != nil {
			// Assessing still works without history
			slog.Warn("history unavailable", "driver", cfg.Storage.Driver, "error", err)
		} else {
			a.backend = backend
			if backend.Store != nil {
				a.assessor.SetStore(backend.Store)
			}
			if backend.Events != nil {
				a.assessor.SetEvents(backend.Events)
			}
		}
	}

	return a, nil
}

// Close releases the history backend
func (a *app) Close() {
	if err := a.backend.Close(); err != nil {
		slog.Warn("close history store", "error", err)
	}
}

// readInput reads a named file, or stdin when name is "-"
func readInput(name string, stdin io.Reader) (string, error) {
	if name == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}

	data, err := os.ReadFile(name)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	return string(data), nil
}
