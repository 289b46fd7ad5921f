// Package assessment is the application service around the grading engine.
// It resolves rule sets, consults the report cache, bounds engine
// concurrency, and records metrics and history.
package assessment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/assay/internal/cache"
	"github.com/felixgeelhaar/assay/internal/domain"
	"github.com/felixgeelhaar/assay/internal/grading"
	"github.com/felixgeelhaar/assay/internal/history"
	"github.com/felixgeelhaar/assay/internal/synth"
	"github.com/felixgeelhaar/fortify/bulkhead"
)

// Sources reported in metrics
const (
	SourceExercise = "exercise"
	SourceInline   = "inline"
)

// Config tunes the service
type Config struct {
	// MaxConcurrent bounds simultaneous engine runs (default: 16)
	MaxConcurrent int

	// QueueTimeout is how long a run may wait for a slot (default: 5s)
	QueueTimeout time.Duration
}

// Request describes one assessment. Exactly one of ExerciseID and Rules must
// be set.
type Request struct {
	ExerciseID string        `json:"exercise_id,omitempty"`
	Rules      []domain.Rule `json:"rules,omitempty"`
	Submission string        `json:"submission"`
	Language   string        `json:"language,omitempty"`
}

// Result is the outcome of Service.Assess
type Result struct {
	ID         string                   `json:"id"`
	ExerciseID string                   `json:"exercise_id,omitempty"`
	Cached     bool                     `json:"cached"`
	Report     *domain.AssessmentReport `json:"report"`
}

// Service runs assessments
type Service struct {
	exercises   ExerciseSource
	engine      *grading.Engine
	synthesizer *synth.Synthesizer
	bulkhead    bulkhead.Bulkhead[*domain.AssessmentReport]

	store    history.Store         // optional
	events   history.EventRecorder // optional
	cache    ReportCache           // optional
	recorder Recorder              // optional
}

// NewService creates an assessment service. exercises may be nil when only
// inline rules are assessed.
func NewService(exercises ExerciseSource, engine *grading.Engine, synthesizer *synth.Synthesizer, cfg Config) *Service {
	if engine == nil {
		engine = grading.New()
	}
	if synthesizer == nil {
		synthesizer = synth.New()
	}

	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 16
	}
	queueTimeout := cfg.QueueTimeout
	if queueTimeout <= 0 {
		queueTimeout = 5 * time.Second
	}

	return &Service{
		exercises:   exercises,
		engine:      engine,
		synthesizer: synthesizer,
		bulkhead: bulkhead.New[*domain.AssessmentReport](bulkhead.Config{
			MaxConcurrent: maxConcurrent,
			MaxQueue:      maxConcurrent * 4,
			QueueTimeout:  queueTimeout,
		}),
	}
}

// SetStore enables history persistence
func (s *Service) SetStore(store history.Store) {
	s.store = store
}

// SetEvents enables analytics events
func (s *Service) SetEvents(events history.EventRecorder) {
	s.events = events
}

// SetCache enables the report cache
func (s *Service) SetCache(c ReportCache) {
	s.cache = c
}

// SetRecorder enables metrics
func (s *Service) SetRecorder(r Recorder) {
	s.recorder = r
}

// HasStore reports whether history is persisted
func (s *Service) HasStore() bool {
	return s.store != nil
}

// Assess scores a submission against an exercise's rules or inline rules
func (s *Service) Assess(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	set, language, source, err := s.resolve(req)
	if err != nil {
		return nil, err
	}
	sub := domain.NewSubmission(req.Submission, language)

	key, keyErr := cache.Key(set.Declared(), sub)
	if keyErr != nil {
		slog.Warn("cache key failed", "error", keyErr)
	}

	report, cached := s.lookup(ctx, key)
	if cached {
		report.Language = sub.Language
	} else {
		report, err = s.bulkhead.Execute(ctx, func(ctx context.Context) (*domain.AssessmentReport, error) {
			return s.engine.Assess(set, sub), nil
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("%w: %v", domain.ErrOverloaded, err)
		}
		s.remember(ctx, key, report)
	}

	if s.recorder != nil {
		s.recorder.ObserveAssessment(source, report.Verdict.Code(), report.Percent, time.Since(start))
	}

	record := history.NewRecord(req.ExerciseID, key, report)
	s.persist(ctx, record)

	slog.Debug("assessment complete",
		"id", record.ID,
		"exercise_id", req.ExerciseID,
		"verdict", report.Verdict.Code(),
		"percent", report.Percent,
		"cached", cached,
		"duration", time.Since(start))

	return &Result{
		ID:         record.ID,
		ExerciseID: req.ExerciseID,
		Cached:     cached,
		Report:     report,
	}, nil
}

func (s *Service) resolve(req Request) (*domain.RuleSet, string, string, error) {
	switch {
	case req.ExerciseID != "" && len(req.Rules) > 0:
		return nil, "", "", fmt.Errorf("%w: exercise_id and rules are mutually exclusive", domain.ErrInvalidInput)

	case req.ExerciseID != "":
		if s.exercises == nil {
			return nil, "", "", fmt.Errorf("%w: %s", domain.ErrExerciseNotFound, req.ExerciseID)
		}
		ex, err := s.exercises.GetExercise(req.ExerciseID)
		if err != nil {
			return nil, "", "", err
		}
		set := ex.RuleSet
		if set == nil {
			set = domain.NewRuleSet(nil)
		}
		language := req.Language
		if language == "" {
			language = ex.Language
		}
		return set, language, SourceExercise, nil

	case len(req.Rules) > 0:
		return domain.NewRuleSet(req.Rules), req.Language, SourceInline, nil

	default:
		return nil, "", "", fmt.Errorf("%w: exercise_id or rules required", domain.ErrInvalidInput)
	}
}

func (s *Service) lookup(ctx context.Context, key string) (*domain.AssessmentReport, bool) {
	if s.cache == nil || key == "" {
		return nil, false
	}

	report, err := s.cache.Get(ctx, key)
	hit := err == nil && report != nil
	if s.recorder != nil {
		s.recorder.RecordCacheLookup(hit)
	}
	if err != nil && !errors.Is(err, domain.ErrCacheMiss) {
		slog.Warn("report cache lookup failed", "error", err)
	}
	if !hit {
		return nil, false
	}
	return report, true
}

func (s *Service) remember(ctx context.Context, key string, report *domain.AssessmentReport) {
	if s.cache == nil || key == "" {
		return
	}
	if err := s.cache.Set(ctx, key, report); err != nil {
		slog.Warn("report cache write failed", "error", err)
	}
}

func (s *Service) persist(ctx context.Context, record *history.Record) {
	if s.store == nil {
		return
	}
	if err := s.store.Save(ctx, record); err != nil {
		slog.Error("failed to save assessment", "id", record.ID, "error", err)
		return
	}
	if s.events == nil {
		return
	}
	data := map[string]any{
		"exercise_id": record.ExerciseID,
		"verdict":     record.Verdict.Code(),
		"percent":     record.Percent,
	}
	if err := s.events.Record(ctx, history.EventAssessmentCompleted, record.ID, data); err != nil {
		slog.Warn("failed to record analytics event", "error", err)
	}
}

// Synthesize derives rules from a reference solution
func (s *Service) Synthesize(ctx context.Context, reference, language string) []domain.Rule {
	rules := s.synthesizer.Synthesize(reference, language)

	if s.recorder != nil {
		s.recorder.AddSynthesized(len(rules))
	}
	if s.events != nil {
		data := map[string]any{
			"language": domain.NormalizeLanguage(language),
			"rules":    len(rules),
		}
		if err := s.events.Record(ctx, history.EventRulesSynthesized, "", data); err != nil {
			slog.Warn("failed to record analytics event", "error", err)
		}
	}
	return rules
}

// Get returns a stored assessment
func (s *Service) Get(ctx context.Context, id string) (*history.Record, error) {
	if s.store == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrAssessmentNotFound, id)
	}
	return s.store.Get(ctx, id)
}

// List returns recent assessments, optionally for one exercise
func (s *Service) List(ctx context.Context, exerciseID string, limit int) ([]*history.Record, error) {
	if s.store == nil {
		return []*history.Record{}, nil
	}
	records, err := s.store.List(ctx, history.ListFilter{ExerciseID: exerciseID, Limit: limit})
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []*history.Record{}
	}
	return records, nil
}

// Summary aggregates stored attempts for an exercise, or all exercises when empty
func (s *Service) Summary(ctx context.Context, exerciseID string) (*history.Summary, error) {
	if s.store == nil {
		return history.NewSummary(exerciseID), nil
	}
	return s.store.Summary(ctx, exerciseID)
}
