package assessment

import (
	"context"
	"time"

	"github.com/felixgeelhaar/assay/internal/domain"
)

// ExerciseSource resolves exercise IDs to exercises
type ExerciseSource interface {
	GetExercise(id string) (*domain.Exercise, error)
}

// ReportCache stores reports keyed by rule set and submission
type ReportCache interface {
	Get(ctx context.Context, key string) (*domain.AssessmentReport, error)
	Set(ctx context.Context, key string, report *domain.AssessmentReport) error
}

// Recorder receives assessment metrics
type Recorder interface {
	ObserveAssessment(source, verdict string, percent float64, d time.Duration)
	RecordCacheLookup(hit bool)
	AddSynthesized(n int)
}
