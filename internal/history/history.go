// Package history records completed assessments so learners and authors can
// review attempts per exercise.
package history

import (
	"context"
	"time"

	"github.com/felixgeelhaar/assay/internal/domain"
	"github.com/google/uuid"
)

// DefaultListLimit caps List results when no limit is given
const DefaultListLimit = 50

// MaxListLimit is the largest accepted List limit
const MaxListLimit = 500

// Record is one stored assessment
type Record struct {
	ID             string                   `json:"id"`
	ExerciseID     string                   `json:"exercise_id,omitempty"`
	Language       string                   `json:"language,omitempty"`
	Verdict        domain.Verdict           `json:"verdict"`
	Percent        float64                  `json:"percent"`
	Confidence     float64                  `json:"confidence"`
	Earned         float64                  `json:"earned"`
	TotalPossible  float64                  `json:"total_possible"`
	ForbiddenHits  int                      `json:"forbidden_hits"`
	RequiredMisses int                      `json:"required_misses"`
	SubmissionHash string                   `json:"submission_hash,omitempty"`
	Report         *domain.AssessmentReport `json:"report,omitempty"`
	CreatedAt      time.Time                `json:"created_at"`
}

// NewRecord captures a report under a fresh ID
func NewRecord(exerciseID, submissionHash string, report *domain.AssessmentReport) *Record {
	return &Record{
		ID:             uuid.New().String(),
		ExerciseID:     exerciseID,
		Language:       report.Language,
		Verdict:        report.Verdict,
		Percent:        report.Percent,
		Confidence:     report.Confidence,
		Earned:         report.Earned,
		TotalPossible:  report.TotalPossible,
		ForbiddenHits:  report.ForbiddenHits,
		RequiredMisses: report.RequiredMisses,
		SubmissionHash: submissionHash,
		Report:         report,
		CreatedAt:      time.Now().UTC(),
	}
}

// ListFilter narrows List results; zero values mean no constraint
type ListFilter struct {
	ExerciseID string
	Verdict    *domain.Verdict
	Since      time.Time
	Limit      int
}

// EffectiveLimit clamps Limit to (0, MaxListLimit], defaulting to DefaultListLimit
func (f ListFilter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultListLimit
	case f.Limit > MaxListLimit:
		return MaxListLimit
	default:
		return f.Limit
	}
}

// Matches reports whether r passes the filter, ignoring Limit
func (f ListFilter) Matches(r *Record) bool {
	if f.ExerciseID != "" && r.ExerciseID != f.ExerciseID {
		return false
	}
	if f.Verdict != nil && r.Verdict != *f.Verdict {
		return false
	}
	if !f.Since.IsZero() && r.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}

// Summary aggregates the attempts recorded for an exercise (or all exercises)
type Summary struct {
	ExerciseID     string         `json:"exercise_id,omitempty"`
	Attempts       int            `json:"attempts"`
	ByVerdict      map[string]int `json:"by_verdict"`
	AveragePercent float64        `json:"average_percent"`
	BestPercent    float64        `json:"best_percent"`
	PassRate       float64        `json:"pass_rate"`
}

// NewSummary returns an empty summary with every verdict bucket present
func NewSummary(exerciseID string) *Summary {
	s := &Summary{
		ExerciseID: exerciseID,
		ByVerdict:  make(map[string]int, 4),
	}
	for _, v := range []domain.Verdict{domain.VerdictStrongPass, domain.VerdictPass, domain.VerdictPartial, domain.VerdictNeedsWork} {
		s.ByVerdict[v.Code()] = 0
	}
	return s
}

// Add folds one attempt into the summary. AveragePercent and PassRate are
// recomputed incrementally.
func (s *Summary) Add(verdict domain.Verdict, percent float64) {
	passed := s.PassRate * float64(s.Attempts)
	total := s.AveragePercent * float64(s.Attempts)

	s.Attempts++
	s.ByVerdict[verdict.Code()]++
	if percent > s.BestPercent {
		s.BestPercent = percent
	}
	if verdict.IsPassing() {
		passed++
	}
	s.AveragePercent = (total + percent) / float64(s.Attempts)
	s.PassRate = passed / float64(s.Attempts)
}

// Store persists assessment records
type Store interface {
	Save(ctx context.Context, r *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	List(ctx context.Context, f ListFilter) ([]*Record, error)
	Summary(ctx context.Context, exerciseID string) (*Summary, error)
	Close() error
}

// Analytics event types
const (
	EventAssessmentCompleted = "assessment.completed"
	EventRulesSynthesized    = "rules.synthesized"
)

// EventRecorder receives analytics events about assessments
type EventRecorder interface {
	Record(ctx context.Context, eventType, assessmentID string, data any) error
}

// Pruner is implemented by stores that can drop entries past a retention age
type Pruner interface {
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}
