package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/assay/internal/domain"
	"github.com/google/uuid"
)

// Publisher sends JSON payloads to a queue
type Publisher interface {
	PublishJSON(ctx context.Context, queue string, data any) error
}

// Producer publishes assessment jobs and results
type Producer struct {
	conn Publisher
}

// NewProducer creates a new queue producer
func NewProducer(conn Publisher) *Producer {
	return &Producer{conn: conn}
}

// PublishAssessJob publishes a job, assigning an ID and timestamp when missing
func (p *Producer) PublishAssessJob(ctx context.Context, job *AssessJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if err := job.Validate(); err != nil {
		return err
	}

	if err := p.conn.PublishJSON(ctx, AssessQueueName, job); err != nil {
		return fmt.Errorf("failed to publish assess job: %w", err)
	}

	slog.Info("published assess job",
		"job_id", job.ID,
		"exercise_id", job.ExerciseID,
		"inline_rules", len(job.Rules),
	)
	return nil
}

// PublishResult publishes an assessment result to the results queue
func (p *Producer) PublishResult(ctx context.Context, result *AssessResult) error {
	if result.CompletedAt.IsZero() {
		result.CompletedAt = time.Now().UTC()
	}

	if err := p.conn.PublishJSON(ctx, ResultQueueName, result); err != nil {
		return fmt.Errorf("failed to publish assess result: %w", err)
	}

	slog.Info("published assess result",
		"job_id", result.JobID,
		"status", result.Status,
		"duration", result.Duration,
	)
	return nil
}

// NewAssessJob creates a job for an exercise or inline rules
func NewAssessJob(exerciseID string, rules []domain.Rule, submission, language string) *AssessJob {
	return &AssessJob{
		ID:         uuid.New(),
		ExerciseID: exerciseID,
		Rules:      rules,
		Submission: submission,
		Language:   language,
		CreatedAt:  time.Now().UTC(),
	}
}
