package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/assay/internal/domain"
	"github.com/felixgeelhaar/assay/internal/history"
)

// AssessmentStore implements history.Store backed by SQLite.
type AssessmentStore struct {
	db *DB
}

// NewAssessmentStore creates a new SQLite-backed assessment history.
func NewAssessmentStore(db *DB) *AssessmentStore {
	return &AssessmentStore{db: db}
}

const assessmentColumns = `id, exercise_id, language, verdict, percent, confidence, earned,
	total_possible, forbidden_hits, required_misses, submission_hash, report, created_at`

// Save inserts or replaces a record.
func (s *AssessmentStore) Save(ctx context.Context, r *history.Record) error {
	var report *string
	if r.Report != nil {
		data, err := json.Marshal(r.Report)
		if err != nil {
			return fmt.Errorf("marshal report: %w", err)
		}
		str := string(data)
		report = &str
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO assessments (`+assessmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			verdict = excluded.verdict,
			percent = excluded.percent,
			confidence = excluded.confidence,
			earned = excluded.earned,
			total_possible = excluded.total_possible,
			forbidden_hits = excluded.forbidden_hits,
			required_misses = excluded.required_misses,
			report = excluded.report`,
		r.ID, r.ExerciseID, r.Language, r.Verdict.Code(), r.Percent, r.Confidence, r.Earned,
		r.TotalPossible, r.ForbiddenHits, r.RequiredMisses, r.SubmissionHash, report, r.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert assessment: %w", err)
	}
	return nil
}

// Prune deletes records older than olderThan. Their analytics events go with
// them through the foreign key cascade.
func (s *AssessmentStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	result, err := s.db.ExecContext(ctx, "DELETE FROM assessments WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune assessments: %w", err)
	}
	return result.RowsAffected()
}

// Get retrieves a record by ID.
func (s *AssessmentStore) Get(ctx context.Context, id string) (*history.Record, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+assessmentColumns+" FROM assessments WHERE id = ?", id)
	r, err := scanAssessment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrAssessmentNotFound, id)
	}
	return r, err
}

// List returns records matching the filter, newest first.
func (s *AssessmentStore) List(ctx context.Context, f history.ListFilter) ([]*history.Record, error) {
	query := "SELECT " + assessmentColumns + " FROM assessments WHERE 1 = 1"
	var args []any

	if f.ExerciseID != "" {
		query += " AND exercise_id = ?"
		args = append(args, f.ExerciseID)
	}
	if f.Verdict != nil {
		query += " AND verdict = ?"
		args = append(args, f.Verdict.Code())
	}
	if !f.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, f.Since.UTC())
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, f.EffectiveLimit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query assessments: %w", err)
	}
	defer rows.Close()

	var records []*history.Record
	for rows.Next() {
		r, err := scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Summary aggregates attempts for exerciseID, or across all exercises when empty.
func (s *AssessmentStore) Summary(ctx context.Context, exerciseID string) (*history.Summary, error) {
	query := `SELECT verdict, COUNT(*), COALESCE(SUM(percent), 0), COALESCE(MAX(percent), 0)
		FROM assessments`
	var args []any
	if exerciseID != "" {
		query += " WHERE exercise_id = ?"
		args = append(args, exerciseID)
	}
	query += " GROUP BY verdict"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("summarize assessments: %w", err)
	}
	defer rows.Close()

	summary := history.NewSummary(exerciseID)
	var sum float64
	var passed int
	for rows.Next() {
		var code string
		var count int
		var total, best float64
		if err := rows.Scan(&code, &count, &total, &best); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		verdict, err := domain.ParseVerdict(code)
		if err != nil {
			return nil, err
		}

		summary.Attempts += count
		summary.ByVerdict[verdict.Code()] += count
		summary.BestPercent = max(summary.BestPercent, best)
		sum += total
		if verdict.IsPassing() {
			passed += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if summary.Attempts > 0 {
		summary.AveragePercent = sum / float64(summary.Attempts)
		summary.PassRate = float64(passed) / float64(summary.Attempts)
	}
	return summary, nil
}

// Close is a no-op; the DB is owned by the caller.
func (s *AssessmentStore) Close() error {
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAssessment(sc scanner) (*history.Record, error) {
	var r history.Record
	var verdict string
	var report sql.NullString

	err := sc.Scan(&r.ID, &r.ExerciseID, &r.Language, &verdict, &r.Percent, &r.Confidence, &r.Earned,
		&r.TotalPossible, &r.ForbiddenHits, &r.RequiredMisses, &r.SubmissionHash, &report, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan assessment: %w", err)
	}

	if r.Verdict, err = domain.ParseVerdict(verdict); err != nil {
		return nil, err
	}
	if report.Valid {
		r.Report = &domain.AssessmentReport{}
		if err := json.Unmarshal([]byte(report.String), r.Report); err != nil {
			return nil, fmt.Errorf("unmarshal report: %w", err)
		}
	}
	return &r, nil
}
