// Package postgres stores assessment history in PostgreSQL for server
// deployments shared by several daemons.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/felixgeelhaar/assay/internal/domain"
	"github.com/felixgeelhaar/assay/internal/history"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"
)

// DefaultTable is used when no table name is configured
const DefaultTable = "assessments"

// Store implements history.Store using PostgreSQL
type Store struct {
	pool  *pgxpool.Pool
	table string
	owned bool
}

// Connect opens a pool for dsn, ensures the schema and returns a store that
// closes the pool on Close.
func Connect(ctx context.Context, dsn, table string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := NewStore(pool, table)
	s.owned = true
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an existing pool. The caller keeps ownership of the pool.
func NewStore(pool *pgxpool.Pool, table string) *Store {
	if strings.TrimSpace(table) == "" {
		table = DefaultTable
	}
	return &Store{pool: pool, table: table}
}

// Table returns the quoted table identifier
func (s *Store) Table() string {
	return pq.QuoteIdentifier(s.table)
}

// EnsureSchema creates the history table and its indexes when missing
func (s *Store) EnsureSchema(ctx context.Context) error {
	t := s.Table()
	idx := func(suffix string) string {
		return pq.QuoteIdentifier(s.table + "_" + suffix)
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + t + ` (
			id              TEXT PRIMARY KEY,
			exercise_id     TEXT NOT NULL DEFAULT '',
			language        TEXT NOT NULL DEFAULT '',
			verdict         TEXT NOT NULL,
			percent         DOUBLE PRECISION NOT NULL,
			confidence      DOUBLE PRECISION NOT NULL,
			earned          DOUBLE PRECISION NOT NULL,
			total_possible  DOUBLE PRECISION NOT NULL,
			forbidden_hits  INTEGER NOT NULL DEFAULT 0,
			required_misses INTEGER NOT NULL DEFAULT 0,
			submission_hash TEXT NOT NULL DEFAULT '',
			report          JSONB,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS ` + idx("exercise_idx") + ` ON ` + t + ` (exercise_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS ` + idx("created_idx") + ` ON ` + t + ` (created_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

const columns = `id, exercise_id, language, verdict, percent, confidence, earned,
	total_possible, forbidden_hits, required_misses, submission_hash, report, created_at`

// Save inserts a record, updating the outcome columns when the ID exists
func (s *Store) Save(ctx context.Context, r *history.Record) error {
	var report pqtype.NullRawMessage
	if r.Report != nil {
		data, err := json.Marshal(r.Report)
		if err != nil {
			return fmt.Errorf("marshal report: %w", err)
		}
		report = pqtype.NullRawMessage{RawMessage: data, Valid: true}
	}

	query := `
		INSERT INTO ` + s.Table() + ` (` + columns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			verdict = EXCLUDED.verdict,
			percent = EXCLUDED.percent,
			confidence = EXCLUDED.confidence,
			earned = EXCLUDED.earned,
			total_possible = EXCLUDED.total_possible,
			forbidden_hits = EXCLUDED.forbidden_hits,
			required_misses = EXCLUDED.required_misses,
			report = EXCLUDED.report
	`
	_, err := s.pool.Exec(ctx, query,
		r.ID, r.ExerciseID, r.Language, r.Verdict.Code(), r.Percent, r.Confidence, r.Earned,
		r.TotalPossible, r.ForbiddenHits, r.RequiredMisses, r.SubmissionHash, report, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert assessment: %w", err)
	}
	return nil
}

// Prune deletes records older than olderThan
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.Table()+` WHERE created_at < $1`, time.Now().UTC().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("prune assessments: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Get retrieves a record by ID
func (s *Store) Get(ctx context.Context, id string) (*history.Record, error) {
	query := `SELECT ` + columns + ` FROM ` + s.Table() + ` WHERE id = $1`
	r, err := scanRecord(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrAssessmentNotFound, id)
	}
	return r, err
}

// List returns records matching the filter, newest first
func (s *Store) List(ctx context.Context, f history.ListFilter) ([]*history.Record, error) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.ExerciseID != "" {
		where = append(where, "exercise_id = "+arg(f.ExerciseID))
	}
	if f.Verdict != nil {
		where = append(where, "verdict = "+arg(f.Verdict.Code()))
	}
	if !f.Since.IsZero() {
		where = append(where, "created_at >= "+arg(f.Since))
	}

	query := `SELECT ` + columns + ` FROM ` + s.Table()
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT " + arg(f.EffectiveLimit())

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query assessments: %w", err)
	}
	defer rows.Close()

	var records []*history.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Summary aggregates attempts for exerciseID, or across all exercises when empty
func (s *Store) Summary(ctx context.Context, exerciseID string) (*history.Summary, error) {
	query := `SELECT verdict, COUNT(*), COALESCE(SUM(percent), 0), COALESCE(MAX(percent), 0)
		FROM ` + s.Table() + ` WHERE ($1::text = '' OR exercise_id = $1) GROUP BY verdict`

	rows, err := s.pool.Query(ctx, query, exerciseID)
	if err != nil {
		return nil, fmt.Errorf("summarize assessments: %w", err)
	}
	defer rows.Close()

	summary := history.NewSummary(exerciseID)
	var sum float64
	var passed int64
	var attempts int64
	for rows.Next() {
		var code string
		var count int64
		var total, best float64
		if err := rows.Scan(&code, &count, &total, &best); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		verdict, err := domain.ParseVerdict(code)
		if err != nil {
			return nil, err
		}
		attempts += count
		summary.ByVerdict[verdict.Code()] += int(count)
		summary.BestPercent = max(summary.BestPercent, best)
		sum += total
		if verdict.IsPassing() {
			passed += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	summary.Attempts = int(attempts)
	if attempts > 0 {
		summary.AveragePercent = sum / float64(attempts)
		summary.PassRate = float64(passed) / float64(attempts)
	}
	return summary, nil
}

// Close releases the pool when the store opened it
func (s *Store) Close() error {
	if s.owned {
		s.pool.Close()
	}
	return nil
}

func scanRecord(row pgx.Row) (*history.Record, error) {
	var r history.Record
	var verdict string
	var report pqtype.NullRawMessage

	err := row.Scan(&r.ID, &r.ExerciseID, &r.Language, &verdict, &r.Percent, &r.Confidence, &r.Earned,
		&r.TotalPossible, &r.ForbiddenHits, &r.RequiredMisses, &r.SubmissionHash, &report, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan assessment: %w", err)
	}

	if r.Verdict, err = domain.ParseVerdict(verdict); err != nil {
		return nil, err
	}
	if report.Valid {
		r.Report = &domain.AssessmentReport{}
		if err := json.Unmarshal(report.RawMessage, r.Report); err != nil {
			return nil, fmt.Errorf("unmarshal report: %w", err)
		}
	}
	return &r, nil
}

var (
	_ history.Store  = (*Store)(nil)
	_ history.Pruner = (*Store)(nil)
)
