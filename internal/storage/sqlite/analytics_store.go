package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// AnalyticsEvent represents a recorded analytics event.
type AnalyticsEvent struct {
	ID           int64     `json:"id"`
	EventType    string    `json:"event_type"`
	AssessmentID string    `json:"assessment_id,omitempty"`
	Data         string    `json:"data"`
	CreatedAt    time.Time `json:"created_at"`
}

// AnalyticsStore provides analytics event recording backed by SQLite.
type AnalyticsStore struct {
	db *DB
}

// NewAnalyticsStore creates a new SQLite-backed analytics store.
func NewAnalyticsStore(db *DB) *AnalyticsStore {
	return &AnalyticsStore{db: db}
}

// Record stores an analytics event. assessmentID may be empty.
func (s *AnalyticsStore) Record(ctx context.Context, eventType, assessmentID string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal analytics data: %w", err)
	}

	var aID *string
	if assessmentID != "" {
		aID = &assessmentID
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO analytics_events (event_type, assessment_id, data, created_at) VALUES (?, ?, ?, ?)",
		eventType, aID, string(payload), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert analytics event: %w", err)
	}
	return nil
}

// Query returns analytics events of the given type within an optional time range, newest first.
func (s *AnalyticsStore) Query(ctx context.Context, eventType string, since, until time.Time) ([]AnalyticsEvent, error) {
	query := "SELECT id, event_type, assessment_id, data, created_at FROM analytics_events WHERE event_type = ?"
	args := []any{eventType}

	if !since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, since.UTC())
	}
	if !until.IsZero() {
		query += " AND created_at <= ?"
		args = append(args, until.UTC())
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query analytics: %w", err)
	}
	defer rows.Close()

	var events []AnalyticsEvent
	for rows.Next() {
		var e AnalyticsEvent
		var aID *string
		if err := rows.Scan(&e.ID, &e.EventType, &aID, &e.Data, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan analytics event: %w", err)
		}
		if aID != nil {
			e.AssessmentID = *aID
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Count returns the number of events matching the given type.
func (s *AnalyticsStore) Count(ctx context.Context, eventType string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM analytics_events WHERE event_type = ?", eventType,
	).Scan(&count)
	return count, err
}

// Prune deletes analytics events older than the given duration.
func (s *AnalyticsStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	result, err := s.db.ExecContext(ctx, "DELETE FROM analytics_events WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune analytics: %w", err)
	}
	return result.RowsAffected()
}
