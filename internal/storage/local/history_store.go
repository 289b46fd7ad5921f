package local

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/felixgeelhaar/assay/internal/domain"
	"github.com/felixgeelhaar/assay/internal/history"
)

const assessmentsCollection = "assessments"

// HistoryStore implements history.Store on top of JSON files
type HistoryStore struct {
	store *Store
}

// NewHistoryStore opens (or creates) a file history rooted at basePath
func NewHistoryStore(basePath string) (*HistoryStore, error) {
	store, err := NewStore(basePath)
	if err != nil {
		return nil, err
	}
	return &HistoryStore{store: store}, nil
}

// Save writes a record
func (h *HistoryStore) Save(ctx context.Context, r *history.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return h.store.Save(assessmentsCollection, r.ID, r)
}

// Get reads a record by ID
func (h *HistoryStore) Get(ctx context.Context, id string) (*history.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var r history.Record
	if err := h.store.Load(assessmentsCollection, id, &r); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrAssessmentNotFound, id)
		}
		return nil, err
	}
	return &r, nil
}

// List returns matching records, newest first
func (h *HistoryStore) List(ctx context.Context, f history.ListFilter) ([]*history.Record, error) {
	records, err := h.all(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*history.Record, 0, len(records))
	for _, r := range records {
		if f.Matches(r) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit := f.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Summary aggregates records for exerciseID, or all records when empty
func (h *HistoryStore) Summary(ctx context.Context, exerciseID string) (*history.Summary, error) {
	records, err := h.all(ctx)
	if err != nil {
		return nil, err
	}

	// Records are folded oldest first so the running average is stable
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})

	s := history.NewSummary(exerciseID)
	for _, r := range records {
		if exerciseID != "" && r.ExerciseID != exerciseID {
			continue
		}
		s.Add(r.Verdict, r.Percent)
	}
	return s, nil
}

// Prune removes records older than olderThan
func (h *HistoryStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	records, err := h.all(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().Add(-olderThan)
	var removed int64
	for _, r := range records {
		if !r.CreatedAt.Before(cutoff) {
			continue
		}
		if err := h.store.Delete(assessmentsCollection, r.ID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return removed, fmt.Errorf("prune %s: %w", r.ID, err)
		}
		removed++
	}
	return removed, nil
}

// Close is a no-op for file storage
func (h *HistoryStore) Close() error {
	return nil
}

func (h *HistoryStore) all(ctx context.Context) ([]*history.Record, error) {
	ids, err := h.store.List(assessmentsCollection)
	if err != nil {
		return nil, err
	}

	records := make([]*history.Record, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var r history.Record
		if err := h.store.Load(assessmentsCollection, id, &r); err != nil {
			// Removed between List and Load
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, err
		}
		records = append(records, &r)
	}
	return records, nil
}

var (
	_ history.Store  = (*HistoryStore)(nil)
	_ history.Pruner = (*HistoryStore)(nil)
)
