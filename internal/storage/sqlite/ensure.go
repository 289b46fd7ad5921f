package sqlite

import "github.com/felixgeelhaar/assay/internal/history"

// Ensure SQLite stores implement the history interfaces.
var (
	_ history.Store         = (*AssessmentStore)(nil)
	_ history.EventRecorder = (*AnalyticsStore)(nil)
)
