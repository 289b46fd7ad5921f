package assessment

import "github.com/felixgeelhaar/assay/internal/domain"

// Display is the human-facing rendering of a report
type Display struct {
	Score      string         `json:"score"`
	Confidence string         `json:"confidence"`
	Verdict    string         `json:"verdict"`
	Points     string         `json:"points"`
	Checks     []CheckDisplay `json:"checks"`
	Hints      []string       `json:"hints,omitempty"`
}

// CheckDisplay labels one check result
type CheckDisplay struct {
	Description string `json:"description"`
	KindLabel   string `json:"kind_label"`
	Impact      string `json:"impact"`
	Passed      bool   `json:"passed"`
}

// NewDisplay formats a report for people
func NewDisplay(r *domain.AssessmentReport) *Display {
	if r == nil {
		return nil
	}
	d := &Display{
		Score:      domain.FormatPercent(r.Percent),
		Confidence: domain.FormatPercent(r.Confidence),
		Verdict:    r.Verdict.String(),
		Points:     domain.FormatScore(r.Earned, r.TotalPossible),
		Checks:     make([]CheckDisplay, 0, len(r.Checks)),
		Hints:      r.Hints(),
	}
	for _, c := range r.Checks {
		d.Checks = append(d.Checks, CheckDisplay{
			Description: c.Description,
			KindLabel:   domain.KindLabel(c.Kind),
			Impact:      domain.ImpactLabel(c.Weight),
			Passed:      c.Passed,
		})
	}
	return d
}
