package domain

import (
	"fmt"
	"strings"
)

// Verdict is the categorical outcome of an assessment
type Verdict int

const (
	VerdictNeedsWork Verdict = iota
	VerdictPartial
	VerdictPass
	VerdictStrongPass
)

// String returns the display label
func (v Verdict) String() string {
	switch v {
	case VerdictStrongPass:
		return "Strong Pass"
	case VerdictPass:
		return "Pass"
	case VerdictPartial:
		return "Partial"
	default:
		return "Needs Work"
	}
}

// Code returns the machine-readable verdict name
func (v Verdict) Code() string {
	switch v {
	case VerdictStrongPass:
		return "strong_pass"
	case VerdictPass:
		return "pass"
	case VerdictPartial:
		return "partial"
	default:
		return "needs_work"
	}
}

// ParseVerdict accepts either the code or the display label
func ParseVerdict(s string) (Verdict, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	switch norm {
	case "strong_pass", "strongpass":
		return VerdictStrongPass, nil
	case "pass":
		return VerdictPass, nil
	case "partial":
		return VerdictPartial, nil
	case "needs_work", "needswork":
		return VerdictNeedsWork, nil
	default:
		return VerdictNeedsWork, fmt.Errorf("%w: unknown verdict %q", ErrInvalidInput, s)
	}
}

// IsPassing reports whether the verdict unlocks the next exercise
func (v Verdict) IsPassing() bool {
	return v == VerdictPass || v == VerdictStrongPass
}

// MarshalText implements encoding.TextMarshaler
func (v Verdict) MarshalText() ([]byte, error) {
	return []byte(v.Code()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (v *Verdict) UnmarshalText(text []byte) error {
	parsed, err := ParseVerdict(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// MemberResult is the raw outcome of one group member
type MemberResult struct {
	Description string `json:"description"`
	Matched     bool   `json:"matched"`
}

// CheckResult is the outcome of a standalone rule or an alternative group
type CheckResult struct {
	ID          string         `json:"id,omitempty"`
	Description string         `json:"description"`
	Kind        RuleKind       `json:"kind"`
	Weight      float64        `json:"weight"`
	Matched     bool           `json:"matched"`
	Passed      bool           `json:"passed"`
	Hint        string         `json:"hint,omitempty"`
	Group       bool           `json:"group,omitempty"`
	Members     []MemberResult `json:"members,omitempty"`
}

// AssessmentReport is the engine's only output
type AssessmentReport struct {
	Checks         []CheckResult `json:"checks"`
	Earned         float64       `json:"earned"`
	TotalPossible  float64       `json:"total_possible"`
	Percent        float64       `json:"percent"`
	Confidence     float64       `json:"confidence"`
	Verdict        Verdict       `json:"verdict"`
	ForbiddenHits  int           `json:"forbidden_hits"`
	RequiredMisses int           `json:"required_misses"`
	Language       string        `json:"language,omitempty"`
}

// Hints returns remediation hints for unsatisfied required and forbidden checks
func (r *AssessmentReport) Hints() []string {
	var hints []string
	for _, c := range r.Checks {
		if c.Hint != "" {
			hints = append(hints, c.Hint)
		}
	}
	return hints
}

// PassedAllRequired reports whether every required rule and group was satisfied
func (r *AssessmentReport) PassedAllRequired() bool {
	return r.RequiredMisses == 0
}

// CanProceed reports whether the learner may move on
func (r *AssessmentReport) CanProceed() bool {
	return r.Verdict.IsPassing()
}
