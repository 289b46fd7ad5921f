// Package grading turns a rule set and a submission into an assessment report.
//
// The engine is total: every rule set and every submission produce a valid
// report. It holds no state between calls and is safe for concurrent use.
package grading

import (
	"math"

	"github.com/felixgeelhaar/assay/internal/domain"
	"github.com/felixgeelhaar/assay/internal/matcher"
)

// Scoring constants
const (
	// OptionalBonus is the fraction of an optional check's weight earned on a match
	OptionalBonus = 0.35

	ForbiddenPenalty    = 0.08
	RequiredMissPenalty = 0.05
	PenaltyCap          = 0.25
)

// Verdict thresholds, evaluated top-down
const (
	StrongPassThreshold = 0.92
	PassThreshold       = 0.75
	PartialThreshold    = 0.55

	// PassMaxForbiddenHits is the most forbidden hits a Pass tolerates
	PassMaxForbiddenHits = 1
)

// Option configures an Engine
type Option func(*Engine)

// WithMatcher replaces the default pattern matcher
func WithMatcher(m matcher.Matcher) Option {
	return func(e *Engine) { e.matcher = m }
}

// Engine assesses submissions against rule sets
type Engine struct {
	matcher matcher.Matcher
}

// New creates an Engine backed by a RegexMatcher with default limits
func New(opts ...Option) *Engine {
	e := &Engine{}
	for _, o := range opts {
		o(e)
	}
	if e.matcher == nil {
		e.matcher = matcher.New(matcher.DefaultConfig())
	}
	return e
}

// tally accumulates score state across checks
type tally struct {
	earned         float64
	total          float64
	forbiddenHits  int
	requiredMisses int
}

// Assess scores a submission. Standalone rules are reported in declaration
// order, followed by groups in order of first appearance.
func (e *Engine) Assess(set *domain.RuleSet, sub domain.Submission) *domain.AssessmentReport {
	report := &domain.AssessmentReport{
		Checks:   make([]domain.CheckResult, 0, set.Len()),
		Language: sub.Language,
	}
	if set.IsEmpty() {
		return report
	}

	text := sub.Normalized
	var t tally

	for _, r := range set.Rules {
		report.Checks = append(report.Checks, e.checkRule(r, text, &t))
	}
	for _, g := range set.Groups {
		report.Checks = append(report.Checks, e.checkGroup(g, text, &t))
	}

	report.Earned = t.earned
	report.TotalPossible = t.total
	report.ForbiddenHits = t.forbiddenHits
	report.RequiredMisses = t.requiredMisses
	report.Percent = Percent(t.earned, t.total)
	report.Confidence = Confidence(report.Percent, t.forbiddenHits, t.requiredMisses)
	report.Verdict = Classify(report.Percent, t.forbiddenHits, t.requiredMisses)

	return report
}

// AssessRules builds a rule set from a flat rule list and assesses raw
// submission text with no language hint.
func (e *Engine) AssessRules(rules []domain.Rule, submission string) *domain.AssessmentReport {
	return e.Assess(domain.NewRuleSet(rules), domain.NewSubmission(submission, ""))
}

func (e *Engine) checkRule(r domain.Rule, text string, t *tally) domain.CheckResult {
	weight := r.EffectiveWeight()
	matched := e.matcher.Test(r.Pattern, text)

	res := domain.CheckResult{
		Description: r.Description,
		Kind:        r.Kind,
		Weight:      weight,
		Matched:     matched,
		Passed:      matched,
	}

	switch r.Kind {
	case domain.KindForbidden:
		res.Passed = !matched
		t.total += weight
		if matched {
			t.forbiddenHits++
			res.Hint = r.Hint
		} else {
			t.earned += weight
		}
	case domain.KindRequired:
		t.total += weight
		if matched {
			t.earned += weight
		} else {
			t.requiredMisses++
			res.Hint = r.Hint
		}
	case domain.KindOptional:
		if matched {
			t.earned += weight * OptionalBonus
		}
	}

	return res
}

func (e *Engine) checkGroup(g domain.AlternativeGroup, text string, t *tally) domain.CheckResult {
	members := make([]domain.MemberResult, len(g.Members))
	anyMatched := false
	for i, m := range g.Members {
		matched := e.matcher.Test(m.Pattern, text)
		members[i] = domain.MemberResult{Description: m.Description, Matched: matched}
		anyMatched = anyMatched || matched
	}

	weight := domain.NormalizeWeight(g.Weight)
	res := domain.CheckResult{
		ID:          g.ID,
		Description: g.Title,
		Kind:        g.Kind,
		Weight:      weight,
		Matched:     anyMatched,
		Passed:      anyMatched,
		Group:       true,
		Members:     members,
	}

	switch g.Kind {
	case domain.KindRequired:
		t.total += weight
		if anyMatched {
			t.earned += weight
		} else {
			t.requiredMisses++
			res.Hint = g.Hint()
		}
	case domain.KindOptional:
		if anyMatched {
			t.earned += weight * OptionalBonus
		}
	}

	return res
}

// Percent returns earned/total clamped to [0,1], or 0 when total is 0
func Percent(earned, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return clamp01(earned / total)
}

// Confidence discounts percent for violations. The forbidden and required
// penalties are capped independently.
func Confidence(percent float64, forbiddenHits, requiredMisses int) float64 {
	c := percent
	c -= min(PenaltyCap, float64(forbiddenHits)*ForbiddenPenalty)
	c -= min(PenaltyCap, float64(requiredMisses)*RequiredMissPenalty)
	return clamp01(c)
}

// Classify maps a percent score and violation counts to a verdict
func Classify(percent float64, forbiddenHits, requiredMisses int) domain.Verdict {
	switch {
	case percent >= StrongPassThreshold && forbiddenHits == 0 && requiredMisses == 0:
		return domain.VerdictStrongPass
	case percent >= PassThreshold && forbiddenHits <= PassMaxForbiddenHits:
		return domain.VerdictPass
	case percent >= PartialThreshold:
		return domain.VerdictPartial
	default:
		return domain.VerdictNeedsWork
	}
}

func clamp01(x float64) float64 {
	switch {
	case math.IsNaN(x), x < 0:
		return 0
	case x > 1:
		return 1
	default:
		return x
	}
}

var defaultEngine = New()

// Assess scores a submission against a flat rule list with the default engine
func Assess(rules []domain.Rule, submission string) *domain.AssessmentReport {
	return defaultEngine.AssessRules(rules, submission)
}
