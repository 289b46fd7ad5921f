// Package synth proposes rule sets from reference solutions.
//
// Each built-in heuristic is probed against the reference; a probe that
// matches contributes a rule targeting the same feature in learner code.
package synth

import (
	"github.com/felixgeelhaar/assay/internal/domain"
	"github.com/felixgeelhaar/assay/internal/matcher"
)

// Option configures a Synthesizer
type Option func(*Synthesizer)

// WithMatcher replaces the matcher used to probe references
func WithMatcher(m matcher.Matcher) Option {
	return func(s *Synthesizer) { s.matcher = m }
}

// WithHeuristics appends heuristics after the built-in battery
func WithHeuristics(h ...Heuristic) Option {
	return func(s *Synthesizer) { s.heuristics = append(s.heuristics, h...) }
}

// Synthesizer applies a heuristic battery to reference solutions
type Synthesizer struct {
	matcher    matcher.Matcher
	heuristics []Heuristic
}

// New creates a Synthesizer with the default heuristics
func New(opts ...Option) *Synthesizer {
	s := &Synthesizer{
		heuristics: DefaultHeuristics(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.matcher == nil {
		s.matcher = matcher.New(matcher.DefaultConfig())
	}
	return s
}

// Synthesize returns the deduplicated rules whose heuristics match reference.
// The language hint only selects language-tagged heuristics.
func (s *Synthesizer) Synthesize(reference, language string) []domain.Rule {
	text := domain.NormalizeLineEndings(reference)
	lang := domain.NormalizeLanguage(language)

	rules := make([]domain.Rule, 0, len(s.heuristics))
	for _, h := range s.heuristics {
		if !h.applies(lang) {
			continue
		}
		if h.Always || s.matcher.Test(h.Probe, text) {
			rules = append(rules, h.Rule)
		}
	}

	return Dedupe(rules)
}

// Heuristics returns a copy of the configured battery
func (s *Synthesizer) Heuristics() []Heuristic {
	return append([]Heuristic(nil), s.heuristics...)
}

type dedupeKey struct {
	group       string
	description string
	kind        domain.RuleKind
}

// Dedupe drops rules whose (group, description, kind) was already seen,
// keeping the first occurrence.
func Dedupe(rules []domain.Rule) []domain.Rule {
	seen := make(map[dedupeKey]struct{}, len(rules))
	out := make([]domain.Rule, 0, len(rules))
	for _, r := range rules {
		k := dedupeKey{group: r.GroupID, description: r.Description, kind: r.Kind}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out
}

var defaultSynthesizer = New()

// Synthesize proposes rules with the default synthesizer
func Synthesize(reference, language string) []domain.Rule {
	return defaultSynthesizer.Synthesize(reference, language)
}
