package domain

import (
	"fmt"
	"math"
	"strings"
)

// RuleKind classifies how a rule contributes to an assessment
type RuleKind int

const (
	KindNeutral RuleKind = iota
	KindRequired
	KindForbidden
	KindOptional
)

// DefaultWeight is applied to rules and groups without a usable weight
const DefaultWeight = 1.0

// MaxWeight caps rule and group weights so totals stay finite
const MaxWeight = 1e6

// DefaultGroupTitle labels groups whose members carry no group title
const DefaultGroupTitle = "Alternative requirement"

func (k RuleKind) String() string {
	switch k {
	case KindRequired:
		return "required"
	case KindForbidden:
		return "forbidden"
	case KindOptional:
		return "optional"
	default:
		return "neutral"
	}
}

// ParseRuleKind maps a kind name to a RuleKind; unknown names are neutral
func ParseRuleKind(s string) RuleKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "required":
		return KindRequired
	case "forbidden":
		return KindForbidden
	case "optional":
		return KindOptional
	default:
		return KindNeutral
	}
}

// KindFromFlags collapses the author-facing booleans into a single kind.
// Forbidden wins over required, required over optional.
func KindFromFlags(required, forbidden, optional bool) RuleKind {
	switch {
	case forbidden:
		return KindForbidden
	case required:
		return KindRequired
	case optional:
		return KindOptional
	default:
		return KindNeutral
	}
}

// MarshalText implements encoding.TextMarshaler
func (k RuleKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (k *RuleKind) UnmarshalText(text []byte) error {
	*k = ParseRuleKind(string(text))
	return nil
}

// Rule is a single checkable textual expectation
type Rule struct {
	Description string   `json:"description" yaml:"description"`
	Pattern     string   `json:"pattern" yaml:"pattern"`
	Kind        RuleKind `json:"kind" yaml:"kind"`
	Weight      float64  `json:"weight,omitempty" yaml:"weight,omitempty"`
	Hint        string   `json:"hint,omitempty" yaml:"hint,omitempty"`

	// Group membership. Only the first member's title and weight are used.
	GroupID     string  `json:"group_id,omitempty" yaml:"group_id,omitempty"`
	GroupTitle  string  `json:"group_title,omitempty" yaml:"group_title,omitempty"`
	GroupWeight float64 `json:"group_weight,omitempty" yaml:"group_weight,omitempty"`
}

// EffectiveWeight returns the weight used for scoring
func (r Rule) EffectiveWeight() float64 {
	return NormalizeWeight(r.Weight)
}

// IsGrouped reports whether the rule is a member of an alternative group
func (r Rule) IsGrouped() bool {
	return r.GroupID != ""
}

// NormalizeWeight replaces missing, non-positive or non-finite weights with
// DefaultWeight and clamps the rest to MaxWeight
func NormalizeWeight(w float64) float64 {
	if w <= 0 || math.IsNaN(w) || math.IsInf(w, 0) {
		return DefaultWeight
	}
	return min(w, MaxWeight)
}

// AlternativeGroup is satisfied when any one of its members matches
type AlternativeGroup struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Kind    RuleKind `json:"kind"`
	Weight  float64  `json:"weight"`
	Members []Rule   `json:"members"`
}

// Hint returns the first non-empty member hint
func (g AlternativeGroup) Hint() string {
	for _, m := range g.Members {
		if m.Hint != "" {
			return m.Hint
		}
	}
	return ""
}

// RuleSet is the two-level structure the engine consumes: standalone rules in
// declaration order followed by groups in order of first appearance.
type RuleSet struct {
	Rules  []Rule             `json:"rules"`
	Groups []AlternativeGroup `json:"groups"`

	declared []Rule
}

// NewRuleSet partitions a flat rule list into standalone rules and groups
func NewRuleSet(rules []Rule) *RuleSet {
	set := &RuleSet{
		declared: append([]Rule(nil), rules...),
	}

	index := make(map[string]int)
	for _, r := range rules {
		if !r.IsGrouped() {
			set.Rules = append(set.Rules, r)
			continue
		}

		i, ok := index[r.GroupID]
		if !ok {
			set.Groups = append(set.Groups, newGroup(r))
			i = len(set.Groups) - 1
			index[r.GroupID] = i
		}
		set.Groups[i].Members = append(set.Groups[i].Members, r)
	}

	return set
}

// newGroup derives group metadata from its first member
func newGroup(first Rule) AlternativeGroup {
	title := first.GroupTitle
	if title == "" {
		title = DefaultGroupTitle
	}

	weight := first.GroupWeight
	if weight == 0 {
		weight = first.Weight
	}

	kind := KindNeutral
	switch first.Kind {
	case KindRequired:
		kind = KindRequired
	case KindOptional:
		kind = KindOptional
	}

	return AlternativeGroup{
		ID:     first.GroupID,
		Title:  title,
		Kind:   kind,
		Weight: NormalizeWeight(weight),
	}
}

// Declared returns the rules in their original flat declaration order
func (s *RuleSet) Declared() []Rule {
	if s == nil {
		return nil
	}
	if s.declared == nil {
		// Built by hand or decoded: rebuild a flat view.
		var out []Rule
		out = append(out, s.Rules...)
		for _, g := range s.Groups {
			out = append(out, g.Members...)
		}
		return out
	}
	return append([]Rule(nil), s.declared...)
}

// Len returns the number of checks the rule set produces
func (s *RuleSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Rules) + len(s.Groups)
}

// IsEmpty reports whether the rule set has no checks
func (s *RuleSet) IsEmpty() bool {
	return s.Len() == 0
}

func (s *RuleSet) String() string {
	return fmt.Sprintf("RuleSet{rules=%d, groups=%d}", len(s.Rules), len(s.Groups))
}
