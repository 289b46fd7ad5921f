package grading

import (
	"math"
	"reflect"
	"testing"

	"github.com/felixgeelhaar/assay/internal/domain"
)

const eps = 1e-9

func approx(a, b float64) bool {
	return math.Abs(a-b) < eps
}

func addRules() []domain.Rule {
	return []domain.Rule{
		{
			Description: "Returns a + b",
			Pattern:     `return\s+a\s*\+\s*b`,
			Kind:        domain.KindRequired,
			Weight:      1.3,
			Hint:        "Return the sum of a and b.",
		},
		{
			Description: "Does not log",
			Pattern:     `console\.log`,
			Kind:        domain.KindForbidden,
			Weight:      1.1,
			Hint:        "Return the value instead of logging it.",
		},
	}
}

func TestAssess_StrongPass(t *testing.T) {
	report := Assess(addRules(), "function add(a,b){ return a + b; }")

	if !approx(report.Earned, 2.4) {
		t.Errorf("Earned = %v; want 2.4", report.Earned)
	}
	if !approx(report.TotalPossible, 2.4) {
		t.Errorf("TotalPossible = %v; want 2.4", report.TotalPossible)
	}
	if report.Percent != 1.0 {
		t.Errorf("Percent = %v; want 1", report.Percent)
	}
	if report.ForbiddenHits != 0 || report.RequiredMisses != 0 {
		t.Errorf("ForbiddenHits, RequiredMisses = %d, %d; want 0, 0", report.ForbiddenHits, report.RequiredMisses)
	}
	if report.Verdict != domain.VerdictStrongPass {
		t.Errorf("Verdict = %v; want Strong Pass", report.Verdict)
	}
	if len(report.Hints()) != 0 {
		t.Errorf("Hints() = %v; want none", report.Hints())
	}
}

func TestAssess_NeedsWork(t *testing.T) {
	report := Assess(addRules(), "console.log(a+b)")

	if report.Earned != 0 {
		t.Errorf("Earned = %v; want 0", report.Earned)
	}
	if !approx(report.TotalPossible, 2.4) {
		t.Errorf("TotalPossible = %v; want 2.4", report.TotalPossible)
	}
	if report.Percent != 0 {
		t.Errorf("Percent = %v; want 0", report.Percent)
	}
	if report.RequiredMisses != 1 || report.ForbiddenHits != 1 {
		t.Errorf("RequiredMisses, ForbiddenHits = %d, %d; want 1, 1", report.RequiredMisses, report.ForbiddenHits)
	}
	if report.Verdict != domain.VerdictNeedsWork {
		t.Errorf("Verdict = %v; want Needs Work", report.Verdict)
	}

	want := []string{"Return the sum of a and b.", "Return the value instead of logging it."}
	if got := report.Hints(); !reflect.DeepEqual(got, want) {
		t.Errorf("Hints() = %v; want %v", got, want)
	}
}

func TestAssess_CheckResults(t *testing.T) {
	report := Assess(addRules(), "console.log(a+b)")

	if len(report.Checks) != 2 {
		t.Fatalf("len(Checks) = %d; want 2", len(report.Checks))
	}

	req := report.Checks[0]
	if req.Kind != domain.KindRequired || req.Matched || req.Passed {
		t.Errorf("required check = %+v", req)
	}

	forb := report.Checks[1]
	if forb.Kind != domain.KindForbidden || !forb.Matched || forb.Passed {
		t.Errorf("forbidden check = %+v", forb)
	}
}

func TestAssess_EmptyRuleSet(t *testing.T) {
	for _, rules := range [][]domain.Rule{nil, {}} {
		report := Assess(rules, "anything")

		if report.Percent != 0 || report.TotalPossible != 0 || report.Confidence != 0 {
			t.Errorf("Percent, TotalPossible, Confidence = %v, %v, %v; want 0", report.Percent, report.TotalPossible, report.Confidence)
		}
		if report.Verdict != domain.VerdictNeedsWork {
			t.Errorf("Verdict = %v; want Needs Work", report.Verdict)
		}
		if report.Checks == nil {
			t.Error("Checks = nil; want empty slice")
		}
	}

	e := New()
	if r := e.Assess(nil, domain.NewSubmission("x", "")); r.Verdict != domain.VerdictNeedsWork {
		t.Errorf("Assess(nil) verdict = %v", r.Verdict)
	}
}

func TestAssess_EmptySubmission(t *testing.T) {
	report := Assess(addRules(), "")

	// Forbidden rule is satisfied by an empty submission.
	if !approx(report.Earned, 1.1) {
		t.Errorf("Earned = %v; want 1.1", report.Earned)
	}
	if report.Verdict != domain.VerdictNeedsWork {
		t.Errorf("Verdict = %v; want Needs Work", report.Verdict)
	}
}

func TestAssess_Forbidden(t *testing.T) {
	rules := []domain.Rule{{Description: "no eval", Pattern: `eval\(`, Kind: domain.KindForbidden, Weight: 2}}

	clean := Assess(rules, "x := 1")
	if clean.Earned != 2 || clean.ForbiddenHits != 0 || !clean.Checks[0].Passed {
		t.Errorf("clean: Earned = %v, ForbiddenHits = %d, Passed = %v", clean.Earned, clean.ForbiddenHits, clean.Checks[0].Passed)
	}

	dirty := Assess(rules, "eval(x)")
	if dirty.Earned != 0 || dirty.ForbiddenHits != 1 || dirty.Checks[0].Passed {
		t.Errorf("dirty: Earned = %v, ForbiddenHits = %d, Passed = %v", dirty.Earned, dirty.ForbiddenHits, dirty.Checks[0].Passed)
	}
}

func TestAssess_RequiredGroup(t *testing.T) {
	rules := []domain.Rule{
		{Description: "A", Pattern: `\bAlpha\b`, Kind: domain.KindRequired, GroupID: "g", GroupWeight: 2, Hint: "use Alpha or Beta"},
		{Description: "B", Pattern: `\bBeta\b`, Kind: domain.KindRequired, GroupID: "g"},
	}

	tests := []struct {
		name       string
		text       string
		wantEarned float64
		wantMisses int
		wantPassed bool
		wantHint   string
	}{
		{"only B matches", "use Beta here", 2, 0, true, ""},
		{"only A matches", "Alpha", 2, 0, true, ""},
		{"both match", "Alpha Beta", 2, 0, true, ""},
		{"neither matches", "Gamma", 0, 1, false, "use Alpha or Beta"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := Assess(rules, tt.text)

			if report.Earned != tt.wantEarned {
				t.Errorf("Earned = %v; want %v", report.Earned, tt.wantEarned)
			}
			if report.TotalPossible != 2 {
				t.Errorf("TotalPossible = %v; want 2 (weight counted once)", report.TotalPossible)
			}
			if report.RequiredMisses != tt.wantMisses {
				t.Errorf("RequiredMisses = %d; want %d", report.RequiredMisses, tt.wantMisses)
			}
			if len(report.Checks) != 1 {
				t.Fatalf("len(Checks) = %d; want 1", len(report.Checks))
			}

			c := report.Checks[0]
			if !c.Group || c.ID != "g" || c.Description != domain.DefaultGroupTitle {
				t.Errorf("group check = %+v", c)
			}
			if c.Passed != tt.wantPassed {
				t.Errorf("Passed = %v; want %v", c.Passed, tt.wantPassed)
			}
			if c.Hint != tt.wantHint {
				t.Errorf("Hint = %q; want %q", c.Hint, tt.wantHint)
			}
			if len(c.Members) != 2 {
				t.Errorf("len(Members) = %d; want 2", len(c.Members))
			}
		})
	}
}

func TestAssess_MemberResults(t *testing.T) {
	rules := []domain.Rule{
		{Description: "Twist", Pattern: `\bTwist\b`, Kind: domain.KindRequired, GroupID: "msg_type", GroupTitle: "Uses a valid message type", GroupWeight: 1.4},
		{Description: "String", Pattern: `\bString\b`, Kind: domain.KindRequired, GroupID: "msg_type"},
	}

	report := Assess(rules, "from std_msgs.msg import String")
	c := report.Checks[0]

	want := []domain.MemberResult{
		{Description: "Twist", Matched: false},
		{Description: "String", Matched: true},
	}
	if !reflect.DeepEqual(c.Members, want) {
		t.Errorf("Members = %+v; want %+v", c.Members, want)
	}
	if c.Description != "Uses a valid message type" || c.Weight != 1.4 {
		t.Errorf("Description, Weight = %q, %v", c.Description, c.Weight)
	}
}

func TestAssess_OptionalGroup(t *testing.T) {
	rules := []domain.Rule{
		{Description: "required", Pattern: `x`, Kind: domain.KindRequired, Weight: 1},
		{Description: "A", Pattern: `a`, Kind: domain.KindOptional, GroupID: "opt", Weight: 2},
		{Description: "B", Pattern: `b`, Kind: domain.KindOptional, GroupID: "opt"},
	}

	report := Assess(rules, "x b")
	if !approx(report.Earned, 1+2*OptionalBonus) {
		t.Errorf("Earned = %v; want %v", report.Earned, 1+2*OptionalBonus)
	}
	if report.TotalPossible != 1 {
		t.Errorf("TotalPossible = %v; want 1", report.TotalPossible)
	}
	if report.Percent != 1 {
		t.Errorf("Percent = %v; want 1 (clamped)", report.Percent)
	}

	miss := Assess(rules, "x")
	if miss.RequiredMisses != 0 || miss.Checks[1].Hint != "" {
		t.Errorf("optional group miss: RequiredMisses = %d, Hint = %q", miss.RequiredMisses, miss.Checks[1].Hint)
	}
}

func TestAssess_NeutralGroupDoesNotScore(t *testing.T) {
	rules := []domain.Rule{
		{Description: "A", Pattern: `a`, GroupID: "n", Weight: 5},
		{Description: "req", Pattern: `z`, Kind: domain.KindRequired},
	}

	report := Assess(rules, "a z")
	if report.TotalPossible != 1 || report.Earned != 1 {
		t.Errorf("TotalPossible, Earned = %v, %v; want 1, 1", report.TotalPossible, report.Earned)
	}
	if !report.Checks[1].Passed || report.Checks[1].Kind != domain.KindNeutral {
		t.Errorf("neutral group check = %+v", report.Checks[1])
	}
}

func TestAssess_OptionalBonus(t *testing.T) {
	base := []domain.Rule{
		{Description: "req", Pattern: `foo`, Kind: domain.KindRequired, Weight: 2},
		{Description: "req2", Pattern: `bar`, Kind: domain.KindRequired, Weight: 2},
	}
	withOptional := append(append([]domain.Rule(nil), base...),
		domain.Rule{Description: "opt", Pattern: `baz`, Kind: domain.KindOptional, Weight: 0.8})

	before := Assess(base, "foo baz")
	after := Assess(withOptional, "foo baz")

	if !approx(after.Earned-before.Earned, 0.8*OptionalBonus) {
		t.Errorf("bonus = %v; want %v", after.Earned-before.Earned, 0.8*OptionalBonus)
	}
	if after.TotalPossible != before.TotalPossible {
		t.Errorf("TotalPossible changed: %v -> %v", before.TotalPossible, after.TotalPossible)
	}
}

func TestAssess_OptionalOnlyPercentIsZero(t *testing.T) {
	rules := []domain.Rule{
		{Description: "opt", Pattern: `x`, Kind: domain.KindOptional, Weight: 1},
		{Description: "neutral", Pattern: `x`},
	}

	report := Assess(rules, "x")
	if !approx(report.Earned, OptionalBonus) {
		t.Errorf("Earned = %v; want %v", report.Earned, OptionalBonus)
	}
	if report.TotalPossible != 0 || report.Percent != 0 {
		t.Errorf("TotalPossible, Percent = %v, %v; want 0, 0", report.TotalPossible, report.Percent)
	}
	if report.Verdict != domain.VerdictNeedsWork {
		t.Errorf("Verdict = %v; want Needs Work", report.Verdict)
	}
}

func TestAssess_NeutralHasNoHint(t *testing.T) {
	rules := []domain.Rule{
		{Description: "neutral", Pattern: `nope`, Hint: "never shown"},
		{Description: "optional", Pattern: `nope`, Kind: domain.KindOptional, Hint: "never shown"},
		{Description: "forbidden ok", Pattern: `nope`, Kind: domain.KindForbidden, Hint: "never shown"},
	}

	report := Assess(rules, "text")
	for _, c := range report.Checks {
		if c.Hint != "" {
			t.Errorf("%s: Hint = %q; want empty", c.Description, c.Hint)
		}
	}
}

func TestAssess_MalformedPatternDegradesOneCheck(t *testing.T) {
	rules := []domain.Rule{
		{Description: "broken", Pattern: `(unclosed`, Kind: domain.KindRequired},
		{Description: "lookahead", Pattern: `a(?=b)`, Kind: domain.KindForbidden},
		{Description: "fine", Pattern: `ok`, Kind: domain.KindRequired},
	}

	report := Assess(rules, "ok ab")
	if len(report.Checks) != 3 {
		t.Fatalf("len(Checks) = %d; want 3", len(report.Checks))
	}
	if report.Checks[0].Matched {
		t.Error("malformed required pattern matched")
	}
	if report.Checks[1].Matched || !report.Checks[1].Passed {
		t.Error("malformed forbidden pattern should count as no match")
	}
	if !report.Checks[2].Passed {
		t.Error("valid rule after malformed ones did not pass")
	}
	if !approx(report.Earned, 2) || report.TotalPossible != 3 {
		t.Errorf("Earned, TotalPossible = %v, %v; want 2, 3", report.Earned, report.TotalPossible)
	}
}

func TestAssess_DefaultWeight(t *testing.T) {
	rules := []domain.Rule{
		{Description: "zero", Pattern: `a`, Kind: domain.KindRequired},
		{Description: "negative", Pattern: `a`, Kind: domain.KindRequired, Weight: -3},
		{Description: "nan", Pattern: `a`, Kind: domain.KindRequired, Weight: math.NaN()},
	}

	report := Assess(rules, "a")
	if report.TotalPossible != 3 || report.Earned != 3 {
		t.Errorf("TotalPossible, Earned = %v, %v; want 3, 3", report.TotalPossible, report.Earned)
	}
	for _, c := range report.Checks {
		if c.Weight != 1 {
			t.Errorf("%s: Weight = %v; want 1", c.Description, c.Weight)
		}
	}
}

func TestAssess_HugeWeightsStayFinite(t *testing.T) {
	rules := []domain.Rule{
		{Description: "a", Pattern: `a`, Kind: domain.KindRequired, Weight: 1e308},
		{Description: "b", Pattern: `b`, Kind: domain.KindRequired, Weight: 1e308},
	}

	report := Assess(rules, "a b")
	if math.IsInf(report.TotalPossible, 0) || math.IsInf(report.Earned, 0) {
		t.Fatalf("TotalPossible, Earned = %v, %v; want finite", report.TotalPossible, report.Earned)
	}
	if report.TotalPossible != 2*domain.MaxWeight {
		t.Errorf("TotalPossible = %v; want %v", report.TotalPossible, 2*domain.MaxWeight)
	}
	if report.Percent != 1 || report.Verdict != domain.VerdictStrongPass {
		t.Errorf("Percent, Verdict = %v, %v; want 1, Strong Pass", report.Percent, report.Verdict)
	}
}

func TestAssess_Order(t *testing.T) {
	rules := []domain.Rule{
		{Description: "g1-a", Pattern: `a`, Kind: domain.KindRequired, GroupID: "g1", GroupTitle: "G1"},
		{Description: "r1", Pattern: `a`, Kind: domain.KindRequired},
		{Description: "g2-a", Pattern: `a`, Kind: domain.KindRequired, GroupID: "g2", GroupTitle: "G2"},
		{Description: "g1-b", Pattern: `b`, Kind: domain.KindRequired, GroupID: "g1"},
		{Description: "r2", Pattern: `a`, Kind: domain.KindForbidden},
	}

	report := Assess(rules, "a")

	var got []string
	for _, c := range report.Checks {
		got = append(got, c.Description)
	}
	want := []string{"r1", "r2", "G1", "G2"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v; want %v", got, want)
	}
}

func TestAssess_Idempotent(t *testing.T) {
	rules := append(addRules(),
		domain.Rule{Description: "A", Pattern: `a`, Kind: domain.KindRequired, GroupID: "g"},
		domain.Rule{Description: "B", Pattern: `(bad`, Kind: domain.KindRequired, GroupID: "g"},
	)
	set := domain.NewRuleSet(rules)
	sub := domain.NewSubmission("function add(a,b){ console.log(a) }", "js")

	e := New()
	first := e.Assess(set, sub)
	second := e.Assess(set, sub)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("reports differ:\n%+v\n%+v", first, second)
	}
}

func TestAssess_LineEndingsNormalized(t *testing.T) {
	rules := []domain.Rule{{Description: "two lines", Pattern: `a\nb`, Kind: domain.KindRequired}}

	if report := Assess(rules, "a\r\nb"); !report.Checks[0].Passed {
		t.Error("CRLF submission did not match LF pattern")
	}
}

func TestAssess_CaseIsPatternProperty(t *testing.T) {
	rules := []domain.Rule{
		{Description: "sensitive", Pattern: `Return`, Kind: domain.KindRequired},
		{Description: "insensitive", Pattern: `/Return/i`, Kind: domain.KindRequired},
	}

	report := Assess(rules, "return 1")
	if report.Checks[0].Passed {
		t.Error("case-sensitive pattern matched different case")
	}
	if !report.Checks[1].Passed {
		t.Error("case-insensitive pattern did not match")
	}
}

func TestAssess_BoundsProperty(t *testing.T) {
	patterns := []string{`a`, `b`, `(bad`, `c`}
	kinds := []domain.RuleKind{domain.KindRequired, domain.KindForbidden, domain.KindOptional, domain.KindNeutral}
	texts := []string{"", "a", "ab", "abc", "c"}

	for _, text := range texts {
		for i := range 64 {
			var rules []domain.Rule
			for j, p := range patterns {
				rules = append(rules, domain.Rule{
					Description: p,
					Pattern:     p,
					Kind:        kinds[(i+j)%len(kinds)],
					Weight:      float64((i*j)%3) + 0.5,
				})
				if i%5 == j {
					rules[len(rules)-1].GroupID = "g"
				}
			}

			r := Assess(rules, text)
			if r.Percent < 0 || r.Percent > 1 {
				t.Fatalf("Percent = %v out of range", r.Percent)
			}
			if r.Confidence < 0 || r.Confidence > 1 {
				t.Fatalf("Confidence = %v out of range", r.Confidence)
			}
			if r.Confidence > r.Percent {
				t.Fatalf("Confidence %v > Percent %v", r.Confidence, r.Percent)
			}
		}
	}
}

func TestConfidence(t *testing.T) {
	tests := []struct {
		percent        float64
		forbidden      int
		requiredMisses int
		want           float64
	}{
		{1, 0, 0, 1},
		{1, 1, 0, 0.92},
		{1, 0, 1, 0.95},
		{1, 1, 1, 0.87},
		{1, 10, 0, 0.75},
		{1, 0, 10, 0.75},
		{1, 10, 10, 0.5},
		{0.1, 2, 0, 0},
		{0, 0, 0, 0},
	}

	for _, tt := range tests {
		got := Confidence(tt.percent, tt.forbidden, tt.requiredMisses)
		if !approx(got, tt.want) {
			t.Errorf("Confidence(%v, %d, %d) = %v; want %v", tt.percent, tt.forbidden, tt.requiredMisses, got, tt.want)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		percent        float64
		forbidden      int
		requiredMisses int
		want           domain.Verdict
	}{
		{1, 0, 0, domain.VerdictStrongPass},
		{0.92, 0, 0, domain.VerdictStrongPass},
		{0.95, 1, 0, domain.VerdictPass},
		{0.95, 0, 1, domain.VerdictPass},
		{0.75, 1, 0, domain.VerdictPass},
		{0.9, 2, 0, domain.VerdictPartial},
		{0.74, 0, 0, domain.VerdictPartial},
		{0.55, 5, 5, domain.VerdictPartial},
		{0.54, 0, 0, domain.VerdictNeedsWork},
		{0, 0, 0, domain.VerdictNeedsWork},
	}

	for _, tt := range tests {
		if got := Classify(tt.percent, tt.forbidden, tt.requiredMisses); got != tt.want {
			t.Errorf("Classify(%v, %d, %d) = %v; want %v", tt.percent, tt.forbidden, tt.requiredMisses, got, tt.want)
		}
	}
}

func TestPercent(t *testing.T) {
	tests := []struct {
		earned, total, want float64
	}{
		{0, 0, 0},
		{1, 0, 0},
		{1, 2, 0.5},
		{3, 2, 1},
		{-1, 2, 0},
	}

	for _, tt := range tests {
		if got := Percent(tt.earned, tt.total); got != tt.want {
			t.Errorf("Percent(%v, %v) = %v; want %v", tt.earned, tt.total, got, tt.want)
		}
	}
}

type countingMatcher struct {
	calls map[string]int
}

func (m *countingMatcher) Test(pattern, text string) bool {
	m.calls[pattern]++
	return pattern == "hit"
}

func TestEngine_WithMatcher(t *testing.T) {
	m := &countingMatcher{calls: make(map[string]int)}
	e := New(WithMatcher(m))

	rules := []domain.Rule{
		{Description: "a", Pattern: "hit", Kind: domain.KindRequired, GroupID: "g"},
		{Description: "b", Pattern: "miss", Kind: domain.KindRequired, GroupID: "g"},
	}
	report := e.AssessRules(rules, "whatever")

	if !report.Checks[0].Passed {
		t.Error("group did not pass with injected matcher")
	}
	if m.calls["hit"] != 1 || m.calls["miss"] != 1 {
		t.Errorf("calls = %v; want each member tested once", m.calls)
	}
}
