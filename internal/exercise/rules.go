package exercise

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/felixgeelhaar/assay/internal/domain"
	"gopkg.in/yaml.v3"
)

// Weight is a rule or group weight that never fails to decode. Numbers and
// numeric strings are kept; anything else becomes 0, which scoring replaces
// with the default weight.
type Weight float64

// UnmarshalYAML implements yaml.Unmarshaler
func (w *Weight) UnmarshalYAML(node *yaml.Node) error {
	*w = 0
	if node.Kind != yaml.ScalarNode {
		return nil
	}
	var f float64
	if err := node.Decode(&f); err == nil {
		*w = Weight(f)
		return nil
	}
	*w = parseWeight(node.Value)
	return nil
}

// UnmarshalJSON implements json.Unmarshaler
func (w *Weight) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*w = parseWeight(s)
		return nil
	}
	*w = parseWeight(string(data))
	return nil
}

func parseWeight(s string) Weight {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return Weight(f)
}

// ExpectationFile is the author-facing form of a rule, shared by exercise
// YAML, rules files and HTTP request bodies. Authors set one of the
// required/forbidden/optional flags or an explicit kind.
type ExpectationFile struct {
	Description string `yaml:"description" json:"description"`
	Pattern     string `yaml:"pattern" json:"pattern"`
	Kind        string `yaml:"kind,omitempty" json:"kind,omitempty"`
	Required    bool   `yaml:"required,omitempty" json:"required,omitempty"`
	Forbidden   bool   `yaml:"forbidden,omitempty" json:"forbidden,omitempty"`
	Optional    bool   `yaml:"optional,omitempty" json:"optional,omitempty"`
	Weight      Weight `yaml:"weight,omitempty" json:"weight,omitempty"`
	Hint        string `yaml:"hint,omitempty" json:"hint,omitempty"`
	GroupID     string `yaml:"group_id,omitempty" json:"group_id,omitempty"`
	GroupTitle  string `yaml:"group_title,omitempty" json:"group_title,omitempty"`
	GroupWeight Weight `yaml:"group_weight,omitempty" json:"group_weight,omitempty"`
}

// Rule converts the file form into a domain rule. Flags win over kind.
func (e ExpectationFile) Rule() domain.Rule {
	kind := domain.KindFromFlags(e.Required, e.Forbidden, e.Optional)
	if kind == domain.KindNeutral && e.Kind != "" {
		kind = domain.ParseRuleKind(e.Kind)
	}

	return domain.Rule{
		Description: e.Description,
		Pattern:     e.Pattern,
		Kind:        kind,
		Weight:      float64(e.Weight),
		Hint:        e.Hint,
		GroupID:     e.GroupID,
		GroupTitle:  e.GroupTitle,
		GroupWeight: float64(e.GroupWeight),
	}
}

// ToRules converts file-form expectations into domain rules
func ToRules(files []ExpectationFile) []domain.Rule {
	if files == nil {
		return nil
	}
	rules := make([]domain.Rule, len(files))
	for i, f := range files {
		rules[i] = f.Rule()
	}
	return rules
}

// NewExpectationFile converts a domain rule into its file form
func NewExpectationFile(r domain.Rule) ExpectationFile {
	return ExpectationFile{
		Description: r.Description,
		Pattern:     r.Pattern,
		Required:    r.Kind == domain.KindRequired,
		Forbidden:   r.Kind == domain.KindForbidden,
		Optional:    r.Kind == domain.KindOptional,
		Weight:      Weight(r.Weight),
		Hint:        r.Hint,
		GroupID:     r.GroupID,
		GroupTitle:  r.GroupTitle,
		GroupWeight: Weight(r.GroupWeight),
	}
}

// rulesDocument is the mapping form of a rules file
type rulesDocument struct {
	Expectations []ExpectationFile `yaml:"expectations"`
	Rules        []ExpectationFile `yaml:"rules,omitempty"`
}

// DecodeRules parses a rules file. It accepts a bare list of expectations or a
// mapping with an "expectations" or "rules" key. JSON input is accepted too.
func DecodeRules(data []byte) ([]domain.Rule, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: parse rules: %v", domain.ErrInvalidInput, err)
	}
	if len(root.Content) == 0 {
		return nil, nil
	}

	var files []ExpectationFile
	doc := root.Content[0]
	switch doc.Kind {
	case yaml.SequenceNode:
		if err := doc.Decode(&files); err != nil {
			return nil, fmt.Errorf("%w: decode rules: %v", domain.ErrInvalidInput, err)
		}
	case yaml.MappingNode:
		var d rulesDocument
		if err := doc.Decode(&d); err != nil {
			return nil, fmt.Errorf("%w: decode rules: %v", domain.ErrInvalidInput, err)
		}
		files = append(d.Expectations, d.Rules...)
	default:
		return nil, fmt.Errorf("%w: rules must be a list or a mapping", domain.ErrInvalidInput)
	}

	return ToRules(files), nil
}

// EncodeRules renders rules as a YAML expectations document
func EncodeRules(rules []domain.Rule) ([]byte, error) {
	d := rulesDocument{Expectations: make([]ExpectationFile, len(rules))}
	for i, r := range rules {
		d.Expectations[i] = NewExpectationFile(r)
	}

	data, err := yaml.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode rules: %w", err)
	}
	return data, nil
}
