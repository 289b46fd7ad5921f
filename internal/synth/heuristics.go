package synth

import "github.com/felixgeelhaar/assay/internal/domain"

// Heuristic proposes one rule when its probe matches a reference solution
type Heuristic struct {
	ID string

	// Probe is tested case-sensitively against the reference solution.
	// Ignored when Always is set.
	Probe string

	// Always includes the rule regardless of the reference
	Always bool

	// Languages restricts the heuristic; empty means all languages
	Languages []string

	Rule domain.Rule
}

// applies reports whether the heuristic is enabled for a normalized language.
// Language-tagged heuristics are skipped when no language is known.
func (h Heuristic) applies(lang string) bool {
	if len(h.Languages) == 0 {
		return true
	}
	return contains(h.Languages, lang)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

const (
	msgTypeGroup = "msg_type"
	msgTypeTitle = "Uses a valid ROS 2 message type"
	msgTypeHint  = "Make sure you use a proper ROS 2 message type (e.g., Twist or String)."
)

// DefaultHeuristics returns the built-in battery in output order
func DefaultHeuristics() []Heuristic {
	return []Heuristic{
		// Generic
		{
			ID:    "GEN001",
			Probe: `\bimport\b`,
			Rule: domain.Rule{
				Description: "Has import usage",
				Pattern:     `(?i)\bimport\b`,
				Kind:        domain.KindRequired,
				Weight:      0.8,
				Hint:        "Include required imports.",
			},
		},

		// ROS 2
		{
			ID:    "ROS001",
			Probe: `\brclpy\b`,
			Rule: domain.Rule{
				Description: "Uses rclpy",
				Pattern:     `(?i)\brclpy\b`,
				Kind:        domain.KindRequired,
				Weight:      1.2,
				Hint:        "ROS 2 Python nodes typically use rclpy.",
			},
		},
		{
			ID:    "ROS002",
			Probe: `\bcreate_publisher\b`,
			Rule: domain.Rule{
				Description: "Creates a publisher",
				Pattern:     `(?i)\bcreate_publisher\s*\(`,
				Kind:        domain.KindRequired,
				Weight:      1.3,
				Hint:        "Create a publisher using create_publisher(...).",
			},
		},
		{
			ID:    "ROS003",
			Probe: `\bpublish\s*\(`,
			Rule: domain.Rule{
				Description: "Publishes a message",
				Pattern:     `(?i)\.publish\s*\(`,
				Kind:        domain.KindRequired,
				Weight:      1.2,
				Hint:        "Call publish(...) on the publisher.",
			},
		},
		{
			ID:     "ROS004",
			Always: true,
			Rule: domain.Rule{
				Description: "Avoid publishing raw string literals (common ROS 2 type mismatch)",
				Pattern:     "(?i)\\.publish\\s*\\(\\s*['\"`]",
				Kind:        domain.KindForbidden,
				Weight:      1.4,
				Hint:        "Publish a message object, not a raw string literal.",
			},
		},
		{
			ID:    "ROS005",
			Probe: `\bTwist\b`,
			Rule: domain.Rule{
				Description: "Uses geometry_msgs/Twist",
				Pattern:     `(?i)\bTwist\b`,
				Kind:        domain.KindRequired,
				Hint:        msgTypeHint,
				GroupID:     msgTypeGroup,
				GroupTitle:  msgTypeTitle,
				GroupWeight: 1.4,
			},
		},
		{
			ID:    "ROS006",
			Probe: `\bString\b|std_msgs`,
			Rule: domain.Rule{
				Description: "Uses std_msgs/String",
				Pattern:     `(?i)\bstd_msgs\b|\bString\b`,
				Kind:        domain.KindRequired,
				Hint:        msgTypeHint,
				GroupID:     msgTypeGroup,
				GroupTitle:  msgTypeTitle,
				GroupWeight: 1.4,
			},
		},

		// Python
		{
			ID:        "PY001",
			Probe:     `\bdef\s+\w+\s*\(`,
			Languages: []string{"python"},
			Rule: domain.Rule{
				Description: "Defines a function",
				Pattern:     `\bdef\s+\w+\s*\(`,
				Kind:        domain.KindRequired,
				Hint:        "Define a function with def name(...):",
			},
		},
		{
			ID:        "PY002",
			Probe:     `\brclpy\.init\s*\(`,
			Languages: []string{"python"},
			Rule: domain.Rule{
				Description: "Initializes rclpy",
				Pattern:     `\brclpy\.init\s*\(`,
				Kind:        domain.KindRequired,
				Hint:        "Call rclpy.init() before creating nodes.",
			},
		},
		{
			ID:        "PY003",
			Probe:     `\brclpy\.spin\w*\s*\(`,
			Languages: []string{"python"},
			Rule: domain.Rule{
				Description: "Spins the node",
				Pattern:     `\brclpy\.spin\w*\s*\(`,
				Kind:        domain.KindOptional,
				Hint:        "Spin the node so callbacks run.",
			},
		},

		// JavaScript / TypeScript
		{
			ID:        "JS001",
			Probe:     `\bfunction\s+\w+\s*\(|=>`,
			Languages: []string{"javascript", "typescript"},
			Rule: domain.Rule{
				Description: "Defines a function",
				Pattern:     `\bfunction\s+\w+\s*\(|=>`,
				Kind:        domain.KindRequired,
				Hint:        "Define a function or an arrow function.",
			},
		},

		// Go
		{
			ID:        "GO001",
			Probe:     `\bfunc\s+\w+\s*\(`,
			Languages: []string{"go"},
			Rule: domain.Rule{
				Description: "Defines a function",
				Pattern:     `\bfunc\s+\w+\s*\(`,
				Kind:        domain.KindRequired,
				Hint:        "Define a function with func name(...).",
			},
		},

		// Shared
		{
			ID:        "GEN002",
			Probe:     `\breturn\b`,
			Languages: []string{"python", "javascript", "typescript", "go"},
			Rule: domain.Rule{
				Description: "Returns a value",
				Pattern:     `\breturn\b`,
				Kind:        domain.KindRequired,
				Hint:        "Return the result instead of printing it.",
			},
		},
	}
}
