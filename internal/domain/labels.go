package domain

import (
	"math"
	"strconv"
)

// FormatPercent renders a [0,1] fraction as a whole percentage, e.g. "92%"
func FormatPercent(x float64) string {
	return strconv.Itoa(int(math.Floor(x*100+0.5))) + "%"
}

// FormatScore renders earned over total points, e.g. "2.4 / 2.4"
func FormatScore(earned, total float64) string {
	return formatPoints(earned) + " / " + formatPoints(total)
}

func formatPoints(x float64) string {
	rounded := math.Floor(x*100+0.5) / 100
	return strconv.FormatFloat(rounded, 'f', -1, 64)
}

// KindLabel returns the human label for a rule kind
func KindLabel(k RuleKind) string {
	switch k {
	case KindForbidden:
		return "Forbidden"
	case KindRequired:
		return "Required"
	case KindOptional:
		return "Optional"
	default:
		return "Check"
	}
}

// ImpactLabel buckets a weight into High, Medium or Low
func ImpactLabel(weight float64) string {
	w := NormalizeWeight(weight)
	switch {
	case w >= 1.3:
		return "High"
	case w >= 1.15:
		return "Medium"
	default:
		return "Low"
	}
}
