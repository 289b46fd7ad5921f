package domain

import "strings"

// Submission holds a learner's code as typed and the form used for matching
type Submission struct {
	Raw        string
	Normalized string
	Language   string
}

// NewSubmission normalizes line endings only; spacing and casing are preserved
func NewSubmission(raw, language string) Submission {
	return Submission{
		Raw:        raw,
		Normalized: NormalizeLineEndings(raw),
		Language:   NormalizeLanguage(language),
	}
}

// NormalizeLineEndings converts CRLF and lone CR to LF
func NormalizeLineEndings(s string) string {
	if !strings.Contains(s, "\r") {
		return s
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// NormalizeLanguage maps common language aliases to canonical names.
// The result is informational and never affects scoring.
func NormalizeLanguage(lang string) string {
	l := strings.ToLower(strings.TrimSpace(lang))
	switch l {
	case "":
		return "any"
	case "js":
		return "javascript"
	case "ts":
		return "typescript"
	case "py":
		return "python"
	case "html":
		return "markup"
	case "sh", "shell":
		return "bash"
	case "yml":
		return "yaml"
	default:
		return l
	}
}
