package matcher

import (
	"fmt"
	"strings"
)

const jsFlags = "dgimsuy"

// Translate converts a pattern to RE2 syntax. Patterns written as
// JavaScript-style literals ("/body/flags") have their flags mapped onto an
// RE2 flag group; anything else is returned unchanged.
//
// Flags i, m and s carry over. g, u, y and d only change how a JavaScript
// regex is iterated, not whether it matches, so they are dropped.
func Translate(pattern string) (string, error) {
	body, flags, ok := splitLiteral(pattern)
	if !ok {
		return pattern, nil
	}

	var re2 strings.Builder
	for _, f := range flags {
		switch f {
		case 'i', 'm', 's':
			if !strings.ContainsRune(re2.String(), f) {
				re2.WriteRune(f)
			}
		}
	}

	if body == "" {
		return "", fmt.Errorf("empty pattern literal")
	}
	if re2.Len() == 0 {
		return body, nil
	}
	return "(?" + re2.String() + ")" + body, nil
}

// splitLiteral recognizes "/body/flags" where flags are JavaScript regex
// flags. "/usr/bin" is not a literal because "bin" is not a flag set, and
// "//" is the RE2 pattern for a line comment.
func splitLiteral(pattern string) (body, flags string, ok bool) {
	if len(pattern) < 2 || pattern[0] != '/' || pattern == "//" {
		return "", "", false
	}

	end := strings.LastIndexByte(pattern, '/')
	if end == 0 {
		return "", "", false
	}

	flags = pattern[end+1:]
	for _, r := range flags {
		if !strings.ContainsRune(jsFlags, r) {
			return "", "", false
		}
	}
	return pattern[1:end], flags, true
}
