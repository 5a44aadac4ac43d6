package engine

import (
	"regexp"
	"strings"
)

// compilePrefix builds a case-insensitive matcher for the command words. The
// last word must end at whitespace or end of input so "restart" never
// matches "restarted".
func compilePrefix(words []string) *regexp.Regexp {
	quoted := make([]string, 0, len(words))
	for _, word := range words {
		quoted = append(quoted, regexp.QuoteMeta(word))
	}

	return regexp.MustCompile(`(?i)^\s*` + strings.Join(quoted, `\s+`) + `(?:\s+|$)`)
}

// compilePattern anchors a user pattern to the whole trailing text.
func compilePattern(source string) (*regexp.Regexp, error) {
	return regexp.Compile(`(?i)^(?:` + source + `)$`)
}

func (e *entry) matchArgs(trailing string) (Args, bool) {
	if e.pattern == nil {
		return Args{raw: trailing}, true
	}

	groups := e.pattern.FindStringSubmatch(trailing)
	if groups == nil {
		return Args{}, false
	}

	named := make(map[string]string)
	for i, name := range e.pattern.SubexpNames() {
		if i == 0 || name == "" {
			continue
		}
		named[name] = groups[i]
	}

	return Args{raw: trailing, named: named}, true
}

// stripMarker returns the command text when input starts with marker.
func stripMarker(input string, marker string) (string, bool) {
	trimmed := strings.TrimSpace(input)
	if marker == "" || !strings.HasPrefix(trimmed, marker) {
		return "", false
	}

	return strings.TrimSpace(strings.TrimPrefix(trimmed, marker)), true
}
