// Package glob translates cache-key glob patterns into anchored regular
// expressions. The syntax is deliberately small: '*' matches any run of
// characters and '?' matches exactly one character. Everything else is
// matched literally, including regexp metacharacters.
package glob

import (
	"regexp"
	"strings"
)

// Compile translates pattern into an anchored *regexp.Regexp.
// The returned expression matches the full key, never a substring.
func Compile(pattern string) (*regexp.Regexp, error) {
	var sb strings.Builder
	sb.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			sb.WriteString(".*")
		case '?':
			sb.WriteString(".")
		default:
			// QuoteMeta handles '.', '+', '(', '[' and friends
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")
	return regexp.Compile(sb.String())
}

// Match reports whether key matches pattern. It compiles the pattern on
// every call; callers on a hot path should Compile once and reuse.
func Match(pattern, key string) (bool, error) {
	re, err := Compile(pattern)
	if err != nil {
		return false, err
	}
	return re.MatchString(key), nil
}

// IsPattern reports whether s contains glob metacharacters. Useful for
// callers that treat literal keys and patterns differently.
func IsPattern(s string) bool {
	return strings.ContainsAny(s, "*?")
}
