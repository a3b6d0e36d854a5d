// Package util provides small helpers shared across the gateway.
package util

import "regexp"

// secretPattern matches tokens with well known secret prefixes. The whole
// token is replaced, not just the prefix.
var secretPattern = regexp.MustCompile(`(?:sk|xoxb|xoxp)-[A-Za-z0-9_-]+`)

const maxErrorBodyRunes = 200

// SanitizeErrorBody scrubs known secret shapes from an upstream error body
// and truncates it to a bounded rune count. Idempotent.
func SanitizeErrorBody(s string) string {
	s = secretPattern.ReplaceAllString(s, "[REDACTED]")
	runes := []rune(s)
	if len(runes) <= maxErrorBodyRunes+3 {
		return s
	}
	return string(runes[:maxErrorBodyRunes]) + "..."
}
