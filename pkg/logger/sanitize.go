package logger

import (
	"log/slog"
	"strings"
	"unicode/utf8"
)

// MaxLoggedValueLen caps attacker-supplied values in operator logs
const MaxLoggedValueLen = 256

// SanitizeForLog removes newlines and control characters from
// attacker-supplied strings so they cannot forge log entries, and truncates
// values longer than MaxLoggedValueLen bytes
func SanitizeForLog(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\t", " ")

	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		if r >= 32 && r != 0x7f {
			result.WriteRune(r)
		}
	}
	out := result.String()

	if len(out) > MaxLoggedValueLen {
		cut := MaxLoggedValueLen
		for cut > 0 && !utf8.RuneStart(out[cut]) {
			cut--
		}
		out = out[:cut] + "...[truncated]"
	}
	return out
}

// RedactedAttr returns a redacted slog attribute for sensitive values
// In production, returns "[REDACTED]"; in development, returns the actual value
func RedactedAttr(key, value, env string) slog.Attr {
	if env == "production" {
		return slog.String(key, "[REDACTED]")
	}
	return slog.String(key, SanitizeForLog(value))
}

// SanitizeQueryString checks if query string contains sensitive parameters
// and returns true if the entire query string should be redacted
func SanitizeQueryString(rawQuery string) bool {
	sensitiveParams := []string{
		"password",
		"token",
		"secret",
		"auth",
		"jwt",
	}

	query := strings.ToLower(rawQuery)
	for _, param := range sensitiveParams {
		if strings.Contains(query, param) {
			return true
		}
	}
	return false
}
