package rbac

import (
	"regexp"
	"strings"
)

// sanitizeRule replaces one class of sensitive text
type sanitizeRule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Rules run in order; URLs go first so their parts are not matched piecemeal.
var sanitizeRules = []sanitizeRule{
	{regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9+.-]*://\S+`), "[url]"},
	{regexp.MustCompile(`(?i)\b(password|passwd|pwd|secret|token|api[_-]?key|access[_-]?key|host|user|dbname)\s*=\s*\S+`), "$1=[redacted]"},
	{regexp.MustCompile(`\S+:\S+@\S+`), "[credentials]"},
	{regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}(?::\d+)?\b`), "[ip]"},
	{regexp.MustCompile(`\[[0-9a-fA-F:.]+\](?::\d+)?`), "[ip]"},
	{regexp.MustCompile(`(?i)\b(?:[0-9a-f]{1,4}:){7}[0-9a-f]{1,4}\b`), "[ip]"},
	{regexp.MustCompile(`(?i)(?:[0-9a-f]{1,4}(?::[0-9a-f]{1,4})*)?::(?:[0-9a-f]{1,4}(?::[0-9a-f]{1,4})*)?`), "[ip]"},
	{regexp.MustCompile(`(?i)\b[a-z0-9](?:[a-z0-9-]*[a-z0-9])?(?:\.[a-z0-9](?:[a-z0-9-]*[a-z0-9])?)+:\d{2,5}\b`), "[host]"},
	{regexp.MustCompile(`(?i)\b(?:[a-z0-9-]+\.)+(?:com|net|org|io|internal|local|localdomain|cloud|dev|svc)\b`), "[host]"},
	{regexp.MustCompile(`(?i)\blocalhost(?::\d+)?\b`), "[host]"},
	{regexp.MustCompile(`(?:/[\w.@-]+){2,}/?`), "[path]"},
	{regexp.MustCompile(`\b[A-Za-z]:\\\S+`), "[path]"},
}

// SanitizeErrorMessage strips credentials, connection URLs, hostnames, IP literals
// and file paths from a message. Only the first line is kept so stack traces never
// reach callers.
func SanitizeErrorMessage(message string) string {
	if i := strings.IndexByte(message, '\n'); i >= 0 {
		message = message[:i]
	}

	for _, rule := range sanitizeRules {
		message = rule.pattern.ReplaceAllString(message, rule.replacement)
	}
	return strings.TrimSpace(message)
}

// SanitizeError returns the sanitized message of err, or "" for nil
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeErrorMessage(err.Error())
}
