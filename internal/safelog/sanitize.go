// Package safelog sanitizes untrusted strings (file paths, parser error
// bodies) before they are folded into log lines or error messages, so a
// crafted filename or a malformed file body can't inject control
// characters into the user's terminal or log aggregator.
package safelog

import (
	"strings"
	"unicode"
)

const defaultMaxLen = 100

// Sanitize escapes control characters and truncates s to maxLength (default
// 100; pass 0 or negative to disable truncation). Used for any untrusted
// string — a path or a parser's error body — before it reaches a log line
// or an error message.
func Sanitize(s string, maxLength ...int) string {
	if s == "" {
		return ""
	}

	var result strings.Builder
	result.Grow(len(s))

	for _, r := range s {
		switch {
		case r == '\n':
			result.WriteString("\\n")
		case r == '\r':
			result.WriteString("\\r")
		case r == '\t':
			result.WriteString("\\t")
		case unicode.IsControl(r):
			result.WriteString("?")
		case r == '\\':
			result.WriteString("\\\\")
		case unicode.IsPrint(r):
			result.WriteRune(r)
		default:
			result.WriteString("?")
		}
	}

	maxLen := defaultMaxLen
	if len(maxLength) > 0 {
		maxLen = maxLength[0]
	}

	if maxLen > 0 && result.Len() > maxLen {
		return result.String()[:maxLen] + "...[truncated]"
	}

	return result.String()
}
