package audit

import (
	"regexp"
	"strings"
)

// Redaction patterns for PII in audit event string fields.
var (
	// emailPattern matches bare email addresses.
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.([a-zA-Z]{2,})`)

	// phonePattern matches phone numbers: 8+ digits allowing space, dash,
	// dot and parenthesis separators, optional leading +.
	phonePattern = regexp.MustCompile(`\+?\d[\d\s().-]{6,}\d`)

	// secretAssignPattern matches key=value style secret assignments,
	// covering the Turkish keywords used in voice commands.
	secretAssignPattern = regexp.MustCompile(`(?i)(token|secret|api_key|password|şifre|parola|auth_token)\s*[:=]\s*\S+`)

	// homePathPattern matches home directory paths on both common layouts.
	homePathPattern = regexp.MustCompile(`(/home/|/Users/)[^/\s]+/?`)
)

// redactString applies the email, phone, secret and home path masks to a
// single string value.
func redactString(s string) string {
	s = secretAssignPattern.ReplaceAllStringFunc(s, func(m string) string {
		if idx := strings.IndexAny(m, ":="); idx >= 0 {
			return m[:idx+1] + "[REDACTED]"
		}
		return "[REDACTED]"
	})
	s = emailPattern.ReplaceAllStringFunc(s, func(m string) string {
		at := strings.LastIndex(m, "@")
		dot := strings.LastIndex(m, ".")
		if at < 0 || dot < at {
			return "u***@***"
		}
		return string(m[0]) + "***@***" + m[dot:]
	})
	s = homePathPattern.ReplaceAllString(s, "~/.../")
	s = phonePattern.ReplaceAllStringFunc(s, func(m string) string {
		digits := 0
		for _, r := range m {
			if r >= '0' && r <= '9' {
				digits++
			}
		}
		if digits >= 8 {
			return "[PHONE]"
		}
		return m
	})
	return s
}

// RedactValue recursively redacts string values inside nested maps and
// slices. Keys in the exempt set are left untouched.
func RedactValue(key string, v any) any {
	if exemptKeys[key] {
		return v
	}
	switch val := v.(type) {
	case string:
		return redactString(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = RedactValue(k, inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = RedactValue(key, inner)
		}
		return out
	default:
		return v
	}
}
