// Package safety provides preflight guardrails for destructive shell
// commands and a permission-level classifier for planned actions.
package safety

import (
	"regexp"
	"strings"
)

// Destructive command patterns. Matching commands are blocked outright.
var blockedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\brm\s+(-[a-z]*r[a-z]*f|-[a-z]*f[a-z]*r)\b`),
	regexp.MustCompile(`:\(\)\s*\{\s*:\|:&\s*\}\s*;`),
	regexp.MustCompile(`(?i)\bmkfs(\.[a-z0-9]+)?\b`),
	regexp.MustCompile(`(?i)\bdd\s+.*\bof=/dev/`),
	regexp.MustCompile(`(?i)>\s*/dev/sd[a-z]\b`),
	regexp.MustCompile(`(?i)\bchmod\s+-R\s+777\b`),
	regexp.MustCompile(`(?i)(curl|wget)\s+[^|;]*\|\s*(ba)?sh\b`),
}

// Commands that are not blocked but always require explicit confirmation.
var confirmPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*sudo\b`),
	regexp.MustCompile(`(?i)\bgit\s+push\b`),
	regexp.MustCompile(`(?i)\b(shutdown|reboot|poweroff|halt)\b`),
	regexp.MustCompile(`(?i)\bkill(all)?\s+`),
	regexp.MustCompile(`(?i)\bsystemctl\s+(stop|disable|mask)\b`),
}

// CheckResult reports the guardrail verdict for one command string.
type CheckResult struct {
	Blocked              bool   `json:"blocked"`
	ConfirmationRequired bool   `json:"confirmation_required"`
	Reason               string `json:"reason,omitempty"`
}

// Check evaluates a command representation against the destructive pattern
// set. Blocked wins over confirmation.
func Check(command string) CheckResult {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return CheckResult{}
	}

	for _, re := range blockedPatterns {
		if re.MatchString(trimmed) {
			return CheckResult{Blocked: true, Reason: "destructive command pattern: " + re.String()}
		}
	}
	for _, re := range confirmPatterns {
		if re.MatchString(trimmed) {
			return CheckResult{ConfirmationRequired: true, Reason: "sensitive command pattern: " + re.String()}
		}
	}
	return CheckResult{}
}
