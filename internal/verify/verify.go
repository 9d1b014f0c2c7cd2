// Package verify performs post-execution validation of tool results and
// drives the single-retry path for idempotent tools.
package verify

import (
	"log/slog"
	"strings"
	"time"

	"github.com/miclaldogan/bantz-sub008/pkg/models"
)

// validEmptyTools legitimately return nothing: an empty calendar day or an
// empty inbox is a valid answer, not a failure.
var validEmptyTools = map[string]bool{
	"calendar.list_events": true,
	"gmail.list_messages":  true,
	"gmail.search":         true,
	"system.status":        true,
}

// retryableTools is the idempotent whitelist. Mutating tools (create, send,
// delete) are never retried.
var retryableTools = map[string]bool{
	"calendar.list_events": true,
	"calendar.get_event":   true,
	"gmail.list_messages":  true,
	"gmail.search":         true,
	"gmail.get_message":    true,
	"gmail.unread_count":   true,
	"time.now":             true,
	"system.status":        true,
}

// RetryFunc re-executes one tool call. The original result is passed so the
// caller can reuse its arguments.
type RetryFunc func(tool string, original models.ToolResult) models.ToolResult

// ToolVerification is the verdict for one result.
type ToolVerification struct {
	Tool    string `json:"tool"`
	Status  string `json:"status"` // ok | retried | failed
	Reason  string `json:"reason,omitempty"`
	Retried bool   `json:"retried,omitempty"`
}

// Result summarizes a verification pass.
type Result struct {
	Verified        bool                `json:"verified"`
	ToolsOK         []string            `json:"tools_ok,omitempty"`
	ToolsRetry      []string            `json:"tools_retry,omitempty"`
	ToolsFail       []string            `json:"tools_fail,omitempty"`
	PerTool         []ToolVerification  `json:"per_tool"`
	VerifiedResults []models.ToolResult `json:"verified_results"`
	ElapsedMs       int64               `json:"elapsed_ms"`
}

// Verifier checks tool results after a turn's execution phase.
type Verifier struct {
	logger *slog.Logger
}

// New creates a verifier.
func New(logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{logger: logger.With("component", "verifier")}
}

// VerifyToolResults inspects each result, retries idempotent failures once
// when retryFn is provided, and returns the substituted result set. The pass
// is verified iff no tool ended up failed.
func (v *Verifier) VerifyToolResults(results []models.ToolResult, retryFn RetryFunc) Result {
	start := time.Now()
	out := Result{Verified: true}

	for _, res := range results {
		verdict, final := v.verifyOne(res, retryFn)
		out.PerTool = append(out.PerTool, verdict)
		out.VerifiedResults = append(out.VerifiedResults, final)
		switch verdict.Status {
		case "ok":
			out.ToolsOK = append(out.ToolsOK, verdict.Tool)
		case "retried":
			out.ToolsRetry = append(out.ToolsRetry, verdict.Tool)
			out.ToolsOK = append(out.ToolsOK, verdict.Tool)
		case "failed":
			out.ToolsFail = append(out.ToolsFail, verdict.Tool)
			out.Verified = false
		}
	}

	out.ElapsedMs = time.Since(start).Milliseconds()
	return out
}

func (v *Verifier) verifyOne(res models.ToolResult, retryFn RetryFunc) (ToolVerification, models.ToolResult) {
	verdict := ToolVerification{Tool: res.Tool}

	if isSafetyRejected(res) {
		verdict.Status = "failed"
		verdict.Reason = "safety rejected, not retryable"
		return verdict, res
	}

	empty := res.Success && res.IsEmpty()
	if empty && validEmptyTools[res.Tool] {
		verdict.Status = "ok"
		verdict.Reason = "empty result is valid for this tool"
		return verdict, res
	}

	needsRetry := empty || !res.Success
	if !needsRetry {
		verdict.Status = "ok"
		return verdict, res
	}

	if retryFn != nil && retryableTools[res.Tool] && !res.Retried {
		v.logger.Info("retrying idempotent tool", "tool", res.Tool, "reason", res.Error)
		retried := retryFn(res.Tool, res)
		retried.Retried = true
		if retried.Success && !retried.IsEmpty() {
			verdict.Status = "retried"
			verdict.Retried = true
			verdict.Reason = "retry succeeded"
			return verdict, retried
		}
	}

	verdict.Status = "failed"
	if res.Error != "" {
		verdict.Reason = res.Error
	} else {
		verdict.Reason = "empty result"
	}
	return verdict, res
}

// isSafetyRejected detects safety rejections by flag or by error text.
func isSafetyRejected(res models.ToolResult) bool {
	if res.SafetyRejected || res.Kind == models.ToolResultSafetyRejected {
		return true
	}
	lower := strings.ToLower(res.Error)
	return strings.Contains(lower, "safety") || strings.Contains(lower, "blocked")
}
