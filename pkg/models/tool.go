package models

import "time"

// ToolResultKind tags the outcome variant of a tool execution.
type ToolResultKind string

const (
	ToolResultOK             ToolResultKind = "ok"
	ToolResultError          ToolResultKind = "error"
	ToolResultTimeout        ToolResultKind = "timeout"
	ToolResultCircuitOpen    ToolResultKind = "circuit_open"
	ToolResultSafetyRejected ToolResultKind = "safety_rejected"
	ToolResultSkipped        ToolResultKind = "skipped"
)

// ToolResult is the uniform envelope for one tool execution outcome.
// Failures are reified here rather than propagated as errors; only
// cancellation and fatal internal errors terminate a turn early.
type ToolResult struct {
	Tool           string         `json:"tool"`
	Kind           ToolResultKind `json:"kind"`
	Success        bool           `json:"success"`
	Result         any            `json:"result,omitempty"`
	Error          string         `json:"error,omitempty"`
	DisplayHint    string         `json:"display_hint,omitempty"`
	ElapsedMs      int64          `json:"elapsed_ms"`
	TimedOut       bool           `json:"timed_out,omitempty"`
	CircuitOpen    bool           `json:"circuit_open,omitempty"`
	SafetyRejected bool           `json:"safety_rejected,omitempty"`
	Retried        bool           `json:"retried,omitempty"`
	StepIndex      int            `json:"step_index"`
	TurnID         string         `json:"turn_id"`
}

// IsEmpty reports whether the raw result carries no payload: nil, an empty
// string, or a zero-length list or map.
func (r *ToolResult) IsEmpty() bool {
	switch v := r.Result.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	}
	return false
}

// Clone returns a shallow copy of the result. The Result payload is shared;
// callers must treat it as read-only.
func (r *ToolResult) Clone() ToolResult {
	return *r
}

// ConversationTurn is one (user, assistant) exchange kept in session history.
type ConversationTurn struct {
	User       string    `json:"user"`
	Assistant  string    `json:"assistant"`
	TurnNumber int       `json:"turn_number"`
	Timestamp  time.Time `json:"ts"`
}

// Output is what ProcessTurn returns to the caller for one turn.
type Output struct {
	Route                Route          `json:"route"`
	Intent               string         `json:"intent"`
	ToolPlan             []string       `json:"tool_plan,omitempty"`
	AssistantReply       string         `json:"assistant_reply"`
	TurnID               string         `json:"turn_id"`
	TurnCancelled        bool           `json:"turn_cancelled,omitempty"`
	AwaitingConfirmation bool           `json:"awaiting_confirmation,omitempty"`
	ConfirmationToken    string         `json:"confirmation_token,omitempty"`
	Tier                 string         `json:"tier,omitempty"`
	Metadata             map[string]any `json:"metadata,omitempty"`
}
