package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// EventType categorizes audit events.
type EventType string

const (
	EventToolCall           EventType = "tool_call"
	EventToolDenied         EventType = "tool_denied"
	EventPermissionDecision EventType = "permission_decision"
	EventConfirmation       EventType = "confirmation"
	EventTurnStart          EventType = "turn_start"
	EventTurnEnd            EventType = "turn_end"
	EventBargeIn            EventType = "barge_in"
	EventSafetyBlock        EventType = "safety_block"
)

// Event is one structured audit record. Arg and result payloads are hashed,
// never stored in plaintext; remaining string fields pass through PII
// redaction before serialization.
type Event struct {
	EventType  EventType      `json:"event_type"`
	Timestamp  string         `json:"timestamp"`
	SessionID  string         `json:"session_id,omitempty"`
	TurnNumber int            `json:"turn_number,omitempty"`
	Tool       string         `json:"tool,omitempty"`
	ArgsHash   string         `json:"args_hash,omitempty"`
	Decision   string         `json:"decision,omitempty"`
	ResultHash string         `json:"result_hash,omitempty"`
	LatencyMs  int64          `json:"latency_ms,omitempty"`
	Success    *bool          `json:"success,omitempty"`
	RiskLevel  string         `json:"risk_level,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// exemptKeys are never passed through string redaction. Hashes and
// timestamps cannot carry PII and redacting them would corrupt them.
var exemptKeys = map[string]bool{
	"timestamp":   true,
	"event_type":  true,
	"args_hash":   true,
	"result_hash": true,
}

// HashPayload returns the 16-hex-character SHA-256 prefix of the JSON
// encoding of v. Used for args and results so the audit log proves what ran
// without storing it.
func HashPayload(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		b = []byte("unserializable")
	}
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])[:16]
}
