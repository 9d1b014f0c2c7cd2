package orchestrator

import (
	"sync"
	"time"

	"github.com/miclaldogan/bantz-sub008/pkg/models"
)

// Hard caps for session collections. Everything in State grows only
// through mutators that evict oldest-first at the cap.
const (
	MaxConversationHistory  = 50
	MaxPendingConfirmations = 10
	MaxTraceKeys            = 20
	MaxListedRefs           = 50
	MaxReactObservations    = 50
)

// PendingConfirmation is a tool call parked behind a user confirmation.
type PendingConfirmation struct {
	Tool      string         `json:"tool"`
	Args      map[string]any `json:"args,omitempty"`
	Token     string         `json:"token"`
	Prompt    string         `json:"prompt,omitempty"`
	StepIndex int            `json:"step_index"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// State is the session-level memory across turns. It is confined to one
// session; interior locking covers the bridge, barge-in, and FSM callbacks
// that may touch it concurrently.
type State struct {
	mu sync.Mutex

	SessionID      string
	sessionContext string
	turnNumber     int

	history      []models.ConversationTurn
	pending      []PendingConfirmation
	trace        map[string]any
	traceOrder   []string
	gmailRefs    []any
	calendarRefs []any
	reactObs     []string
}

// NewState creates a fresh session state.
func NewState(sessionID string) *State {
	return &State{
		SessionID: sessionID,
		trace:     make(map[string]any),
	}
}

// NextTurn increments and returns the turn number.
func (s *State) NextTurn() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turnNumber++
	return s.turnNumber
}

// TurnNumber returns the current turn number.
func (s *State) TurnNumber() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turnNumber
}

// SetSessionContext replaces the free-form session context string.
func (s *State) SetSessionContext(ctx string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionContext = ctx
}

// SessionContext returns the session context string.
func (s *State) SessionContext() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionContext
}

// AddConversationTurn appends one exchange, evicting the oldest at the cap.
func (s *State) AddConversationTurn(user, assistant string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, models.ConversationTurn{
		User:       user,
		Assistant:  assistant,
		TurnNumber: s.turnNumber,
		Timestamp:  time.Now(),
	})
	if len(s.history) > MaxConversationHistory {
		s.history = s.history[len(s.history)-MaxConversationHistory:]
	}
}

// RecentConversation returns up to n most recent exchanges, oldest first.
func (s *State) RecentConversation(n int) []models.ConversationTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || n > len(s.history) {
		n = len(s.history)
	}
	out := make([]models.ConversationTurn, n)
	copy(out, s.history[len(s.history)-n:])
	return out
}

// AddPendingConfirmation parks a confirmation, evicting the oldest at cap.
func (s *State) AddPendingConfirmation(pc PendingConfirmation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, pc)
	if len(s.pending) > MaxPendingConfirmations {
		s.pending = s.pending[len(s.pending)-MaxPendingConfirmations:]
	}
}

// TakePendingConfirmation consumes the entry matching the token. Expired
// entries are dropped rather than returned.
func (s *State) TakePendingConfirmation(token string, now time.Time) (PendingConfirmation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, pc := range s.pending {
		if pc.Token != token {
			continue
		}
		s.pending = append(s.pending[:i], s.pending[i+1:]...)
		if !pc.ExpiresAt.IsZero() && now.After(pc.ExpiresAt) {
			return PendingConfirmation{}, false
		}
		return pc, true
	}
	return PendingConfirmation{}, false
}

// ClearPendingConfirmations drops every parked confirmation and returns
// how many were dropped.
func (s *State) ClearPendingConfirmations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.pending)
	s.pending = nil
	return n
}

// PendingConfirmations returns a copy of the parked confirmations.
func (s *State) PendingConfirmations() []PendingConfirmation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PendingConfirmation, len(s.pending))
	copy(out, s.pending)
	return out
}

// UpdateTrace sets a trace key. A new key at the cap evicts the oldest key;
// updating an existing key never grows the map.
func (s *State) UpdateTrace(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.trace[key]; exists {
		s.trace[key] = value
		return
	}
	if len(s.traceOrder) >= MaxTraceKeys {
		oldest := s.traceOrder[0]
		s.traceOrder = s.traceOrder[1:]
		delete(s.trace, oldest)
	}
	s.trace[key] = value
	s.traceOrder = append(s.traceOrder, key)
}

// Trace returns a copy of the trace map.
func (s *State) Trace() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.trace))
	for k, v := range s.trace {
		out[k] = v
	}
	return out
}

// SetGmailListedMessages replaces the gmail refs atomically, keeping the
// most recent tail at the cap.
func (s *State) SetGmailListedMessages(refs []any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gmailRefs = truncateTail(refs, MaxListedRefs)
}

// GmailListedMessages returns a copy of the gmail refs.
func (s *State) GmailListedMessages() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]any, len(s.gmailRefs))
	copy(out, s.gmailRefs)
	return out
}

// SetCalendarListedEvents replaces the calendar refs atomically, keeping
// the most recent tail at the cap.
func (s *State) SetCalendarListedEvents(refs []any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calendarRefs = truncateTail(refs, MaxListedRefs)
}

// CalendarListedEvents returns a copy of the calendar refs.
func (s *State) CalendarListedEvents() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]any, len(s.calendarRefs))
	copy(out, s.calendarRefs)
	return out
}

// AddReactObservation appends an observation, evicting the oldest at cap.
func (s *State) AddReactObservation(obs string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reactObs = append(s.reactObs, obs)
	if len(s.reactObs) > MaxReactObservations {
		s.reactObs = s.reactObs[len(s.reactObs)-MaxReactObservations:]
	}
}

// ReactObservations returns a copy of the observation log.
func (s *State) ReactObservations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.reactObs))
	copy(out, s.reactObs)
	return out
}

func truncateTail(refs []any, limit int) []any {
	out := make([]any, len(refs))
	copy(out, refs)
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
