package orchestrator

import (
	"fmt"
	"testing"
	"time"
)

func TestConversationHistoryEvictsOldest(t *testing.T) {
	s := NewState("sess-1")
	for i := 0; i < MaxConversationHistory+10; i++ {
		s.AddConversationTurn(fmt.Sprintf("u%d", i), fmt.Sprintf("a%d", i))
	}
	recent := s.RecentConversation(0)
	if len(recent) != MaxConversationHistory {
		t.Fatalf("expected cap %d, got %d", MaxConversationHistory, len(recent))
	}
	if recent[0].User != "u10" {
		t.Errorf("oldest entries must be evicted first, head is %s", recent[0].User)
	}

	last3 := s.RecentConversation(3)
	if len(last3) != 3 || last3[2].User != fmt.Sprintf("u%d", MaxConversationHistory+9) {
		t.Errorf("RecentConversation window wrong: %+v", last3)
	}
}

func TestPendingConfirmationsFIFOEviction(t *testing.T) {
	s := NewState("sess-1")
	for i := 0; i < MaxPendingConfirmations+2; i++ {
		s.AddPendingConfirmation(PendingConfirmation{
			Tool:  "gmail.send",
			Token: fmt.Sprintf("tok-%d", i),
		})
	}
	pending := s.PendingConfirmations()
	if len(pending) != MaxPendingConfirmations {
		t.Fatalf("expected cap %d, got %d", MaxPendingConfirmations, len(pending))
	}
	if pending[0].Token != "tok-2" {
		t.Errorf("oldest confirmations must be evicted: %s", pending[0].Token)
	}
}

func TestTakePendingConfirmation(t *testing.T) {
	s := NewState("sess-1")
	now := time.Now()
	s.AddPendingConfirmation(PendingConfirmation{Tool: "gmail.send", Token: "tok-live", ExpiresAt: now.Add(time.Minute)})
	s.AddPendingConfirmation(PendingConfirmation{Tool: "gmail.send", Token: "tok-stale", ExpiresAt: now.Add(-time.Minute)})

	pc, ok := s.TakePendingConfirmation("tok-live", now)
	if !ok || pc.Tool != "gmail.send" {
		t.Fatalf("live token should be consumed: %+v", pc)
	}
	if _, ok := s.TakePendingConfirmation("tok-live", now); ok {
		t.Error("token must be single-use")
	}
	if _, ok := s.TakePendingConfirmation("tok-stale", now); ok {
		t.Error("expired confirmation must not be returned")
	}
	if len(s.PendingConfirmations()) != 0 {
		t.Error("expired entry must be removed on lookup")
	}
}

func TestTraceEvictsOnlyOnNewKey(t *testing.T) {
	s := NewState("sess-1")
	for i := 0; i < MaxTraceKeys; i++ {
		s.UpdateTrace(fmt.Sprintf("k%d", i), i)
	}

	// Update-in-place never evicts.
	s.UpdateTrace("k0", "updated")
	trace := s.Trace()
	if len(trace) != MaxTraceKeys || trace["k0"] != "updated" {
		t.Fatalf("in-place update must not grow or evict: %d keys", len(trace))
	}

	// A new key evicts the oldest key.
	s.UpdateTrace("fresh", true)
	trace = s.Trace()
	if len(trace) != MaxTraceKeys {
		t.Fatalf("cap exceeded: %d keys", len(trace))
	}
	if _, ok := trace["k0"]; ok {
		t.Error("oldest key must be evicted on new-key insert")
	}
	if trace["fresh"] != true {
		t.Error("new key missing")
	}
}

func TestListSettersKeepLatestTail(t *testing.T) {
	s := NewState("sess-1")
	refs := make([]any, MaxListedRefs+5)
	for i := range refs {
		refs[i] = fmt.Sprintf("msg-%d", i)
	}
	s.SetGmailListedMessages(refs)
	got := s.GmailListedMessages()
	if len(got) != MaxListedRefs {
		t.Fatalf("expected cap %d, got %d", MaxListedRefs, len(got))
	}
	if got[0] != "msg-5" {
		t.Errorf("setter must keep the most recent tail, head is %v", got[0])
	}

	s.SetCalendarListedEvents([]any{"e1", "e2"})
	if len(s.CalendarListedEvents()) != 2 {
		t.Error("short lists must be stored as-is")
	}
}

func TestReactObservationsCap(t *testing.T) {
	s := NewState("sess-1")
	for i := 0; i < MaxReactObservations+3; i++ {
		s.AddReactObservation(fmt.Sprintf("obs-%d", i))
	}
	obs := s.ReactObservations()
	if len(obs) != MaxReactObservations || obs[0] != "obs-3" {
		t.Errorf("observation eviction wrong: len=%d head=%s", len(obs), obs[0])
	}
}

func TestNextTurnIncrements(t *testing.T) {
	s := NewState("sess-1")
	if s.NextTurn() != 1 || s.NextTurn() != 2 || s.TurnNumber() != 2 {
		t.Error("turn numbering broken")
	}
}
