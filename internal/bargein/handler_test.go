package bargein

import (
	"testing"

	"github.com/miclaldogan/bantz-sub008/pkg/models"
)

type fakeTTS struct {
	speaking bool
	stopped  bool
}

func (f *fakeTTS) IsSpeaking() bool { return f.speaking }
func (f *fakeTTS) Stop()            { f.stopped = true; f.speaking = false }

func TestNewTurnCancelsPrevious(t *testing.T) {
	h := New(nil, 0, nil)

	a := h.StartTurn()
	b := h.StartTurn()

	if !a.IsCancelled() {
		t.Error("starting a new turn must cancel the previous one")
	}
	if b.IsCancelled() {
		t.Error("fresh turn must not be cancelled")
	}
	if got := h.Stats().CancelledTurns; got != 1 {
		t.Errorf("expected 1 cancelled turn, got %d", got)
	}
}

func TestBargeInStopsTTSAndCancelsTurn(t *testing.T) {
	tts := &fakeTTS{speaking: true}
	h := New(tts, 0.3, nil)
	tc := h.StartTurn()

	if !h.Handle(Event{Volume: 0.5, DurationMs: 300}) {
		t.Fatal("expected barge-in to trigger")
	}
	if !tts.stopped {
		t.Error("tts must be stopped on barge-in")
	}
	if !tc.IsCancelled() {
		t.Error("active turn must be cancelled on barge-in")
	}
	if got := h.Stats().CancelledTurns; got != 1 {
		t.Errorf("expected cancelled_turns=1, got %d", got)
	}
}

func TestQuietSpeechDoesNotInterrupt(t *testing.T) {
	tts := &fakeTTS{speaking: true}
	h := New(tts, 0.3, nil)
	tc := h.StartTurn()

	if h.Handle(Event{Volume: 0.1}) {
		t.Error("sub-threshold volume must not trigger barge-in")
	}
	if tc.IsCancelled() {
		t.Error("turn must survive quiet background speech")
	}
}

func TestNoBargeInWhenSilent(t *testing.T) {
	tts := &fakeTTS{speaking: false}
	h := New(tts, 0.3, nil)
	h.StartTurn()

	if h.Handle(Event{Volume: 0.9}) {
		t.Error("no barge-in when tts is not playing")
	}
}

func TestIsTurnValid(t *testing.T) {
	h := New(nil, 0, nil)
	tc := h.StartTurn()

	if !h.IsTurnValid(tc.ID()) {
		t.Error("active uncancelled turn must be valid")
	}
	if h.IsTurnValid("turn-other") {
		t.Error("mismatched turn id must be invalid")
	}

	tc.Cancel()
	if h.IsTurnValid(tc.ID()) {
		t.Error("cancelled turn must be invalid")
	}
}

func TestStaleResultsDroppedAfterBargeIn(t *testing.T) {
	tts := &fakeTTS{speaking: true}
	h := New(tts, 0.3, nil)

	a := h.StartTurn()
	h.Handle(Event{Volume: 0.6})
	b := h.StartTurn()

	// A result from the cancelled turn A arrives late and is dropped.
	if a.AddToolResult(models.ToolResult{Tool: "calendar.list_events"}) {
		t.Error("cancelled turn must drop late results")
	}
	b.AddToolResult(models.ToolResult{Tool: "time.now"})

	results := b.ToolResults()
	if len(results) != 1 || results[0].TurnID != b.ID() {
		t.Errorf("turn B must only hold results tagged with its own id: %+v", results)
	}
}

func TestFinishTurnClearsActive(t *testing.T) {
	h := New(nil, 0, nil)
	tc := h.StartTurn()
	h.FinishTurn(tc)
	if h.ActiveTurn() != nil {
		t.Error("finish must clear the active turn")
	}
}
