// Package bargein detects user interruption while the assistant is
// speaking, cancels the active turn, and stops TTS playback. Starting a new
// turn always cancels the previous one so stale tool results cannot leak.
package bargein

import (
	"log/slog"
	"sync"

	"github.com/miclaldogan/bantz-sub008/internal/turn"
)

// DefaultInterruptThreshold is the minimum normalized volume treated as a
// deliberate interruption during TTS playback.
const DefaultInterruptThreshold = 0.3

// TTSController is the narrow surface of the speech synthesis layer the
// handler needs: whether audio is playing and how to stop it.
type TTSController interface {
	IsSpeaking() bool
	Stop()
}

// Event is a detected voice activity burst while TTS may be playing.
type Event struct {
	Volume     float64
	DurationMs int64
}

// Stats counts handler activity.
type Stats struct {
	StartedTurns   int64 `json:"started_turns"`
	CancelledTurns int64 `json:"cancelled_turns"`
	BargeIns       int64 `json:"barge_ins"`
}

// Handler owns the active turn context and applies the cancel-old-turn-on-
// new-turn invariant.
type Handler struct {
	mu        sync.Mutex
	active    *turn.Context
	tts       TTSController
	threshold float64
	stats     Stats
	logger    *slog.Logger
}

// New creates a handler. tts may be nil when no speech output exists.
func New(tts TTSController, threshold float64, logger *slog.Logger) *Handler {
	if threshold <= 0 {
		threshold = DefaultInterruptThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		tts:       tts,
		threshold: threshold,
		logger:    logger.With("component", "bargein"),
	}
}

// StartTurn cancels any previous turn and installs a fresh turn context.
func (h *Handler) StartTurn() *turn.Context {
	next := turn.NewContext()

	h.mu.Lock()
	prev := h.active
	h.active = next
	h.stats.StartedTurns++
	if prev != nil && !prev.IsCancelled() {
		h.stats.CancelledTurns++
	}
	h.mu.Unlock()

	if prev != nil {
		prev.Cancel()
		h.logger.Debug("previous turn cancelled by new turn",
			"old_turn", prev.ID(), "new_turn", next.ID())
	}
	return next
}

// FinishTurn clears the active turn reference if it still matches.
func (h *Handler) FinishTurn(tc *turn.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active == tc {
		h.active = nil
	}
}

// ActiveTurn returns the current turn context, or nil.
func (h *Handler) ActiveTurn() *turn.Context {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active
}

// IsTurnValid reports whether the given turn ID names the active,
// uncancelled turn.
func (h *Handler) IsTurnValid(turnID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active != nil && h.active.ID() == turnID && !h.active.IsCancelled()
}

// Handle processes a voice activity event. When TTS is playing and the
// volume reaches the interrupt threshold, playback stops and the active
// turn is cancelled. Returns true when a barge-in was triggered.
func (h *Handler) Handle(ev Event) bool {
	if h.tts == nil || !h.tts.IsSpeaking() {
		return false
	}
	if ev.Volume < h.threshold {
		return false
	}

	h.tts.Stop()

	h.mu.Lock()
	active := h.active
	h.stats.BargeIns++
	if active != nil && !active.IsCancelled() {
		h.stats.CancelledTurns++
	}
	h.mu.Unlock()

	if active != nil {
		active.Cancel()
		h.logger.Info("barge-in cancelled active turn",
			"turn_id", active.ID(), "volume", ev.Volume)
	}
	return true
}

// Stats returns a snapshot of the handler counters.
func (h *Handler) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}
