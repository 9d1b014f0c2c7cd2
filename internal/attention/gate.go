// Package attention maps conversation FSM states to listening modes and
// filters incoming audio events accordingly. While the assistant speaks the
// gate is muted; a wakeword can temporarily force the gate open.
package attention

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/miclaldogan/bantz-sub008/internal/fsm"
)

// Mode is a listening mode.
type Mode string

const (
	// FullListen forwards every audio event.
	FullListen Mode = "full_listen"
	// WakeOnly forwards only wakeword events.
	WakeOnly Mode = "wake_only"
	// CommandOnly forwards wakewords and interrupt keywords.
	CommandOnly Mode = "command_only"
	// Muted forwards nothing.
	Muted Mode = "muted"
)

// DefaultWakewordOverride is how long a wakeword holds the gate open in
// CommandOnly mode.
const DefaultWakewordOverride = 10 * time.Second

// AudioEvent is one utterance or detection delivered by the ASR layer.
type AudioEvent struct {
	Text               string
	IsWakeword         bool
	IsInterruptKeyword bool
	Volume             float64
}

// ModeChange records one gate mode transition.
type ModeChange struct {
	Old    Mode
	New    Mode
	Reason string
	Time   time.Time
}

// Listener observes mode changes. Panics are isolated.
type Listener func(old, new Mode, reason string)

// modeForState is the fixed FSM-state -> mode mapping. Keys are lowercase
// state names; thinking and speaking are accepted as aliases used by the
// voice layer.
var modeForState = map[string]Mode{
	"idle":       FullListen,
	"listening":  FullListen,
	"confirming": FullListen,
	"error":      FullListen,
	"cancelled":  FullListen,
	"thinking":   WakeOnly,
	"planning":   WakeOnly,
	"executing":  CommandOnly,
	"speaking":   Muted,
	"responding": Muted,
}

// Gate filters audio events by the current listening mode.
type Gate struct {
	mu               sync.Mutex
	mode             Mode
	savedMode        Mode
	ttsActive        bool
	overrideUntil    time.Time
	overrideDuration time.Duration
	history          []ModeChange
	maxHistory       int
	listeners        []Listener
	now              func() time.Time
	logger           *slog.Logger
}

// Option tunes gate construction.
type Option func(*Gate)

// WithWakewordOverride changes the wakeword override window.
func WithWakewordOverride(d time.Duration) Option {
	return func(g *Gate) { g.overrideDuration = d }
}

// WithClock injects the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// New creates a gate in FullListen.
func New(logger *slog.Logger, opts ...Option) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gate{
		mode:             FullListen,
		savedMode:        FullListen,
		overrideDuration: DefaultWakewordOverride,
		maxHistory:       100,
		now:              time.Now,
		logger:           logger.With("component", "attention"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Mode returns the current listening mode.
func (g *Gate) Mode() Mode {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mode
}

// OnFSMState updates the mode from a conversation FSM state. Unknown states
// keep the current mode. While TTS is active the change is deferred into
// the saved mode restored at on_tts_end.
func (g *Gate) OnFSMState(state fsm.State) {
	mode, ok := modeForState[string(state)]
	if !ok {
		return
	}

	g.mu.Lock()
	if g.ttsActive {
		g.savedMode = mode
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()

	g.setMode(mode, "fsm:"+string(state))
}

// OnTTSStart saves the current mode and mutes the gate.
func (g *Gate) OnTTSStart() {
	g.mu.Lock()
	if !g.ttsActive {
		g.savedMode = g.mode
		g.ttsActive = true
	}
	g.mu.Unlock()
	g.setMode(Muted, "tts_start")
}

// OnTTSEnd restores the mode saved at OnTTSStart, defaulting to FullListen.
func (g *Gate) OnTTSEnd() {
	g.mu.Lock()
	restored := g.savedMode
	if restored == "" {
		restored = FullListen
	}
	g.ttsActive = false
	g.mu.Unlock()
	g.setMode(restored, "tts_end")
}

// ShouldProcess decides whether an audio event passes the gate. Muted wins
// over a live wakeword override: nothing passes while the assistant speaks.
func (g *Gate) ShouldProcess(ev AudioEvent) bool {
	g.mu.Lock()
	mode := g.mode
	overrideActive := g.now().Before(g.overrideUntil)
	g.mu.Unlock()

	if mode == Muted {
		return false
	}
	if overrideActive {
		return true
	}

	switch mode {
	case FullListen:
		return true
	case WakeOnly:
		return ev.IsWakeword
	case CommandOnly:
		if ev.IsWakeword {
			g.mu.Lock()
			g.overrideUntil = g.now().Add(g.overrideDuration)
			g.mu.Unlock()
			return true
		}
		return ev.IsInterruptKeyword
	}
	return false
}

// Subscribe registers a mode change listener.
func (g *Gate) Subscribe(l Listener) {
	if l == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listeners = append(g.listeners, l)
}

// History returns a copy of recorded mode changes, oldest first.
func (g *Gate) History() []ModeChange {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]ModeChange, len(g.history))
	copy(out, g.history)
	return out
}

// setMode applies a mode change, records it, and notifies listeners.
func (g *Gate) setMode(mode Mode, reason string) {
	g.mu.Lock()
	old := g.mode
	if old == mode {
		g.mu.Unlock()
		return
	}
	g.mode = mode
	g.history = append(g.history, ModeChange{Old: old, New: mode, Reason: reason, Time: g.now()})
	if len(g.history) > g.maxHistory {
		g.history = g.history[len(g.history)-g.maxHistory:]
	}
	listeners := append([]Listener(nil), g.listeners...)
	g.mu.Unlock()

	for _, l := range listeners {
		g.notify(l, old, mode, reason)
	}
}

// notify runs one listener with panic isolation.
func (g *Gate) notify(l Listener, old, new Mode, reason string) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Warn("attention listener panicked",
				"old", string(old), "new", string(new), "panic", fmt.Sprint(r))
		}
	}()
	l(old, new, reason)
}
