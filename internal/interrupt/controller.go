// Package interrupt handles user interrupt signals: spoken keywords,
// Ctrl-C, and programmatic stop/cancel/pause/resume.
package interrupt

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"
)

// SignalType classifies an interrupt.
type SignalType string

const (
	SignalStop   SignalType = "STOP"
	SignalCancel SignalType = "CANCEL"
	SignalPause  SignalType = "PAUSE"
	SignalResume SignalType = "RESUME"
)

// Signal is one pending interrupt.
type Signal struct {
	Type     SignalType     `json:"type"`
	Source   string         `json:"source"` // keyword | ctrl_c | api
	Metadata map[string]any `json:"metadata,omitempty"`
	At       time.Time      `json:"at"`
}

// Handler reacts to a signal. Handlers run in priority order; a panicking
// handler never blocks the others.
type Handler struct {
	Name     string
	Priority int
	Fn       func(Signal)
}

// CtrlCWindow is how long a first Ctrl-C press escalates the second one.
const CtrlCWindow = 2 * time.Second

// keywordMap orders matter: longer phrases are checked before their
// substrings so "devam et" wins over "devam".
var keywordRules = []struct {
	phrase string
	signal SignalType
}{
	{"devam et", SignalResume},
	{"duraklat", SignalPause},
	{"vazgeç", SignalCancel},
	{"resume", SignalResume},
	{"iptal", SignalCancel},
	{"cancel", SignalCancel},
	{"bekle", SignalPause},
	{"pause", SignalPause},
	{"kapat", SignalStop},
	{"stop", SignalStop},
	{"dur", SignalStop},
}

// Controller tracks the single pending signal, the paused flag, and the
// Ctrl-C double-press window.
type Controller struct {
	mu        sync.Mutex
	pending   *Signal
	paused    bool
	lastCtrlC time.Time
	handlers  []Handler
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a controller.
func New(logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		logger: logger.With("component", "interrupt"),
		now:    time.Now,
	}
}

// SetClock injects the time source, used by tests.
func (c *Controller) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// RegisterHandler adds a handler. Higher priority runs first.
func (c *Controller) RegisterHandler(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
	sort.SliceStable(c.handlers, func(i, j int) bool {
		return c.handlers[i].Priority > c.handlers[j].Priority
	})
}

// Signal places a pending interrupt and dispatches handlers. PAUSE and
// RESUME flip the paused flag last-writer-wins.
func (c *Controller) Signal(kind SignalType, source string, metadata map[string]any) {
	c.mu.Lock()
	sig := Signal{Type: kind, Source: source, Metadata: metadata, At: c.now()}
	c.pending = &sig
	switch kind {
	case SignalPause:
		c.paused = true
	case SignalResume:
		c.paused = false
	}
	handlers := make([]Handler, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()

	c.logger.Info("interrupt signal", "type", kind, "source", source)
	for _, h := range handlers {
		c.dispatch(h, sig)
	}
}

func (c *Controller) dispatch(h Handler, sig Signal) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("interrupt handler panicked", "handler", h.Name, "panic", r)
		}
	}()
	h.Fn(sig)
}

// GetPending consumes the pending signal atomically.
func (c *Controller) GetPending() (Signal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return Signal{}, false
	}
	sig := *c.pending
	c.pending = nil
	return sig, true
}

// IsInterrupted is a non-consuming check for a pending signal.
func (c *Controller) IsInterrupted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != nil
}

// IsPaused reports the pause flag.
func (c *Controller) IsPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// DetectKeyword scans text for interrupt keywords. Phrases match only on
// word boundaries, so "dur" never fires inside "durum". Longer phrases win
// over their substrings.
func DetectKeyword(text string) (SignalType, bool) {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return "", false
	}
	for _, rule := range keywordRules {
		if containsWord(lower, rule.phrase) {
			return rule.signal, true
		}
	}
	return "", false
}

// containsWord reports whether phrase occurs in text with non-letter runes
// (or the string edges) on both sides.
func containsWord(text, phrase string) bool {
	for i := 0; i <= len(text)-len(phrase); {
		j := strings.Index(text[i:], phrase)
		if j < 0 {
			return false
		}
		start := i + j
		end := start + len(phrase)
		before, _ := utf8.DecodeLastRuneInString(text[:start])
		after, _ := utf8.DecodeRuneInString(text[end:])
		if !unicode.IsLetter(before) && !unicode.IsLetter(after) {
			return true
		}
		i = start + 1
	}
	return false
}

// HandleText detects a keyword and raises the corresponding signal.
// Returns the signal when one fired.
func (c *Controller) HandleText(text string) (SignalType, bool) {
	kind, ok := DetectKeyword(text)
	if !ok {
		return "", false
	}
	c.Signal(kind, "keyword", map[string]any{"text": text})
	return kind, true
}

// HandleCtrlC implements the double-press escalation: first press within
// the window raises CANCEL, the second raises STOP. An expired window
// resets to first-press semantics.
func (c *Controller) HandleCtrlC() SignalType {
	c.mu.Lock()
	now := c.now()
	second := !c.lastCtrlC.IsZero() && now.Sub(c.lastCtrlC) <= CtrlCWindow
	if second {
		c.lastCtrlC = time.Time{}
	} else {
		c.lastCtrlC = now
	}
	c.mu.Unlock()

	kind := SignalCancel
	if second {
		kind = SignalStop
	}
	c.Signal(kind, "ctrl_c", nil)
	return kind
}
