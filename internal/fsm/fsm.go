// Package fsm implements the conversation state machine. The transition
// table is static; illegal (state, event) pairs keep the current state and
// log a warning instead of failing.
package fsm

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is a conversation FSM state.
type State string

const (
	StateIdle       State = "idle"
	StateListening  State = "listening"
	StatePlanning   State = "planning"
	StateExecuting  State = "executing"
	StateConfirming State = "confirming"
	StateResponding State = "responding"
	StateError      State = "error"
	StateCancelled  State = "cancelled"
)

// Event triggers a state transition.
type Event string

const (
	EventUserInput            Event = "USER_INPUT"
	EventInputComplete        Event = "INPUT_COMPLETE"
	EventPlanReady            Event = "PLAN_READY"
	EventNoTools              Event = "NO_TOOLS"
	EventConfirmationRequired Event = "CONFIRMATION_REQUIRED"
	EventToolsComplete        Event = "TOOLS_COMPLETE"
	EventUserConfirmed        Event = "USER_CONFIRMED"
	EventUserDenied           Event = "USER_DENIED"
	EventResponseDelivered    Event = "RESPONSE_DELIVERED"
	EventErrorHandled         Event = "ERROR_HANDLED"
	EventReset                Event = "RESET"
	EventError                Event = "ERROR"
	EventUserCancel           Event = "USER_CANCEL"
)

// DefaultExecutingTimeout bounds how long the FSM may sit in EXECUTING
// before a state read forces it to ERROR.
const DefaultExecutingTimeout = 60 * time.Second

// transitions is the legal (state, event) -> state table. ERROR and
// USER_CANCEL are handled separately as any-state events.
var transitions = map[State]map[Event]State{
	StateIdle:      {EventUserInput: StateListening},
	StateListening: {EventInputComplete: StatePlanning},
	StatePlanning: {
		EventPlanReady: StateExecuting,
		EventNoTools:   StateResponding,
	},
	StateExecuting: {
		EventConfirmationRequired: StateConfirming,
		EventToolsComplete:        StateResponding,
	},
	StateConfirming: {
		EventUserConfirmed: StateExecuting,
		EventUserDenied:    StateCancelled,
	},
	// USER_INPUT while responding is a barge-in: the user spoke over TTS.
	StateResponding: {
		EventResponseDelivered: StateIdle,
		EventUserInput:         StateListening,
	},
	StateError:     {EventErrorHandled: StateIdle},
	StateCancelled: {EventReset: StateIdle},
}

// Transition records one applied state change.
type Transition struct {
	From     State          `json:"from"`
	To       State          `json:"to"`
	Event    Event          `json:"event"`
	Time     time.Time      `json:"time"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Callback observes state entry or exit. Panics in callbacks are isolated
// and do not abort the transition.
type Callback func(state State, event Event, metadata map[string]any)

// Machine is the conversation FSM. All methods are safe for concurrent use.
type Machine struct {
	mu               sync.Mutex
	state            State
	enteredAt        time.Time
	history          []Transition
	maxHistory       int
	onEnter          map[State][]Callback
	onExit           map[State][]Callback
	executingTimeout time.Duration
	now              func() time.Time
	logger           *slog.Logger
}

// Option tunes machine construction.
type Option func(*Machine)

// WithExecutingTimeout overrides the EXECUTING wall-clock timeout.
func WithExecutingTimeout(d time.Duration) Option {
	return func(m *Machine) { m.executingTimeout = d }
}

// WithClock injects the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// New creates a machine in IDLE.
func New(logger *slog.Logger, opts ...Option) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Machine{
		state:            StateIdle,
		maxHistory:       100,
		onEnter:          make(map[State][]Callback),
		onExit:           make(map[State][]Callback),
		executingTimeout: DefaultExecutingTimeout,
		now:              time.Now,
		logger:           logger.With("component", "fsm"),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.enteredAt = m.now()
	return m
}

// OnEnter registers a callback for entry into a state.
func (m *Machine) OnEnter(state State, cb Callback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEnter[state] = append(m.onEnter[state], cb)
}

// OnExit registers a callback for exit from a state.
func (m *Machine) OnExit(state State, cb Callback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExit[state] = append(m.onExit[state], cb)
}

// State returns the current state. Reading has a side effect: when the
// machine has sat in EXECUTING longer than the executing timeout it
// auto-transitions to ERROR with reason executing_timeout.
func (m *Machine) State() State {
	m.mu.Lock()
	if m.state == StateExecuting && m.now().Sub(m.enteredAt) > m.executingTimeout {
		m.mu.Unlock()
		m.Transition(EventError, map[string]any{"reason": "executing_timeout"})
		m.mu.Lock()
	}
	s := m.state
	m.mu.Unlock()
	return s
}

// Transition applies an event. Returns the resulting state; illegal events
// leave the state unchanged.
func (m *Machine) Transition(event Event, metadata map[string]any) State {
	m.mu.Lock()

	from := m.state
	to, ok := m.nextState(from, event)
	if !ok {
		m.mu.Unlock()
		m.logger.Warn("illegal fsm transition ignored",
			"state", string(from), "event", string(event))
		return from
	}

	exitCbs := append([]Callback(nil), m.onExit[from]...)
	enterCbs := append([]Callback(nil), m.onEnter[to]...)

	m.state = to
	m.enteredAt = m.now()
	m.history = append(m.history, Transition{
		From: from, To: to, Event: event, Time: m.enteredAt, Metadata: metadata,
	})
	if len(m.history) > m.maxHistory {
		m.history = m.history[len(m.history)-m.maxHistory:]
	}
	m.mu.Unlock()

	for _, cb := range exitCbs {
		m.invoke(cb, from, event, metadata)
	}
	for _, cb := range enterCbs {
		m.invoke(cb, to, event, metadata)
	}
	return to
}

// nextState resolves the transition table including any-state events.
// Caller holds the lock.
func (m *Machine) nextState(from State, event Event) (State, bool) {
	switch event {
	case EventError:
		if from == StateError || from == StateCancelled {
			return from, false
		}
		return StateError, true
	case EventUserCancel:
		if from == StateError || from == StateCancelled {
			return from, false
		}
		return StateCancelled, true
	}
	to, ok := transitions[from][event]
	return to, ok
}

// invoke runs one callback with panic isolation.
func (m *Machine) invoke(cb Callback, state State, event Event, metadata map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("fsm callback panicked",
				"state", string(state), "event", string(event), "panic", fmt.Sprint(r))
		}
	}()
	cb(state, event, metadata)
}

// History returns a copy of recorded transitions, oldest first.
func (m *Machine) History() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}

// Reset forces the machine back to IDLE and clears the history.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateIdle
	m.enteredAt = m.now()
	m.history = nil
}
