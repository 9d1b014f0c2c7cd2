package orchestrator

import (
	"log/slog"

	"github.com/miclaldogan/bantz-sub008/internal/bus"
	"github.com/miclaldogan/bantz-sub008/internal/fsm"
)

// Bridge translates orchestrator phase boundaries into FSM events and
// publishes fsm.state_changed to the event bus. It no-ops gracefully when
// the FSM is absent so the loop can run headless.
type Bridge struct {
	machine *fsm.Machine
	events  *bus.Bus
	logger  *slog.Logger
}

// NewBridge wires the bridge. machine and events may each be nil.
func NewBridge(machine *fsm.Machine, events *bus.Bus, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		machine: machine,
		events:  events,
		logger:  logger.With("component", "fsm_bridge"),
	}
}

// State returns the current FSM state, or idle without a machine.
func (b *Bridge) State() fsm.State {
	if b.machine == nil {
		return fsm.StateIdle
	}
	return b.machine.State()
}

// OnTurnStart drives IDLE→LISTENING→PLANNING. Starting a turn while the
// FSM is still responding means the user spoke over TTS; that transition
// is recorded as a barge-in.
func (b *Bridge) OnTurnStart(turnNumber int) {
	if b.machine == nil {
		return
	}
	trigger := "on_turn_start"
	if b.machine.State() == fsm.StateResponding {
		trigger = "barge_in"
	}
	b.emit(fsm.EventUserInput, trigger, turnNumber, nil)
	b.emit(fsm.EventInputComplete, trigger, turnNumber, nil)
}

// OnPlanReady drives PLANNING→EXECUTING.
func (b *Bridge) OnPlanReady(turnNumber int) {
	b.emit(fsm.EventPlanReady, "plan_ready", turnNumber, nil)
}

// OnNoTools drives PLANNING→RESPONDING when the plan needs no execution.
func (b *Bridge) OnNoTools(turnNumber int) {
	b.emit(fsm.EventNoTools, "no_tools", turnNumber, nil)
}

// OnConfirmationRequired drives EXECUTING→CONFIRMING.
func (b *Bridge) OnConfirmationRequired(turnNumber int, tool string) {
	b.emit(fsm.EventConfirmationRequired, "confirmation_required", turnNumber,
		map[string]any{"tool": tool})
}

// OnUserConfirmed drives CONFIRMING→EXECUTING when a token is redeemed.
func (b *Bridge) OnUserConfirmed(turnNumber int) {
	b.emit(fsm.EventUserConfirmed, "user_confirmed", turnNumber, nil)
}

// OnUserDenied drives CONFIRMING→CANCELLED→IDLE when the user refuses a
// confirmation prompt or abandons it by moving on to something else.
func (b *Bridge) OnUserDenied(turnNumber int) {
	b.emit(fsm.EventUserDenied, "user_denied", turnNumber, nil)
	b.emit(fsm.EventReset, "reset", turnNumber, nil)
}

// OnToolsComplete drives EXECUTING→RESPONDING.
func (b *Bridge) OnToolsComplete(turnNumber int) {
	b.emit(fsm.EventToolsComplete, "tools_complete", turnNumber, nil)
}

// OnResponseDelivered drives RESPONDING→IDLE.
func (b *Bridge) OnResponseDelivered(turnNumber int) {
	b.emit(fsm.EventResponseDelivered, "response_delivered", turnNumber, nil)
}

// OnCancel drives any state to CANCELLED.
func (b *Bridge) OnCancel(turnNumber int) {
	b.emit(fsm.EventUserCancel, "user_cancel", turnNumber, nil)
}

// OnError drives any state to ERROR.
func (b *Bridge) OnError(turnNumber int, reason string) {
	b.emit(fsm.EventError, "error", turnNumber, map[string]any{"reason": reason})
}

// Reset returns the FSM to idle after errors or cancellation.
func (b *Bridge) Reset() {
	if b.machine != nil {
		b.machine.Reset()
	}
}

func (b *Bridge) emit(event fsm.Event, trigger string, turnNumber int, metadata map[string]any) {
	if b.machine == nil {
		return
	}
	oldState := b.machine.State()
	newState := b.machine.Transition(event, metadata)
	if b.events == nil {
		return
	}
	data := map[string]any{
		"old_state":   string(oldState),
		"new_state":   string(newState),
		"trigger":     trigger,
		"turn_number": turnNumber,
	}
	if metadata != nil {
		data["metadata"] = metadata
	}
	b.events.Publish("fsm.state_changed", data, "fsm_bridge")
}
