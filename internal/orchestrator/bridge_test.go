package orchestrator

import (
	"testing"

	"github.com/miclaldogan/bantz-sub008/internal/bus"
	"github.com/miclaldogan/bantz-sub008/internal/fsm"
)

func TestBridgePublishesStateChanges(t *testing.T) {
	machine := fsm.New(nil)
	events := bus.New(50, nil)
	var seen []bus.Event
	events.Subscribe("fsm.state_changed", func(ev bus.Event) { seen = append(seen, ev) })

	b := NewBridge(machine, events, nil)
	b.OnTurnStart(1)

	if machine.State() != fsm.StatePlanning {
		t.Fatalf("expected planning after turn start, got %s", machine.State())
	}
	if len(seen) != 2 {
		t.Fatalf("expected 2 state change events, got %d", len(seen))
	}
	first := seen[0].Data
	if first["old_state"] != "idle" || first["new_state"] != "listening" || first["trigger"] != "on_turn_start" {
		t.Errorf("unexpected first event: %v", first)
	}
	if first["turn_number"] != 1 {
		t.Errorf("turn number missing: %v", first)
	}
}

func TestBridgeDetectsBargeIn(t *testing.T) {
	machine := fsm.New(nil)
	events := bus.New(50, nil)
	var triggers []string
	events.Subscribe("fsm.state_changed", func(ev bus.Event) {
		triggers = append(triggers, ev.Data["trigger"].(string))
	})
	b := NewBridge(machine, events, nil)

	// Walk the machine into responding, then start a new turn over it.
	b.OnTurnStart(1)
	b.OnNoTools(1)
	if machine.State() != fsm.StateResponding {
		t.Fatalf("setup: expected responding, got %s", machine.State())
	}

	b.OnTurnStart(2)
	if machine.State() != fsm.StatePlanning {
		t.Fatalf("barge-in must land in planning, got %s", machine.State())
	}
	last := triggers[len(triggers)-1]
	if last != "barge_in" {
		t.Errorf("expected barge_in trigger, got %s", last)
	}
}

func TestBridgeFullTurnCycle(t *testing.T) {
	machine := fsm.New(nil)
	b := NewBridge(machine, nil, nil)

	b.OnTurnStart(1)
	b.OnPlanReady(1)
	if machine.State() != fsm.StateExecuting {
		t.Fatalf("expected executing, got %s", machine.State())
	}
	b.OnConfirmationRequired(1, "gmail.send")
	if machine.State() != fsm.StateConfirming {
		t.Fatalf("expected confirming, got %s", machine.State())
	}
	b.OnUserConfirmed(1)
	b.OnToolsComplete(1)
	b.OnResponseDelivered(1)
	if machine.State() != fsm.StateIdle {
		t.Errorf("turn must end idle, got %s", machine.State())
	}
}

func TestBridgeUserDeniedReturnsToIdle(t *testing.T) {
	machine := fsm.New(nil)
	events := bus.New(50, nil)
	var triggers []string
	events.Subscribe("fsm.state_changed", func(ev bus.Event) {
		triggers = append(triggers, ev.Data["trigger"].(string))
	})
	b := NewBridge(machine, events, nil)

	b.OnTurnStart(1)
	b.OnPlanReady(1)
	b.OnConfirmationRequired(1, "gmail.send")
	if machine.State() != fsm.StateConfirming {
		t.Fatalf("setup: expected confirming, got %s", machine.State())
	}

	b.OnUserDenied(1)
	if machine.State() != fsm.StateIdle {
		t.Fatalf("denied confirmation must end idle, got %s", machine.State())
	}
	if len(triggers) < 2 || triggers[len(triggers)-2] != "user_denied" || triggers[len(triggers)-1] != "reset" {
		t.Errorf("expected user_denied then reset triggers, got %v", triggers)
	}

	// The machine must accept a fresh turn afterwards.
	b.OnTurnStart(2)
	if machine.State() != fsm.StatePlanning {
		t.Errorf("next turn must reach planning, got %s", machine.State())
	}
}

func TestBridgeWithoutMachineIsNoop(t *testing.T) {
	b := NewBridge(nil, nil, nil)
	b.OnTurnStart(1)
	b.OnPlanReady(1)
	b.OnError(1, "x")
	b.Reset()
	if b.State() != fsm.StateIdle {
		t.Errorf("headless bridge must report idle, got %s", b.State())
	}
}
