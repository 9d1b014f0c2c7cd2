package orchestrator

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/miclaldogan/bantz-sub008/internal/bargein"
	"github.com/miclaldogan/bantz-sub008/internal/bus"
	"github.com/miclaldogan/bantz-sub008/internal/finalize"
	"github.com/miclaldogan/bantz-sub008/internal/fsm"
	"github.com/miclaldogan/bantz-sub008/internal/llm"
	"github.com/miclaldogan/bantz-sub008/internal/observability"
	"github.com/miclaldogan/bantz-sub008/internal/permission"
	"github.com/miclaldogan/bantz-sub008/internal/planner"
	"github.com/miclaldogan/bantz-sub008/internal/tools"
	"github.com/miclaldogan/bantz-sub008/internal/verify"
	"github.com/miclaldogan/bantz-sub008/pkg/models"
)

// stubPlanner returns a fixed plan.
type stubPlanner struct {
	plan *models.Plan
	err  error
}

func (s *stubPlanner) Plan(ctx context.Context, in planner.PromptInput) (*models.Plan, error) {
	return s.plan, s.err
}

// stubLLM implements llm.Client for the finalizer.
type stubLLM struct{ content string }

func (s *stubLLM) Name() string    { return "stub" }
func (s *stubLLM) Available() bool { return true }
func (s *stubLLM) CompleteText(ctx context.Context, prompt string) (string, error) {
	return s.content, nil
}
func (s *stubLLM) ChatDetailed(ctx context.Context, req llm.Request) (*llm.ChatResult, error) {
	return &llm.ChatResult{Content: s.content, Model: "stub-model"}, nil
}

type harness struct {
	loop     *Loop
	state    *State
	bargein  *bargein.Handler
	machine  *fsm.Machine
	registry *tools.Registry
	calls    map[string]int
}

func newHarness(t *testing.T, plan *models.Plan, rules []permission.Rule) *harness {
	t.Helper()

	h := &harness{
		state: NewState("sess-test"),
		calls: map[string]int{},
	}
	h.registry = tools.NewRegistry()
	for _, name := range []string{"time.now", "system.status", "calendar.list_events", "gmail.send"} {
		name := name
		err := h.registry.Register(tools.Tool{
			Name: name,
			Function: func(ctx context.Context, args map[string]any) (any, error) {
				h.calls[name]++
				return []any{"payload"}, nil
			},
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	h.bargein = bargein.New(nil, 0, nil)
	h.machine = fsm.New(nil)
	events := bus.New(50, nil)

	pipeline := finalize.NewPipeline(&stubLLM{content: "Hazır Efendim."}, nil, nil, nil, finalize.PersonaOptions{}, nil)

	h.loop = NewLoop(Deps{
		Bargein:  h.bargein,
		Bridge:   NewBridge(h.machine, events, nil),
		Planner:  &stubPlanner{plan: plan},
		Permits:  permission.NewEngine(rules),
		Tokens:   permission.NewTokenIssuer([]byte("test-secret"), 0),
		Registry: h.registry,
		Executor: tools.NewExecutor(h.registry, nil),
		Verifier: verify.New(nil),
		Pipeline: pipeline,
		Events:   events,
	})
	return h
}

func allowAll() []permission.Rule {
	return []permission.Rule{{Tool: "*", Action: "*", Risk: permission.RiskLow, Decision: permission.Allow}}
}

func TestProcessTurnHappyPath(t *testing.T) {
	plan := &models.Plan{
		Route:          models.RouteCalendar,
		CalendarIntent: "list",
		Confidence:     0.95,
		ToolPlan:       []string{"calendar.list_events"},
		ToolPlanWithArgs: []models.ToolStep{
			{Name: "calendar.list_events", Args: map[string]any{"day": "yarın"}},
		},
	}
	h := newHarness(t, plan, allowAll())

	out, err := h.loop.ProcessTurn(context.Background(), "yarın neler var", h.state)
	if err != nil {
		t.Fatal(err)
	}
	if out.AssistantReply != "Hazır Efendim." {
		t.Errorf("unexpected reply: %q", out.AssistantReply)
	}
	if out.Route != models.RouteCalendar || out.TurnCancelled {
		t.Errorf("unexpected output: %+v", out)
	}
	if h.calls["calendar.list_events"] != 1 {
		t.Errorf("tool not executed exactly once: %v", h.calls)
	}
	if h.machine.State() != fsm.StateIdle {
		t.Errorf("FSM must end idle, got %s", h.machine.State())
	}
	history := h.state.RecentConversation(0)
	if len(history) != 1 || history[0].Assistant != "Hazır Efendim." {
		t.Errorf("conversation history not updated: %+v", history)
	}
	if trace := h.state.Trace(); !strings.HasPrefix(trace["verify"].(string), "verified=true") {
		t.Errorf("verify trace missing: %v", trace)
	}
}

func TestProcessTurnConfirmationGate(t *testing.T) {
	plan := &models.Plan{
		Route:       models.RouteGmail,
		GmailIntent: "send",
		Confidence:  0.9,
		ToolPlan:    []string{"gmail.send"},
		ToolPlanWithArgs: []models.ToolStep{
			{Name: "gmail.send", Args: map[string]any{"to": "a@b.c"}},
		},
	}
	rules := []permission.Rule{
		{Tool: "gmail.send", Action: "*", Risk: permission.RiskHigh, Decision: permission.Confirm},
	}
	h := newHarness(t, plan, rules)

	out, err := h.loop.ProcessTurn(context.Background(), "mail gönder", h.state)
	if err != nil {
		t.Fatal(err)
	}
	if !out.AwaitingConfirmation || out.ConfirmationToken == "" {
		t.Fatalf("expected confirmation gate, got %+v", out)
	}
	if h.calls["gmail.send"] != 0 {
		t.Fatal("gated tool must not run before confirmation")
	}
	if h.machine.State() != fsm.StateConfirming {
		t.Errorf("FSM must be confirming, got %s", h.machine.State())
	}
	if len(h.state.PendingConfirmations()) != 1 {
		t.Fatal("confirmation not parked in state")
	}

	// Redeeming the token resumes execution of the parked tool.
	out2, err := h.loop.RunFullCycle(context.Background(), "", h.state, out.ConfirmationToken)
	if err != nil {
		t.Fatal(err)
	}
	if h.calls["gmail.send"] != 1 {
		t.Errorf("confirmed tool must execute once: %v", h.calls)
	}
	if out2.AssistantReply == "" || out2.AwaitingConfirmation {
		t.Errorf("unexpected resume output: %+v", out2)
	}
	if len(h.state.PendingConfirmations()) != 0 {
		t.Error("pending confirmation must be consumed")
	}
}

func confirmGatedPlan() (*models.Plan, []permission.Rule) {
	plan := &models.Plan{
		Route:       models.RouteGmail,
		GmailIntent: "send",
		Confidence:  0.9,
		ToolPlan:    []string{"gmail.send"},
		ToolPlanWithArgs: []models.ToolStep{
			{Name: "gmail.send", Args: map[string]any{"to": "a@b.c"}},
		},
	}
	rules := []permission.Rule{
		{Tool: "gmail.send", Action: "*", Risk: permission.RiskHigh, Decision: permission.Confirm},
	}
	return plan, rules
}

func TestDenyConfirmationDropsParkedTool(t *testing.T) {
	plan, rules := confirmGatedPlan()
	h := newHarness(t, plan, rules)

	out, err := h.loop.ProcessTurn(context.Background(), "mail gönder", h.state)
	if err != nil {
		t.Fatal(err)
	}
	if !out.AwaitingConfirmation {
		t.Fatalf("expected confirmation gate, got %+v", out)
	}

	h.loop.DenyConfirmation(h.state)

	if h.machine.State() != fsm.StateIdle {
		t.Errorf("denied confirmation must return FSM to idle, got %s", h.machine.State())
	}
	if len(h.state.PendingConfirmations()) != 0 {
		t.Error("denied confirmation must be dropped")
	}
	if h.calls["gmail.send"] != 0 {
		t.Error("denied tool must never run")
	}

	// The old token no longer resolves to anything.
	if _, err := h.loop.RunFullCycle(context.Background(), "", h.state, out.ConfirmationToken); err == nil {
		t.Error("token of a denied confirmation must not redeem")
	}
}

func TestNewTurnOverOpenConfirmationDeniesIt(t *testing.T) {
	plan, rules := confirmGatedPlan()
	h := newHarness(t, plan, rules)

	if _, err := h.loop.ProcessTurn(context.Background(), "mail gönder", h.state); err != nil {
		t.Fatal(err)
	}
	if h.machine.State() != fsm.StateConfirming {
		t.Fatalf("setup: expected confirming, got %s", h.machine.State())
	}

	// The user ignores the prompt and asks something else.
	h.loop.deps.Planner = &stubPlanner{plan: &models.Plan{
		Route:          models.RouteSmalltalk,
		CalendarIntent: "none",
		Confidence:     0.9,
	}}
	out, err := h.loop.ProcessTurn(context.Background(), "bugün hava nasıl", h.state)
	if err != nil {
		t.Fatal(err)
	}
	if out.AssistantReply == "" || out.TurnCancelled {
		t.Errorf("follow-up turn must complete normally: %+v", out)
	}
	if h.machine.State() != fsm.StateIdle {
		t.Errorf("FSM must not stay stuck after an abandoned confirmation, got %s", h.machine.State())
	}
	if len(h.state.PendingConfirmations()) != 0 {
		t.Error("abandoned confirmation must be dropped")
	}
	if h.calls["gmail.send"] != 0 {
		t.Error("abandoned tool must never run")
	}
}

func TestRunFullCycleRejectsBadToken(t *testing.T) {
	h := newHarness(t, &models.Plan{Route: models.RouteSmalltalk}, allowAll())
	if _, err := h.loop.RunFullCycle(context.Background(), "", h.state, "not-a-jwt"); err == nil {
		t.Error("invalid token must fail")
	}
}

func TestProcessTurnDeniedToolIsSkipped(t *testing.T) {
	plan := &models.Plan{
		Route:      models.RouteSystem,
		Confidence: 0.9,
		ToolPlan:   []string{"system.status"},
		ToolPlanWithArgs: []models.ToolStep{
			{Name: "system.status"},
		},
	}
	rules := []permission.Rule{
		{Tool: "system.*", Action: "*", Risk: permission.RiskHigh, Decision: permission.Deny},
	}
	h := newHarness(t, plan, rules)

	out, err := h.loop.ProcessTurn(context.Background(), "sistemi kontrol et", h.state)
	if err != nil {
		t.Fatal(err)
	}
	if h.calls["system.status"] != 0 {
		t.Error("denied tool must never run")
	}
	if out.TurnCancelled || out.AssistantReply == "" {
		t.Errorf("denied tool should still produce a reply: %+v", out)
	}
}

func TestProcessTurnStripsUnknownTools(t *testing.T) {
	plan := &models.Plan{
		Route:      models.RouteCalendar,
		Confidence: 0.9,
		ToolPlan:   []string{"calendar.teleport", "calendar.list_events"},
		ToolPlanWithArgs: []models.ToolStep{
			{Name: "calendar.teleport"},
			{Name: "calendar.list_events"},
		},
	}
	h := newHarness(t, plan, allowAll())

	if _, err := h.loop.ProcessTurn(context.Background(), "takvime bak", h.state); err != nil {
		t.Fatal(err)
	}
	if h.calls["calendar.list_events"] != 1 {
		t.Error("valid tool must survive the downgrade")
	}
	if _, ok := h.state.Trace()["plan_verifier"]; !ok {
		t.Error("verifier errors must be recorded in trace")
	}
}

func TestProcessTurnLowConfidenceAsksUser(t *testing.T) {
	plan := &models.Plan{
		Route:      models.RouteCalendar,
		Confidence: 0.4,
		AskUser:    true,
		Question:   "Hangi gün için bakayım?",
		ToolPlan:   []string{"calendar.list_events"},
	}
	h := newHarness(t, plan, allowAll())

	out, err := h.loop.ProcessTurn(context.Background(), "şey takvim", h.state)
	if err != nil {
		t.Fatal(err)
	}
	if out.AssistantReply != "Hangi gün için bakayım?" {
		t.Errorf("clarification question expected, got %q", out.AssistantReply)
	}
	if h.calls["calendar.list_events"] != 0 {
		t.Error("low-confidence plan must not execute tools")
	}
}

func TestProcessTurnCancellationMidExecution(t *testing.T) {
	h := newHarness(t, nil, allowAll())

	// A tool that cancels the active turn while running, as a barge-in would.
	err := h.registry.Register(tools.Tool{
		Name: "system.slow",
		Function: func(ctx context.Context, args map[string]any) (any, error) {
			h.bargein.ActiveTurn().Cancel()
			return "done", nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	plan := &models.Plan{
		Route:      models.RouteSystem,
		Confidence: 0.9,
		ToolPlan:   []string{"system.slow", "system.status"},
		ToolPlanWithArgs: []models.ToolStep{
			{Name: "system.slow"},
			{Name: "system.status"},
		},
	}
	h.loop.deps.Planner = &stubPlanner{plan: plan}

	out, err := h.loop.ProcessTurn(context.Background(), "kontrol et", h.state)
	if err != nil {
		t.Fatal(err)
	}
	if !out.TurnCancelled {
		t.Fatalf("expected cancelled output, got %+v", out)
	}
	if h.calls["system.status"] != 0 {
		t.Error("tools after the cancel must be skipped")
	}
	if len(h.state.RecentConversation(0)) != 0 {
		t.Error("cancelled turn must not update conversation history")
	}
}

func TestProcessTurnRecordsInstruments(t *testing.T) {
	plan := &models.Plan{
		Route:          models.RouteCalendar,
		CalendarIntent: "list",
		Confidence:     0.95,
		ToolPlan:       []string{"calendar.list_events"},
		ToolPlanWithArgs: []models.ToolStep{
			{Name: "calendar.list_events"},
		},
	}
	h := newHarness(t, plan, allowAll())

	reg := prometheus.NewRegistry()
	prom := observability.NewMetrics(reg)
	h.loop.prom = prom
	h.loop.deps.Prom = prom

	if _, err := h.loop.ProcessTurn(context.Background(), "yarın neler var", h.state); err != nil {
		t.Fatal(err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	samples := map[string]float64{}
	for _, f := range families {
		for _, m := range f.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				samples[f.GetName()] += m.GetCounter().GetValue()
			case m.GetHistogram() != nil:
				samples[f.GetName()] += float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	if samples["bantz_turn_duration_seconds"] != 1 {
		t.Errorf("turn duration not observed: %v", samples)
	}
	// One router call plus one finalizer call.
	if samples["bantz_llm_requests_total"] != 2 {
		t.Errorf("llm requests not counted: %v", samples)
	}
}

func TestProcessTurnRouterFailureStillReplies(t *testing.T) {
	h := newHarness(t, nil, allowAll())
	h.loop.deps.Planner = &stubPlanner{err: context.DeadlineExceeded}

	out, err := h.loop.ProcessTurn(context.Background(), "merhaba", h.state)
	if err != nil {
		t.Fatal(err)
	}
	if out.AssistantReply == "" || out.TurnCancelled {
		t.Errorf("router failure must still produce a reply: %+v", out)
	}
	if out.Route != models.RouteUnknown {
		t.Errorf("expected unknown route fallback, got %s", out.Route)
	}
}
