// Package orchestrator runs the per-turn control loop: plan, gate, execute,
// verify, finalize, and update session state, with cooperative cancellation
// at every phase boundary.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/miclaldogan/bantz-sub008/internal/audit"
	"github.com/miclaldogan/bantz-sub008/internal/bargein"
	"github.com/miclaldogan/bantz-sub008/internal/bus"
	"github.com/miclaldogan/bantz-sub008/internal/finalize"
	"github.com/miclaldogan/bantz-sub008/internal/fsm"
	"github.com/miclaldogan/bantz-sub008/internal/metrics"
	"github.com/miclaldogan/bantz-sub008/internal/observability"
	"github.com/miclaldogan/bantz-sub008/internal/permission"
	"github.com/miclaldogan/bantz-sub008/internal/planner"
	"github.com/miclaldogan/bantz-sub008/internal/safety"
	"github.com/miclaldogan/bantz-sub008/internal/tools"
	"github.com/miclaldogan/bantz-sub008/internal/turn"
	"github.com/miclaldogan/bantz-sub008/internal/verify"
	"github.com/miclaldogan/bantz-sub008/pkg/models"
)

// DefaultConfidenceThreshold gates the clarification path: plans below it
// with askUser set short-circuit to a question instead of executing.
const DefaultConfidenceThreshold = 0.7

// CancelledReply is spoken when a turn is cancelled mid-flight.
const CancelledReply = "Tamam, iptal ettim."

// Planner produces a plan for one turn.
type Planner interface {
	Plan(ctx context.Context, in planner.PromptInput) (*models.Plan, error)
}

// MemoryRetriever supplies long-term memory for the router prompt. The
// store itself lives outside the kernel.
type MemoryRetriever func(userInput string) string

// Deps wires the loop's collaborators. Bargein, planner, registry,
// executor, verifier, and pipeline are required; the rest degrade to no-ops.
type Deps struct {
	Bargein   *bargein.Handler
	Bridge    *Bridge
	Planner   Planner
	Permits   *permission.Engine
	Tokens    *permission.TokenIssuer
	Registry  *tools.Registry
	Executor  *tools.Executor
	Verifier  *verify.Verifier
	Pipeline  *finalize.Pipeline
	Events    *bus.Bus
	Metrics   *metrics.Collector
	Prom      *observability.Metrics
	Audit     *audit.Logger
	Memory    MemoryRetriever
	Logger    *slog.Logger
	Threshold float64
}

// Loop is the orchestrator. One Loop serves one session's State; the loop
// itself is single-threaded per turn.
type Loop struct {
	deps      Deps
	prom      *observability.Metrics
	logger    *slog.Logger
	threshold float64
	now       func() time.Time
}

// NewLoop creates the orchestrator loop.
func NewLoop(deps Deps) *Loop {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	threshold := deps.Threshold
	if threshold <= 0 {
		threshold = DefaultConfidenceThreshold
	}
	if deps.Bridge == nil {
		deps.Bridge = NewBridge(nil, deps.Events, logger)
	}
	if deps.Verifier == nil {
		deps.Verifier = verify.New(logger)
	}
	return &Loop{
		deps:      deps,
		prom:      deps.Prom,
		logger:    logger.With("component", "orchestrator"),
		threshold: threshold,
		now:       time.Now,
	}
}

// ProcessTurn runs one full turn. Cancellation via barge-in returns an
// output tagged TurnCancelled as soon as the next phase boundary is reached.
func (l *Loop) ProcessTurn(ctx context.Context, userInput string, state *State) (models.Output, error) {
	return l.runTurn(ctx, userInput, state, "")
}

// RunFullCycle is ProcessTurn plus confirmation resume: when a token is
// supplied, the matching pending tool executes without a new planning pass.
func (l *Loop) RunFullCycle(ctx context.Context, userInput string, state *State, confirmationToken string) (models.Output, error) {
	if confirmationToken != "" {
		return l.resumeConfirmed(ctx, state, confirmationToken)
	}
	return l.runTurn(ctx, userInput, state, "")
}

// DenyConfirmation resolves an open confirmation with a refusal: every
// parked tool is dropped unexecuted and the FSM returns to idle. It is also
// invoked implicitly when a new turn starts over an unanswered prompt.
func (l *Loop) DenyConfirmation(state *State) {
	turnNumber := state.TurnNumber()
	dropped := state.ClearPendingConfirmations()
	l.deps.Bridge.OnUserDenied(turnNumber)
	l.setPendingGauge(state)
	if dropped > 0 {
		l.audit(audit.Event{
			EventType:  audit.EventConfirmation,
			SessionID:  state.SessionID,
			TurnNumber: turnNumber,
			Decision:   "denied",
		})
	}
}

func (l *Loop) runTurn(ctx context.Context, userInput string, state *State, memory string) (models.Output, error) {
	start := l.now()

	// Phase 0: turn start. A new turn cancels any previous one. A new turn
	// arriving while a confirmation is still open means the user abandoned
	// the prompt; that counts as a denial.
	if l.deps.Bridge.State() == fsm.StateConfirming {
		l.DenyConfirmation(state)
	}
	if l.prom != nil && l.deps.Bridge.State() == fsm.StateResponding {
		l.prom.BargeIns.Inc()
	}
	turnNumber := state.NextTurn()
	tc := l.deps.Bargein.StartTurn()
	l.deps.Bridge.OnTurnStart(turnNumber)
	state.UpdateTrace("turn_number", turnNumber)
	l.audit(audit.Event{
		EventType:  audit.EventTurnStart,
		SessionID:  state.SessionID,
		TurnNumber: turnNumber,
	})

	// Phase 1: planning.
	if memory == "" && l.deps.Memory != nil {
		memory = l.deps.Memory(userInput)
	}
	plan, err := l.deps.Planner.Plan(ctx, planner.PromptInput{
		UserInput:      userInput,
		History:        state.RecentConversation(3),
		SessionContext: state.SessionContext(),
		Memory:         memory,
	})
	if l.prom != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		l.prom.LLMRequests.WithLabelValues("router", status).Inc()
	}
	if err != nil {
		l.logger.Warn("router failed", "error", err)
		plan = &models.Plan{Route: models.RouteUnknown, CalendarIntent: "none", Slots: map[string]any{}}
	}
	if out, done := l.checkCancelled(tc, state, turnNumber, plan.Route, start); done {
		return out, nil
	}

	validTools := make(map[string]bool)
	for _, name := range l.deps.Registry.Names() {
		validTools[name] = true
	}
	report := planner.VerifyPlan(plan, validTools, userInput)
	if !report.OK {
		l.logger.Warn("plan rejected by verifier, downgrading", "errors", report.Errors)
		state.UpdateTrace("plan_verifier", report.Errors)
		plan = downgradePlan(plan, validTools)
	}

	if plan.Confidence < l.threshold && plan.AskUser && plan.Question != "" {
		reply := plan.Question
		l.deps.Bridge.OnNoTools(turnNumber)
		return l.deliver(state, tc, turnNumber, userInput, plan, reply, models.Output{
			Route:          plan.Route,
			Intent:         plan.Intent(),
			AssistantReply: reply,
			TurnID:         tc.ID(),
			Metadata:       map[string]any{"clarification": true},
		}, start), nil
	}

	// Phase 2: permission and confirmation gate. PLAN_READY fires first so
	// a confirmation request transitions out of the executing state.
	if plan.HasTools() {
		l.deps.Bridge.OnPlanReady(turnNumber)
	}
	approved, confirmOut, gated := l.gateTools(state, tc, turnNumber, plan)
	if gated {
		return confirmOut, nil
	}
	if out, done := l.checkCancelled(tc, state, turnNumber, plan.Route, start); done {
		return out, nil
	}

	// Phase 3: execute approved tools serially.
	if len(approved) > 0 {
		l.executeSteps(ctx, state, tc, turnNumber, approved)
	}
	if plan.HasTools() {
		l.deps.Bridge.OnToolsComplete(turnNumber)
	} else {
		l.deps.Bridge.OnNoTools(turnNumber)
	}
	if out, done := l.checkCancelled(tc, state, turnNumber, plan.Route, start); done {
		return out, nil
	}

	// Phase 4: verify, retrying idempotent reads once.
	results := tc.ToolResults()
	retry := func(tool string, original models.ToolResult) models.ToolResult {
		res := l.deps.Executor.Execute(ctx, tool, stepArgs(approved, original.StepIndex), 0)
		res.StepIndex = original.StepIndex
		return res
	}
	verdict := l.deps.Verifier.VerifyToolResults(results, retry)
	state.UpdateTrace("verify", fmt.Sprintf("verified=%t tools_ok=%d tools_retry=%d tools_fail=%d",
		verdict.Verified, len(verdict.ToolsOK), len(verdict.ToolsRetry), len(verdict.ToolsFail)))

	// Phase 5: finalize.
	if out, done := l.checkCancelled(tc, state, turnNumber, plan.Route, start); done {
		return out, nil
	}
	tier := finalize.SelectTier(plan.Intent(), l.deps.Pipeline.QualityAvailable())
	reply, meta := l.deps.Pipeline.Finalize(ctx, plan, verdict.VerifiedResults, tier)
	l.countFinalize(meta)
	state.UpdateTrace("response_tier", meta.Tier)
	state.UpdateTrace("finalizer_used", meta.Model)
	state.UpdateTrace("response_tier_reason", meta.Reason)
	if out, done := l.checkCancelled(tc, state, turnNumber, plan.Route, start); done {
		return out, nil
	}

	// Phase 6: update state and close the turn.
	return l.deliver(state, tc, turnNumber, userInput, plan, reply, models.Output{
		Route:          plan.Route,
		Intent:         plan.Intent(),
		ToolPlan:       plan.ToolPlan,
		AssistantReply: reply,
		TurnID:         tc.ID(),
		Tier:           meta.Tier,
		Metadata: map[string]any{
			"model":       meta.Model,
			"tokens_used": meta.TokensUsed,
			"verified":    verdict.Verified,
		},
	}, start), nil
}

// gateTools evaluates each planned step against the permission engine and
// guardrails. The first Confirm decision parks the turn and returns a
// confirmation prompt.
func (l *Loop) gateTools(state *State, tc *turn.Context, turnNumber int, plan *models.Plan) ([]models.ToolStep, models.Output, bool) {
	var approved []models.ToolStep
	steps := plan.ToolPlanWithArgs
	if len(steps) == 0 {
		for _, name := range plan.ToolPlan {
			steps = append(steps, models.ToolStep{Name: name})
		}
	}

	for i, step := range steps {
		classification := safety.Classify(step.Name, step.Args)
		decision := permission.Result{Decision: permission.Allow}
		if l.deps.Permits != nil {
			decision = l.deps.Permits.Evaluate(step.Name, plan.Intent())
		}
		guard := safety.Check(commandRepr(step))

		l.audit(audit.Event{
			EventType:  audit.EventPermissionDecision,
			SessionID:  state.SessionID,
			TurnNumber: turnNumber,
			Tool:       step.Name,
			Decision:   string(decision.Decision),
			RiskLevel:  classification.Level.String(),
		})

		if decision.Decision == permission.Deny || guard.Blocked {
			reason := decision.Reason
			if guard.Blocked {
				reason = guard.Reason
			}
			res := models.ToolResult{
				Tool:           step.Name,
				Kind:           models.ToolResultSafetyRejected,
				SafetyRejected: true,
				Error:          reason,
				StepIndex:      i,
			}
			tc.AddToolResult(res)
			l.audit(audit.Event{
				EventType:  audit.EventSafetyBlock,
				SessionID:  state.SessionID,
				TurnNumber: turnNumber,
				Tool:       step.Name,
				Decision:   "deny",
				RiskLevel:  classification.Level.String(),
			})
			continue
		}

		needsConfirm := decision.Decision == permission.Confirm || guard.ConfirmationRequired
		if tool, ok := l.deps.Registry.Get(step.Name); ok && tool.RequiresConfirmation {
			needsConfirm = true
		}
		if needsConfirm {
			token := ""
			expiry := l.now().Add(permission.DefaultConfirmationTTL)
			if l.deps.Tokens != nil {
				issued, _, err := l.deps.Tokens.Issue(step.Name)
				if err != nil {
					l.logger.Error("confirmation token issue failed", "tool", step.Name, "error", err)
					continue
				}
				token = issued
				expiry = l.now().Add(l.deps.Tokens.TTL())
			}
			prompt := plan.ConfirmationPrompt
			if prompt == "" {
				prompt = fmt.Sprintf("%s aracını çalıştırmamı onaylıyor musunuz?", step.Name)
			}
			state.AddPendingConfirmation(PendingConfirmation{
				Tool:      step.Name,
				Args:      step.Args,
				Token:     token,
				Prompt:    prompt,
				StepIndex: i,
				ExpiresAt: expiry,
			})
			l.deps.Bridge.OnConfirmationRequired(turnNumber, step.Name)
			l.setPendingGauge(state)
			l.audit(audit.Event{
				EventType:  audit.EventConfirmation,
				SessionID:  state.SessionID,
				TurnNumber: turnNumber,
				Tool:       step.Name,
				Decision:   "pending",
			})
			out := models.Output{
				Route:                plan.Route,
				Intent:               plan.Intent(),
				ToolPlan:             plan.ToolPlan,
				AssistantReply:       prompt,
				TurnID:               tc.ID(),
				AwaitingConfirmation: true,
				ConfirmationToken:    token,
			}
			return nil, out, true
		}

		step.Args = normalizeArgs(step.Args)
		approved = append(approved, step)
	}
	return approved, models.Output{}, false
}

// executeSteps runs the approved steps serially, checking cancellation
// before each call and marking the remainder skipped after a cancel.
func (l *Loop) executeSteps(ctx context.Context, state *State, tc *turn.Context, turnNumber int, steps []models.ToolStep) {
	for i, step := range steps {
		if tc.IsCancelled() {
			for _, rest := range steps[i:] {
				tc.AddToolResult(models.ToolResult{
					Tool: rest.Name,
					Kind: models.ToolResultSkipped,
				})
			}
			return
		}

		res := l.deps.Executor.Execute(ctx, step.Name, step.Args, 0)
		res.StepIndex = i
		tc.AddToolResult(res)

		if l.deps.Events != nil {
			l.deps.Events.Publish("tool.executed", map[string]any{
				"tool":       step.Name,
				"success":    res.Success,
				"elapsed_ms": res.ElapsedMs,
				"turn_id":    tc.ID(),
			}, "orchestrator")
		}
		if l.deps.Metrics != nil {
			l.deps.Metrics.Record("turn_tool_ms", float64(res.ElapsedMs), "ms",
				map[string]string{"tool": step.Name})
		}
		success := res.Success
		l.audit(audit.Event{
			EventType:  audit.EventToolCall,
			SessionID:  state.SessionID,
			TurnNumber: turnNumber,
			Tool:       step.Name,
			ArgsHash:   audit.HashPayload(step.Args),
			ResultHash: audit.HashPayload(res.Result),
			LatencyMs:  res.ElapsedMs,
			Success:    &success,
		})
	}
}

// resumeConfirmed redeems a confirmation token and resumes at Phase 3 for
// the single parked tool.
func (l *Loop) resumeConfirmed(ctx context.Context, state *State, token string) (models.Output, error) {
	if l.deps.Tokens != nil {
		if _, _, err := l.deps.Tokens.Verify(token); err != nil {
			return models.Output{AssistantReply: "Onay süresi dolmuş, lütfen tekrar deneyin."},
				fmt.Errorf("confirmation token: %w", err)
		}
	}
	pc, ok := state.TakePendingConfirmation(token, l.now())
	if !ok {
		return models.Output{AssistantReply: "Bekleyen bir onay bulamadım."},
			fmt.Errorf("no pending confirmation for token")
	}
	l.setPendingGauge(state)

	turnNumber := state.TurnNumber()
	tc := l.deps.Bargein.StartTurn()
	l.deps.Bridge.OnUserConfirmed(turnNumber)
	l.audit(audit.Event{
		EventType:  audit.EventConfirmation,
		SessionID:  state.SessionID,
		TurnNumber: turnNumber,
		Tool:       pc.Tool,
		Decision:   "confirmed",
	})

	steps := []models.ToolStep{{Name: pc.Tool, Args: pc.Args}}
	l.executeSteps(ctx, state, tc, turnNumber, steps)
	l.deps.Bridge.OnToolsComplete(turnNumber)

	verdict := l.deps.Verifier.VerifyToolResults(tc.ToolResults(), nil)
	plan := &models.Plan{Route: models.RouteUnknown, ToolPlan: []string{pc.Tool}}
	tier := finalize.SelectTier("none", l.deps.Pipeline.QualityAvailable())
	reply, meta := l.deps.Pipeline.Finalize(ctx, plan, verdict.VerifiedResults, tier)
	l.countFinalize(meta)

	return l.deliver(state, tc, turnNumber, "", plan, reply, models.Output{
		Route:          plan.Route,
		ToolPlan:       plan.ToolPlan,
		AssistantReply: reply,
		TurnID:         tc.ID(),
		Tier:           meta.Tier,
	}, l.now()), nil
}

// deliver closes out Phase 6: history append, turn finish, FSM back to idle.
func (l *Loop) deliver(state *State, tc *turn.Context, turnNumber int, userInput string, plan *models.Plan, reply string, out models.Output, start time.Time) models.Output {
	if userInput != "" {
		state.AddConversationTurn(userInput, reply)
	}
	l.deps.Bargein.FinishTurn(tc)
	l.deps.Bridge.OnResponseDelivered(turnNumber)
	l.observeTurn(plan.Route, false, start)
	if l.deps.Metrics != nil {
		l.deps.Metrics.Record("turn_total_ms", float64(l.now().Sub(start).Milliseconds()), "ms",
			map[string]string{"route": string(plan.Route)})
	}
	l.audit(audit.Event{
		EventType:  audit.EventTurnEnd,
		SessionID:  state.SessionID,
		TurnNumber: turnNumber,
		LatencyMs:  l.now().Sub(start).Milliseconds(),
	})
	return out
}

// checkCancelled is the cooperative cancellation poll used at phase
// boundaries. Cancelled turns never reach the finalizer with tool results.
func (l *Loop) checkCancelled(tc *turn.Context, state *State, turnNumber int, route models.Route, start time.Time) (models.Output, bool) {
	if !tc.IsCancelled() {
		return models.Output{}, false
	}
	l.deps.Bridge.OnCancel(turnNumber)
	l.deps.Bridge.Reset()
	l.observeTurn(route, true, start)
	l.audit(audit.Event{
		EventType:  audit.EventBargeIn,
		SessionID:  state.SessionID,
		TurnNumber: turnNumber,
	})
	return models.Output{
		TurnID:         tc.ID(),
		TurnCancelled:  true,
		AssistantReply: CancelledReply,
	}, true
}

// observeTurn records the turn latency histogram and the cancel counter.
func (l *Loop) observeTurn(route models.Route, cancelled bool, start time.Time) {
	if l.prom == nil {
		return
	}
	l.prom.TurnDuration.WithLabelValues(string(route), strconv.FormatBool(cancelled)).
		Observe(l.now().Sub(start).Seconds())
	if cancelled {
		l.prom.CancelledTurns.Inc()
	}
}

// setPendingGauge mirrors the parked confirmation count into the gauge.
func (l *Loop) setPendingGauge(state *State) {
	if l.prom == nil {
		return
	}
	l.prom.PendingConfirmations.Set(float64(len(state.PendingConfirmations())))
}

// countFinalize records the finalizer model call and its token spend.
func (l *Loop) countFinalize(meta finalize.Metadata) {
	if l.prom == nil {
		return
	}
	backend := "router"
	if meta.Tier == finalize.TierQuality {
		backend = "quality"
	}
	status := "success"
	if meta.Fallback {
		status = "error"
	}
	l.prom.LLMRequests.WithLabelValues(backend, status).Inc()
	if meta.TokensUsed > 0 {
		l.prom.LLMTokens.WithLabelValues(backend).Add(float64(meta.TokensUsed))
	}
}

func (l *Loop) audit(ev audit.Event) {
	if l.deps.Audit == nil {
		return
	}
	if err := l.deps.Audit.Log(ev); err != nil {
		l.logger.Warn("audit write failed", "error", err)
	}
}

// downgradePlan strips tools the verifier rejected, keeping only ones that
// exist and match the route namespaces.
func downgradePlan(plan *models.Plan, validTools map[string]bool) *models.Plan {
	out := *plan
	out.ToolPlan = nil
	out.ToolPlanWithArgs = nil
	steps := plan.ToolPlanWithArgs
	if len(steps) == 0 {
		for _, name := range plan.ToolPlan {
			steps = append(steps, models.ToolStep{Name: name})
		}
	}
	for _, step := range steps {
		if !validTools[step.Name] {
			continue
		}
		single := &models.Plan{Route: plan.Route, ToolPlan: []string{step.Name}}
		if report := planner.VerifyPlan(single, validTools, ""); !routeCoherent(report) {
			continue
		}
		out.ToolPlan = append(out.ToolPlan, step.Name)
		out.ToolPlanWithArgs = append(out.ToolPlanWithArgs, step)
	}
	return &out
}

// routeCoherent checks only the namespace errors from a verify report.
func routeCoherent(report planner.VerifyReport) bool {
	for _, e := range report.Errors {
		if strings.HasPrefix(e, "route_tool_mismatch") || strings.HasPrefix(e, "smalltalk_with_tools") {
			return false
		}
	}
	return true
}

// commandRepr builds the guardrail input: the literal command for shell
// tools, a synthetic representation otherwise.
func commandRepr(step models.ToolStep) string {
	if step.Name == "system.execute_command" {
		if cmd, ok := step.Args["command"].(string); ok {
			return cmd
		}
	}
	doc, _ := json.Marshal(step.Args)
	return fmt.Sprintf("%s %s", step.Name, doc)
}

func normalizeArgs(args map[string]any) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	return args
}

func stepArgs(steps []models.ToolStep, index int) map[string]any {
	for i, step := range steps {
		if i == index {
			return step.Args
		}
	}
	return nil
}
