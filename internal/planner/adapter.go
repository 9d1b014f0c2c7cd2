// Package planner turns user input into a structured plan via the router
// model and statically verifies the result before execution.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/miclaldogan/bantz-sub008/internal/llm"
	"github.com/miclaldogan/bantz-sub008/pkg/models"
)

// DefaultConfidence is assumed when the router omits its confidence score.
const DefaultConfidence = 0.3

// historyWindow limits how many past exchanges the prompt carries.
const historyWindow = 3

// PromptInput is everything the router prompt is built from.
type PromptInput struct {
	UserInput      string
	History        []models.ConversationTurn
	SessionContext string
	Memory         string
}

// Adapter drives the router model and parses its JSON envelope.
type Adapter struct {
	client llm.Client
	logger *slog.Logger
}

// NewAdapter creates an adapter over the router client.
func NewAdapter(client llm.Client, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{client: client, logger: logger.With("component", "planner")}
}

// Plan runs one routing call and parses the result. Parse failures fall back
// to an unknown-route plan rather than failing the turn.
func (a *Adapter) Plan(ctx context.Context, in PromptInput) (*models.Plan, error) {
	res, err := a.client.ChatDetailed(ctx, llm.Request{
		System:   routerSystemPrompt,
		Messages: []llm.Message{{Role: "user", Content: BuildPrompt(in)}},
	})
	if err != nil {
		return nil, fmt.Errorf("router call: %w", err)
	}

	plan, err := ParsePlan(res.Content)
	if err != nil {
		a.logger.Warn("router output unparseable, falling back", "error", err)
		return &models.Plan{
			Route:          models.RouteUnknown,
			CalendarIntent: "none",
			Confidence:     DefaultConfidence,
			Slots:          map[string]any{},
		}, nil
	}
	return plan, nil
}

const routerSystemPrompt = `Sen bir Türkçe sesli asistanın yönlendirici modelisin. ` +
	`Kullanıcı girdisini analiz et ve SADECE tek bir JSON nesnesi döndür. ` +
	`Alanlar: route, calendar_intent, gmail_intent, slots, confidence, tool_plan, ` +
	`assistant_reply, ask_user, question, requires_confirmation, confirmation_prompt, ` +
	`memory_update, reasoning_summary. route ∈ {calendar, gmail, system, smalltalk, unknown}.`

// BuildPrompt assembles the router prompt: recent conversation, session
// context, retrieved memory, then the new input.
func BuildPrompt(in PromptInput) string {
	var b strings.Builder

	history := in.History
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	if len(history) > 0 {
		b.WriteString("Son konuşma:\n")
		for _, turn := range history {
			fmt.Fprintf(&b, "Kullanıcı: %s\nAsistan: %s\n", turn.User, turn.Assistant)
		}
		b.WriteString("\n")
	}
	if in.SessionContext != "" {
		fmt.Fprintf(&b, "Oturum bağlamı: %s\n\n", in.SessionContext)
	}
	if in.Memory != "" {
		fmt.Fprintf(&b, "Hatırlanan bilgiler: %s\n\n", in.Memory)
	}
	fmt.Fprintf(&b, "Kullanıcı girdisi: %s", in.UserInput)
	return b.String()
}

// ParsePlan parses the router's JSON envelope. Missing fields default
// conservatively; confidence is clamped to [0,1]; tool plan entries may be
// plain strings or {name|tool|tool_name, args} objects.
func ParsePlan(raw string) (*models.Plan, error) {
	doc := extractJSON(raw)
	if doc == "" {
		return nil, fmt.Errorf("no JSON object in router output")
	}

	var envelope map[string]any
	if err := json.Unmarshal([]byte(doc), &envelope); err != nil {
		return nil, fmt.Errorf("malformed router JSON: %w", err)
	}

	plan := &models.Plan{
		Route:          models.RouteUnknown,
		CalendarIntent: "none",
		Confidence:     DefaultConfidence,
		Slots:          map[string]any{},
	}

	if s, ok := envelope["route"].(string); ok {
		route := models.Route(strings.ToLower(strings.TrimSpace(s)))
		if route.IsValid() {
			plan.Route = route
		}
	}
	if s, ok := envelope["calendar_intent"].(string); ok && s != "" {
		plan.CalendarIntent = s
	}
	if s, ok := envelope["gmail_intent"].(string); ok {
		plan.GmailIntent = s
	}
	if m, ok := envelope["slots"].(map[string]any); ok {
		plan.Slots = m
	}
	if n, ok := envelope["confidence"].(float64); ok {
		plan.Confidence = clamp01(n)
	}
	if s, ok := envelope["assistant_reply"].(string); ok {
		plan.AssistantReply = s
	}
	if v, ok := envelope["ask_user"].(bool); ok {
		plan.AskUser = v
	}
	if s, ok := envelope["question"].(string); ok {
		plan.Question = s
	}
	if v, ok := envelope["requires_confirmation"].(bool); ok {
		plan.RequiresConfirmation = v
	}
	if s, ok := envelope["confirmation_prompt"].(string); ok {
		plan.ConfirmationPrompt = s
	}
	if s, ok := envelope["memory_update"].(string); ok {
		plan.MemoryUpdate = s
	}
	if s, ok := envelope["reasoning_summary"].(string); ok {
		plan.ReasoningSummary = s
	}

	plan.ToolPlan, plan.ToolPlanWithArgs = parseToolPlan(envelope["tool_plan"])
	return plan, nil
}

// parseToolPlan accepts both plain string entries and object entries,
// producing length-matched name and step slices in order.
func parseToolPlan(v any) ([]string, []models.ToolStep) {
	entries, ok := v.([]any)
	if !ok {
		return nil, nil
	}

	var names []string
	var steps []models.ToolStep
	for _, entry := range entries {
		switch e := entry.(type) {
		case string:
			if e == "" {
				continue
			}
			names = append(names, e)
			steps = append(steps, models.ToolStep{Name: e})
		case map[string]any:
			name := ""
			for _, key := range []string{"name", "tool", "tool_name"} {
				if s, ok := e[key].(string); ok && s != "" {
					name = s
					break
				}
			}
			if name == "" {
				continue
			}
			args, _ := e["args"].(map[string]any)
			names = append(names, name)
			steps = append(steps, models.ToolStep{Name: name, Args: args})
		}
	}
	return names, steps
}

// extractJSON strips markdown code fences and trims to the outermost braces.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

func clamp01(n float64) float64 {
	if n < 0 {
		return 0
	}
	if n > 1 {
		return 1
	}
	return n
}
