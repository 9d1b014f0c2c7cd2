package models

// Route is the top-level category chosen by the router model for a turn.
type Route string

const (
	RouteCalendar  Route = "calendar"
	RouteGmail     Route = "gmail"
	RouteSystem    Route = "system"
	RouteSmalltalk Route = "smalltalk"
	RouteUnknown   Route = "unknown"
)

// ValidRoutes lists every route the planner may emit.
var ValidRoutes = []Route{RouteCalendar, RouteGmail, RouteSystem, RouteSmalltalk, RouteUnknown}

// IsValid reports whether the route is one of the known categories.
func (r Route) IsValid() bool {
	switch r {
	case RouteCalendar, RouteGmail, RouteSystem, RouteSmalltalk, RouteUnknown:
		return true
	}
	return false
}

// ToolStep is a single planned tool invocation with its keyword arguments.
type ToolStep struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// Plan is the structured output of the router model for one turn.
// It carries the route decision, extracted slots, and the ordered tool plan.
type Plan struct {
	Route          Route          `json:"route"`
	CalendarIntent string         `json:"calendar_intent"`
	GmailIntent    string         `json:"gmail_intent,omitempty"`
	Slots          map[string]any `json:"slots"`
	Confidence     float64        `json:"confidence"`

	// ToolPlan holds the planned tool names in execution order.
	// ToolPlanWithArgs carries the same steps with their arguments;
	// both slices are always length-matched.
	ToolPlan         []string   `json:"tool_plan"`
	ToolPlanWithArgs []ToolStep `json:"tool_plan_with_args,omitempty"`

	AssistantReply       string `json:"assistant_reply,omitempty"`
	AskUser              bool   `json:"ask_user,omitempty"`
	Question             string `json:"question,omitempty"`
	RequiresConfirmation bool   `json:"requires_confirmation,omitempty"`
	ConfirmationPrompt   string `json:"confirmation_prompt,omitempty"`
	MemoryUpdate         string `json:"memory_update,omitempty"`
	ReasoningSummary     string `json:"reasoning_summary,omitempty"`
}

// Intent returns the effective intent for the plan's route: the gmail intent
// on the gmail route, the calendar intent otherwise.
func (p *Plan) Intent() string {
	if p.Route == RouteGmail && p.GmailIntent != "" {
		return p.GmailIntent
	}
	return p.CalendarIntent
}

// HasTools reports whether the plan asks for any tool execution.
func (p *Plan) HasTools() bool {
	return len(p.ToolPlan) > 0
}
