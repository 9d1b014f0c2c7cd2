package models

import "testing"

func TestRouteIsValid(t *testing.T) {
	for _, r := range ValidRoutes {
		if !r.IsValid() {
			t.Errorf("route %q should be valid", r)
		}
	}
	if Route("browser").IsValid() || Route("").IsValid() {
		t.Error("unknown routes must be invalid")
	}
}

func TestPlanIntent(t *testing.T) {
	cases := []struct {
		name string
		plan Plan
		want string
	}{
		{"calendar route", Plan{Route: RouteCalendar, CalendarIntent: "create_event"}, "create_event"},
		{"gmail route", Plan{Route: RouteGmail, GmailIntent: "send", CalendarIntent: "none"}, "send"},
		{"gmail route without gmail intent", Plan{Route: RouteGmail, CalendarIntent: "none"}, "none"},
		{"smalltalk", Plan{Route: RouteSmalltalk, CalendarIntent: "none"}, "none"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.plan.Intent(); got != tc.want {
				t.Errorf("Intent() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestToolResultIsEmpty(t *testing.T) {
	cases := []struct {
		name   string
		result any
		want   bool
	}{
		{"nil", nil, true},
		{"empty string", "", true},
		{"empty list", []any{}, true},
		{"empty map", map[string]any{}, true},
		{"text", "ok", false},
		{"list", []any{1}, false},
		{"zero int", 0, false},
		{"false bool", false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := ToolResult{Result: tc.result}
			if got := r.IsEmpty(); got != tc.want {
				t.Errorf("IsEmpty() = %t, want %t", got, tc.want)
			}
		})
	}
}
