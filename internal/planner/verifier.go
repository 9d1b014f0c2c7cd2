package planner

import (
	"fmt"
	"strings"

	"github.com/miclaldogan/bantz-sub008/pkg/models"
)

// routeToolPrefixes lists which tool namespaces each route may touch.
var routeToolPrefixes = map[models.Route][]string{
	models.RouteCalendar:  {"calendar.", "time.", "contacts."},
	models.RouteGmail:     {"gmail.", "contacts.", "time."},
	models.RouteSystem:    {"system.", "time."},
	models.RouteSmalltalk: {"time."},
	models.RouteUnknown:   {"time."},
}

// requiredSlots lists slots each intent cannot act without.
var requiredSlots = map[string][]string{
	"create_event": {"title"},
	"update_event": {"event_id"},
	"delete_event": {"event_id"},
}

// requiredGmailFields lists fields each gmail write intent needs.
var requiredGmailFields = map[string][]string{
	"send":  {"to"},
	"reply": {"message_id"},
}

// actionIndicators are tokens that suggest the user actually asked for an
// action. Turkish first, a few English fallbacks.
var actionIndicators = []string{
	"ekle", "oluştur", "kur", "ayarla", "gönder", "yolla", "sil", "iptal",
	"listele", "göster", "bak", "kontrol", "ara", "bul", "oku", "kaç",
	"ne zaman", "saat", "toplantı", "randevu", "takvim", "mail", "posta",
	"e-posta", "hatırlat", "güncelle", "taşı", "değiştir", "aç", "kapat",
	"check", "list", "send", "create", "delete", "schedule",
}

// temporalSlots mark a calendar write as anchored in time.
var temporalSlots = []string{"date", "time", "datetime", "start", "start_time", "when", "window", "day"}

// calendarWriteIntents require a temporal slot.
var calendarWriteIntents = map[string]bool{
	"create_event": true,
	"update_event": true,
}

// VerifyReport is the static-check outcome for one plan. Hard errors make
// the plan unenforceable as-is; warnings are advisory.
type VerifyReport struct {
	OK       bool     `json:"ok"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// VerifyPlan statically checks a parsed plan against the registered tool set
// and the raw user input. The caller decides enforcement.
func VerifyPlan(plan *models.Plan, validTools map[string]bool, userInput string) VerifyReport {
	var report VerifyReport

	fail := func(format string, args ...any) {
		report.Errors = append(report.Errors, fmt.Sprintf(format, args...))
	}
	warn := func(format string, args ...any) {
		report.Warnings = append(report.Warnings, fmt.Sprintf(format, args...))
	}

	// 1. Every planned tool must exist.
	for _, tool := range plan.ToolPlan {
		if !validTools[tool] {
			fail("unknown_tool:%s", tool)
		}
	}

	// 2. Route and tool namespaces must cohere.
	prefixes := routeToolPrefixes[plan.Route]
	for _, tool := range plan.ToolPlan {
		if !hasAnyPrefix(tool, prefixes) {
			fail("route_tool_mismatch:%s→%s", plan.Route, tool)
		}
	}

	// 3. Intent slot requirements.
	intent := plan.Intent()
	for _, slot := range requiredSlots[intent] {
		if !slotPresent(plan.Slots, slot) {
			fail("missing_slot:%s", slot)
		}
	}

	// 4. Gmail write field requirements.
	if plan.Route == models.RouteGmail {
		for _, field := range requiredGmailFields[plan.GmailIntent] {
			if !slotPresent(plan.Slots, field) {
				fail("missing_gmail_field:%s", field)
			}
		}
	}

	// 5. A tool plan with no action words in the input is suspicious.
	if plan.HasTools() && !hasActionIndicator(userInput) {
		warn("tool_plan_no_indicators")
	}

	// 6. Semantic coherence.
	if plan.Route == models.RouteSmalltalk {
		for _, tool := range plan.ToolPlan {
			if !strings.HasPrefix(tool, "time.") {
				fail("smalltalk_with_tools")
				break
			}
		}
	}
	if plan.Route == models.RouteCalendar && calendarWriteIntents[plan.CalendarIntent] {
		if !hasTemporalSlot(plan.Slots) {
			fail("calendar_write_no_temporal")
		}
	}
	if plan.Route == models.RouteGmail && calendarWriteIntents[plan.CalendarIntent] {
		fail("route_intent_mismatch:%s+calendar_intent=%s", plan.Route, plan.CalendarIntent)
	}
	if plan.Route == models.RouteCalendar && requiredGmailFields[plan.GmailIntent] != nil {
		fail("route_intent_mismatch:%s+gmail_intent=%s", plan.Route, plan.GmailIntent)
	}

	report.OK = len(report.Errors) == 0
	return report
}

func hasAnyPrefix(tool string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(tool, p) {
			return true
		}
	}
	return false
}

func slotPresent(slots map[string]any, name string) bool {
	v, ok := slots[name]
	if !ok || v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) != ""
	}
	return true
}

func hasActionIndicator(input string) bool {
	lower := strings.ToLower(input)
	for _, kw := range actionIndicators {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func hasTemporalSlot(slots map[string]any) bool {
	for _, name := range temporalSlots {
		if slotPresent(slots, name) {
			return true
		}
	}
	return false
}
