package safety

import (
	"fmt"
	"strings"
)

// PermissionLevel orders actions by the damage they can do.
type PermissionLevel int

const (
	LevelLow PermissionLevel = iota
	LevelMedium
	LevelHigh
)

// String returns the level name.
func (l PermissionLevel) String() string {
	switch l {
	case LevelLow:
		return "LOW"
	case LevelMedium:
		return "MEDIUM"
	case LevelHigh:
		return "HIGH"
	}
	return "UNKNOWN"
}

// Classification is the classifier verdict for one action.
type Classification struct {
	Action        string          `json:"action"`
	Level         PermissionLevel `json:"level"`
	IsDestructive bool            `json:"is_destructive"`
	IsExternal    bool            `json:"is_external"`
	Reason        string          `json:"reason"`
}

// actionEntry is the static base classification of a known action.
type actionEntry struct {
	level       PermissionLevel
	destructive bool
	external    bool
}

// baseActions maps action names to their static classification. Unknown
// actions default to MEDIUM.
var baseActions = map[string]actionEntry{
	"time.now":                {LevelLow, false, false},
	"system.status":           {LevelLow, false, false},
	"calendar.list_events":    {LevelLow, false, true},
	"calendar.get_event":      {LevelLow, false, true},
	"gmail.list_messages":     {LevelLow, false, true},
	"gmail.get_message":       {LevelLow, false, true},
	"gmail.search":            {LevelLow, false, true},
	"gmail.unread_count":      {LevelLow, false, true},
	"contacts.lookup":         {LevelLow, false, true},
	"calendar.create_event":   {LevelMedium, false, true},
	"calendar.update_event":   {LevelMedium, false, true},
	"gmail.draft":             {LevelMedium, false, true},
	"system.open_application": {LevelMedium, false, false},
	"calendar.delete_event":   {LevelHigh, true, true},
	"gmail.send":              {LevelHigh, false, true},
	"gmail.delete":            {LevelHigh, true, true},
	"system.execute_command":  {LevelHigh, true, false},
}

// sensitiveDomains raise any action to HIGH when mentioned in its context.
var sensitiveDomains = []string{"banka", "banking", "medical", "sağlık", "legal", "hukuk"}

// Classify returns the permission level for an action given its argument
// context. Context can only raise the static level, never lower it.
func Classify(action string, args map[string]any) Classification {
	entry, known := baseActions[action]
	if !known {
		entry = actionEntry{level: LevelMedium}
	}

	c := Classification{
		Action:        action,
		Level:         entry.level,
		IsDestructive: entry.destructive,
		IsExternal:    entry.external,
		Reason:        "static classification",
	}

	raise := func(level PermissionLevel, reason string) {
		if level > c.Level {
			c.Level = level
			c.Reason = reason
		}
	}

	for k, v := range args {
		switch k {
		case "amount":
			if n, ok := toFloat(v); ok && n > 1000 {
				raise(LevelHigh, fmt.Sprintf("large amount %.0f", n))
			}
		case "target_count":
			if n, ok := toFloat(v); ok && n > 10 {
				raise(LevelHigh, fmt.Sprintf("large target count %.0f", n))
			}
		case "sensitive_file":
			if b, ok := v.(bool); ok && b {
				raise(LevelHigh, "sensitive file flagged")
			}
		}
		if s, ok := v.(string); ok {
			lower := strings.ToLower(s)
			for _, domain := range sensitiveDomains {
				if strings.Contains(lower, domain) {
					raise(LevelHigh, "sensitive domain: "+domain)
				}
			}
		}
	}

	return c
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}
