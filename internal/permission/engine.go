// Package permission evaluates planned tool actions against an ordered rule
// list loaded from YAML or JSON. The first matching rule wins; rate-limit
// exhaustion downgrades any decision to deny; a catch-all confirm rule
// guarantees every evaluation terminates with a decision.
package permission

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Decision is the outcome of a permission evaluation.
type Decision string

const (
	Allow   Decision = "allow"
	Confirm Decision = "confirm"
	Deny    Decision = "deny"
)

// Risk levels attached to rules, surfaced into audit records.
const (
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskCritical = "critical"
)

// Conditions are optional rate limits on a rule.
type Conditions struct {
	MaxPerSession int `yaml:"max_per_session" json:"max_per_session"`
	MaxPerDay     int `yaml:"max_per_day" json:"max_per_day"`
}

// Rule is one entry of the permission DSL.
type Rule struct {
	Tool       string     `yaml:"tool" json:"tool"`
	Action     string     `yaml:"action" json:"action"`
	Risk       string     `yaml:"risk" json:"risk"`
	Decision   Decision   `yaml:"decision" json:"decision"`
	Conditions Conditions `yaml:"conditions" json:"conditions"`
}

// RuleFile is the on-disk permission document.
type RuleFile struct {
	Permissions []Rule `yaml:"permissions" json:"permissions"`
}

// Result is the full evaluation outcome for one tool action.
type Result struct {
	Decision    Decision
	Risk        string
	RuleIndex   int
	RateLimited bool
	Reason      string
}

// Engine holds the ordered rules and per-session/per-day counters.
type Engine struct {
	mu       sync.Mutex
	rules    []Rule
	session  map[int]int // rule index -> uses this session
	daily    map[int]int // rule index -> uses today
	dayStamp string
	now      func() time.Time
}

// NewEngine creates an engine over the given rules. A catch-all confirm
// rule is appended when the list does not already end in one.
func NewEngine(rules []Rule) *Engine {
	if !hasCatchAll(rules) {
		rules = append(rules, Rule{Tool: "*", Action: "*", Risk: RiskMedium, Decision: Confirm})
	}
	e := &Engine{
		rules:   rules,
		session: make(map[int]int),
		daily:   make(map[int]int),
		now:     time.Now,
	}
	e.dayStamp = e.now().Format("2006-01-02")
	return e
}

// LoadRules parses a YAML (or JSON, which is a YAML subset) rule file.
func LoadRules(path string) ([]Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read permission rules: %w", err)
	}
	var doc RuleFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse permission rules: %w", err)
	}
	for i, r := range doc.Permissions {
		if r.Decision != Allow && r.Decision != Confirm && r.Decision != Deny {
			return nil, fmt.Errorf("rule %d: unknown decision %q", i, r.Decision)
		}
	}
	return doc.Permissions, nil
}

// NewEngineFromFile loads rules from path and builds an engine.
func NewEngineFromFile(path string) (*Engine, error) {
	rules, err := LoadRules(path)
	if err != nil {
		return nil, err
	}
	return NewEngine(rules), nil
}

// SetClock injects the time source, used by tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

// ReplaceRules swaps the rule list atomically, keeping counters for
// unchanged indices reset. Used by the config hot-reload path.
func (e *Engine) ReplaceRules(rules []Rule) {
	if !hasCatchAll(rules) {
		rules = append(rules, Rule{Tool: "*", Action: "*", Risk: RiskMedium, Decision: Confirm})
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = rules
	e.session = make(map[int]int)
	e.daily = make(map[int]int)
}

// Evaluate scans the rules in order and returns the decision for the first
// match, applying rate limits. Evaluation always returns one of allow,
// confirm, or deny.
func (e *Engine) Evaluate(tool, action string) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rollDayLocked()

	for i, rule := range e.rules {
		if !globMatch(rule.Tool, tool) || !globMatch(rule.Action, action) {
			continue
		}

		res := Result{Decision: rule.Decision, Risk: rule.Risk, RuleIndex: i, Reason: "rule match"}

		limited := false
		if rule.Conditions.MaxPerSession > 0 {
			e.session[i]++
			if e.session[i] > rule.Conditions.MaxPerSession {
				limited = true
				res.Reason = "session rate limit exceeded"
			}
		}
		if rule.Conditions.MaxPerDay > 0 {
			e.daily[i]++
			if e.daily[i] > rule.Conditions.MaxPerDay {
				limited = true
				res.Reason = "daily rate limit exceeded"
			}
		}
		if limited {
			res.Decision = Deny
			res.RateLimited = true
		}
		return res
	}

	// Unreachable with the catch-all in place, kept as the closed-world
	// fallback for an empty engine.
	return Result{Decision: Confirm, Risk: RiskMedium, RuleIndex: -1, Reason: "no rule matched"}
}

// GetRisk returns the risk level of the first rule matching the tool with
// any action.
func (e *Engine) GetRisk(tool string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, rule := range e.rules {
		if globMatch(rule.Tool, tool) {
			return rule.Risk
		}
	}
	return RiskMedium
}

// ResetSession clears all per-session counters.
func (e *Engine) ResetSession() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session = make(map[int]int)
}

// rollDayLocked resets daily counters when the calendar day changes.
func (e *Engine) rollDayLocked() {
	today := e.now().Format("2006-01-02")
	if today != e.dayStamp {
		e.dayStamp = today
		e.daily = make(map[int]int)
	}
}

func hasCatchAll(rules []Rule) bool {
	if len(rules) == 0 {
		return false
	}
	last := rules[len(rules)-1]
	return last.Tool == "*" && (last.Action == "*" || last.Action == "")
}

// globMatch matches pattern against s where * matches any run of
// characters and ? matches exactly one. An empty pattern matches only an
// empty string; the pattern "*" matches anything.
func globMatch(pattern, s string) bool {
	return globMatchAt(pattern, s)
}

func globMatchAt(pattern, s string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case '*':
			// Collapse consecutive stars and try every split point.
			for len(pattern) > 0 && pattern[0] == '*' {
				pattern = pattern[1:]
			}
			if pattern == "" {
				return true
			}
			for i := 0; i <= len(s); i++ {
				if globMatchAt(pattern, s[i:]) {
					return true
				}
			}
			return false
		case '?':
			if s == "" {
				return false
			}
			pattern, s = pattern[1:], s[1:]
		default:
			if s == "" || pattern[0] != s[0] {
				return false
			}
			pattern, s = pattern[1:], s[1:]
		}
	}
	return s == ""
}
