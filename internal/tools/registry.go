// Package tools holds the named tool table, schema validation, and the
// timeout/circuit-breaker executor that all tool calls go through.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ToolFunc is the implementation of one tool. Args arrive pre-validated
// against the tool's parameter schema.
type ToolFunc func(ctx context.Context, args map[string]any) (any, error)

// Tool is one registered capability.
type Tool struct {
	Name                 string
	Description          string
	ParametersSchema     map[string]any
	Function             ToolFunc
	RequiresConfirmation bool

	// HealthCheck, when set, is probed by ValidateRegistry.
	HealthCheck func(ctx context.Context) error

	compiled *jsonschema.Schema
}

// Registry is an insertion-ordered table of tools. Duplicate registration
// overwrites in place and keeps the original position.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds or replaces a tool. The parameter schema is compiled here so
// bad schemas fail loudly at startup, not at dispatch.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if t.Function == nil {
		return fmt.Errorf("tool %s: function is required", t.Name)
	}
	if t.ParametersSchema != nil {
		schema, err := compileSchema(t.Name, t.ParametersSchema)
		if err != nil {
			return fmt.Errorf("tool %s: invalid parameters schema: %w", t.Name, err)
		}
		t.compiled = schema
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = &t
	return nil
}

func compileSchema(name string, raw map[string]any) (*jsonschema.Schema, error) {
	doc, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	url := "mem://tools/" + name + ".json"
	if err := compiler.AddResource(url, strings.NewReader(string(doc))); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}

// Get returns the tool by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// ValidateArgs checks args against the tool's compiled schema. Tools without
// a schema accept anything.
func (r *Registry) ValidateArgs(name string, args map[string]any) error {
	t, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("unknown tool: %s", name)
	}
	if t.compiled == nil {
		return nil
	}
	// Round-trip through JSON so numeric types match what the schema
	// library expects (json.Number-free interface values).
	doc, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("tool %s: args not serializable: %w", name, err)
	}
	var v any
	if err := json.Unmarshal(doc, &v); err != nil {
		return err
	}
	if err := t.compiled.Validate(v); err != nil {
		return fmt.Errorf("tool %s: args rejected by schema: %w", name, err)
	}
	return nil
}

// Dispatch validates args and runs the tool function.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]any) (any, error) {
	t, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
	if err := r.ValidateArgs(name, args); err != nil {
		return nil, err
	}
	return t.Function(ctx, args)
}

// MandatoryTools must always be registered for the agent to start.
var MandatoryTools = []string{"time.now", "system.status"}

// RouteDependencies lists which tools each route expects. Missing entries
// degrade the route but do not prevent startup.
var RouteDependencies = map[string][]string{
	"calendar": {"calendar.list_events", "calendar.create_event"},
	"gmail":    {"gmail.list_messages", "gmail.send"},
	"system":   {"system.status"},
	"browser":  {"browser.open"},
}

// ValidationReport is the startup health summary for a registry.
type ValidationReport struct {
	OK               bool                `json:"ok"`
	Healthy          bool                `json:"healthy"`
	MissingMandatory []string            `json:"missing_mandatory,omitempty"`
	MissingRouteDeps map[string][]string `json:"missing_route_deps,omitempty"`
	RegisteredTools  []string            `json:"registered_tools"`
	HealthResults    map[string]string   `json:"health_results,omitempty"`
	Errors           []string            `json:"errors,omitempty"`
	Warnings         []string            `json:"warnings,omitempty"`
}

// ValidateRegistry checks mandatory tools, route dependencies, and probes
// each tool's health check. The report is ok iff no mandatory tool is
// missing; healthy iff every probe passed.
func ValidateRegistry(ctx context.Context, r *Registry) ValidationReport {
	report := ValidationReport{
		OK:               true,
		Healthy:          true,
		RegisteredTools:  r.Names(),
		MissingRouteDeps: make(map[string][]string),
		HealthResults:    make(map[string]string),
	}

	for _, name := range MandatoryTools {
		if !r.Has(name) {
			report.MissingMandatory = append(report.MissingMandatory, name)
			report.Errors = append(report.Errors, "missing mandatory tool: "+name)
			report.OK = false
		}
	}

	routes := make([]string, 0, len(RouteDependencies))
	for route := range RouteDependencies {
		routes = append(routes, route)
	}
	sort.Strings(routes)
	for _, route := range routes {
		for _, name := range RouteDependencies[route] {
			if !r.Has(name) {
				report.MissingRouteDeps[route] = append(report.MissingRouteDeps[route], name)
				report.Warnings = append(report.Warnings,
					fmt.Sprintf("route %s: dependency %s not registered", route, name))
			}
		}
	}
	if len(report.MissingRouteDeps) == 0 {
		report.MissingRouteDeps = nil
	}

	for _, name := range report.RegisteredTools {
		t, _ := r.Get(name)
		if t == nil || t.HealthCheck == nil {
			continue
		}
		if err := t.HealthCheck(ctx); err != nil {
			report.HealthResults[name] = err.Error()
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("health check failed for %s: %v", name, err))
			report.Healthy = false
		} else {
			report.HealthResults[name] = "ok"
		}
	}
	if len(report.HealthResults) == 0 {
		report.HealthResults = nil
	}

	return report
}
