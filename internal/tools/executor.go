package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/miclaldogan/bantz-sub008/internal/infra"
	"github.com/miclaldogan/bantz-sub008/internal/metrics"
	"github.com/miclaldogan/bantz-sub008/internal/observability"
	"github.com/miclaldogan/bantz-sub008/pkg/models"
)

// ErrTimeoutMessage is the user-facing timeout text. Kept in Turkish since
// it surfaces verbatim in assistant replies.
const ErrTimeoutMessage = "İşlem zaman aşımına uğradı"

// DefaultToolTimeout applies when no per-tool override is configured.
const DefaultToolTimeout = 10 * time.Second

// Executor runs tools with per-tool timeouts and circuit breakers. Every
// outcome comes back as a models.ToolResult; the only error paths that
// escape are context cancellation upstream of the call.
type Executor struct {
	registry *Registry
	breakers *infra.BreakerRegistry
	timeouts map[string]time.Duration
	logger   *slog.Logger
	metrics  *metrics.Collector
	prom     *observability.Metrics
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithToolTimeout sets a per-tool timeout override.
func WithToolTimeout(tool string, d time.Duration) ExecutorOption {
	return func(e *Executor) { e.timeouts[tool] = d }
}

// WithMetrics attaches the in-process metrics collector.
func WithMetrics(c *metrics.Collector) ExecutorOption {
	return func(e *Executor) { e.metrics = c }
}

// WithPromMetrics attaches the Prometheus instrument set.
func WithPromMetrics(m *observability.Metrics) ExecutorOption {
	return func(e *Executor) { e.prom = m }
}

// WithBreakers replaces the breaker registry, used by tests to inject a
// clocked registry.
func WithBreakers(b *infra.BreakerRegistry) ExecutorOption {
	return func(e *Executor) { e.breakers = b }
}

// NewExecutor creates an executor over the given registry.
func NewExecutor(registry *Registry, logger *slog.Logger, opts ...ExecutorOption) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{
		registry: registry,
		breakers: infra.NewBreakerRegistry(infra.DefaultFailureThreshold, infra.DefaultRecoveryTimeout),
		timeouts: make(map[string]time.Duration),
		logger:   logger.With("component", "tool_executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// TimeoutFor returns the effective timeout for one tool.
func (e *Executor) TimeoutFor(tool string) time.Duration {
	if d, ok := e.timeouts[tool]; ok && d > 0 {
		return d
	}
	return DefaultToolTimeout
}

// Execute runs one tool call through its breaker and timeout. A zero
// overrideTimeout means "use the configured timeout".
func (e *Executor) Execute(ctx context.Context, tool string, args map[string]any, overrideTimeout time.Duration) models.ToolResult {
	breaker := e.breakers.Get(tool)
	if !breaker.Allow() {
		e.logger.Warn("circuit open, call skipped", "tool", tool)
		result := models.ToolResult{
			Tool:        tool,
			Kind:        models.ToolResultCircuitOpen,
			CircuitOpen: true,
			Error:       fmt.Sprintf("circuit open for %s", tool),
		}
		e.observe(result)
		return result
	}

	timeout := overrideTimeout
	if timeout <= 0 {
		timeout = e.TimeoutFor(tool)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		value, err := e.registry.Dispatch(callCtx, tool, args)
		done <- outcome{value: value, err: err}
	}()

	var result models.ToolResult
	select {
	case out := <-done:
		elapsed := time.Since(start)
		if out.err != nil {
			breaker.RecordFailure()
			result = models.ToolResult{
				Tool:      tool,
				Kind:      models.ToolResultError,
				Error:     out.err.Error(),
				ElapsedMs: elapsed.Milliseconds(),
			}
			e.logger.Warn("tool failed", "tool", tool, "error", out.err, "elapsed_ms", elapsed.Milliseconds())
		} else {
			breaker.RecordSuccess()
			result = models.ToolResult{
				Tool:      tool,
				Kind:      models.ToolResultOK,
				Success:   true,
				Result:    out.value,
				ElapsedMs: elapsed.Milliseconds(),
			}
			e.logger.Debug("tool succeeded", "tool", tool, "elapsed_ms", elapsed.Milliseconds())
		}
	case <-callCtx.Done():
		elapsed := time.Since(start)
		breaker.RecordFailure()
		result = models.ToolResult{
			Tool:      tool,
			Kind:      models.ToolResultTimeout,
			TimedOut:  true,
			Error:     ErrTimeoutMessage,
			ElapsedMs: elapsed.Milliseconds(),
		}
		e.logger.Warn("tool timed out", "tool", tool, "timeout", timeout)
	}

	e.observe(result)
	return result
}

// observe records one execution outcome on the in-process collector and the
// Prometheus instruments.
func (e *Executor) observe(result models.ToolResult) {
	if e.metrics != nil {
		e.metrics.Record("tool_execution_ms", float64(result.ElapsedMs), "ms", map[string]string{
			"tool":    result.Tool,
			"success": fmt.Sprintf("%t", result.Success),
		})
	}
	if e.prom != nil {
		e.prom.ToolExecutions.WithLabelValues(result.Tool, string(result.Kind)).Inc()
		e.prom.ToolDuration.WithLabelValues(result.Tool).Observe(float64(result.ElapsedMs) / 1000)
	}
}

// Dashboard returns per-tool breaker stats for every tool seen so far.
func (e *Executor) Dashboard() map[string]infra.Stats {
	return e.breakers.Snapshot()
}

// ResetBreaker forces one breaker closed.
func (e *Executor) ResetBreaker(tool string) { e.breakers.Reset(tool) }

// ResetAll forces every breaker closed.
func (e *Executor) ResetAll() { e.breakers.ResetAll() }
