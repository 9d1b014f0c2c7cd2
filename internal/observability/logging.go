// Package observability provides structured logging, Prometheus metrics,
// and OpenTelemetry tracing for the agent runtime.
package observability

import (
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// LogConfig configures process-wide logging.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error".
	Level string

	// Format is "json" for production or "text" for development.
	Format string

	// Output defaults to os.Stdout.
	Output io.Writer

	// AddSource includes file and line in records.
	AddSource bool
}

// secretPatterns are masked in log attribute values. API keys and bearer
// tokens must never reach log storage.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-[A-Za-z0-9_-]{10,}`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._-]{10,}`),
	regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password|şifre|parola)["':=\s]+[^\s"']{6,}`),
}

// NewLogger builds the root slog logger. Component packages derive their
// own with logger.With("component", name).
func NewLogger(cfg LogConfig) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		AddSource:   cfg.AddSource,
		ReplaceAttr: redactAttr,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func redactAttr(groups []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() != slog.KindString {
		return a
	}
	s := a.Value.String()
	for _, p := range secretPatterns {
		s = p.ReplaceAllString(s, "[REDACTED]")
	}
	a.Value = slog.StringValue(s)
	return a
}
