// Package builtin registers the tools the agent always ships with.
package builtin

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/miclaldogan/bantz-sub008/internal/tools"
)

var startedAt = time.Now()

// Register adds the builtin tools to a registry. These back the mandatory
// tool set checked at startup.
func Register(r *tools.Registry) error {
	if err := r.Register(tools.Tool{
		Name:        "time.now",
		Description: "Current date and time, optionally in a given IANA timezone.",
		ParametersSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"timezone": map[string]any{"type": "string"},
			},
		},
		Function: timeNow,
	}); err != nil {
		return err
	}
	return r.Register(tools.Tool{
		Name:        "system.status",
		Description: "Process health: uptime, goroutines, memory.",
		Function:    systemStatus,
	})
}

func timeNow(ctx context.Context, args map[string]any) (any, error) {
	loc := time.Local
	if tz, ok := args["timezone"].(string); ok && tz != "" {
		parsed, err := time.LoadLocation(tz)
		if err != nil {
			return nil, err
		}
		loc = parsed
	}
	now := time.Now().In(loc)
	return map[string]any{
		"iso":      now.Format(time.RFC3339),
		"weekday":  now.Weekday().String(),
		"timezone": loc.String(),
	}, nil
}

func systemStatus(ctx context.Context, args map[string]any) (any, error) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	hostname, _ := os.Hostname()
	return map[string]any{
		"hostname":       hostname,
		"uptime_seconds": int64(time.Since(startedAt).Seconds()),
		"goroutines":     runtime.NumGoroutine(),
		"heap_alloc_mb":  float64(mem.HeapAlloc) / (1 << 20),
		"go_version":     runtime.Version(),
	}, nil
}
