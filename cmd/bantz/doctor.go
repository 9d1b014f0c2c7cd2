package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/miclaldogan/bantz-sub008/internal/config"
	"github.com/miclaldogan/bantz-sub008/internal/tools"
)

func buildDoctorCmd() *cobra.Command {
	var configPath string
	var sweep bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run environment diagnostics",
		Long: `Check configuration, model backends, the tool registry, and circuit
breaker states. With --sweep, also run the tracker retention pass.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd, resolveConfigPath(configPath), sweep)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVar(&sweep, "sweep", false, "Run the run-tracker retention sweep now")
	return cmd
}

func runDoctor(cmd *cobra.Command, configPath string, sweep bool) error {
	out := cmd.OutOrStdout()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	fmt.Fprintln(out, "Config: OK")

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	fmt.Fprintf(out, "Router backend (%s): %s\n", cfg.Router.Model, availability(a.router.Available()))
	fmt.Fprintf(out, "Quality backend (%s): %s\n", cfg.Quality.Model, availability(a.quality.Available()))

	report := tools.ValidateRegistry(ctx, a.registry)
	fmt.Fprintf(out, "Tool registry: %d tools, ok=%t healthy=%t\n",
		len(report.RegisteredTools), report.OK, report.Healthy)
	for _, e := range report.Errors {
		fmt.Fprintf(out, "  ERROR %s\n", e)
	}
	for _, w := range report.Warnings {
		fmt.Fprintf(out, "  warn  %s\n", w)
	}

	dashboard := a.executor.Dashboard()
	if len(dashboard) == 0 {
		fmt.Fprintln(out, "Circuit breakers: none tripped")
	} else {
		names := make([]string, 0, len(dashboard))
		for name := range dashboard {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintln(out, "Circuit breakers:")
		for _, name := range names {
			s := dashboard[name]
			fmt.Fprintf(out, "  %s: %s (failures=%d)\n", name, s.State, s.ConsecutiveFailures)
		}
	}

	if cfg.Permissions.RulesPath != "" {
		fmt.Fprintf(out, "Permission rules: %s\n", cfg.Permissions.RulesPath)
	} else {
		fmt.Fprintln(out, "Permission rules: none configured (catch-all confirm active)")
	}

	if a.tracker != nil {
		if sweep {
			a.tracker.Sweep()
			fmt.Fprintln(out, "Tracker: retention sweep complete")
		}
		stats, err := a.tracker.SessionStats(ctx, a.state.SessionID)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Tracker: %s (runs this session: %d)\n", cfg.Tracker.Path, stats.Total)
	} else {
		fmt.Fprintln(out, "Tracker: disabled")
	}

	fmt.Fprintf(out, "Audit log: %s\n", cfg.Audit.Path)
	fmt.Fprintf(out, "Conversation state: %s (attention: %s)\n", a.machine.State(), a.gate.Mode())
	return nil
}

func availability(available bool) string {
	if available {
		return "configured"
	}
	return "not configured"
}
