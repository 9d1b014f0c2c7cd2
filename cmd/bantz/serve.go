package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/miclaldogan/bantz-sub008/internal/config"
	"github.com/miclaldogan/bantz-sub008/internal/observability"
	"github.com/miclaldogan/bantz-sub008/internal/tools"
)

func buildServeCmd() *cobra.Command {
	var configPath string
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve metrics and health endpoints",
		Long: `Serve Prometheus metrics and a health endpoint over HTTP.

Endpoints:
  /metrics  Prometheus exposition
  /healthz  Tool registry validation and circuit breaker states

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath), addr)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config)")
	return cmd
}

func runServe(ctx context.Context, configPath, addrOverride string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if addrOverride != "" {
		cfg.Serve.Addr = addrOverride
	}

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if cfg.Permissions.HotReload && cfg.Permissions.RulesPath != "" {
		a.watcher = config.NewRuleWatcher(cfg.Permissions.RulesPath, a.engine, a.logger)
		if err := a.watcher.Start(ctx); err != nil {
			a.logger.Warn("rules hot reload unavailable", "error", err)
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.promReg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		report := tools.ValidateRegistry(r.Context(), a.registry)
		for tool, stats := range a.executor.Dashboard() {
			a.prom.CircuitState.WithLabelValues(tool).Set(observability.CircuitStateValue(stats.State))
		}
		status := http.StatusOK
		if !report.OK {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"ok":        report.OK,
			"healthy":   report.Healthy,
			"tools":     report.RegisteredTools,
			"errors":    report.Errors,
			"warnings":  report.Warnings,
			"state":     a.machine.State(),
			"attention": a.gate.Mode(),
			"version":   version,
		})
	})

	server := &http.Server{
		Addr:              cfg.Serve.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("serving", "addr", cfg.Serve.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-serveCtx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
