package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"

	"github.com/miclaldogan/bantz-sub008/internal/attention"
	"github.com/miclaldogan/bantz-sub008/internal/audit"
	"github.com/miclaldogan/bantz-sub008/internal/bargein"
	"github.com/miclaldogan/bantz-sub008/internal/bus"
	"github.com/miclaldogan/bantz-sub008/internal/config"
	"github.com/miclaldogan/bantz-sub008/internal/finalize"
	"github.com/miclaldogan/bantz-sub008/internal/fsm"
	"github.com/miclaldogan/bantz-sub008/internal/infra"
	"github.com/miclaldogan/bantz-sub008/internal/llm"
	"github.com/miclaldogan/bantz-sub008/internal/metrics"
	"github.com/miclaldogan/bantz-sub008/internal/observability"
	"github.com/miclaldogan/bantz-sub008/internal/orchestrator"
	"github.com/miclaldogan/bantz-sub008/internal/permission"
	"github.com/miclaldogan/bantz-sub008/internal/planner"
	"github.com/miclaldogan/bantz-sub008/internal/tools"
	"github.com/miclaldogan/bantz-sub008/internal/tools/builtin"
	"github.com/miclaldogan/bantz-sub008/internal/tracker"
	"github.com/miclaldogan/bantz-sub008/internal/verify"
)

// app holds every wired component for one running session.
type app struct {
	cfg       config.Config
	logger    *slog.Logger
	loop      *orchestrator.Loop
	state     *orchestrator.State
	bargein   *bargein.Handler
	gate      *attention.Gate
	machine   *fsm.Machine
	events    *bus.Bus
	registry  *tools.Registry
	executor  *tools.Executor
	engine    *permission.Engine
	router    llm.Client
	quality   llm.Client
	metrics   *metrics.Collector
	prom      *observability.Metrics
	promReg   *prometheus.Registry
	audit     *audit.Logger
	tracker   *tracker.Tracker
	pool      *infra.Pool
	watcher   *config.RuleWatcher
	cron      *cron.Cron
	tracer    *observability.Tracer
	stopTrace func(context.Context) error
}

// buildApp wires the full turn pipeline from configuration.
func buildApp(cfg config.Config) (*app, error) {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
	})

	auditLogger, err := audit.NewLogger(audit.Config{
		Path:       cfg.Audit.Path,
		MaxBytes:   cfg.Audit.MaxBytes,
		MaxBackups: cfg.Audit.MaxBackups,
		RedactOff:  cfg.Audit.RedactOff,
	})
	if err != nil {
		return nil, fmt.Errorf("audit logger: %w", err)
	}

	var engine *permission.Engine
	if cfg.Permissions.RulesPath != "" {
		engine, err = permission.NewEngineFromFile(cfg.Permissions.RulesPath)
		if err != nil {
			return nil, fmt.Errorf("permission rules: %w", err)
		}
	} else {
		engine = permission.NewEngine(nil)
	}

	secret := cfg.Permissions.TokenSecret
	if secret == "" {
		// Ephemeral secret: confirmations do not survive a restart.
		secret = uuid.NewString()
	}
	tokens := permission.NewTokenIssuer([]byte(secret), 0)

	registry := tools.NewRegistry()
	if err := builtin.Register(registry); err != nil {
		return nil, fmt.Errorf("builtin tools: %w", err)
	}

	collector := metrics.NewCollector(cfg.Metrics.MaxRecords, cfg.Metrics.FlushPath)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	prom := observability.NewMetrics(promReg)

	tracer, stopTrace, err := observability.NewTracer(context.Background(), observability.TraceConfig{
		ServiceName:    "bantz",
		ServiceVersion: version,
		Endpoint:       cfg.Observability.OTLPEndpoint,
		Insecure:       cfg.Observability.OTLPInsecure,
		SamplingRate:   cfg.Observability.SamplingRate,
	})
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}

	execOpts := []tools.ExecutorOption{tools.WithMetrics(collector), tools.WithPromMetrics(prom)}
	for name, d := range cfg.Tools.Timeouts {
		execOpts = append(execOpts, tools.WithToolTimeout(name, d))
	}
	executor := tools.NewExecutor(registry, logger, execOpts...)

	router := llm.NewRouterClient(llm.RouterConfig{
		APIKey:  cfg.Router.APIKey,
		BaseURL: cfg.Router.BaseURL,
		Model:   cfg.Router.Model,
		Timeout: cfg.Router.Timeout,
	})
	quality := llm.NewQualityClient(llm.QualityConfig{
		APIKey:  cfg.Quality.APIKey,
		BaseURL: cfg.Quality.BaseURL,
		Model:   cfg.Quality.Model,
	})

	pool := infra.NewPool(2, 8)
	pipeline := finalize.NewPipeline(router, quality, pool, collector, finalize.PersonaOptions{
		MaxSentences: cfg.Persona.MaxSentences,
		StripEmoji:   cfg.Persona.StripEmoji,
	}, logger)

	events := bus.New(200, logger)
	var fsmOpts []fsm.Option
	if cfg.Session.ExecutingTimeout > 0 {
		fsmOpts = append(fsmOpts, fsm.WithExecutingTimeout(cfg.Session.ExecutingTimeout))
	}
	machine := fsm.New(logger, fsmOpts...)
	barge := bargein.New(nil, 0, logger)

	var gateOpts []attention.Option
	if cfg.Session.WakewordOverride > 0 {
		gateOpts = append(gateOpts, attention.WithWakewordOverride(cfg.Session.WakewordOverride))
	}
	gate := attention.New(logger, gateOpts...)
	for _, st := range []fsm.State{
		fsm.StateIdle, fsm.StateListening, fsm.StatePlanning, fsm.StateExecuting,
		fsm.StateConfirming, fsm.StateResponding, fsm.StateError, fsm.StateCancelled,
	} {
		machine.OnEnter(st, func(s fsm.State, _ fsm.Event, _ map[string]any) {
			gate.OnFSMState(s)
		})
	}

	loop := orchestrator.NewLoop(orchestrator.Deps{
		Bargein:   barge,
		Bridge:    orchestrator.NewBridge(machine, events, logger),
		Planner:   planner.NewAdapter(router, logger),
		Permits:   engine,
		Tokens:    tokens,
		Registry:  registry,
		Executor:  executor,
		Verifier:  verify.New(logger),
		Pipeline:  pipeline,
		Events:    events,
		Metrics:   collector,
		Prom:      prom,
		Audit:     auditLogger,
		Logger:    logger,
		Threshold: cfg.Session.ConfidenceThreshold,
	})

	a := &app{
		cfg:       cfg,
		logger:    logger,
		loop:      loop,
		state:     orchestrator.NewState(uuid.NewString()),
		bargein:   barge,
		gate:      gate,
		machine:   machine,
		events:    events,
		registry:  registry,
		executor:  executor,
		engine:    engine,
		router:    router,
		quality:   quality,
		metrics:   collector,
		prom:      prom,
		promReg:   promReg,
		audit:     auditLogger,
		pool:      pool,
		tracer:    tracer,
		stopTrace: stopTrace,
	}

	if cfg.Metrics.FlushPath != "" {
		c := cron.New()
		if _, err := c.AddFunc("@every 5m", func() {
			if _, err := collector.Flush(); err != nil {
				logger.Warn("metrics flush failed", "error", err)
			}
		}); err != nil {
			return nil, fmt.Errorf("metrics flush schedule: %w", err)
		}
		c.Start()
		a.cron = c
	}

	if cfg.Tracker.Enabled {
		tr, err := tracker.New(tracker.Config{
			Path:      cfg.Tracker.Path,
			Retention: cfg.Tracker.Retention,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("run tracker: %w", err)
		}
		a.tracker = tr
	}

	return a, nil
}

// close releases background resources.
func (a *app) close() {
	if a.watcher != nil {
		a.watcher.Close()
	}
	if a.cron != nil {
		a.cron.Stop()
	}
	if a.tracker != nil {
		a.tracker.Close()
	}
	if a.pool != nil {
		a.pool.Shutdown()
	}
	if a.metrics != nil && a.cfg.Metrics.FlushPath != "" {
		if _, err := a.metrics.Flush(); err != nil {
			a.logger.Warn("metrics flush failed", "error", err)
		}
	}
	if a.stopTrace != nil {
		if err := a.stopTrace(context.Background()); err != nil {
			a.logger.Warn("trace shutdown failed", "error", err)
		}
	}
}
