package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vigilstack/vigil-heal/internal/actuator"
	"github.com/vigilstack/vigil-heal/internal/api"
	"github.com/vigilstack/vigil-heal/internal/config"
	"github.com/vigilstack/vigil-heal/internal/engine"
	"github.com/vigilstack/vigil-heal/internal/issues"
	"github.com/vigilstack/vigil-heal/internal/ledger"
	"github.com/vigilstack/vigil-heal/internal/metrics"
	"github.com/vigilstack/vigil-heal/internal/notify"
	"github.com/vigilstack/vigil-heal/internal/orchestrator"
	"github.com/vigilstack/vigil-heal/internal/probe"
	"github.com/vigilstack/vigil-heal/internal/service"
	"github.com/vigilstack/vigil-heal/internal/snapshot"
	"github.com/vigilstack/vigil-heal/internal/trend"
	"github.com/vigilstack/vigil-heal/internal/utils"
)

func main() {
	_ = godotenv.Load()

	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting vigil-heal", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	probes := probe.NewRegistry()
	if err := registerProbes(probes, cfg.Probes); err != nil {
		logger.Error("failed to register probes", slog.Any("error", err))
		os.Exit(1)
	}

	actuators := actuator.NewRegistry()
	if err := registerActuators(actuators, cfg.Actuators); err != nil {
		logger.Error("failed to register actuators", slog.Any("error", err))
		os.Exit(1)
	}

	var led ledger.Ledger
	switch cfg.Ledger.Driver {
	case "postgres":
		pg, err := ledger.NewPostgres(ctx, cfg.Ledger.DatabaseURL, cfg.Ledger.Decay)
		if err != nil {
			logger.Error("failed to open postgres ledger", slog.Any("error", err))
			os.Exit(1)
		}
		led = pg
	default:
		led = ledger.NewMemory(cfg.Ledger.Decay)
	}
	defer led.Close()
	logger.Info("outcome ledger ready", slog.String("driver", cfg.Ledger.Driver))

	rules, err := engine.LoadRules(cfg.Rules.Path)
	if err != nil {
		logger.Error("failed to load rule pack", slog.String("path", cfg.Rules.Path), slog.Any("error", err))
		os.Exit(1)
	}
	if missing, ok := actuators.Has(ruleActions(rules)...); !ok {
		logger.Error("rule pack references unregistered actuator", slog.String("action", missing))
		os.Exit(1)
	}

	diag := engine.New(logger, rules, led)
	diag.SetTick(cfg.Monitor.Interval)

	builder := snapshot.NewBuilder(logger, probes, cfg.Monitor.ProbeTimeout)
	trends := trend.NewStore(cfg.Trend.MaxAge, cfg.Trend.MaxSamples)
	tracker := issues.NewTracker(0)
	scorer := service.NewScorer(cfg.Monitor)

	var notifier orchestrator.Notifier
	if cfg.Notify.WebhookURL != "" {
		notifier = notify.NewWebhook(logger, cfg.Notify.WebhookURL, cfg.Notify.Timeout, cfg.Notify.MaxRetries)
	}

	orch := orchestrator.New(
		logger,
		orchestrator.Config{
			Workers:       cfg.Recovery.Workers,
			ActionTimeout: cfg.Recovery.ActionTimeout,
			Backoff: orchestrator.BackoffPolicy{
				MaxAttempts: cfg.Recovery.MaxAttempts,
				Base:        cfg.Recovery.BackoffBase,
				Max:         cfg.Recovery.BackoffMax,
			},
			EscalationCooldown: cfg.Recovery.EscalationCooldown,
			RetryExhausted:     cfg.Recovery.RetryExhausted,
			DrainTimeout:       cfg.Recovery.DrainTimeout,
		},
		tracker, led, actuators, diag, builder, trends, scorer.Score, notifier,
	)

	svc := service.New(logger, builder, trends, diag, tracker, orch, led, scorer, cfg.Monitor.Interval)

	if err := orch.Resume(ctx); err != nil {
		logger.Error("failed to resume recovering issues", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.Rules.Watch {
		go func() {
			if err := diag.WatchRules(ctx, cfg.Rules.Path); err != nil {
				logger.Warn("rule watcher stopped", slog.Any("error", err))
			}
		}()
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	server := api.NewServer(logger, svc, cfg.Server.Address)
	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("http server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	go svc.Run(ctx)

	orchDone := make(chan struct{})
	go func() {
		orch.Run(ctx)
		close(orchDone)
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", slog.Any("error", err))
	}

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Wait for the worker pool to drain within its grace period.
	<-orchDone

	logger.Info("vigil-heal stopped")
}

func registerProbes(reg *probe.Registry, cfg config.ProbesConfig) error {
	if cfg.System {
		for _, p := range []probe.Probe{&probe.LoadProbe{}, &probe.MemoryProbe{}, &probe.DiskProbe{}} {
			if err := reg.Register(p); err != nil {
				return err
			}
		}
	}
	for _, sp := range cfg.Services {
		if err := reg.Register(probe.NewServiceProbe(sp.Name, sp.URL, sp.Timeout)); err != nil {
			return err
		}
	}
	return nil
}

func registerActuators(reg *actuator.Registry, cfgs []config.ActuatorConfig) error {
	for _, cfg := range cfgs {
		var act actuator.Actuator
		switch cfg.Type {
		case "command":
			act = &actuator.CommandActuator{ActionName: cfg.Name, Command: cfg.Command, Args: cfg.Args}
		case "webhook":
			act = actuator.NewWebhookActuator(cfg.Name, cfg.URL, cfg.Body, cfg.Timeout)
		}
		if err := reg.Register(act); err != nil {
			return err
		}
	}
	return nil
}

func ruleActions(rules []engine.Rule) []string {
	var names []string
	for _, rule := range rules {
		names = append(names, rule.Actions...)
		if rule.Emergency != "" {
			names = append(names, rule.Emergency)
		}
	}
	return names
}
