// Heron - Real-time fraud and money-mule risk scoring.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/heron/internal/api"
	"github.com/opensource-finance/heron/internal/bus"
	"github.com/opensource-finance/heron/internal/cache"
	"github.com/opensource-finance/heron/internal/config"
	"github.com/opensource-finance/heron/internal/decision"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/features"
	"github.com/opensource-finance/heron/internal/graph"
	"github.com/opensource-finance/heron/internal/logging"
	"github.com/opensource-finance/heron/internal/metrics"
	"github.com/opensource-finance/heron/internal/repository"
	"github.com/opensource-finance/heron/internal/rules"
	"github.com/opensource-finance/heron/internal/scoring"
	"github.com/opensource-finance/heron/internal/stream"
	"github.com/opensource-finance/heron/internal/tracing"
	"github.com/opensource-finance/heron/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	slog.Info("starting heron",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"feature_provider", cfg.Scoring.FeatureProvider,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		slog.Error("heron exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("heron shutdown complete")
}

func run(ctx context.Context, cfg *domain.Config, logger *slog.Logger) error {
	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Error("failed to flush traces", "error", err)
		}
	}()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	registry, err := loadRegistry(cfg.Scoring.RulesFile)
	if err != nil {
		return err
	}
	engine, err := rules.NewEngine(registry)
	if err != nil {
		return fmt.Errorf("failed to initialize rule engine: %w", err)
	}
	slog.Info("rule engine initialized", "rules_count", registry.RulesCount())

	processor, err := decision.NewProcessor(decision.Thresholds{
		Monitor:  cfg.Scoring.Monitor,
		Review:   cfg.Scoring.Review,
		HighRisk: cfg.Scoring.HighRisk,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize decision policy: %w", err)
	}

	var (
		provider domain.FeatureProvider
		profiles *features.StoreProvider
		recorder scoring.TransferRecorder
	)
	switch cfg.Scoring.FeatureProvider {
	case domain.FeatureProviderStore:
		profiles = features.NewStoreProvider(cacheImpl, features.DefaultProfileTTL)
		provider = profiles
		recorder = profiles
	default:
		provider = features.NewScenarioProvider()
	}

	collector := metrics.New()
	graphSvc := graph.NewService(repo, cacheImpl, graph.DefaultTTL)

	scorer, err := scoring.NewService(scoring.Deps{
		Engine:    engine,
		Builder:   features.NewBuilder(provider),
		Processor: processor,
		Repo:      repo,
		Graph:     graphSvc,
		Bus:       busImpl,
		Metrics:   collector,
		Recorder:  recorder,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize scoring service: %w", err)
	}

	hub := stream.NewHub(collector.StreamClients)
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)
	if _, err := hub.Attach(hubCtx, busImpl); err != nil {
		return fmt.Errorf("failed to attach alert stream: %w", err)
	}

	var asyncWorker *worker.Worker
	if cfg.AsyncWorker {
		asyncWorker = worker.NewWorker(busImpl, scorer)
		if err := asyncWorker.Start(worker.Config{}); err != nil {
			return fmt.Errorf("failed to start async worker: %w", err)
		}
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Scoring:     scorer,
		Registry:    registry,
		Repo:        repo,
		Graph:       graphSvc,
		Cache:       cacheImpl,
		Bus:         busImpl,
		Profiles:    profiles,
		Metrics:     collector,
		Hub:         hub,
		AsyncIngest: cfg.AsyncWorker,
		Version:     Version,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("heron is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)
	printBanner(cfg, Version)

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var consumers []stopper
	if asyncWorker != nil {
		consumers = append(consumers, asyncWorker)
	}
	drain(shutdownCtx, srv, consumers...)
	stopHub()

	return nil
}

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

type stopper interface {
	Stop() error
}

// drain stops the HTTP server before the bus consumers, so an ingest
// accepted during shutdown still reaches a subscriber.
func drain(ctx context.Context, srv shutdowner, consumers ...stopper) {
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	for _, c := range consumers {
		if err := c.Stop(); err != nil {
			slog.Error("failed to stop bus consumer", "error", err)
		}
	}
}

// loadRegistry reads the rule catalog from path, or the built-in catalog.
func loadRegistry(path string) (*rules.Registry, error) {
	if path == "" {
		registry, err := rules.DefaultRegistry()
		if err != nil {
			return nil, fmt.Errorf("failed to load built-in rule catalog: %w", err)
		}
		return registry, nil
	}

	registry, err := rules.LoadRegistry(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load rule catalog %s: %w", path, err)
	}
	slog.Info("rule catalog loaded", "path", path)
	return registry, nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  +-------------------------------------------+")
	fmt.Println("  |                 HERON                     |")
	fmt.Println("  |   Fraud & money-mule risk scoring         |")
	fmt.Println("  +-------------------------------------------+")
	fmt.Println()
	fmt.Printf("  Version:     %s\n", version)
	fmt.Printf("  Tier:        %s\n", cfg.Tier)
	fmt.Printf("  Server:      http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("  Thresholds:  monitor %d / review %d / high risk %d\n",
		cfg.Scoring.Monitor, cfg.Scoring.Review, cfg.Scoring.HighRisk)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /predict                 - Score a transaction (no persistence)")
	fmt.Println("    POST /transactions            - Score and store a transaction")
	fmt.Println("    GET  /transactions            - Recent scored transactions")
	fmt.Println("    POST /transactions/{id}/verify - Record an analyst verdict")
	fmt.Println("    GET  /accounts/{id}           - Account history")
	fmt.Println("    GET  /rules                   - Rule catalog and thresholds")
	fmt.Println("    POST /rules/update            - Toggle a rule")
	fmt.Println("    GET  /ws/alerts               - Live alert stream")
	fmt.Println("    GET  /metrics                 - Prometheus metrics")
	fmt.Println()
}
