// Medicare Claims Auditor - explainable claim adjudication service.
// Copyright (c) 2025 Sophie Xue Zhang
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/SophieXueZhang/medicare-claims-auditor/internal/api"
	"github.com/SophieXueZhang/medicare-claims-auditor/internal/bus"
	"github.com/SophieXueZhang/medicare-claims-auditor/internal/cache"
	"github.com/SophieXueZhang/medicare-claims-auditor/internal/config"
	"github.com/SophieXueZhang/medicare-claims-auditor/internal/domain"
	"github.com/SophieXueZhang/medicare-claims-auditor/internal/pipeline"
	"github.com/SophieXueZhang/medicare-claims-auditor/internal/repository"
	"github.com/SophieXueZhang/medicare-claims-auditor/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", os.Getenv("AUDITOR_CONFIG"), "path to the YAML config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logger
	slog.SetDefault(config.NewLogger(cfg.Logging, os.Stdout))

	slog.Info("starting medicare claims auditor",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	if cfg.Tracing.Enabled {
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{}, propagation.Baggage{}))
		slog.Info("trace context propagation enabled", "service", cfg.Tracing.ServiceName)
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache; "none" disables decision caching
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	if cacheImpl != nil {
		defer cacheImpl.Close()
	}
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Load decision config and rule snapshot
	dcfg, err := config.LoadDecision(cfg.DecisionConfigPath)
	if err != nil {
		slog.Error("failed to load decision config", "error", err)
		os.Exit(1)
	}
	store, err := config.LoadRules(ctx, cfg.Rules, repo)
	if err != nil {
		slog.Error("failed to load rule snapshot", "error", err)
		os.Exit(1)
	}
	slog.Info("rule snapshot loaded",
		"version", store.Version(),
		"rules", store.Len(),
		"config_version", dcfg.Version,
	)

	// Initialize Pipeline
	p, err := pipeline.New(store, dcfg, cfg.Pipeline, pipeline.Deps{
		Cache:      cacheImpl,
		Repository: repo,
	}, Version)
	if err != nil {
		slog.Error("failed to initialize pipeline", "error", err)
		os.Exit(1)
	}

	// Initialize async Worker
	var asyncWorker *worker.Worker
	if cfg.Pipeline.AsyncWorker {
		asyncWorker = worker.NewWorker(busImpl, p)
		if err := asyncWorker.Start(worker.Config{Concurrency: cfg.Pipeline.Workers}); err != nil {
			slog.Error("failed to start async worker", "error", err)
			asyncWorker = nil
		} else {
			slog.Info("async worker started", "concurrency", cfg.Pipeline.Workers)
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, api.Options{
		Pipeline:   p,
		Repository: repo,
		Cache:      cacheImpl,
		Bus:        busImpl,
		Version:    Version,
	})

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("auditor is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version, store.Version(), dcfg.Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
		stats := asyncWorker.GetStats()
		slog.Info("async worker stopped", "processed", stats.Processed, "failed", stats.Failed, "review", stats.Review)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("auditor shutdown complete")
}

func printBanner(cfg *domain.Config, version, snapshot, decisionConfig string) {
	fmt.Println()
	fmt.Println("  +-------------------------------------------+")
	fmt.Println("  |         MEDICARE CLAIMS AUDITOR           |")
	fmt.Println("  |     Explainable claim adjudication        |")
	fmt.Println("  +-------------------------------------------+")
	fmt.Println()
	fmt.Printf("  Version:   %s\n", version)
	fmt.Printf("  Tier:      %s\n", cfg.Tier)
	fmt.Printf("  Rules:     %s\n", snapshot)
	fmt.Printf("  Config:    %s\n", decisionConfig)
	fmt.Printf("  Server:    http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /claims/evaluate          - Evaluate a claim (JSON or text)")
	fmt.Println("    POST /claims/batch             - Evaluate up to 1000 claims")
	fmt.Println("    POST /claims/submit            - Queue a claim on the event bus")
	fmt.Println("    GET  /claims/{id}              - Get a submitted claim")
	fmt.Println("    GET  /claims/{id}/decisions    - List decisions for a claim")
	fmt.Println("    GET  /decisions/{id}           - Get a decision by ID")
	fmt.Println("    GET  /rules                    - List coverage rules")
	fmt.Println("    GET  /codes/{code}             - Look up a procedure code")
	fmt.Println("    GET  /snapshots                - List stored rule snapshots")
	fmt.Println("    GET  /config                   - Active decision config")
	fmt.Println("    GET  /health                   - Health check")
	fmt.Println()
}
