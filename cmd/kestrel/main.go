// Kestrel - Ledger annotation engine: risk scores and compliance labels
// for every transaction.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/alerts"
	"github.com/opensource-finance/kestrel/internal/annotate"
	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/compliance"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/notify"
	"github.com/opensource-finance/kestrel/internal/ownership"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/risk"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}
	if path := os.Getenv("KESTREL_TAGGING_PATH"); path != "" {
		cfg.TaggingPath = path
	}
	if url := os.Getenv("KESTREL_WEBHOOK_URL"); url != "" {
		cfg.Notify.WebhookURL = url
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

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

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize compliance classifier. LoadConfig never fails: a
	// missing or malformed tagging file falls back to built-in defaults.
	classifier := compliance.NewClassifier(compliance.LoadConfig(cfg.TaggingPath))
	slog.Info("compliance classifier initialized", "tagging_path", cfg.TaggingPath)

	// Initialize Risk Scorer
	scorer := risk.NewScorer()

	// Initialize Alert Engine
	alerter, err := alerts.NewEngine()
	if err != nil {
		slog.Error("failed to initialize alert engine", "error", err)
		os.Exit(1)
	}
	defer alerter.Close()

	if err := loadAlertRulesFromDatabase(ctx, repo, alerter); err != nil {
		slog.Error("failed to load alert rules", "error", err)
		os.Exit(1)
	}
	slog.Info("alert engine initialized", "rules_count", alerter.RulesCount())

	// Initialize Ownership Service
	owners := ownership.NewService(repo, cacheImpl)
	slog.Info("ownership service initialized")

	// Initialize Annotation Processor
	processor := annotate.NewProcessor(scorer, classifier, alerter)
	slog.Info("annotation processor initialized", "engine_version", annotate.EngineVersion)

	// Tenants for background subscriptions (comma-separated)
	var tenantIDs []string
	if envTenants := os.Getenv("KESTREL_TENANTS"); envTenants != "" {
		for _, id := range strings.Split(envTenants, ",") {
			if id = strings.TrimSpace(id); id != "" {
				tenantIDs = append(tenantIDs, id)
			}
		}
	}

	// Initialize webhook Notifier
	notifier := notify.NewNotifier(cfg.Notify, cacheImpl)
	if notifier.Enabled() {
		for _, tenantID := range tenantIDs {
			if _, err := notifier.Start(ctx, busImpl, tenantID); err != nil {
				slog.Error("failed to start notifier", "tenant_id", tenantID, "error", err)
			}
		}
		slog.Info("webhook notifier started",
			"tenant_count", len(tenantIDs),
			"max_per_minute", cfg.Notify.MaxPerMinute,
		)
	}

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, repo, processor, owners)

		workerCfg := worker.Config{
			TenantIDs:   tenantIDs,
			WorkerCount: 5,
		}

		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(tenantIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, processor, classifier, alerter, owners, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// GlobalTenantID is used for alert rules that apply to all tenants.
const GlobalTenantID = "*"

// loadAlertRulesFromDatabase loads alert rules into the engine. When the
// database has none, the built-in high-risk rule is loaded so fresh
// deployments alert the way the first product version did.
func loadAlertRulesFromDatabase(ctx context.Context, repo domain.Repository, alerter *alerts.Engine) error {
	dbRules, err := repo.ListAlertRules(ctx, GlobalTenantID)
	if err != nil {
		slog.Warn("failed to list alert rules from database", "error", err)
		dbRules = nil
	}

	if len(dbRules) > 0 {
		slog.Info("loading alert rules from database", "count", len(dbRules))
		return alerter.LoadRules(dbRules)
	}

	slog.Info("no alert rules in database - loading built-in default")
	return alerter.LoadRule(domain.DefaultAlertRule())
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🦅 KESTREL                  ║")
	fmt.Println("  ║       Ledger Annotation Engine            ║")
	fmt.Println("  ║     A label on every transaction.         ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /annotate             - Annotate a transaction")
	fmt.Println("    POST /annotate/batch       - Annotate a batch with summary")
	fmt.Println("    POST /compliance/tx        - Classify without scoring")
	fmt.Println("    GET  /annotations          - List recent annotations")
	fmt.Println("    GET  /annotations/{id}     - Get annotation by ID")
	fmt.Println("    GET  /transactions/{id}    - Get transaction by ID")
	fmt.Println("    GET  /addresses            - List owned addresses")
	fmt.Println("    POST /addresses            - Register owned addresses")
	fmt.Println("    DELETE /addresses/{addr}   - Remove an owned address")
	fmt.Println("    GET  /alert-rules          - List alert rules")
	fmt.Println("    POST /alert-rules          - Create an alert rule")
	fmt.Println("    POST /alert-rules/reload   - Hot-reload alert rules")
	fmt.Println("    POST /report               - Summarize a batch (JSON/CSV)")
	fmt.Println("    GET  /health               - Health check")
	fmt.Println()
}
