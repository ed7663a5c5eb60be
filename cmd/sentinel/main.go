// Sentinel - multi-signal fraud risk scoring for public works contracts and
// welfare applicants.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/opensource-finance/sentinel/internal/anomaly"
	"github.com/opensource-finance/sentinel/internal/api"
	"github.com/opensource-finance/sentinel/internal/bus"
	"github.com/opensource-finance/sentinel/internal/cache"
	"github.com/opensource-finance/sentinel/internal/classifier"
	"github.com/opensource-finance/sentinel/internal/config"
	"github.com/opensource-finance/sentinel/internal/domain"
	"github.com/opensource-finance/sentinel/internal/features"
	"github.com/opensource-finance/sentinel/internal/history"
	"github.com/opensource-finance/sentinel/internal/identity"
	"github.com/opensource-finance/sentinel/internal/metrics"
	"github.com/opensource-finance/sentinel/internal/registry"
	"github.com/opensource-finance/sentinel/internal/repository"
	"github.com/opensource-finance/sentinel/internal/rules"
	"github.com/opensource-finance/sentinel/internal/scoring"
	"github.com/opensource-finance/sentinel/internal/tender"
	"github.com/opensource-finance/sentinel/internal/tracing"
	"github.com/opensource-finance/sentinel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to a TOML config file (default $SENTINEL_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sentinel: %v\n", err)
		os.Exit(1)
	}

	slog.SetDefault(config.NewLogger(cfg.Logging, os.Stdout))

	slog.Info("starting sentinel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"identity_metric", cfg.Identity.Metric,
	)

	if err := run(cfg); err != nil {
		slog.Error("sentinel stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("sentinel shutdown complete")
}

func run(cfg *domain.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := tracing.Setup(cfg.Tracing, Version, os.Stderr)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("failed to flush traces", "error", err)
		}
	}()

	// Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type, "two_phase", cfg.Cache.EnableTwoPhase)

	// EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// Contract rules
	engine, err := rules.NewEngine(cfg.Scoring.Workers)
	if err != nil {
		return fmt.Errorf("initialize rule engine: %w", err)
	}
	defer engine.Close()
	if err := loadRulesFromDatabase(ctx, repo, engine); err != nil {
		return err
	}
	slog.Info("rule engine initialized",
		"builtin_rules", len(rules.BuiltinRules()),
		"custom_rules", engine.RulesCount(),
	)

	// Identity resolution and external registries
	resolver, err := identity.NewResolver(cfg.Identity)
	if err != nil {
		return fmt.Errorf("initialize identity resolver: %w", err)
	}
	regs, err := registry.Load(ctx, registry.CSVSources(cfg.Registry))
	if err != nil {
		return fmt.Errorf("load registries: %w", err)
	}
	slog.Info("registries loaded",
		"vehicles", len(regs.Vehicles),
		"utilities", len(regs.Utilities),
		"citizens", len(regs.Civil),
	)

	// Fraud model
	engineer := features.NewEngineer(nil)
	params := classifier.DefaultParams()
	params.Forest.Trees = cfg.Model.ForestTrees
	params.Boost.Trees = cfg.Model.BoostTrees
	params.Seed = cfg.Model.Seed
	entryTTL := time.Duration(cfg.Cache.EntryTTLSec) * time.Second
	model := classifier.NewManager(classifier.ManagerConfig{
		Name:     cfg.Model.Name,
		Store:    classifier.NewRepositoryStore(repo, cacheImpl, entryTTL),
		Source:   &classifier.CSVSource{Path: cfg.Model.TrainingDataPath},
		Engineer: engineer,
		Params:   params,
		Metrics:  m,
	})

	hist := history.NewService(repo, cacheImpl, entryTTL)

	scorer, err := scoring.NewService(scoring.Config{
		Repo:  repo,
		Rules: engine,
		Anomaly: anomaly.NewDetector(anomaly.Config{
			MinPeers:      cfg.Scoring.AnomalyMinPeers,
			Trees:         cfg.Scoring.AnomalyTrees,
			Contamination: cfg.Scoring.AnomalyContamination,
			Seed:          cfg.Scoring.Seed,
		}),
		Similarity: tender.NewDetector(tender.Config{
			MinPeers:       cfg.Scoring.SimilarityMinPeers,
			Threshold:      cfg.Scoring.SimilarityThreshold,
			VocabularySize: cfg.Scoring.VocabularySize,
		}),
		History:      hist,
		Model:        model,
		Engineer:     engineer,
		Resolver:     resolver,
		Checker:      registry.NewChecker(resolver, regs),
		Lifestyle:    registry.NewLifestyleScanner(regs),
		Metrics:      m,
		Workers:      cfg.Scoring.Workers,
		BatchTimeout: time.Duration(cfg.Scoring.BatchTimeoutSec) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("initialize scoring service: %w", err)
	}

	// Load or train the model off the startup path; /ready reports progress.
	go func() {
		loaded, err := model.Model(ctx)
		if err != nil {
			slog.Warn("fraud model unavailable, applicant scoring will fail until retrained",
				"path", cfg.Model.TrainingDataPath,
				"error", err,
			)
			return
		}
		slog.Info("fraud model ready",
			"version", loaded.Version,
			"samples", loaded.Samples,
			"f1", loaded.Metrics.F1,
		)
	}()

	// Async worker
	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, scorer)
		if err := asyncWorker.Start(worker.Config{TenantIDs: cfg.Worker.Tenants}); err != nil {
			slog.Error("failed to start async worker", "error", err)
			asyncWorker = nil
		} else {
			slog.Info("async worker started", "tenant_count", len(cfg.Worker.Tenants))
		}
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Repo:     repo,
		Cache:    cacheImpl,
		Bus:      busImpl,
		Scorer:   scorer,
		History:  hist,
		Gatherer: reg,
		Version:  Version,
	})

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	slog.Info("sentinel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case err, ok := <-serverErr:
		if ok {
			runErr = fmt.Errorf("server failed: %w", err)
		}
	}

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

	return runErr
}

// loadRulesFromDatabase loads the stored custom rules. Built-in contract
// rules are always active; custom rules are added via POST /rules.
func loadRulesFromDatabase(ctx context.Context, repo domain.Repository, engine *rules.Engine) error {
	dbRules, err := repo.ListRuleConfigs(ctx, api.GlobalTenantID)
	if err != nil {
		slog.Warn("failed to list rules from database", "error", err)
		return nil
	}
	if len(dbRules) == 0 {
		slog.Info("no custom rules in database")
		return nil
	}

	slog.Info("loading rules from database", "count", len(dbRules))
	if err := engine.ReloadRules(dbRules); err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	return nil
}
