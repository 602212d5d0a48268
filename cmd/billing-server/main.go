// cmd/billing-server/main.go
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"propiq-billing/internal/account"
	"propiq-billing/internal/analysis"
	"propiq-billing/internal/api"
	"propiq-billing/internal/billing"
	"propiq-billing/internal/common/aws"
	"propiq-billing/internal/common/camunda"
	"propiq-billing/internal/common/config"
	"propiq-billing/internal/common/database"
	commonhttp "propiq-billing/internal/common/http"
	"propiq-billing/internal/common/logger"
	"propiq-billing/internal/common/observability"
	"propiq-billing/internal/entitlement"
	"propiq-billing/internal/ledger"
	"propiq-billing/internal/reconciler"
	"propiq-billing/internal/store"
	"propiq-billing/internal/store/memory"
	"propiq-billing/internal/store/postgres"
	"propiq-billing/internal/webhook"

	ce "propiq-billing/internal/workers/billing/check-entitlement"
	rss "propiq-billing/internal/workers/billing/reconcile-stale-subscriptions"
	rs "propiq-billing/internal/workers/billing/reconcile-subscription"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting billing server...",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	obs, err := observability.New("billing-server")
	if err != nil {
		zapLog.Warn("otel exporter unavailable, request metrics disabled", zap.Error(err))
	}

	ctx := context.Background()

	// --- Store ---
	var (
		st store.Store
		db *sql.DB
	)
	switch cfg.Database.Driver {
	case "postgres":
		err = retryWithBackoff(func() error {
			var err error
			db, err = database.OpenPostgres(ctx, cfg.Database.Postgres)
			return err
		}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
		if err != nil {
			zapLog.Fatal("postgres failed after retries", zap.Error(err))
		}
		defer db.Close()

		pg := postgres.New(db)
		if err := pg.Migrate(ctx); err != nil {
			zapLog.Fatal("schema migration failed", zap.Error(err))
		}
		st = pg
		zapLog.Info("PostgreSQL connected successfully")
	default:
		st = memory.New()
		zapLog.Warn("using in-memory store, state is lost on restart")
	}

	// --- Entitlement cache ---
	var rdb *goredis.Client
	err = retryWithBackoff(func() error {
		var err error
		rdb, err = database.OpenRedis(ctx, cfg.Database.Redis)
		return err
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Warn("redis unavailable, entitlement cache disabled", zap.Error(err))
		rdb = nil
	}
	if rdb != nil {
		defer rdb.Close()
		zapLog.Info("Redis connected successfully")
	}
	cache := entitlement.NewCache(rdb, config.GetDuration(cfg.Database.Redis.CacheTTL), log)

	// --- External service clients ---
	var notifier aws.Notifier = aws.NoopNotifier{}
	if cfg.Notifications.SNS.Enabled {
		sns, err := aws.NewSNSNotifier(ctx, cfg.Notifications.SNS.Region, cfg.Notifications.SNS.TopicARN, log)
		if err != nil {
			zapLog.Fatal("sns notifier init failed", zap.Error(err))
		}
		notifier = sns
	}

	var provider reconciler.Provider
	if cfg.Stripe.SecretKey != "" {
		p, err := reconciler.NewStripeProvider(
			cfg.Stripe.SecretKey,
			commonhttp.NewClient("stripe", config.GetDuration(cfg.Stripe.Timeout), log),
		)
		if err != nil {
			zapLog.Fatal("stripe provider init failed", zap.Error(err))
		}
		provider = p
	} else {
		zapLog.Warn("stripe secret key not set, reconciliation without explicit state is disabled")
	}

	var analyzer analysis.Analyzer
	if cfg.APIs.OpenAI.APIKey != "" {
		a, err := analysis.NewOpenAIAnalyzer(analysis.OpenAIConfig{
			APIKey:  cfg.APIs.OpenAI.APIKey,
			BaseURL: cfg.APIs.OpenAI.BaseURL,
			Model:   cfg.APIs.OpenAI.Model,
		}, commonhttp.NewClient("openai", config.GetDuration(cfg.APIs.OpenAI.Timeout), log))
		if err != nil {
			zapLog.Fatal("openai analyzer init failed", zap.Error(err))
		}
		analyzer = a
	} else {
		zapLog.Warn("openai api key not set, analyses will be rejected")
	}

	if cfg.Stripe.WebhookSecret == "" {
		zapLog.Warn("stripe webhook secret not set, every webhook will be rejected")
	}

	zapLog.Info("All external service clients initialized")

	// --- Billing services ---
	plans, err := billing.NewPlans(cfg.Tiers, cfg.Billing.DefaultTier)
	if err != nil {
		zapLog.Fatal("invalid tier table", zap.Error(err))
	}

	quota := ledger.New(st, log)
	recon := reconciler.New(reconciler.Config{
		GracePeriod: cfg.Billing.GracePeriodDuration(),
		StaleAfter:  config.GetDuration(cfg.Billing.StaleAfter),
		Workers:     cfg.Billing.ReconcileWorkers,
	}, st, plans, provider, cache, notifier, log)

	router := api.NewRouter(api.Deps{
		Store:         st,
		Ledger:        quota,
		Accounts:      account.NewService(st, plans, log),
		Analysis:      analysis.NewService(quota, st, analyzer, config.GetDuration(cfg.APIs.OpenAI.Timeout), log),
		Verifier:      webhook.NewVerifier(cfg.Stripe.WebhookSecret),
		Processor:     webhook.NewProcessor(st, plans, cache, notifier, log),
		Reconciler:    recon,
		Observability: obs,
		Logger:        log,
		AdminToken:    cfg.HTTP.AdminToken,
		CORSOrigins:   cfg.HTTP.CORSOrigins,
	})

	// --- Zeebe workers ---
	var (
		zeebe   *camunda.Client
		workers []worker.JobWorker
	)
	if cfg.Camunda.Enabled {
		err = retryWithBackoff(func() error {
			var err error
			zeebe, err = camunda.NewClient(cfg.Camunda.BrokerAddress)
			return err
		}, 10, 2*time.Second, zapLog, "Zeebe client initialization")
		if err != nil {
			zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
		}
		zapLog.Info("Zeebe client connected successfully")

		start := func(taskType string, handler camunda.HandlerFunc) {
			if jw := camunda.StartWorker(zeebe.Zeebe(), taskType, config.GetWorkerConfig(cfg, taskType), handler, log); jw != nil {
				workers = append(workers, jw)
			}
		}

		rsCfg := rs.LoadConfig()
		rsCfg.Timeout = config.GetDuration(config.GetWorkerConfig(cfg, rs.TaskType).Timeout)
		start(rs.TaskType, rs.NewHandler(rsCfg, recon, log).Handle)

		ceCfg := ce.LoadConfig()
		ceCfg.Timeout = config.GetDuration(config.GetWorkerConfig(cfg, ce.TaskType).Timeout)
		start(ce.TaskType, ce.NewHandler(ceCfg, recon, log).Handle)

		rssCfg := rss.LoadConfig()
		rssCfg.Timeout = config.GetDuration(config.GetWorkerConfig(cfg, rss.TaskType).Timeout)
		start(rss.TaskType, rss.NewHandler(rssCfg, recon, log).Handle)

		zapLog.Info("Billing workers registered", zap.Int("count", len(workers)))
	}

	// --- Stale subscription sweep ---
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	if interval := config.GetDuration(cfg.Billing.SweepInterval); interval > 0 {
		go runSweep(sweepCtx, recon, interval, zapLog)
	}

	// --- HTTP server ---
	srv := &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		zapLog.Info("HTTP server listening", zap.String("address", cfg.HTTP.Address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, draining...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stopSweep()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error shutting down HTTP server", zap.Error(err))
	}
	for _, jw := range workers {
		jw.Close()
		jw.AwaitClose()
	}
	if zeebe != nil {
		if err := zeebe.Close(); err != nil {
			zapLog.Error("Error closing Zeebe client", zap.Error(err))
		}
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error shutting down observability", zap.Error(err))
	}

	zapLog.Info("Billing server stopped gracefully")
}

// runSweep reconciles stale subscriptions every interval until ctx ends.
func runSweep(ctx context.Context, recon *reconciler.Reconciler, interval time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := recon.ReconcileStale(ctx, 0)
			if err != nil {
				log.Error("stale sweep failed", zap.Error(err))
				continue
			}
			log.Info("stale sweep finished",
				zap.Int("checked", report.Checked),
				zap.Int("reconciled", report.Reconciled),
				zap.Int("failed", report.Failed),
			)
		}
	}
}
