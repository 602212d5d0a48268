package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"propiq-billing/internal/billing"
	"propiq-billing/internal/common/aws"
	"propiq-billing/internal/common/config"
	"propiq-billing/internal/common/database"
	commonhttp "propiq-billing/internal/common/http"
	"propiq-billing/internal/common/logger"
	"propiq-billing/internal/entitlement"
	"propiq-billing/internal/ledger"
	"propiq-billing/internal/reconciler"
	"propiq-billing/internal/store/postgres"
)

// env is everything a subcommand may need, opened against the configured database.
type env struct {
	cfg   *config.Config
	log   logger.Logger
	db    *sql.DB
	store *postgres.Store
	close func()
}

func openEnv(ctx context.Context) (*env, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFromFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if cfg.Database.Driver != "postgres" {
		return nil, fmt.Errorf("billingctl needs database.driver=postgres, got %q", cfg.Database.Driver)
	}

	log := logger.NewStructured(cfg.Logging.Level, "console")
	db, err := database.OpenPostgres(ctx, cfg.Database.Postgres)
	if err != nil {
		return nil, err
	}
	return &env{
		cfg:   cfg,
		log:   log,
		db:    db,
		store: postgres.New(db),
		close: func() { db.Close() },
	}, nil
}

// reconciler wires the provider, cache and notifier the way the server does, so
// manual runs invalidate cached entitlements and publish changes too.
func (e *env) reconciler(ctx context.Context) (*reconciler.Reconciler, error) {
	plans, err := billing.NewPlans(e.cfg.Tiers, e.cfg.Billing.DefaultTier)
	if err != nil {
		return nil, err
	}

	var provider reconciler.Provider
	if e.cfg.Stripe.SecretKey != "" {
		p, err := reconciler.NewStripeProvider(
			e.cfg.Stripe.SecretKey,
			commonhttp.NewClient("stripe", config.GetDuration(e.cfg.Stripe.Timeout), e.log),
		)
		if err != nil {
			return nil, err
		}
		provider = p
	}

	rdb, err := database.OpenRedis(ctx, e.cfg.Database.Redis)
	if err != nil {
		e.log.Warn("redis unavailable, cache will not be invalidated", map[string]interface{}{"error": err.Error()})
		rdb = nil
	}
	if rdb != nil {
		prev := e.close
		e.close = func() { rdb.Close(); prev() }
	}

	var notifier aws.Notifier = aws.NoopNotifier{}
	if e.cfg.Notifications.SNS.Enabled {
		n, err := aws.NewSNSNotifier(ctx, e.cfg.Notifications.SNS.Region, e.cfg.Notifications.SNS.TopicARN, e.log)
		if err != nil {
			return nil, err
		}
		notifier = n
	}

	return reconciler.New(reconciler.Config{
		GracePeriod: e.cfg.Billing.GracePeriodDuration(),
		StaleAfter:  config.GetDuration(e.cfg.Billing.StaleAfter),
		Workers:     e.cfg.Billing.ReconcileWorkers,
	}, e.store, plans, provider,
		entitlement.NewCache(rdb, config.GetDuration(e.cfg.Database.Redis.CacheTTL), e.log),
		notifier, e.log), nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	if err := e.store.Migrate(ctx); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
	return nil
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	r, err := e.reconciler(ctx)
	if err != nil {
		return err
	}

	if stale {
		report, err := r.ReconcileStale(ctx, olderThan)
		if err != nil {
			return err
		}
		return printJSON(cmd, report)
	}

	var state *reconciler.ProviderState
	if statePath != "" {
		state, err = readState(statePath)
		if err != nil {
			return err
		}
	}
	u, err := r.ReconcileUserSubscription(ctx, userID, state)
	if err != nil {
		return err
	}
	return printJSON(cmd, u.Subscription())
}

func runAccess(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	r, err := e.reconciler(ctx)
	if err != nil {
		return err
	}
	decision, err := r.CheckAccess(ctx, userID)
	if err != nil {
		return err
	}
	return printJSON(cmd, decision)
}

func runUsage(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	usage, err := ledger.New(e.store, e.log).Usage(ctx, userID)
	if err != nil {
		return err
	}
	return printJSON(cmd, usage)
}

func readState(path string) (*reconciler.ProviderState, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read provider state: %w", err)
	}
	var state reconciler.ProviderState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("parse provider state %s: %w", path, err)
	}
	return &state, nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
