// Package reconciler re-derives subscription state from the payment provider
// when webhooks are lost, and decides access with a grace window so transient
// provider delays never lock out a paying user.
package reconciler

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"propiq-billing/internal/billing"
	"propiq-billing/internal/common/aws"
	apperrors "propiq-billing/internal/common/errors"
	"propiq-billing/internal/common/logger"
	"propiq-billing/internal/common/metrics"
	"propiq-billing/internal/entitlement"
	"propiq-billing/internal/models"
	"propiq-billing/internal/store"

	"golang.org/x/sync/errgroup"
)

// Config holds the reconciliation policy.
type Config struct {
	GracePeriod time.Duration
	// StaleAfter is how old a verification may get before ReconcileStale
	// revisits the user.
	StaleAfter time.Duration
	Workers    int
	BatchSize  int
}

// Access reasons reported by CheckAccess.
const (
	ReasonActive         = "active"
	ReasonGrace          = "grace_period"
	ReasonGraceExpired   = "grace_expired"
	ReasonCanceled       = "canceled"
	ReasonNoSubscription = "no_subscription"
	ReasonUnverified     = "unverified"
)

// AccessDecision explains a HasActiveAccess answer.
type AccessDecision struct {
	UserID                   string                    `json:"userId"`
	HasActiveAccess          bool                      `json:"hasActiveAccess"`
	Reason                   string                    `json:"reason"`
	Tier                     models.Tier               `json:"tier"`
	Status                   models.SubscriptionStatus `json:"status"`
	LastVerifiedFromStripeAt *time.Time                `json:"lastVerifiedFromStripeAt,omitempty"`
	GraceEndsAt              *time.Time                `json:"graceEndsAt,omitempty"`
}

// StaleReport summarizes one ReconcileStale pass.
type StaleReport struct {
	Checked    int `json:"checked"`
	Reconciled int `json:"reconciled"`
	Failed     int `json:"failed"`
}

type Reconciler struct {
	config   Config
	store    store.Store
	plans    *billing.Plans
	provider Provider
	cache    *entitlement.Cache
	notifier aws.Notifier
	logger   logger.Logger
	now      func() time.Time
}

func New(cfg Config, s store.Store, plans *billing.Plans, provider Provider, cache *entitlement.Cache, notifier aws.Notifier, log logger.Logger) *Reconciler {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 10 * time.Minute
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = time.Hour
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if notifier == nil {
		notifier = aws.NoopNotifier{}
	}
	return &Reconciler{
		config:   cfg,
		store:    s,
		plans:    plans,
		provider: provider,
		cache:    cache,
		notifier: notifier,
		logger:   log.WithFields(map[string]interface{}{"component": "reconciler"}),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ReconcileUserSubscription overwrites userID's subscription fields with state
// and stamps lastVerifiedFromStripeAt. A nil state is fetched from the provider
// first, outside any lock on the user. An injected state must carry a status
// the provider could report; raw provider statuses such as trialing are mapped.
//
// The state describes the subscription as of the moment it was taken. A webhook
// applied after that moment is newer than the state, so the overwrite keeps its
// status and tier.
func (r *Reconciler) ReconcileUserSubscription(ctx context.Context, userID string, state *ProviderState) (*models.User, error) {
	asOf := r.now()
	source := "injected"
	if state != nil {
		normalized, err := r.normalize(state)
		if err != nil {
			metrics.Reconciliations.WithLabelValues(source, "error").Inc()
			return nil, err
		}
		state = normalized
	} else {
		source = "provider"
		fetched, err := r.fetch(ctx, userID)
		if err != nil {
			metrics.Reconciliations.WithLabelValues(source, "error").Inc()
			return nil, err
		}
		state = fetched
	}

	var before models.Subscription
	u, err := r.store.UpdateUser(ctx, userID, func(u *models.User) error {
		before = u.Subscription()
		r.overwrite(u, state, asOf)
		return nil
	})
	if err != nil {
		metrics.Reconciliations.WithLabelValues(source, "error").Inc()
		return nil, err
	}
	metrics.Reconciliations.WithLabelValues(source, "ok").Inc()
	r.cache.Invalidate(ctx, u.ID)

	changed := before.Tier != u.SubscriptionTier || before.Status != u.SubscriptionStatus
	r.logger.Info("subscription reconciled", map[string]interface{}{
		"userId":     u.ID,
		"source":     source,
		"tier":       string(u.SubscriptionTier),
		"status":     string(u.SubscriptionStatus),
		"changed":    changed,
		"prevTier":   string(before.Tier),
		"prevStatus": string(before.Status),
	})

	if changed {
		if err := r.notifier.SubscriptionChanged(ctx, models.SubscriptionChanged{
			UserID:           u.ID,
			Source:           "reconciler",
			Tier:             u.SubscriptionTier,
			Status:           u.SubscriptionStatus,
			AnalysesLimit:    u.AnalysesLimit,
			CurrentPeriodEnd: u.CurrentPeriodEnd,
			OccurredAt:       r.now(),
		}); err != nil {
			r.logger.Warn("subscription change notification failed", map[string]interface{}{
				"userId": u.ID,
				"error":  err.Error(),
			})
		}
	}
	return u, nil
}

func (r *Reconciler) fetch(ctx context.Context, userID string) (*ProviderState, error) {
	u, err := r.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.StripeCustomerID == "" && u.StripeSubscriptionID == "" {
		// Never linked to the provider: nothing is paid for.
		return &ProviderState{Status: models.StatusNone, Tier: r.plans.Default().Tier}, nil
	}
	if r.provider == nil {
		return nil, apperrors.NewConfigurationError("payment provider is not configured")
	}
	return r.provider.FetchSubscription(ctx, u.StripeCustomerID, u.StripeSubscriptionID)
}

// normalize validates an injected state and maps its status onto a tracked one.
// The caller's value is left untouched.
func (r *Reconciler) normalize(state *ProviderState) (*ProviderState, error) {
	raw := strings.ToLower(strings.TrimSpace(string(state.Status)))
	if raw == "" {
		return nil, apperrors.NewPayloadInvalidError("providerState.status is required")
	}
	status := models.ParseSubscriptionStatus(raw)
	if status == models.StatusNone && raw != "none" {
		return nil, apperrors.NewPayloadInvalidError("providerState.status: unknown status " + raw)
	}
	if state.Tier != "" {
		if _, ok := r.plans.Lookup(state.Tier); !ok {
			return nil, apperrors.NewPayloadInvalidError("providerState.tier: unknown tier " + string(state.Tier))
		}
	}
	out := *state
	out.Status = status
	return &out, nil
}

// overwrite applies provider truth taken at asOf. Unlike webhook changes it is
// not subject to the event watermark; it advances the watermark to asOf instead
// so events created before the snapshot are treated as stale afterwards. When
// the user already carries an event newer than asOf the snapshot is behind it:
// only empty identifiers are filled and the period end may only move forward.
func (r *Reconciler) overwrite(u *models.User, st *ProviderState, asOf time.Time) {
	verifiedAt := asOf.UTC()
	superseded := u.LastStripeEventAt != nil && u.LastStripeEventAt.After(verifiedAt)

	if superseded {
		if u.StripeCustomerID == "" {
			u.StripeCustomerID = st.CustomerID
		}
		if u.StripeSubscriptionID == "" {
			u.StripeSubscriptionID = st.SubscriptionID
		}
		if st.CurrentPeriodEnd != nil && (u.CurrentPeriodEnd == nil || st.CurrentPeriodEnd.After(*u.CurrentPeriodEnd)) {
			end := st.CurrentPeriodEnd.UTC()
			u.CurrentPeriodEnd = &end
		}
		u.LastVerifiedFromStripeAt = &verifiedAt
		return
	}

	if st.CustomerID != "" {
		u.StripeCustomerID = st.CustomerID
	}
	if st.SubscriptionID != "" {
		u.StripeSubscriptionID = st.SubscriptionID
	}
	u.SubscriptionStatus = st.Status

	switch tier := r.tierFor(st); {
	case st.Status == models.StatusCanceled || st.Status == models.StatusNone:
		r.plans.SetTier(u, r.plans.Default().Tier)
	case tier != "":
		r.plans.SetTier(u, tier)
	}

	if st.CurrentPeriodEnd != nil {
		end := st.CurrentPeriodEnd.UTC()
		u.CurrentPeriodEnd = &end
	}
	u.LastVerifiedFromStripeAt = &verifiedAt
	// Provider event times have whole-second resolution. Truncating keeps an
	// event created in the same second as the snapshot from reading as stale.
	watermark := verifiedAt.Truncate(time.Second)
	if u.LastStripeEventAt == nil || watermark.After(*u.LastStripeEventAt) {
		u.LastStripeEventAt = &watermark
	}
}

func (r *Reconciler) tierFor(st *ProviderState) models.Tier {
	if st.Tier != "" {
		if _, ok := r.plans.Lookup(st.Tier); ok {
			return st.Tier
		}
	}
	if tier, ok := r.plans.TierForPrice(st.PriceID); ok {
		return tier
	}
	return ""
}

// HasActiveAccess reports whether userID may use paid features right now.
func (r *Reconciler) HasActiveAccess(ctx context.Context, userID string) (bool, error) {
	d, err := r.CheckAccess(ctx, userID)
	if err != nil {
		return false, err
	}
	return d.HasActiveAccess, nil
}

// CheckAccess is HasActiveAccess with its reasoning. Active always grants;
// canceled never does. Anything else grants only while the last provider
// verification is younger than the grace period.
func (r *Reconciler) CheckAccess(ctx context.Context, userID string) (*AccessDecision, error) {
	sub, err := r.subscription(ctx, userID)
	if err != nil {
		return nil, err
	}

	d := &AccessDecision{
		UserID:                   userID,
		Tier:                     sub.Tier,
		Status:                   sub.Status,
		LastVerifiedFromStripeAt: sub.LastVerifiedFromStripeAt,
	}

	switch {
	case sub.Status == models.StatusActive:
		d.HasActiveAccess, d.Reason = true, ReasonActive
	case sub.Status == models.StatusCanceled:
		d.Reason = ReasonCanceled
	case sub.StripeCustomerID == "" && sub.StripeSubscriptionID == "":
		d.Reason = ReasonNoSubscription
	case sub.LastVerifiedFromStripeAt == nil:
		d.Reason = ReasonUnverified
	default:
		graceEnds := sub.LastVerifiedFromStripeAt.Add(r.config.GracePeriod)
		d.GraceEndsAt = &graceEnds
		if r.now().Before(graceEnds) {
			d.HasActiveAccess, d.Reason = true, ReasonGrace
		} else {
			d.Reason = ReasonGraceExpired
		}
	}

	metrics.AccessChecks.WithLabelValues(d.Reason).Inc()
	return d, nil
}

func (r *Reconciler) subscription(ctx context.Context, userID string) (*models.Subscription, error) {
	if sub, ok := r.cache.Get(ctx, userID); ok {
		return sub, nil
	}
	u, err := r.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	sub := u.Subscription()
	r.cache.Set(ctx, sub)
	return &sub, nil
}

// ReconcileStale reconciles every paying user whose last verification is older
// than olderThan (the configured StaleAfter when zero). Per-user failures are
// counted and logged; only cancellation aborts the pass.
func (r *Reconciler) ReconcileStale(ctx context.Context, olderThan time.Duration) (*StaleReport, error) {
	if olderThan <= 0 {
		olderThan = r.config.StaleAfter
	}
	ids, err := r.store.ListStaleSubscriptions(ctx, r.now().Add(-olderThan), r.config.BatchSize)
	if err != nil {
		return nil, err
	}

	var reconciled, failed int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.Workers)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			if _, err := r.ReconcileUserSubscription(gctx, id, nil); err != nil {
				atomic.AddInt64(&failed, 1)
				r.logger.Warn("stale reconciliation failed", map[string]interface{}{
					"userId": id,
					"error":  err.Error(),
				})
				return nil
			}
			atomic.AddInt64(&reconciled, 1)
			return nil
		})
	}
	err = g.Wait()

	report := &StaleReport{Checked: len(ids), Reconciled: int(reconciled), Failed: int(failed)}
	r.logger.Info("stale reconciliation pass finished", map[string]interface{}{
		"checked":    report.Checked,
		"reconciled": report.Reconciled,
		"failed":     report.Failed,
	})
	return report, err
}
