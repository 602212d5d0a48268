package reconciler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"propiq-billing/internal/billing"
	"propiq-billing/internal/common/aws"
	"propiq-billing/internal/common/logger"
	"propiq-billing/internal/entitlement"
	"propiq-billing/internal/models"
	"propiq-billing/internal/store/memory"
	"propiq-billing/internal/webhook"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
)

// ==========================
// Test Helper Functions
// ==========================

type providerFunc func(ctx context.Context, customerID, subscriptionID string) (*ProviderState, error)

func (f providerFunc) FetchSubscription(ctx context.Context, customerID, subscriptionID string) (*ProviderState, error) {
	return f(ctx, customerID, subscriptionID)
}

// clock is a settable time source shared by the reconciler under test.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type orderingFixture struct {
	store     *memory.Store
	processor *webhook.Processor
	clock     *clock
}

func newOrderingFixture(t *testing.T) *orderingFixture {
	t.Helper()
	s := memory.New()
	log := logger.NewTestLogger(t)
	cache := entitlement.NewCache(nil, 0, log)

	require.NoError(t, s.CreateUser(context.Background(), &models.User{
		ID:                   "user-1",
		Email:                "user-1@example.com",
		SubscriptionTier:     models.TierPro,
		AnalysesLimit:        100,
		SubscriptionStatus:   models.StatusActive,
		StripeCustomerID:     "cus_1",
		StripeSubscriptionID: "sub_1",
		LastStripeEventAt:    ago(time.Hour),
	}))

	return &orderingFixture{
		store:     s,
		processor: webhook.NewProcessor(s, billing.DefaultPlans(), cache, aws.NoopNotifier{}, log),
		clock:     &clock{now: testNow},
	}
}

func (f *orderingFixture) reconciler(t *testing.T, provider Provider) *Reconciler {
	t.Helper()
	log := logger.NewTestLogger(t)
	r := New(Config{GracePeriod: 10 * time.Minute}, f.store, billing.DefaultPlans(), provider, entitlement.NewCache(nil, 0, log), nil, log)
	r.now = f.clock.Now
	return r
}

func subscriptionDeleted(t *testing.T, id string, created time.Time) stripe.Event {
	t.Helper()
	payload := fmt.Sprintf(`{"id":%q,"object":"event","type":%q,"created":%d,"data":{"object":{"id":"sub_1","object":"subscription","customer":"cus_1","status":"canceled"}}}`,
		id, webhook.EventSubscriptionDeleted, created.Unix())
	var ev stripe.Event
	require.NoError(t, json.Unmarshal([]byte(payload), &ev))
	return ev
}

// ==========================
// Webhook Ordering Tests
// ==========================

func TestReconcile_WebhookCreatedAfterSnapshotStillApplies(t *testing.T) {
	f := newOrderingFixture(t)
	ctx := context.Background()

	// The provider answers slowly: the commit happens two seconds after the
	// snapshot was taken.
	r := f.reconciler(t, providerFunc(func(context.Context, string, string) (*ProviderState, error) {
		f.clock.Set(testNow.Add(2 * time.Second))
		return &ProviderState{Status: models.StatusActive, Tier: models.TierPro}, nil
	}))

	u, err := r.ReconcileUserSubscription(ctx, "user-1", nil)
	require.NoError(t, err)
	assert.Equal(t, testNow, *u.LastStripeEventAt)
	assert.Equal(t, testNow, *u.LastVerifiedFromStripeAt)

	res, err := f.processor.Process(ctx, subscriptionDeleted(t, "evt_del", testNow.Add(time.Second)))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeApplied, res.Outcome)

	u, err = f.store.GetUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCanceled, u.SubscriptionStatus)
	assert.Equal(t, models.TierFree, u.SubscriptionTier)
}

func TestReconcile_WebhookAppliedDuringFetchIsKept(t *testing.T) {
	f := newOrderingFixture(t)
	ctx := context.Background()

	end := testNow.Add(30 * 24 * time.Hour)
	r := f.reconciler(t, providerFunc(func(ctx context.Context, _, _ string) (*ProviderState, error) {
		f.clock.Set(testNow.Add(2 * time.Second))
		res, err := f.processor.Process(ctx, subscriptionDeleted(t, "evt_del", testNow.Add(time.Second)))
		require.NoError(t, err)
		require.Equal(t, models.OutcomeApplied, res.Outcome)
		return &ProviderState{Status: models.StatusActive, Tier: models.TierPro, CurrentPeriodEnd: &end}, nil
	}))

	u, err := r.ReconcileUserSubscription(ctx, "user-1", nil)
	require.NoError(t, err)

	assert.Equal(t, models.StatusCanceled, u.SubscriptionStatus)
	assert.Equal(t, models.TierFree, u.SubscriptionTier)
	assert.Equal(t, testNow.Add(time.Second), *u.LastStripeEventAt)
	assert.Equal(t, testNow, *u.LastVerifiedFromStripeAt)
	require.NotNil(t, u.CurrentPeriodEnd)
	assert.Equal(t, end, *u.CurrentPeriodEnd)
}

func TestReconcile_EventCreatedBeforeSnapshotIsStale(t *testing.T) {
	f := newOrderingFixture(t)
	ctx := context.Background()

	r := f.reconciler(t, providerFunc(func(context.Context, string, string) (*ProviderState, error) {
		return &ProviderState{Status: models.StatusActive, Tier: models.TierPro}, nil
	}))
	_, err := r.ReconcileUserSubscription(ctx, "user-1", nil)
	require.NoError(t, err)

	res, err := f.processor.Process(ctx, subscriptionDeleted(t, "evt_old", testNow.Add(-time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeStale, res.Outcome)

	u, err := f.store.GetUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, u.SubscriptionStatus)
	assert.Equal(t, models.TierPro, u.SubscriptionTier)
}
