// internal/workers/billing/reconcile-subscription/handler_test.go
package reconcilesubscription

import (
	"context"
	"errors"
	"testing"
	"time"

	"propiq-billing/internal/billing"
	apperrors "propiq-billing/internal/common/errors"
	"propiq-billing/internal/common/logger"
	"propiq-billing/internal/entitlement"
	"propiq-billing/internal/models"
	"propiq-billing/internal/reconciler"
	"propiq-billing/internal/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

type stubProvider struct {
	state *reconciler.ProviderState
	err   error
}

func (p *stubProvider) FetchSubscription(context.Context, string, string) (*reconciler.ProviderState, error) {
	return p.state, p.err
}

func createTestHandler(t *testing.T, provider reconciler.Provider) (*Handler, *memory.Store) {
	t.Helper()
	log := logger.NewTestLogger(t)
	s := memory.New()
	require.NoError(t, s.CreateUser(context.Background(), &models.User{
		ID:                 "user-1",
		Email:              "investor@example.com",
		SubscriptionTier:   models.TierFree,
		AnalysesLimit:      3,
		StripeCustomerID:   "cus_1",
		SubscriptionStatus: models.StatusActive,
	}))
	r := reconciler.New(reconciler.Config{}, s, billing.DefaultPlans(), provider, entitlement.NewCache(nil, 0, log), nil, log)
	return NewHandler(LoadConfig(), r, log), s
}

// ==========================
// Core Functionality Tests
// ==========================

func TestHandler_Execute_InjectedState(t *testing.T) {
	h, s := createTestHandler(t, &stubProvider{err: errors.New("must not be called")})

	out, err := h.Execute(context.Background(), &Input{
		UserID: "user-1",
		State:  &reconciler.ProviderState{Status: models.StatusActive, Tier: models.TierPro},
	})

	require.NoError(t, err)
	assert.Equal(t, "pro", out.SubscriptionTier)
	assert.Equal(t, "active", out.SubscriptionStatus)
	assert.Equal(t, 100, out.AnalysesLimit)
	assert.NotNil(t, out.LastVerifiedFromStripeAt)

	u, err := s.GetUser(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.TierPro, u.SubscriptionTier)
}

func TestHandler_Execute_FetchesFromProvider(t *testing.T) {
	h, _ := createTestHandler(t, &stubProvider{state: &reconciler.ProviderState{
		CustomerID: "cus_1",
		Status:     models.StatusCanceled,
	}})

	out, err := h.Execute(context.Background(), &Input{UserID: "user-1"})

	require.NoError(t, err)
	assert.Equal(t, "free", out.SubscriptionTier)
	assert.Equal(t, "canceled", out.SubscriptionStatus)
}

// ==========================
// Error Handling Tests
// ==========================

func TestHandler_Execute_Errors(t *testing.T) {
	tests := []struct {
		name     string
		provider reconciler.Provider
		input    *Input
		want     *apperrors.StandardError
	}{
		{
			name:     "missing user id",
			provider: &stubProvider{},
			input:    &Input{},
			want:     apperrors.ErrPayloadInvalid,
		},
		{
			name:     "unknown user",
			provider: &stubProvider{},
			input:    &Input{UserID: "ghost"},
			want:     apperrors.ErrUserNotFound,
		},
		{
			name:     "provider outage",
			provider: &stubProvider{err: apperrors.NewProviderOutageError("stripe", errors.New("503"))},
			input:    &Input{UserID: "user-1"},
			want:     apperrors.ErrProviderOutage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := createTestHandler(t, tt.provider)
			_, err := h.Execute(context.Background(), tt.input)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

// ==========================
// Input Parsing Tests
// ==========================

func TestParseInput(t *testing.T) {
	tests := []struct {
		name    string
		vars    string
		wantErr bool
		check   func(t *testing.T, in *Input)
	}{
		{
			name: "user only",
			vars: `{"userId":"user-1"}`,
			check: func(t *testing.T, in *Input) {
				assert.Equal(t, "user-1", in.UserID)
				assert.Nil(t, in.State)
			},
		},
		{
			name: "with state",
			vars: `{"userId":"user-1","state":{"status":"past_due","currentPeriodEnd":"2026-04-01T00:00:00Z"}}`,
			check: func(t *testing.T, in *Input) {
				require.NotNil(t, in.State)
				assert.Equal(t, models.StatusPastDue, in.State.Status)
				assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), *in.State.CurrentPeriodEnd)
			},
		},
		{
			name: "raw provider status",
			vars: `{"userId":"user-1","state":{"status":"trialing","tier":"pro"}}`,
			check: func(t *testing.T, in *Input) {
				require.NotNil(t, in.State)
				assert.Equal(t, models.SubscriptionStatus("trialing"), in.State.Status)
			},
		},
		{name: "missing user", vars: `{}`, wantErr: true},
		{name: "unknown status", vars: `{"userId":"u","state":{"status":"paused"}}`, wantErr: true},
		{name: "empty status", vars: `{"userId":"u","state":{"status":"","tier":"pro"}}`, wantErr: true},
		{name: "malformed", vars: `{"userId":`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := parseInput([]byte(tt.vars))
			if tt.wantErr {
				assert.ErrorIs(t, err, apperrors.ErrPayloadInvalid)
				return
			}
			require.NoError(t, err)
			tt.check(t, in)
		})
	}
}
