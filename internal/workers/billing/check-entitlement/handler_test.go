// internal/workers/billing/check-entitlement/handler_test.go
package checkentitlement

import (
	"context"
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

func createTestHandler(t *testing.T, users ...*models.User) *Handler {
	t.Helper()
	log := logger.NewTestLogger(t)
	s := memory.New()
	for _, u := range users {
		require.NoError(t, s.CreateUser(context.Background(), u))
	}
	r := reconciler.New(reconciler.Config{GracePeriod: 10 * time.Minute}, s, billing.DefaultPlans(), nil, entitlement.NewCache(nil, 0, log), nil, log)
	return NewHandler(LoadConfig(), r, log)
}

func createUser(id string, tier models.Tier, status models.SubscriptionStatus, verifiedAgo time.Duration) *models.User {
	verified := time.Now().UTC().Add(-verifiedAgo)
	return &models.User{
		ID:                       id,
		Email:                    id + "@example.com",
		SubscriptionTier:         tier,
		AnalysesLimit:            20,
		StripeCustomerID:         "cus_" + id,
		SubscriptionStatus:       status,
		LastVerifiedFromStripeAt: &verified,
	}
}

// ==========================
// Core Functionality Tests
// ==========================

func TestHandler_Execute_Decisions(t *testing.T) {
	h := createTestHandler(t,
		createUser("active", models.TierStarter, models.StatusActive, 48*time.Hour),
		createUser("grace", models.TierStarter, models.StatusPastDue, time.Minute),
		createUser("expired", models.TierStarter, models.StatusPastDue, time.Hour),
		createUser("canceled", models.TierFree, models.StatusCanceled, time.Minute),
	)

	tests := []struct {
		userID     string
		wantAccess bool
		wantReason string
		wantGrace  bool
	}{
		{"active", true, reconciler.ReasonActive, false},
		{"grace", true, reconciler.ReasonGrace, true},
		{"expired", false, reconciler.ReasonGraceExpired, true},
		{"canceled", false, reconciler.ReasonCanceled, false},
	}

	for _, tt := range tests {
		t.Run(tt.userID, func(t *testing.T) {
			out, err := h.Execute(context.Background(), &Input{UserID: tt.userID})
			require.NoError(t, err)
			assert.Equal(t, tt.wantAccess, out.HasActiveAccess)
			assert.Equal(t, tt.wantReason, out.Reason)
			assert.Equal(t, tt.wantGrace, out.GraceEndsAt != nil)
		})
	}
}

// ==========================
// Error Handling Tests
// ==========================

func TestHandler_Execute_Errors(t *testing.T) {
	h := createTestHandler(t)

	_, err := h.Execute(context.Background(), &Input{})
	assert.ErrorIs(t, err, apperrors.ErrPayloadInvalid)

	_, err = h.Execute(context.Background(), &Input{UserID: "ghost"})
	assert.ErrorIs(t, err, apperrors.ErrUserNotFound)
}
