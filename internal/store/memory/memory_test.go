package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "propiq-billing/internal/common/errors"
	"propiq-billing/internal/models"
	"propiq-billing/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedUser(t *testing.T, s *Store, id, email string) {
	t.Helper()
	require.NoError(t, s.CreateUser(context.Background(), &models.User{
		ID: id, Email: email, SubscriptionTier: models.TierFree, AnalysesLimit: 3,
	}))
}

func TestStore_CreateUser_EmailTakenIsCaseInsensitive(t *testing.T) {
	s := New()
	seedUser(t, s, "user-1", "Investor@Example.com")

	err := s.CreateUser(context.Background(), &models.User{ID: "user-2", Email: "investor@example.com"})
	assert.True(t, errors.Is(err, apperrors.ErrEmailTaken))
}

func TestStore_GetUser_ReturnsCopy(t *testing.T) {
	s := New()
	seedUser(t, s, "user-1", "a@example.com")

	u, err := s.GetUser(context.Background(), "user-1")
	require.NoError(t, err)
	u.AnalysesUsed = 99

	again, err := s.GetUser(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, again.AnalysesUsed)
}

func TestStore_UpdateUser_ErrorLeavesUserUntouched(t *testing.T) {
	s := New()
	seedUser(t, s, "user-1", "a@example.com")

	_, err := s.UpdateUser(context.Background(), "user-1", func(u *models.User) error {
		u.AnalysesUsed = 3
		return apperrors.NewLimitReachedError(u.ID, 3, 3)
	})
	require.Error(t, err)

	u, _ := s.GetUser(context.Background(), "user-1")
	assert.Equal(t, 0, u.AnalysesUsed)

	_, err = s.UpdateUser(context.Background(), "nobody", func(*models.User) error { return nil })
	assert.True(t, errors.Is(err, apperrors.ErrUserNotFound))
}

func TestStore_UpdateUser_SerializesConcurrentMutations(t *testing.T) {
	s := New()
	seedUser(t, s, "user-1", "a@example.com")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.UpdateUser(context.Background(), "user-1", func(u *models.User) error {
				u.AnalysesUsed++
				return nil
			})
		}()
	}
	wg.Wait()

	u, _ := s.GetUser(context.Background(), "user-1")
	assert.Equal(t, 50, u.AnalysesUsed)
}

func TestStore_ProcessEvent(t *testing.T) {
	applyPro := func(u *models.User) (models.EventOutcome, error) {
		u.SubscriptionTier = models.TierPro
		return models.OutcomeApplied, nil
	}

	tests := []struct {
		name    string
		keys    store.UserKeys
		wantErr *apperrors.StandardError
		wantID  string
	}{
		{name: "by user id", keys: store.UserKeys{UserID: "user-1"}, wantID: "user-1"},
		{name: "by subscription", keys: store.UserKeys{UserID: "ghost", SubscriptionID: "sub_2"}, wantID: "user-2"},
		{name: "by customer", keys: store.UserKeys{CustomerID: "cus_2"}, wantID: "user-2"},
		{name: "by email", keys: store.UserKeys{Email: "A@EXAMPLE.COM"}, wantID: "user-1"},
		{name: "unresolved", keys: store.UserKeys{CustomerID: "cus_404"}, wantErr: apperrors.ErrUserNotResolved},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New()
			seedUser(t, s, "user-1", "a@example.com")
			seedUser(t, s, "user-2", "b@example.com")
			_, err := s.UpdateUser(context.Background(), "user-2", func(u *models.User) error {
				u.StripeCustomerID, u.StripeSubscriptionID = "cus_2", "sub_2"
				return nil
			})
			require.NoError(t, err)

			ev := &models.StripeEvent{EventID: "evt_1", Type: "invoice.paid", CreatedAt: time.Now()}
			u, err := s.ProcessEvent(context.Background(), ev, tt.keys, applyPro)

			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr))
				assert.Equal(t, 0, s.EventCount())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, u.ID)
			assert.Equal(t, models.TierPro, u.SubscriptionTier)

			recorded, err := s.GetEvent(context.Background(), "evt_1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, recorded.UserID)
			assert.Equal(t, models.OutcomeApplied, recorded.Outcome)
		})
	}
}

func TestStore_ProcessEvent_DuplicateIsNoOp(t *testing.T) {
	s := New()
	seedUser(t, s, "user-1", "a@example.com")

	calls := 0
	fn := func(u *models.User) (models.EventOutcome, error) {
		calls++
		u.AnalysesUsed++
		return models.OutcomeApplied, nil
	}
	ev := func() *models.StripeEvent {
		return &models.StripeEvent{EventID: "evt_dup", Type: "invoice.paid", CreatedAt: time.Now()}
	}

	_, err := s.ProcessEvent(context.Background(), ev(), store.UserKeys{UserID: "user-1"}, fn)
	require.NoError(t, err)
	_, err = s.ProcessEvent(context.Background(), ev(), store.UserKeys{UserID: "user-1"}, fn)
	assert.True(t, errors.Is(err, apperrors.ErrDuplicateEvent))

	u, _ := s.GetUser(context.Background(), "user-1")
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, u.AnalysesUsed)
	assert.Equal(t, 1, s.EventCount())
}

func TestStore_ListStaleSubscriptions(t *testing.T) {
	s := New()
	now := time.Now().UTC()
	old := now.Add(-2 * time.Hour)
	fresh := now.Add(-time.Minute)

	for _, tc := range []struct {
		id       string
		status   models.SubscriptionStatus
		verified *time.Time
	}{
		{"never", models.StatusActive, nil},
		{"old", models.StatusPastDue, &old},
		{"fresh", models.StatusActive, &fresh},
		{"canceled", models.StatusCanceled, &old},
	} {
		tc := tc
		seedUser(t, s, tc.id, tc.id+"@example.com")
		_, err := s.UpdateUser(context.Background(), tc.id, func(u *models.User) error {
			u.StripeCustomerID = "cus_" + tc.id
			u.SubscriptionStatus = tc.status
			u.LastVerifiedFromStripeAt = tc.verified
			return nil
		})
		require.NoError(t, err)
	}

	ids, err := s.ListStaleSubscriptions(context.Background(), now.Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"never", "old"}, ids)

	ids, err = s.ListStaleSubscriptions(context.Background(), now.Add(-time.Hour), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"never"}, ids)
}

func TestStore_Analyses_NewestFirst(t *testing.T) {
	s := New()
	seedUser(t, s, "user-1", "a@example.com")

	for _, id := range []string{"an-1", "an-2", "an-3"} {
		require.NoError(t, s.SaveAnalysis(context.Background(), &models.PropertyAnalysis{ID: id, UserID: "user-1"}))
	}

	list, err := s.ListAnalyses(context.Background(), "user-1", 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "an-3", list[0].ID)
	assert.Equal(t, "an-2", list[1].ID)

	err = s.SaveAnalysis(context.Background(), &models.PropertyAnalysis{ID: "x", UserID: "nobody"})
	assert.True(t, errors.Is(err, apperrors.ErrUserNotFound))
}
