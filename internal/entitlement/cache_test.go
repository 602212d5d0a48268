package entitlement

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"propiq-billing/internal/common/logger"
	"propiq-billing/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createSubscription(userID string) models.Subscription {
	end := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	return models.Subscription{
		UserID:               userID,
		Tier:                 models.TierPro,
		Status:               models.StatusActive,
		StripeCustomerID:     "cus_1",
		StripeSubscriptionID: "sub_1",
		CurrentPeriodEnd:     &end,
	}
}

func TestCache_Get(t *testing.T) {
	sub := createSubscription("user-1")
	data, _ := json.Marshal(sub)

	tests := []struct {
		name   string
		setup  func(m redismock.ClientMock)
		wantOK bool
	}{
		{
			name:   "hit",
			setup:  func(m redismock.ClientMock) { m.ExpectGet("sub:user-1").SetVal(string(data)) },
			wantOK: true,
		},
		{
			name:  "miss",
			setup: func(m redismock.ClientMock) { m.ExpectGet("sub:user-1").RedisNil() },
		},
		{
			name:  "redis error is a miss",
			setup: func(m redismock.ClientMock) { m.ExpectGet("sub:user-1").SetErr(errors.New("connection reset")) },
		},
		{
			name:  "corrupt entry is a miss",
			setup: func(m redismock.ClientMock) { m.ExpectGet("sub:user-1").SetVal("{not json") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, mock := redismock.NewClientMock()
			tt.setup(mock)

			c := NewCache(client, time.Minute, logger.NewTestLogger(t))
			got, ok := c.Get(context.Background(), "user-1")

			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, sub.Tier, got.Tier)
				assert.Equal(t, sub.Status, got.Status)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestCache_SetUsesConfiguredTTL(t *testing.T) {
	client, mock := redismock.NewClientMock()
	sub := createSubscription("user-1")
	data, _ := json.Marshal(sub)

	mock.ExpectSet("sub:user-1", data, 90*time.Second).SetVal("OK")

	c := NewCache(client, 90*time.Second, logger.NewTestLogger(t))
	c.Set(context.Background(), sub)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCache_InvalidateRemovesEntry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	c := NewCache(client, time.Minute, logger.NewTestLogger(t))
	ctx := context.Background()

	c.Set(ctx, createSubscription("user-1"))
	require.True(t, mr.Exists("sub:user-1"))

	_, ok := c.Get(ctx, "user-1")
	assert.True(t, ok)

	c.Invalidate(ctx, "user-1")
	assert.False(t, mr.Exists("sub:user-1"))

	mr.FastForward(2 * time.Minute)
	_, ok = c.Get(ctx, "user-1")
	assert.False(t, ok)
}

func TestCache_NilClientIsDisabled(t *testing.T) {
	c := NewCache(nil, 0, logger.NewNoOpLogger())
	ctx := context.Background()

	c.Set(ctx, createSubscription("user-1"))
	c.Invalidate(ctx, "user-1")
	_, ok := c.Get(ctx, "user-1")
	assert.False(t, ok)
}
