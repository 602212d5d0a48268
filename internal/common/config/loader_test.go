package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromFile_ProjectConfig(t *testing.T) {
	t.Setenv("DB_USER", "billing")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_env")
	t.Setenv("ADMIN_TOKEN", "")

	cfg, err := LoadFromFile(filepath.Join("..", "..", "..", "configs", "config.yaml"))

	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "billing", cfg.Database.Postgres.User)
	assert.Equal(t, "whsec_env", cfg.Stripe.WebhookSecret)
	assert.Empty(t, cfg.HTTP.AdminToken)
	assert.Equal(t, 10*time.Minute, cfg.Billing.GracePeriodDuration())
	assert.Equal(t, 3, cfg.Tiers["free"].AnalysesLimit)
	assert.Equal(t, []string{"price_pro_monthly"}, cfg.Tiers["pro"].StripePriceIDs)

	w := GetWorkerConfig(cfg, "billing-check-entitlement")
	assert.True(t, w.Enabled)
	assert.Equal(t, 10, w.MaxJobsActive)
}

func TestLoadFromFile_DefaultsForMemoryDriver(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, "database:\n  driver: memory\n"))

	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTP.Address)
	assert.Equal(t, "free", cfg.Billing.DefaultTier)
	assert.Equal(t, 4, cfg.Billing.ReconcileWorkers)
	assert.Equal(t, time.Hour, GetDuration(cfg.Billing.StaleAfter))
	assert.Equal(t, DefaultTiers(), cfg.Tiers)
	assert.Equal(t, "gpt-4o-mini", cfg.APIs.OpenAI.Model)
}

func TestLoadFromFile_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"postgres without host", "database:\n  driver: postgres\n  postgres:\n    database: x\n    user: y\n"},
		{"unknown driver", "database:\n  driver: mongo\n"},
		{"camunda without broker", "database:\n  driver: memory\ncamunda:\n  enabled: true\n"},
		{"default tier missing", "database:\n  driver: memory\nbilling:\n  default_tier: trial\n"},
		{"negative limit", "database:\n  driver: memory\ntiers:\n  free:\n    analyses_limit: -1\n"},
		{"sns without topic", "database:\n  driver: memory\nnotifications:\n  sns:\n    enabled: true\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromFile(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}
