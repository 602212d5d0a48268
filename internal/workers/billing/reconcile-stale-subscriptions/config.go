// internal/workers/billing/reconcile-stale-subscriptions/config.go
package reconcilestale

import "time"

type Config struct {
	// Timeout bounds a whole sweep, so it is longer than single-user jobs.
	Timeout time.Duration
}

func LoadConfig() *Config {
	return &Config{Timeout: 5 * time.Minute}
}
