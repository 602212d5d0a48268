// internal/workers/billing/reconcile-subscription/config.go
package reconcilesubscription

import "time"

type Config struct {
	Timeout time.Duration
}

func LoadConfig() *Config {
	return &Config{Timeout: 30 * time.Second}
}
