// internal/workers/billing/check-entitlement/config.go
package checkentitlement

import "time"

type Config struct {
	Timeout time.Duration
}

func LoadConfig() *Config {
	return &Config{Timeout: 10 * time.Second}
}
