// internal/workers/billing/check-entitlement/models.go
package checkentitlement

import "time"

type Input struct {
	UserID string `json:"userId"`
}

// Output represents the entitlement decision for the workflow.
type Output struct {
	HasActiveAccess bool       `json:"hasActiveAccess"`
	Reason          string     `json:"reason"`
	TierLevel       string     `json:"tierLevel"`
	Status          string     `json:"subscriptionStatus"`
	GraceEndsAt     *time.Time `json:"graceEndsAt,omitempty"`
}
