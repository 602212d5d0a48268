// internal/workers/billing/reconcile-subscription/models.go
package reconcilesubscription

import (
	"time"

	"propiq-billing/internal/reconciler"
)

// Input names the user to reconcile. State, when present, is applied as
// provider truth instead of calling the provider.
type Input struct {
	UserID string                    `json:"userId"`
	State  *reconciler.ProviderState `json:"state,omitempty"`
}

// Output is the user's subscription after reconciliation.
type Output struct {
	UserID                   string     `json:"userId"`
	SubscriptionTier         string     `json:"subscriptionTier"`
	SubscriptionStatus       string     `json:"subscriptionStatus"`
	AnalysesLimit            int        `json:"analysesLimit"`
	LastVerifiedFromStripeAt *time.Time `json:"lastVerifiedFromStripeAt,omitempty"`
}

const inputSchema = `{
	"type": "object",
	"required": ["userId"],
	"properties": {
		"userId": {"type": "string", "minLength": 1},
		"state": {
			"type": "object",
			"required": ["status"],
			"properties": {
				"status": {"enum": ["none", "active", "trialing", "past_due", "unpaid", "incomplete", "canceled", "incomplete_expired"]},
				"tier": {"type": "string"},
				"priceId": {"type": "string"},
				"customerId": {"type": "string"},
				"subscriptionId": {"type": "string"},
				"currentPeriodEnd": {"type": "string", "format": "date-time"}
			}
		}
	}
}`
