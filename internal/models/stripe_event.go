package models

import "time"

// EventOutcome records what processing a provider event did.
type EventOutcome string

const (
	OutcomeApplied EventOutcome = "applied"
	OutcomeStale   EventOutcome = "stale"
	OutcomeIgnored EventOutcome = "ignored"
)

// StripeEvent is one row of the append-only idempotency log.
type StripeEvent struct {
	EventID     string       `json:"eventId"`
	Type        string       `json:"type"`
	CreatedAt   time.Time    `json:"createdAt"`
	ProcessedAt time.Time    `json:"processedAt"`
	UserID      string       `json:"userId,omitempty"`
	Outcome     EventOutcome `json:"outcome"`
}

// SubscriptionChanged is published after a committed change to a user's
// subscription state.
type SubscriptionChanged struct {
	UserID           string             `json:"userId"`
	Source           string             `json:"source"` // "webhook" or "reconciler"
	EventID          string             `json:"eventId,omitempty"`
	EventType        string             `json:"eventType,omitempty"`
	Tier             Tier               `json:"tier"`
	Status           SubscriptionStatus `json:"status"`
	AnalysesLimit    int                `json:"analysesLimit"`
	CurrentPeriodEnd *time.Time         `json:"currentPeriodEnd,omitempty"`
	OccurredAt       time.Time          `json:"occurredAt"`
}
