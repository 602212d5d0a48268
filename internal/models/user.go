package models

import "time"

// Tier is a subscription plan.
type Tier string

const (
	TierFree    Tier = "free"
	TierStarter Tier = "starter"
	TierPro     Tier = "pro"
	TierElite   Tier = "elite"
)

// SubscriptionStatus mirrors the provider's subscription lifecycle.
// StatusNone is a user that never subscribed.
type SubscriptionStatus string

const (
	StatusNone     SubscriptionStatus = ""
	StatusActive   SubscriptionStatus = "active"
	StatusPastDue  SubscriptionStatus = "past_due"
	StatusCanceled SubscriptionStatus = "canceled"
)

// ParseSubscriptionStatus maps provider statuses onto the ones tracked here.
// trialing counts as active; unpaid and incomplete count as past_due.
func ParseSubscriptionStatus(s string) SubscriptionStatus {
	switch s {
	case "active", "trialing":
		return StatusActive
	case "past_due", "unpaid", "incomplete":
		return StatusPastDue
	case "canceled", "incomplete_expired":
		return StatusCanceled
	default:
		return StatusNone
	}
}

// User carries identity plus entitlement state.
type User struct {
	ID                       string             `json:"id"`
	Email                    string             `json:"email"`
	PasswordHash             string             `json:"-"`
	SubscriptionTier         Tier               `json:"subscriptionTier"`
	AnalysesUsed             int                `json:"analysesUsed"`
	AnalysesLimit            int                `json:"analysesLimit"`
	StripeCustomerID         string             `json:"stripeCustomerId,omitempty"`
	StripeSubscriptionID     string             `json:"stripeSubscriptionId,omitempty"`
	SubscriptionStatus       SubscriptionStatus `json:"subscriptionStatus"`
	CurrentPeriodEnd         *time.Time         `json:"currentPeriodEnd,omitempty"`
	LastVerifiedFromStripeAt *time.Time         `json:"lastVerifiedFromStripeAt,omitempty"`
	LastStripeEventAt        *time.Time         `json:"lastStripeEventAt,omitempty"`
	CreatedAt                time.Time          `json:"createdAt"`
	UpdatedAt                time.Time          `json:"updatedAt"`
}

// Remaining is the number of analyses left in the current allowance.
func (u *User) Remaining() int {
	if r := u.AnalysesLimit - u.AnalysesUsed; r > 0 {
		return r
	}
	return 0
}

// Subscription is the cacheable entitlement slice of a User.
type Subscription struct {
	UserID                   string             `json:"userId"`
	Tier                     Tier               `json:"tier"`
	Status                   SubscriptionStatus `json:"status"`
	StripeCustomerID         string             `json:"stripeCustomerId,omitempty"`
	StripeSubscriptionID     string             `json:"stripeSubscriptionId,omitempty"`
	CurrentPeriodEnd         *time.Time         `json:"currentPeriodEnd,omitempty"`
	LastVerifiedFromStripeAt *time.Time         `json:"lastVerifiedFromStripeAt,omitempty"`
}

// Subscription extracts the entitlement snapshot.
func (u *User) Subscription() Subscription {
	return Subscription{
		UserID:                   u.ID,
		Tier:                     u.SubscriptionTier,
		Status:                   u.SubscriptionStatus,
		StripeCustomerID:         u.StripeCustomerID,
		StripeSubscriptionID:     u.StripeSubscriptionID,
		CurrentPeriodEnd:         u.CurrentPeriodEnd,
		LastVerifiedFromStripeAt: u.LastVerifiedFromStripeAt,
	}
}

// Usage is the read-only quota view.
type Usage struct {
	UserID        string `json:"userId"`
	Tier          Tier   `json:"tier"`
	AnalysesUsed  int    `json:"analysesUsed"`
	AnalysesLimit int    `json:"analysesLimit"`
	Remaining     int    `json:"analysesRemaining"`
}

// Usage extracts the quota counters.
func (u *User) Usage() Usage {
	return Usage{
		UserID:        u.ID,
		Tier:          u.SubscriptionTier,
		AnalysesUsed:  u.AnalysesUsed,
		AnalysesLimit: u.AnalysesLimit,
		Remaining:     u.Remaining(),
	}
}
