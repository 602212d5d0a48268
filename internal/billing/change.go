package billing

import (
	"time"

	"propiq-billing/internal/models"
)

// Change is a provider-derived update to a user's subscription fields. Empty
// fields leave the user's value untouched.
type Change struct {
	CustomerID       string
	SubscriptionID   string
	Tier             models.Tier
	Status           models.SubscriptionStatus
	CurrentPeriodEnd *time.Time
	// EventAt is the provider's creation time of the event carrying the change.
	EventAt time.Time
}

// Apply merges c into u.
//
// A change older than the newest event already applied is stale: it may only
// fill identity fields that are still empty and push the period end forward. It
// never regresses status. Its tier is taken only while an active user still sits
// on the default tier, which happens when a newer invoice carried no plan
// information. Period end only moves forward in both cases, so two events
// describing the same subscription converge in either order.
func (p *Plans) Apply(u *models.User, c Change) models.EventOutcome {
	stale := !c.EventAt.IsZero() && u.LastStripeEventAt != nil && c.EventAt.Before(*u.LastStripeEventAt)

	if stale {
		if u.StripeCustomerID == "" {
			u.StripeCustomerID = c.CustomerID
		}
		if u.StripeSubscriptionID == "" {
			u.StripeSubscriptionID = c.SubscriptionID
		}
		if c.Tier != "" && c.Status == models.StatusActive &&
			u.SubscriptionStatus == models.StatusActive && u.SubscriptionTier == p.defaultTier {
			p.SetTier(u, c.Tier)
		}
		u.CurrentPeriodEnd = laterOf(u.CurrentPeriodEnd, c.CurrentPeriodEnd)
		return models.OutcomeStale
	}

	if c.CustomerID != "" {
		u.StripeCustomerID = c.CustomerID
	}
	if c.SubscriptionID != "" {
		u.StripeSubscriptionID = c.SubscriptionID
	}
	if c.Tier != "" {
		p.SetTier(u, c.Tier)
	}
	if c.Status != models.StatusNone {
		u.SubscriptionStatus = c.Status
	}
	u.CurrentPeriodEnd = laterOf(u.CurrentPeriodEnd, c.CurrentPeriodEnd)
	if !c.EventAt.IsZero() {
		at := c.EventAt.UTC()
		u.LastStripeEventAt = &at
	}
	return models.OutcomeApplied
}

// SetTier moves u to tier and recomputes the limit. Usage is kept.
func (p *Plans) SetTier(u *models.User, tier models.Tier) {
	u.SubscriptionTier = tier
	u.AnalysesLimit = p.LimitFor(tier)
}

func laterOf(a, b *time.Time) *time.Time {
	switch {
	case b == nil:
		return a
	case a == nil || b.After(*a):
		t := b.UTC()
		return &t
	default:
		return a
	}
}
