// Package billing holds the plan table and the subscription change model shared by
// webhook ingest and reconciliation.
package billing

import (
	"fmt"
	"sort"

	"propiq-billing/internal/common/config"
	"propiq-billing/internal/models"
)

// Plan is one row of the tier table.
type Plan struct {
	Tier          models.Tier
	AnalysesLimit int
}

// Plans resolves tiers to limits and provider price IDs to tiers.
type Plans struct {
	plans       map[models.Tier]Plan
	priceToTier map[string]models.Tier
	defaultTier models.Tier
}

// NewPlans builds the plan table from configuration.
func NewPlans(tiers map[string]config.TierConfig, defaultTier string) (*Plans, error) {
	p := &Plans{
		plans:       make(map[models.Tier]Plan, len(tiers)),
		priceToTier: map[string]models.Tier{},
		defaultTier: models.Tier(defaultTier),
	}
	for name, tc := range tiers {
		tier := models.Tier(name)
		p.plans[tier] = Plan{Tier: tier, AnalysesLimit: tc.AnalysesLimit}
		for _, priceID := range tc.StripePriceIDs {
			if other, dup := p.priceToTier[priceID]; dup {
				return nil, fmt.Errorf("price %s mapped to both %s and %s", priceID, other, tier)
			}
			p.priceToTier[priceID] = tier
		}
	}
	if _, ok := p.plans[p.defaultTier]; !ok {
		return nil, fmt.Errorf("default tier %q is not defined", defaultTier)
	}
	return p, nil
}

// DefaultPlans is the stock free/starter/pro/elite table.
func DefaultPlans() *Plans {
	p, _ := NewPlans(config.DefaultTiers(), string(models.TierFree))
	return p
}

// Default is the tier assigned at signup and after cancellation.
func (p *Plans) Default() Plan {
	return p.plans[p.defaultTier]
}

// Lookup returns the plan for tier.
func (p *Plans) Lookup(tier models.Tier) (Plan, bool) {
	plan, ok := p.plans[tier]
	return plan, ok
}

// LimitFor returns the analysis limit for tier, falling back to the default plan.
func (p *Plans) LimitFor(tier models.Tier) int {
	if plan, ok := p.plans[tier]; ok {
		return plan.AnalysesLimit
	}
	return p.Default().AnalysesLimit
}

// TierForPrice maps a provider price ID to its tier.
func (p *Plans) TierForPrice(priceID string) (models.Tier, bool) {
	tier, ok := p.priceToTier[priceID]
	return tier, ok
}

// Tiers lists configured tiers in name order.
func (p *Plans) Tiers() []models.Tier {
	out := make([]models.Tier, 0, len(p.plans))
	for t := range p.plans {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
