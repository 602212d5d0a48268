package reconciler

import (
	"context"
	"errors"
	"net/http"
	"time"

	apperrors "propiq-billing/internal/common/errors"
	"propiq-billing/internal/models"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

// ProviderState is the payment provider's view of one customer's subscription.
type ProviderState struct {
	CustomerID       string                    `json:"customerId,omitempty"`
	SubscriptionID   string                    `json:"subscriptionId,omitempty"`
	Status           models.SubscriptionStatus `json:"status"`
	Tier             models.Tier               `json:"tier,omitempty"`
	PriceID          string                    `json:"priceId,omitempty"`
	CurrentPeriodEnd *time.Time                `json:"currentPeriodEnd,omitempty"`
}

// Provider fetches authoritative subscription state.
type Provider interface {
	FetchSubscription(ctx context.Context, customerID, subscriptionID string) (*ProviderState, error)
}

// StripeProvider reads subscriptions through the Stripe API.
type StripeProvider struct {
	api *client.API
}

// NewStripeProvider builds a client on httpClient so provider calls share its
// timeout and error logging.
func NewStripeProvider(secretKey string, httpClient *http.Client) (*StripeProvider, error) {
	if secretKey == "" {
		return nil, apperrors.NewConfigurationError("stripe secret key is not set")
	}
	return &StripeProvider{api: client.New(secretKey, stripe.NewBackends(httpClient))}, nil
}

// NewStripeProviderWithBackends is used by tests to point the client at a local
// server.
func NewStripeProviderWithBackends(secretKey string, backends *stripe.Backends) *StripeProvider {
	return &StripeProvider{api: client.New(secretKey, backends)}
}

// FetchSubscription looks the subscription up by ID, or else takes the newest
// subscription of the customer. A customer with no subscription is reported as
// canceled.
func (p *StripeProvider) FetchSubscription(ctx context.Context, customerID, subscriptionID string) (*ProviderState, error) {
	if subscriptionID != "" {
		params := &stripe.SubscriptionParams{}
		params.Context = ctx
		sub, err := p.api.Subscriptions.Get(subscriptionID, params)
		if err == nil {
			return stateFromSubscription(sub), nil
		}
		if !isResourceMissing(err) {
			return nil, apperrors.NewProviderOutageError("stripe", err)
		}
		if customerID == "" {
			return &ProviderState{SubscriptionID: subscriptionID, Status: models.StatusCanceled}, nil
		}
	}

	if customerID == "" {
		return nil, apperrors.NewPayloadInvalidError("customer or subscription id required")
	}

	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String("all"),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(1)
	params.Single = true

	iter := p.api.Subscriptions.List(params)
	if iter.Next() {
		return stateFromSubscription(iter.Subscription()), nil
	}
	if err := iter.Err(); err != nil {
		if isResourceMissing(err) {
			return &ProviderState{CustomerID: customerID, Status: models.StatusCanceled}, nil
		}
		return nil, apperrors.NewProviderOutageError("stripe", err)
	}
	return &ProviderState{CustomerID: customerID, Status: models.StatusCanceled}, nil
}

func stateFromSubscription(sub *stripe.Subscription) *ProviderState {
	st := &ProviderState{
		SubscriptionID: sub.ID,
		Status:         models.ParseSubscriptionStatus(string(sub.Status)),
		Tier:           models.Tier(sub.Metadata["tier"]),
	}
	if st.Status == models.StatusNone {
		st.Status = models.StatusCanceled
	}
	if sub.Customer != nil {
		st.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item != nil && item.Price != nil {
				st.PriceID = item.Price.ID
				break
			}
		}
	}
	if sub.CurrentPeriodEnd > 0 {
		end := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		st.CurrentPeriodEnd = &end
	}
	return st
}

func isResourceMissing(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.HTTPStatusCode == http.StatusNotFound || stripeErr.Code == stripe.ErrorCodeResourceMissing
	}
	return false
}
