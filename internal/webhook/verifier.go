// Package webhook turns signed Stripe deliveries into subscription changes,
// applying each provider event at most once.
package webhook

import (
	apperrors "propiq-billing/internal/common/errors"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

// MaxBodyBytes caps how much of a delivery is read before verification.
const MaxBodyBytes = int64(65536)

// Verifier checks the Stripe-Signature header against the endpoint secret.
type Verifier struct {
	secret string
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: secret}
}

// Verify authenticates payload and decodes the event envelope. A missing secret
// is a configuration error, never a silent accept.
func (v *Verifier) Verify(payload []byte, sigHeader string) (stripe.Event, error) {
	if v.secret == "" {
		return stripe.Event{}, apperrors.NewConfigurationError("stripe webhook secret is not set")
	}
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, apperrors.NewSignatureInvalidError(err)
	}
	return event, nil
}
