package webhook

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"propiq-billing/internal/billing"
	apperrors "propiq-billing/internal/common/errors"
	"propiq-billing/internal/models"
	"propiq-billing/internal/store"

	"github.com/stripe/stripe-go/v79"
)

// Event types with a subscription effect.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventInvoicePaid         = "invoice.paid"
	EventInvoiceSucceeded    = "invoice.payment_succeeded"
	EventInvoiceFailed       = "invoice.payment_failed"
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

// Metadata keys set on checkout sessions and subscriptions when they are created.
const (
	metaUserID  = "userId"
	metaTier    = "tier"
	metaPriceID = "priceId"
)

// translation is what one provider event asks of the store.
type translation struct {
	change billing.Change
	keys   store.UserKeys
}

// translate maps a verified event onto a change. It returns nil for event types
// that carry no subscription effect.
func translate(plans *billing.Plans, event stripe.Event) (*translation, error) {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, apperrors.NewPayloadInvalidError("event has no data object")
	}
	eventAt := time.Unix(event.Created, 0).UTC()

	var (
		tr  *translation
		err error
	)
	switch string(event.Type) {
	case EventCheckoutCompleted:
		tr, err = fromCheckoutSession(plans, event.Data.Raw)
	case EventInvoicePaid, EventInvoiceSucceeded:
		tr, err = fromInvoice(plans, event.Data.Raw, models.StatusActive)
	case EventInvoiceFailed:
		tr, err = fromInvoice(plans, event.Data.Raw, models.StatusPastDue)
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		tr, err = fromSubscription(plans, event.Data.Raw, false)
	case EventSubscriptionDeleted:
		tr, err = fromSubscription(plans, event.Data.Raw, true)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if tr.keys.Empty() {
		return nil, apperrors.NewPayloadInvalidError(fmt.Sprintf("%s carries no customer reference", event.Type))
	}
	tr.change.EventAt = eventAt
	return tr, nil
}

func fromCheckoutSession(plans *billing.Plans, raw json.RawMessage) (*translation, error) {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, apperrors.NewPayloadInvalidError("invalid checkout session: " + err.Error())
	}

	userID := sess.Metadata[metaUserID]
	if userID == "" {
		userID = sess.ClientReferenceID
	}
	email := sess.CustomerEmail
	if email == "" && sess.CustomerDetails != nil {
		email = sess.CustomerDetails.Email
	}

	tr := &translation{
		keys: store.UserKeys{
			UserID:         userID,
			SubscriptionID: subscriptionID(sess.Subscription),
			CustomerID:     customerID(sess.Customer),
			Email:          normalizeEmail(email),
		},
		change: billing.Change{
			CustomerID:     customerID(sess.Customer),
			SubscriptionID: subscriptionID(sess.Subscription),
			Tier:           tierFromMetadata(plans, sess.Metadata),
			Status:         models.StatusActive,
		},
	}
	return tr, nil
}

func fromInvoice(plans *billing.Plans, raw json.RawMessage, status models.SubscriptionStatus) (*translation, error) {
	var inv stripe.Invoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return nil, apperrors.NewPayloadInvalidError("invalid invoice: " + err.Error())
	}

	tr := &translation{
		keys: store.UserKeys{
			UserID:         inv.Metadata[metaUserID],
			SubscriptionID: subscriptionID(inv.Subscription),
			CustomerID:     customerID(inv.Customer),
			Email:          normalizeEmail(inv.CustomerEmail),
		},
		change: billing.Change{
			CustomerID:     customerID(inv.Customer),
			SubscriptionID: subscriptionID(inv.Subscription),
			Status:         status,
		},
	}
	if status != models.StatusActive {
		return tr, nil
	}

	tr.change.Tier = tierFromMetadata(plans, inv.Metadata)
	if inv.Lines != nil {
		for _, line := range inv.Lines.Data {
			if line == nil {
				continue
			}
			if tr.change.Tier == "" && line.Price != nil {
				if tier, ok := plans.TierForPrice(line.Price.ID); ok {
					tr.change.Tier = tier
				}
			}
			if line.Period != nil && line.Period.End > 0 {
				end := time.Unix(line.Period.End, 0).UTC()
				if tr.change.CurrentPeriodEnd == nil || end.After(*tr.change.CurrentPeriodEnd) {
					tr.change.CurrentPeriodEnd = &end
				}
			}
		}
	}
	return tr, nil
}

func fromSubscription(plans *billing.Plans, raw json.RawMessage, deleted bool) (*translation, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, apperrors.NewPayloadInvalidError("invalid subscription: " + err.Error())
	}

	tr := &translation{
		keys: store.UserKeys{
			UserID:         sub.Metadata[metaUserID],
			SubscriptionID: sub.ID,
			CustomerID:     customerID(sub.Customer),
		},
		change: billing.Change{
			CustomerID:     customerID(sub.Customer),
			SubscriptionID: sub.ID,
		},
	}

	status := models.ParseSubscriptionStatus(string(sub.Status))
	if deleted {
		status = models.StatusCanceled
	}
	tr.change.Status = status

	if status == models.StatusCanceled {
		tr.change.Tier = plans.Default().Tier
		return tr, nil
	}
	tr.change.Tier = tierFromSubscription(plans, &sub)
	if sub.CurrentPeriodEnd > 0 {
		end := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		tr.change.CurrentPeriodEnd = &end
	}
	return tr, nil
}

func tierFromMetadata(plans *billing.Plans, meta map[string]string) models.Tier {
	if t := models.Tier(meta[metaTier]); t != "" {
		if _, ok := plans.Lookup(t); ok {
			return t
		}
	}
	if tier, ok := plans.TierForPrice(meta[metaPriceID]); ok {
		return tier
	}
	return ""
}

func tierFromSubscription(plans *billing.Plans, sub *stripe.Subscription) models.Tier {
	if tier := tierFromMetadata(plans, sub.Metadata); tier != "" {
		return tier
	}
	if sub.Items == nil {
		return ""
	}
	for _, item := range sub.Items.Data {
		if item == nil || item.Price == nil {
			continue
		}
		if tier, ok := plans.TierForPrice(item.Price.ID); ok {
			return tier
		}
	}
	return ""
}

// normalizeEmail matches the lowercased form accounts are stored under.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func customerID(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}

func subscriptionID(s *stripe.Subscription) string {
	if s == nil {
		return ""
	}
	return s.ID
}
