package webhook

import (
	"context"
	"errors"
	"time"

	"propiq-billing/internal/billing"
	"propiq-billing/internal/common/aws"
	apperrors "propiq-billing/internal/common/errors"
	"propiq-billing/internal/common/logger"
	"propiq-billing/internal/common/metrics"
	"propiq-billing/internal/entitlement"
	"propiq-billing/internal/models"
	"propiq-billing/internal/store"

	"github.com/stripe/stripe-go/v79"
)

// OutcomeDuplicate marks a redelivery of an already recorded event. It is a
// success, not an error.
const OutcomeDuplicate models.EventOutcome = "duplicate"

// Result describes what one delivery did.
type Result struct {
	EventID string              `json:"eventId"`
	Type    string              `json:"type"`
	Outcome models.EventOutcome `json:"outcome"`
	UserID  string              `json:"userId,omitempty"`
}

// Processor applies verified provider events to the store.
type Processor struct {
	store    store.Store
	plans    *billing.Plans
	cache    *entitlement.Cache
	notifier aws.Notifier
	logger   logger.Logger
}

func NewProcessor(s store.Store, plans *billing.Plans, cache *entitlement.Cache, notifier aws.Notifier, log logger.Logger) *Processor {
	if notifier == nil {
		notifier = aws.NoopNotifier{}
	}
	return &Processor{
		store:    s,
		plans:    plans,
		cache:    cache,
		notifier: notifier,
		logger:   log.WithFields(map[string]interface{}{"component": "webhook"}),
	}
}

// Process records event exactly once and applies its subscription effect in the
// same transaction. Unknown event types are recorded as ignored.
func (p *Processor) Process(ctx context.Context, event stripe.Event) (*Result, error) {
	start := time.Now()
	eventType := string(event.Type)
	defer func() {
		metrics.WebhookDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}()

	if event.ID == "" {
		return nil, apperrors.NewPayloadInvalidError("event id is missing")
	}
	log := p.logger.WithFields(map[string]interface{}{"eventId": event.ID, "eventType": eventType})

	tr, err := translate(p.plans, event)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues(eventType, "invalid").Inc()
		log.Warn("rejecting webhook payload", map[string]interface{}{"error": err.Error()})
		return nil, err
	}

	record := &models.StripeEvent{
		EventID:   event.ID,
		Type:      eventType,
		CreatedAt: time.Unix(event.Created, 0).UTC(),
	}

	var fn store.EventFunc
	var keys store.UserKeys
	if tr != nil {
		keys = tr.keys
		fn = func(u *models.User) (models.EventOutcome, error) {
			return p.plans.Apply(u, tr.change), nil
		}
	} else {
		log.Info("ignoring unhandled event type", nil)
	}

	u, err := p.store.ProcessEvent(ctx, record, keys, fn)
	if err != nil {
		if errors.Is(err, apperrors.ErrDuplicateEvent) {
			metrics.WebhookEvents.WithLabelValues(eventType, string(OutcomeDuplicate)).Inc()
			log.Info("duplicate delivery, nothing to do", nil)
			return &Result{EventID: event.ID, Type: eventType, Outcome: OutcomeDuplicate}, nil
		}
		std := apperrors.AsStandard(err)
		metrics.WebhookEvents.WithLabelValues(eventType, string(std.Code)).Inc()
		log.Error("webhook processing failed", map[string]interface{}{
			"errorCode": string(std.Code),
			"retryable": std.Retryable,
			"error":     err.Error(),
		})
		return nil, err
	}

	metrics.WebhookEvents.WithLabelValues(eventType, string(record.Outcome)).Inc()
	res := &Result{EventID: event.ID, Type: eventType, Outcome: record.Outcome, UserID: record.UserID}
	if u == nil {
		return res, nil
	}

	p.cache.Invalidate(ctx, u.ID)
	log.Info("webhook applied", map[string]interface{}{
		"userId":  u.ID,
		"outcome": string(record.Outcome),
		"tier":    string(u.SubscriptionTier),
		"status":  string(u.SubscriptionStatus),
	})

	if record.Outcome == models.OutcomeApplied {
		p.notify(ctx, u, record)
	}
	return res, nil
}

// notify runs after commit; a failed publish is logged and never undoes the
// change.
func (p *Processor) notify(ctx context.Context, u *models.User, record *models.StripeEvent) {
	err := p.notifier.SubscriptionChanged(ctx, models.SubscriptionChanged{
		UserID:           u.ID,
		Source:           "webhook",
		EventID:          record.EventID,
		EventType:        record.Type,
		Tier:             u.SubscriptionTier,
		Status:           u.SubscriptionStatus,
		AnalysesLimit:    u.AnalysesLimit,
		CurrentPeriodEnd: u.CurrentPeriodEnd,
		OccurredAt:       record.ProcessedAt,
	})
	if err != nil {
		p.logger.Warn("subscription change notification failed", map[string]interface{}{
			"userId": u.ID,
			"error":  apperrors.NewNotificationFailedError(err).Error(),
		})
	}
}
