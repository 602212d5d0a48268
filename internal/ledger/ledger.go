// Package ledger gates AI analyses on the per-user quota. Every counter change is
// a single serialized read-modify-write in the store, so a user can never be
// over-reserved however many requests race.
package ledger

import (
	"context"

	apperrors "propiq-billing/internal/common/errors"
	"propiq-billing/internal/common/logger"
	"propiq-billing/internal/common/metrics"
	"propiq-billing/internal/models"
	"propiq-billing/internal/store"
)

// Reservation is the quota state right after a successful reservation.
type Reservation struct {
	UserID        string      `json:"userId"`
	Tier          models.Tier `json:"tier"`
	AnalysesUsed  int         `json:"analysesUsed"`
	AnalysesLimit int         `json:"analysesLimit"`
	Remaining     int         `json:"analysesRemaining"`
}

type Ledger struct {
	store  store.Store
	logger logger.Logger
}

func New(s store.Store, log logger.Logger) *Ledger {
	return &Ledger{
		store:  s,
		logger: log.WithFields(map[string]interface{}{"component": "ledger"}),
	}
}

// ReserveAnalysisSlot consumes one analysis for userID, or fails with
// LIMIT_REACHED leaving the counters untouched.
func (l *Ledger) ReserveAnalysisSlot(ctx context.Context, userID string) (*Reservation, error) {
	u, err := l.store.UpdateUser(ctx, userID, func(u *models.User) error {
		if u.AnalysesUsed >= u.AnalysesLimit {
			e := apperrors.NewLimitReachedError(u.ID, u.AnalysesUsed, u.AnalysesLimit)
			e.Metadata["tier"] = string(u.SubscriptionTier)
			return e
		}
		u.AnalysesUsed++
		return nil
	})
	if err != nil {
		if std := apperrors.AsStandard(err); std.Code == apperrors.ErrCodeLimitReached {
			metrics.QuotaReservations.WithLabelValues(tierLabel(std), "limit_reached").Inc()
			l.logger.Info("analysis limit reached", map[string]interface{}{
				"userId": userID,
				"used":   std.Metadata["analysesUsed"],
				"limit":  std.Metadata["analysesLimit"],
			})
		}
		return nil, err
	}

	metrics.QuotaReservations.WithLabelValues(string(u.SubscriptionTier), "reserved").Inc()
	l.logger.Debug("analysis slot reserved", map[string]interface{}{
		"userId":    u.ID,
		"used":      u.AnalysesUsed,
		"limit":     u.AnalysesLimit,
		"remaining": u.Remaining(),
	})
	return reservationFor(u), nil
}

// ReleaseAnalysisSlot hands back a slot whose analysis did not complete. The
// counter never drops below zero.
func (l *Ledger) ReleaseAnalysisSlot(ctx context.Context, userID string) error {
	_, err := l.store.UpdateUser(ctx, userID, func(u *models.User) error {
		if u.AnalysesUsed > 0 {
			u.AnalysesUsed--
		}
		return nil
	})
	if err != nil {
		l.logger.Error("failed to release analysis slot", map[string]interface{}{
			"userId": userID,
			"error":  err.Error(),
		})
		return err
	}
	metrics.QuotaReleases.Inc()
	return nil
}

// Usage reads the counters without changing them.
func (l *Ledger) Usage(ctx context.Context, userID string) (models.Usage, error) {
	u, err := l.store.GetUser(ctx, userID)
	if err != nil {
		return models.Usage{}, err
	}
	return u.Usage(), nil
}

func reservationFor(u *models.User) *Reservation {
	return &Reservation{
		UserID:        u.ID,
		Tier:          u.SubscriptionTier,
		AnalysesUsed:  u.AnalysesUsed,
		AnalysesLimit: u.AnalysesLimit,
		Remaining:     u.Remaining(),
	}
}

func tierLabel(e *apperrors.StandardError) string {
	if t, ok := e.Metadata["tier"].(string); ok {
		return t
	}
	return "unknown"
}
