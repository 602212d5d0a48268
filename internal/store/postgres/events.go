package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	apperrors "propiq-billing/internal/common/errors"
	"propiq-billing/internal/models"
	"propiq-billing/internal/store"
)

// ProcessEvent claims ev.EventID with INSERT ... ON CONFLICT DO NOTHING. A
// concurrent delivery of the same ID blocks on the unique index until this
// transaction ends, then sees the conflict.
func (s *Store) ProcessEvent(ctx context.Context, ev *models.StripeEvent, keys store.UserKeys, fn store.EventFunc) (*models.User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperrors.NewStoreFailedError("begin", err)
	}
	defer tx.Rollback()

	ev.ProcessedAt = s.now()
	if ev.Outcome == "" {
		ev.Outcome = models.OutcomeIgnored
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO stripe_events (event_id, type, created_at, processed_at, outcome)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id) DO NOTHING`,
		ev.EventID, ev.Type, ev.CreatedAt, ev.ProcessedAt, string(ev.Outcome),
	)
	if err != nil {
		return nil, apperrors.NewStoreFailedError("insert_event", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, apperrors.NewStoreFailedError("insert_event", err)
	} else if n == 0 {
		return nil, apperrors.NewDuplicateEventError(ev.EventID)
	}

	if fn == nil {
		if err := tx.Commit(); err != nil {
			return nil, apperrors.NewStoreFailedError("commit", err)
		}
		return nil, nil
	}

	u, err := resolveUser(ctx, tx, keys)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewUserNotResolvedError(ev.EventID, ev.Type)
		}
		return nil, apperrors.NewStoreFailedError("resolve_user", err)
	}

	outcome, err := fn(u)
	if err != nil {
		return nil, err
	}
	ev.UserID, ev.Outcome = u.ID, outcome

	if err := s.writeUser(ctx, tx, u); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE stripe_events SET user_id = $2, outcome = $3 WHERE event_id = $1`,
		ev.EventID, u.ID, string(outcome),
	); err != nil {
		return nil, apperrors.NewStoreFailedError("update_event", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperrors.NewStoreFailedError("commit", err)
	}
	return u, nil
}

// GetEvent returns nil, nil when eventID was never recorded.
func (s *Store) GetEvent(ctx context.Context, eventID string) (*models.StripeEvent, error) {
	var (
		ev      models.StripeEvent
		userID  sql.NullString
		outcome string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT event_id, type, created_at, processed_at, user_id, outcome
		FROM stripe_events WHERE event_id = $1`, eventID,
	).Scan(&ev.EventID, &ev.Type, &ev.CreatedAt, &ev.ProcessedAt, &userID, &outcome)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apperrors.NewStoreFailedError("get_event", err)
	}
	ev.UserID = userID.String
	ev.Outcome = models.EventOutcome(outcome)
	return &ev, nil
}

func resolveUser(ctx context.Context, tx *sql.Tx, keys store.UserKeys) (*models.User, error) {
	lookups := []struct {
		column string
		value  string
	}{
		{"id", keys.UserID},
		{"stripe_subscription_id", keys.SubscriptionID},
		{"stripe_customer_id", keys.CustomerID},
		{"email", strings.ToLower(strings.TrimSpace(keys.Email))},
	}
	for _, l := range lookups {
		if l.value == "" {
			continue
		}
		u, err := lockUser(ctx, tx, l.column, l.value)
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
	}
	return nil, sql.ErrNoRows
}
