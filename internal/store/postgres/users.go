// Package postgres is the lib/pq backed Store. Per-user serialization comes from
// SELECT ... FOR UPDATE row locks held for the length of each transaction.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	apperrors "propiq-billing/internal/common/errors"
	"propiq-billing/internal/models"
	"propiq-billing/internal/store"

	"github.com/lib/pq"
)

const userColumns = `id, email, password_hash, subscription_tier, analyses_used, analyses_limit,
	stripe_customer_id, stripe_subscription_id, subscription_status, current_period_end,
	last_verified_from_stripe_at, last_stripe_event_at, created_at, updated_at`

// Store implements store.Store on PostgreSQL.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// New wraps an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	now := s.now()
	u.CreatedAt, u.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, subscription_tier, analyses_used, analyses_limit,
			subscription_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		u.ID, u.Email, u.PasswordHash, u.SubscriptionTier, u.AnalysesUsed, u.AnalysesLimit,
		string(u.SubscriptionStatus), u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return apperrors.NewEmailTakenError(u.Email)
		}
		return apperrors.NewStoreFailedError("create_user", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewUserNotFoundError(userID)
		}
		return nil, apperrors.NewStoreFailedError("get_user", err)
	}
	return u, nil
}

func (s *Store) UpdateUser(ctx context.Context, userID string, fn store.MutateFunc) (*models.User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperrors.NewStoreFailedError("begin", err)
	}
	defer tx.Rollback()

	u, err := lockUser(ctx, tx, "id", userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewUserNotFoundError(userID)
		}
		return nil, apperrors.NewStoreFailedError("lock_user", err)
	}

	if err := fn(u); err != nil {
		return nil, err
	}

	if err := s.writeUser(ctx, tx, u); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, apperrors.NewStoreFailedError("commit", err)
	}
	return u, nil
}

func (s *Store) ListStaleSubscriptions(ctx context.Context, before time.Time, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM users
		WHERE subscription_status IN ('active', 'past_due')
			AND stripe_customer_id IS NOT NULL
			AND (last_verified_from_stripe_at IS NULL OR last_verified_from_stripe_at < $1)
		ORDER BY last_verified_from_stripe_at NULLS FIRST
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, apperrors.NewStoreFailedError("list_stale", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.NewStoreFailedError("list_stale", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStoreFailedError("list_stale", err)
	}
	return ids, nil
}

// lockUser selects one user by an indexed column and holds its row lock.
// column is always a constant chosen by this package.
func lockUser(ctx context.Context, tx *sql.Tx, column, value string) (*models.User, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+column+` = $1 FOR UPDATE`, value)
	return scanUser(row)
}

func (s *Store) writeUser(ctx context.Context, tx *sql.Tx, u *models.User) error {
	u.UpdatedAt = s.now()
	_, err := tx.ExecContext(ctx, `
		UPDATE users SET
			subscription_tier = $2,
			analyses_used = $3,
			analyses_limit = $4,
			stripe_customer_id = $5,
			stripe_subscription_id = $6,
			subscription_status = $7,
			current_period_end = $8,
			last_verified_from_stripe_at = $9,
			last_stripe_event_at = $10,
			updated_at = $11
		WHERE id = $1`,
		u.ID,
		u.SubscriptionTier,
		u.AnalysesUsed,
		u.AnalysesLimit,
		nullIfEmpty(u.StripeCustomerID),
		nullIfEmpty(u.StripeSubscriptionID),
		string(u.SubscriptionStatus),
		nullTime(u.CurrentPeriodEnd),
		nullTime(u.LastVerifiedFromStripeAt),
		nullTime(u.LastStripeEventAt),
		u.UpdatedAt,
	)
	if err != nil {
		return apperrors.NewStoreFailedError("update_user", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u                                models.User
		tier, status                     string
		customerID, subscriptionID       sql.NullString
		periodEnd, verifiedAt, lastEvent sql.NullTime
	)
	err := row.Scan(
		&u.ID, &u.Email, &u.PasswordHash, &tier, &u.AnalysesUsed, &u.AnalysesLimit,
		&customerID, &subscriptionID, &status, &periodEnd,
		&verifiedAt, &lastEvent, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.SubscriptionTier = models.Tier(tier)
	u.SubscriptionStatus = models.SubscriptionStatus(status)
	u.StripeCustomerID = customerID.String
	u.StripeSubscriptionID = subscriptionID.String
	u.CurrentPeriodEnd = timePtr(periodEnd)
	u.LastVerifiedFromStripeAt = timePtr(verifiedAt)
	u.LastStripeEventAt = timePtr(lastEvent)
	return &u, nil
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
