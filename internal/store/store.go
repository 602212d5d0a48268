// Package store defines persistence for users, the provider event log and
// property analyses.
package store

import (
	"context"
	"time"

	"propiq-billing/internal/models"
)

// UserKeys identifies the user a provider event belongs to. Keys are tried in
// field order; empty keys are skipped.
type UserKeys struct {
	UserID         string
	SubscriptionID string
	CustomerID     string
	Email          string
}

// Empty reports whether no key is set.
func (k UserKeys) Empty() bool {
	return k.UserID == "" && k.SubscriptionID == "" && k.CustomerID == "" && k.Email == ""
}

// MutateFunc edits a locked user. Returning an error aborts the transaction
// without side effects.
type MutateFunc func(u *models.User) error

// EventFunc applies a provider event to the matched, locked user.
type EventFunc func(u *models.User) (models.EventOutcome, error)

// Store is implemented by the Postgres and in-memory backends. Every mutation of a
// single user is serialized with every other mutation of that user.
type Store interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, userID string) (*models.User, error)
	// UpdateUser runs fn on the locked user and persists the result atomically.
	UpdateUser(ctx context.Context, userID string, fn MutateFunc) (*models.User, error)
	// ListStaleSubscriptions returns paying users not verified since before.
	ListStaleSubscriptions(ctx context.Context, before time.Time, limit int) ([]string, error)

	// ProcessEvent records ev in the event log and, in the same transaction,
	// applies fn to the user matched by keys. A nil fn records the event only.
	// Returns errors.ErrDuplicateEvent when ev.EventID is already recorded and
	// errors.ErrUserNotResolved (nothing recorded) when keys match no user.
	ProcessEvent(ctx context.Context, ev *models.StripeEvent, keys UserKeys, fn EventFunc) (*models.User, error)
	GetEvent(ctx context.Context, eventID string) (*models.StripeEvent, error)

	SaveAnalysis(ctx context.Context, a *models.PropertyAnalysis) error
	ListAnalyses(ctx context.Context, userID string, limit int) ([]models.PropertyAnalysis, error)

	Ping(ctx context.Context) error
}
