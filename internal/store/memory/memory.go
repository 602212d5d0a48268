// Package memory is an in-process Store for local runs and tests. One mutex
// serializes every mutation, which trivially linearizes per-user updates.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "propiq-billing/internal/common/errors"
	"propiq-billing/internal/models"
	"propiq-billing/internal/store"
)

// Store implements store.Store in memory.
type Store struct {
	mu       sync.Mutex
	users    map[string]*models.User
	events   map[string]*models.StripeEvent
	analyses map[string][]models.PropertyAnalysis
	now      func() time.Time
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		users:    map[string]*models.User{},
		events:   map[string]*models.StripeEvent{},
		analyses: map[string][]models.PropertyAnalysis{},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) CreateUser(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return apperrors.NewEmailTakenError(u.Email)
		}
	}
	now := s.now()
	u.CreatedAt, u.UpdatedAt = now, now
	s.users[u.ID] = clone(u)
	return nil
}

func (s *Store) GetUser(_ context.Context, userID string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, apperrors.NewUserNotFoundError(userID)
	}
	return clone(u), nil
}

func (s *Store) UpdateUser(_ context.Context, userID string, fn store.MutateFunc) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.users[userID]
	if !ok {
		return nil, apperrors.NewUserNotFoundError(userID)
	}
	u := clone(current)
	if err := fn(u); err != nil {
		return nil, err
	}
	u.UpdatedAt = s.now()
	s.users[userID] = clone(u)
	return u, nil
}

func (s *Store) ListStaleSubscriptions(_ context.Context, before time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stale []*models.User
	for _, u := range s.users {
		if u.StripeCustomerID == "" {
			continue
		}
		if u.SubscriptionStatus != models.StatusActive && u.SubscriptionStatus != models.StatusPastDue {
			continue
		}
		if u.LastVerifiedFromStripeAt != nil && !u.LastVerifiedFromStripeAt.Before(before) {
			continue
		}
		stale = append(stale, u)
	}
	sort.Slice(stale, func(i, j int) bool {
		a, b := stale[i].LastVerifiedFromStripeAt, stale[j].LastVerifiedFromStripeAt
		if a == nil || b == nil {
			return a == nil && b != nil
		}
		return a.Before(*b)
	})

	ids := make([]string, 0, len(stale))
	for i, u := range stale {
		if limit > 0 && i >= limit {
			break
		}
		ids = append(ids, u.ID)
	}
	return ids, nil
}

func (s *Store) ProcessEvent(_ context.Context, ev *models.StripeEvent, keys store.UserKeys, fn store.EventFunc) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.events[ev.EventID]; dup {
		return nil, apperrors.NewDuplicateEventError(ev.EventID)
	}
	ev.ProcessedAt = s.now()
	if ev.Outcome == "" {
		ev.Outcome = models.OutcomeIgnored
	}

	if fn == nil {
		recorded := *ev
		s.events[ev.EventID] = &recorded
		return nil, nil
	}

	current := s.resolve(keys)
	if current == nil {
		return nil, apperrors.NewUserNotResolvedError(ev.EventID, ev.Type)
	}
	u := clone(current)
	outcome, err := fn(u)
	if err != nil {
		return nil, err
	}
	u.UpdatedAt = s.now()
	s.users[u.ID] = clone(u)

	ev.UserID, ev.Outcome = u.ID, outcome
	recorded := *ev
	s.events[ev.EventID] = &recorded
	return u, nil
}

func (s *Store) GetEvent(_ context.Context, eventID string) (*models.StripeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[eventID]
	if !ok {
		return nil, nil
	}
	out := *ev
	return &out, nil
}

// EventCount is the number of recorded provider events.
func (s *Store) EventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *Store) SaveAnalysis(_ context.Context, a *models.PropertyAnalysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[a.UserID]; !ok {
		return apperrors.NewUserNotFoundError(a.UserID)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	s.analyses[a.UserID] = append(s.analyses[a.UserID], *a)
	return nil
}

func (s *Store) ListAnalyses(_ context.Context, userID string, limit int) ([]models.PropertyAnalysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.analyses[userID]
	out := make([]models.PropertyAnalysis, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, all[i])
	}
	return out, nil
}

func (s *Store) resolve(keys store.UserKeys) *models.User {
	if keys.UserID != "" {
		if u, ok := s.users[keys.UserID]; ok {
			return u
		}
	}
	match := func(pred func(*models.User) bool) *models.User {
		for _, u := range s.users {
			if pred(u) {
				return u
			}
		}
		return nil
	}
	if keys.SubscriptionID != "" {
		if u := match(func(u *models.User) bool { return u.StripeSubscriptionID == keys.SubscriptionID }); u != nil {
			return u
		}
	}
	if keys.CustomerID != "" {
		if u := match(func(u *models.User) bool { return u.StripeCustomerID == keys.CustomerID }); u != nil {
			return u
		}
	}
	if keys.Email != "" {
		return match(func(u *models.User) bool { return strings.EqualFold(u.Email, keys.Email) })
	}
	return nil
}

func clone(u *models.User) *models.User {
	c := *u
	c.CurrentPeriodEnd = copyTime(u.CurrentPeriodEnd)
	c.LastVerifiedFromStripeAt = copyTime(u.LastVerifiedFromStripeAt)
	c.LastStripeEventAt = copyTime(u.LastStripeEventAt)
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
