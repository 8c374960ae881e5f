// Package memory implements ledger.Store on mutex-guarded maps for tests and the
// storage.driver=memory mode.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fihsr/giftescrow/internal/ledger"
)

// Store keeps every record in process memory.
type Store struct {
	mu      sync.RWMutex
	now     func() time.Time
	users   map[int64]ledger.User
	deals   map[string]ledger.Deal
	pending map[int64]ledger.PendingAction
}

var _ ledger.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		now:     time.Now,
		users:   make(map[int64]ledger.User),
		deals:   make(map[string]ledger.Deal),
		pending: make(map[int64]ledger.PendingAction),
	}
}

// WithClock replaces the time source; used by tests that need deterministic ordering.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now != nil {
		s.now = now
	}
	return s
}

func (s *Store) UpsertUser(_ context.Context, id int64, displayName string) (ledger.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	u, ok := s.users[id]
	if !ok {
		u = ledger.User{ID: id, CreatedAt: now}
	}
	u.DisplayName = displayName
	u.UpdatedAt = now
	s.users[id] = u
	return u, nil
}

func (s *Store) GetUser(_ context.Context, id int64) (ledger.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return ledger.User{}, ledger.ErrNotFound
	}
	return u, nil
}

func (s *Store) InsertDeal(_ context.Context, d ledger.Deal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.deals[d.ID]; exists {
		return ledger.ErrConflict
	}
	now := s.now()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	s.deals[d.ID] = d
	return nil
}

func (s *Store) GetDeal(_ context.Context, id string) (ledger.Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deals[id]
	if !ok {
		return ledger.Deal{}, ledger.ErrNotFound
	}
	return d, nil
}

func (s *Store) UpdateDeal(_ context.Context, id string, fn func(*ledger.Deal) error) (ledger.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.deals[id]
	if !ok {
		return ledger.Deal{}, ledger.ErrNotFound
	}
	// decimal values are immutable, so a shallow copy is independent of the stored row.
	next := current
	if err := fn(&next); err != nil {
		return current, err
	}
	next.ID = current.ID
	next.CreatedAt = current.CreatedAt
	next.UpdatedAt = s.now()
	s.deals[id] = next
	return next, nil
}

func (s *Store) FindDeals(_ context.Context, filter ledger.DealFilter) ([]ledger.Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.Deal, 0)
	for _, d := range s.deals {
		if filter.Match(d) {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) Stats(_ context.Context) (ledger.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := ledger.Stats{TotalDeals: len(s.deals)}
	for _, d := range s.deals {
		st.TotalDeliveries += d.DeliveryCount
	}
	return st, nil
}

func (s *Store) GetPendingAction(_ context.Context, userID int64) (ledger.PendingAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pending[userID]
	if !ok {
		return ledger.PendingAction{}, ledger.ErrNotFound
	}
	return clonePending(p), nil
}

func (s *Store) PutPendingAction(_ context.Context, p ledger.PendingAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Empty() {
		delete(s.pending, p.UserID)
		return nil
	}
	p.UpdatedAt = s.now()
	s.pending[p.UserID] = clonePending(p)
	return nil
}

func (s *Store) DeletePendingAction(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, userID)
	return nil
}

func (s *Store) SaveCard(_ context.Context, userID int64, digits string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	u, ok := s.users[userID]
	if !ok {
		u = ledger.User{ID: userID, CreatedAt: now}
	}
	u.CardNumber = digits
	u.UpdatedAt = now
	s.users[userID] = u

	if p, ok := s.pending[userID]; ok {
		p.AwaitingCard = false
		p.Payout = nil
		if p.Empty() {
			delete(s.pending, userID)
		} else {
			p.UpdatedAt = now
			s.pending[userID] = p
		}
	}
	return nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

func clonePending(p ledger.PendingAction) ledger.PendingAction {
	if p.Payout != nil {
		payout := *p.Payout
		p.Payout = &payout
	}
	return p
}
