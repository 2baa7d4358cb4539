package store

import (
	"context"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
	"github.com/patrickmn/go-cache"
)

// lockoutJanitorInterval is how often go-cache drops rows whose wall-clock TTL elapsed
const lockoutJanitorInterval = 5 * time.Minute

type lockoutRow struct {
	entry     models.LockoutEntry
	expiresAt time.Time
}

// MemoryLockoutStore keeps lockout entries in process memory with a per-row TTL.
// Rows carry their expiry on the store's clock as well, so an injected clock
// governs visibility while go-cache reclaims memory on wall-clock time.
type MemoryLockoutStore struct {
	rows *cache.Cache
	now  func() time.Time
}

// NewMemoryLockoutStore creates an empty store. now may be nil to use time.Now.
func NewMemoryLockoutStore(now func() time.Time) *MemoryLockoutStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryLockoutStore{
		rows: cache.New(cache.NoExpiration, lockoutJanitorInterval),
		now:  now,
	}
}

// Get returns a copy of the entry for identity, or nil when absent or expired
func (s *MemoryLockoutStore) Get(_ context.Context, identity string) (*models.LockoutEntry, error) {
	cached, found := s.rows.Get(identity)
	if !found {
		return nil, nil
	}
	row := cached.(lockoutRow)
	if !s.now().Before(row.expiresAt) {
		return nil, nil
	}
	entry := row.entry
	return &entry, nil
}

// Put stores entry for identity until ttl elapses
func (s *MemoryLockoutStore) Put(_ context.Context, identity string, entry models.LockoutEntry, ttl time.Duration) error {
	expiration := ttl
	if expiration <= 0 {
		// Already expired on the store clock; Sweep removes it
		expiration = cache.NoExpiration
	}
	s.rows.Set(identity, lockoutRow{entry: entry, expiresAt: s.now().Add(ttl)}, expiration)
	return nil
}

// Delete removes identity
func (s *MemoryLockoutStore) Delete(_ context.Context, identity string) error {
	s.rows.Delete(identity)
	return nil
}

// Sweep removes rows whose TTL has elapsed and returns how many were removed
func (s *MemoryLockoutStore) Sweep(now time.Time) int {
	before := s.rows.ItemCount()
	s.rows.DeleteExpired()
	removed := max(before-s.rows.ItemCount(), 0)

	for identity, item := range s.rows.Items() {
		if row, ok := item.Object.(lockoutRow); ok && !now.Before(row.expiresAt) {
			s.rows.Delete(identity)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored rows, expired or not
func (s *MemoryLockoutStore) Len() int {
	return s.rows.ItemCount()
}
