package store

import (
	"sync"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
)

// DefaultIdleTTL is how long an untouched fallback entry survives a sweep
const DefaultIdleTTL = 24 * time.Hour

// MemoryWindowStore is the process-local fixed-window counter used when the
// durable store is absent or failing. Counts are approximate: a burst that
// straddles a window boundary can be admitted twice.
type MemoryWindowStore struct {
	mu      sync.Mutex
	entries map[string]*models.WindowEntry
	idleTTL time.Duration
}

// NewMemoryWindowStore creates an empty fallback store
func NewMemoryWindowStore() *MemoryWindowStore {
	return &MemoryWindowStore{
		entries: make(map[string]*models.WindowEntry),
		idleTTL: DefaultIdleTTL,
	}
}

// Hit counts one request for key under rule and returns the decision
func (s *MemoryWindowStore) Hit(key string, rule models.RateLimitRule, now time.Time) models.RateLimitResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.entries[key]
	if entry != nil && entry.BlockedUntil != nil {
		if now.Before(*entry.BlockedUntil) {
			entry.LastSeen = now
			return models.RateLimitResult{
				Allowed:      false,
				CurrentCount: entry.Count,
				Remaining:    0,
				ResetAt:      *entry.BlockedUntil,
			}
		}
		// Block served; start over with a fresh window
		entry = nil
	}

	if entry == nil || now.Sub(entry.WindowStart) > rule.Window {
		s.entries[key] = &models.WindowEntry{Count: 1, WindowStart: now, LastSeen: now}
		return models.RateLimitResult{
			Allowed:      true,
			CurrentCount: 1,
			Remaining:    max(0, rule.MaxRequests-1),
			ResetAt:      now.Add(rule.Window),
		}
	}

	entry.Count++
	entry.LastSeen = now
	resetAt := entry.WindowStart.Add(rule.Window)

	if entry.Count > rule.MaxRequests {
		if rule.BlockDuration > 0 {
			until := now.Add(rule.BlockDuration)
			entry.BlockedUntil = &until
			resetAt = until
		}
		return models.RateLimitResult{
			Allowed:      false,
			CurrentCount: entry.Count,
			Remaining:    0,
			ResetAt:      resetAt,
		}
	}

	return models.RateLimitResult{
		Allowed:      true,
		CurrentCount: entry.Count,
		Remaining:    rule.MaxRequests - entry.Count,
		ResetAt:      resetAt,
	}
}

// Sweep drops entries idle for longer than the idle TTL whose block (if any) has expired.
// Returns the number of entries removed.
func (s *MemoryWindowStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.entries {
		if entry.BlockedUntil != nil && now.Before(*entry.BlockedUntil) {
			continue
		}
		if now.Sub(entry.LastSeen) > s.idleTTL {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys
func (s *MemoryWindowStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
