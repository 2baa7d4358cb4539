package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/bastion/internal/metrics"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/store"
	pkglogger "github.com/BradenHooton/bastion/pkg/logger"
)

// LockoutStore persists per-identity lockout entries with a TTL
type LockoutStore interface {
	Get(ctx context.Context, identity string) (*models.LockoutEntry, error)
	Put(ctx context.Context, identity string, entry models.LockoutEntry, ttl time.Duration) error
	Delete(ctx context.Context, identity string) error
}

// LockoutConfig holds account lockout thresholds
type LockoutConfig struct {
	MaxFailedAttempts int           `validate:"gt=0"`
	FailureWindow     time.Duration `validate:"gt=0"`
	LockoutDuration   time.Duration `validate:"gt=0"`
}

// DefaultLockoutConfig returns 5 failures within 15 minutes locking for 15 minutes
func DefaultLockoutConfig() LockoutConfig {
	return LockoutConfig{
		MaxFailedAttempts: 5,
		FailureWindow:     15 * time.Minute,
		LockoutDuration:   15 * time.Minute,
	}
}

// LockoutService tracks authentication failures per identity and temporarily
// locks identities that fail too often. Entries live in the durable store when
// one is configured; a store error sends that call to the in-memory table.
type LockoutService struct {
	durable  LockoutStore
	fallback *store.MemoryLockoutStore
	config   LockoutConfig
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	// serializes read-modify-write within this process
	mu sync.Mutex
}

// NewLockoutService creates a LockoutService. durable may be nil for in-memory-only mode.
func NewLockoutService(durable LockoutStore, config LockoutConfig, logger *slog.Logger) *LockoutService {
	s := &LockoutService{
		durable: durable,
		config:  config,
		logger:  logger,
		now:     time.Now,
	}
	s.fallback = store.NewMemoryLockoutStore(func() time.Time { return s.now() })
	return s
}

// WithClock replaces the time source, for tests
func (s *LockoutService) WithClock(now func() time.Time) *LockoutService {
	s.now = now
	return s
}

// WithMetrics attaches metrics collectors
func (s *LockoutService) WithMetrics(m *metrics.Metrics) *LockoutService {
	s.metrics = m
	return s
}

// IsLocked reports whether identity is locked. An elapsed lock is cleared here.
func (s *LockoutService) IsLocked(ctx context.Context, identity string) models.LockoutStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry := s.load(ctx, identity)
	if entry == nil || entry.LockedUntil == nil {
		return models.LockoutStatus{}
	}

	if !now.Before(*entry.LockedUntil) {
		s.remove(ctx, identity)
		return models.LockoutStatus{}
	}

	return models.LockoutStatus{Locked: true, Remaining: entry.LockedUntil.Sub(now)}
}

// RecordFailure counts one failed authentication for identity. The counter
// restarts when the previous failure is older than the failure window. The
// failure that reaches the threshold sets the lock.
func (s *LockoutService) RecordFailure(ctx context.Context, identity string) models.FailureResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry := s.load(ctx, identity)
	if entry == nil {
		entry = &models.LockoutEntry{}
	}

	if entry.IsLockedAt(now) {
		return models.FailureResult{Locked: true, LockedUntil: entry.LockedUntil}
	}
	if entry.LockedUntil != nil {
		entry = &models.LockoutEntry{}
	}

	if !entry.LastFailureTime.IsZero() && now.Sub(entry.LastFailureTime) > s.config.FailureWindow {
		entry.FailedAttempts = 0
	}

	entry.FailedAttempts++
	entry.LastFailureTime = now
	ttl := s.config.FailureWindow

	if entry.FailedAttempts >= s.config.MaxFailedAttempts {
		until := now.Add(s.config.LockoutDuration)
		entry.LockedUntil = &until
		ttl = max(ttl, s.config.LockoutDuration)

		s.save(ctx, identity, *entry, ttl)
		s.metrics.Lockout()
		s.logger.Warn("account locked after repeated failures",
			slog.String("identity", pkglogger.SanitizedEmail(identity)),
			slog.Int("failed_attempts", entry.FailedAttempts),
			slog.Duration("lockout_duration", s.config.LockoutDuration))

		return models.FailureResult{Locked: true, LockedUntil: &until}
	}

	s.save(ctx, identity, *entry, ttl)
	return models.FailureResult{AttemptsRemaining: s.config.MaxFailedAttempts - entry.FailedAttempts}
}

// Clear resets failures and any lock. Call only after a verified successful authentication.
func (s *LockoutService) Clear(ctx context.Context, identity string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.remove(ctx, identity)
	// Rows written during a store outage are dropped too
	_ = s.fallback.Delete(ctx, identity)
}

// SweepFallback purges expired in-memory lockout rows
func (s *LockoutService) SweepFallback() int {
	return s.fallback.Sweep(s.now())
}

func (s *LockoutService) load(ctx context.Context, identity string) *models.LockoutEntry {
	if s.durable != nil {
		entry, err := s.durable.Get(ctx, identity)
		if err == nil {
			return entry
		}
		s.logger.Warn("lockout store read failed, using in-memory fallback",
			slog.String("identity", pkglogger.SanitizedEmail(identity)),
			slog.Any("error", err))
	}
	entry, _ := s.fallback.Get(ctx, identity)
	return entry
}

func (s *LockoutService) save(ctx context.Context, identity string, entry models.LockoutEntry, ttl time.Duration) {
	if s.durable != nil {
		err := s.durable.Put(ctx, identity, entry, ttl)
		if err == nil {
			return
		}
		s.logger.Warn("lockout store write failed, using in-memory fallback",
			slog.String("identity", pkglogger.SanitizedEmail(identity)),
			slog.Any("error", err))
	}
	_ = s.fallback.Put(ctx, identity, entry, ttl)
}

func (s *LockoutService) remove(ctx context.Context, identity string) {
	if s.durable != nil {
		err := s.durable.Delete(ctx, identity)
		if err == nil {
			return
		}
		s.logger.Warn("lockout store delete failed, using in-memory fallback",
			slog.String("identity", pkglogger.SanitizedEmail(identity)),
			slog.Any("error", err))
	}
	_ = s.fallback.Delete(ctx, identity)
}
