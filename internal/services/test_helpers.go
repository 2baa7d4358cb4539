package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
)

// MockSlidingWindowStore implements SlidingWindowStore for testing
type MockSlidingWindowStore struct {
	SlidingWindowHitFunc func(ctx context.Context, key string, window time.Duration, now time.Time) (int64, error)
}

func (m *MockSlidingWindowStore) SlidingWindowHit(ctx context.Context, key string, window time.Duration, now time.Time) (int64, error) {
	if m.SlidingWindowHitFunc != nil {
		return m.SlidingWindowHitFunc(ctx, key, window, now)
	}
	return 0, models.ErrStoreUnavailable
}

// MockLockoutStore implements LockoutStore for testing
type MockLockoutStore struct {
	GetFunc    func(ctx context.Context, identity string) (*models.LockoutEntry, error)
	PutFunc    func(ctx context.Context, identity string, entry models.LockoutEntry, ttl time.Duration) error
	DeleteFunc func(ctx context.Context, identity string) error
}

func (m *MockLockoutStore) Get(ctx context.Context, identity string) (*models.LockoutEntry, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, identity)
	}
	return nil, nil
}

func (m *MockLockoutStore) Put(ctx context.Context, identity string, entry models.LockoutEntry, ttl time.Duration) error {
	if m.PutFunc != nil {
		return m.PutFunc(ctx, identity, entry, ttl)
	}
	return nil
}

func (m *MockLockoutStore) Delete(ctx context.Context, identity string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, identity)
	}
	return nil
}

// MockCredentialRepository implements CredentialRepository for testing
type MockCredentialRepository struct {
	GetByEmailFunc func(ctx context.Context, email string) (*models.Credential, error)
}

func (m *MockCredentialRepository) GetByEmail(ctx context.Context, email string) (*models.Credential, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

// FakeClock is a manually advanced time source
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock creates a clock frozen at start
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the current fake time
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// newDiscardLogger returns a logger that drops all output
func newDiscardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}
