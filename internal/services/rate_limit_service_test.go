package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/bastion/internal/metrics"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newMemoryLimiter(clock *FakeClock) *RateLimitService {
	return NewRateLimitService(nil, DefaultRateLimitConfig(), newDiscardLogger()).WithClock(clock.Now)
}

// fakeSlidingWindow emulates the durable sliding window with timestamps per key
type fakeSlidingWindow struct {
	mu   sync.Mutex
	hits map[string][]time.Time
}

func newFakeSlidingWindow() *fakeSlidingWindow {
	return &fakeSlidingWindow{hits: make(map[string][]time.Time)}
}

func (f *fakeSlidingWindow) SlidingWindowHit(_ context.Context, key string, window time.Duration, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	windowStart := now.Add(-window)
	kept := f.hits[key][:0]
	for _, ts := range f.hits[key] {
		if !ts.Before(windowStart) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, now)
	f.hits[key] = kept
	return int64(len(kept)), nil
}

// ============================================================================
// CheckRateLimit: in-memory mode
// ============================================================================

func TestRateLimitService_WindowCounts(t *testing.T) {
	clock := NewFakeClock(testStart)
	limiter := newMemoryLimiter(clock)
	rule := models.RateLimitRule{Name: "TEST", Window: time.Minute, MaxRequests: 3}

	for _, want := range []int{2, 1, 0} {
		result := limiter.CheckRateLimit(context.Background(), "1.2.3.4", rule, models.ScopeIP)
		assert.True(t, result.Allowed)
		assert.Equal(t, want, result.Remaining)
	}

	result := limiter.CheckRateLimit(context.Background(), "1.2.3.4", rule, models.ScopeIP)
	assert.False(t, result.Allowed)
	assert.Equal(t, 0, result.Remaining)
	assert.Equal(t, 4, result.CurrentCount)
}

func TestRateLimitService_WindowReset(t *testing.T) {
	clock := NewFakeClock(testStart)
	limiter := newMemoryLimiter(clock)
	rule := models.RateLimitRule{Name: "TEST", Window: time.Minute, MaxRequests: 3}

	for i := 0; i < 4; i++ {
		limiter.CheckRateLimit(context.Background(), "1.2.3.4", rule, models.ScopeIP)
	}

	clock.Advance(time.Minute + time.Millisecond)

	result := limiter.CheckRateLimit(context.Background(), "1.2.3.4", rule, models.ScopeIP)
	assert.True(t, result.Allowed)
	assert.Equal(t, rule.MaxRequests-1, result.Remaining)
}

func TestRateLimitService_IndependentRules(t *testing.T) {
	clock := NewFakeClock(testStart)
	limiter := newMemoryLimiter(clock)
	login, _ := limiter.Rule(models.RuleLogin)
	analyze, _ := limiter.Rule(models.RuleAIAnalyze)

	for i := 0; i <= login.MaxRequests; i++ {
		limiter.CheckRateLimit(context.Background(), "1.2.3.4", login, models.ScopeIP)
	}
	denied := limiter.CheckRateLimit(context.Background(), "1.2.3.4", login, models.ScopeIP)
	require.False(t, denied.Allowed)

	result := limiter.CheckRateLimit(context.Background(), "1.2.3.4", analyze, models.ScopeIP)
	assert.True(t, result.Allowed)
	assert.Equal(t, analyze.MaxRequests-1, result.Remaining)
}

func TestRateLimitService_IndependentScopes(t *testing.T) {
	clock := NewFakeClock(testStart)
	limiter := newMemoryLimiter(clock)
	rule := models.RateLimitRule{Name: "TEST", Window: time.Minute, MaxRequests: 1}

	assert.True(t, limiter.CheckRateLimit(context.Background(), "abc", rule, models.ScopeIP).Allowed)
	assert.False(t, limiter.CheckRateLimit(context.Background(), "abc", rule, models.ScopeIP).Allowed)
	assert.True(t, limiter.CheckRateLimit(context.Background(), "abc", rule, models.ScopeUser).Allowed)
}

func TestRateLimitService_EmptyScopeDefaultsToIP(t *testing.T) {
	clock := NewFakeClock(testStart)
	limiter := newMemoryLimiter(clock)
	rule := models.RateLimitRule{Name: "TEST", Window: time.Minute, MaxRequests: 1}

	limiter.CheckRateLimit(context.Background(), "1.2.3.4", rule, "")
	result := limiter.CheckRateLimit(context.Background(), "1.2.3.4", rule, models.ScopeIP)
	assert.False(t, result.Allowed)
}

func TestRateLimitService_LoginScenario(t *testing.T) {
	clock := NewFakeClock(testStart)
	limiter := newMemoryLimiter(clock)

	for _, want := range []int{4, 3, 2, 1, 0} {
		result, err := limiter.CheckNamed(context.Background(), models.RuleLogin, "9.9.9.9", models.ScopeIP)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Equal(t, want, result.Remaining)
		clock.Advance(time.Second)
	}

	result, err := limiter.CheckNamed(context.Background(), models.RuleLogin, "9.9.9.9", models.ScopeIP)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, clock.Now().Add(15*time.Minute), result.ResetAt)
	assert.Equal(t, 900, result.RetryAfter(clock.Now()))
}

func TestRateLimitService_BlockOutlivesWindow(t *testing.T) {
	clock := NewFakeClock(testStart)
	limiter := newMemoryLimiter(clock)
	rule := models.RateLimitRule{Name: "TEST", Window: time.Minute, MaxRequests: 1, BlockDuration: 5 * time.Minute}

	limiter.CheckRateLimit(context.Background(), "k", rule, models.ScopeIP)
	limiter.CheckRateLimit(context.Background(), "k", rule, models.ScopeIP)

	clock.Advance(2 * time.Minute)
	result := limiter.CheckRateLimit(context.Background(), "k", rule, models.ScopeIP)
	assert.False(t, result.Allowed)
	assert.Equal(t, testStart.Add(5*time.Minute), result.ResetAt)

	clock.Advance(3 * time.Minute)
	assert.True(t, limiter.CheckRateLimit(context.Background(), "k", rule, models.ScopeIP).Allowed)
}

// ============================================================================
// CheckRateLimit: durable store
// ============================================================================

func TestRateLimitService_DurableSlidingWindow(t *testing.T) {
	clock := NewFakeClock(testStart)
	limiter := NewRateLimitService(newFakeSlidingWindow(), DefaultRateLimitConfig(), newDiscardLogger()).WithClock(clock.Now)
	rule := models.RateLimitRule{Name: "TEST", Window: time.Minute, MaxRequests: 2}

	assert.True(t, limiter.CheckRateLimit(context.Background(), "k", rule, models.ScopeIP).Allowed)
	clock.Advance(30 * time.Second)
	assert.True(t, limiter.CheckRateLimit(context.Background(), "k", rule, models.ScopeIP).Allowed)

	denied := limiter.CheckRateLimit(context.Background(), "k", rule, models.ScopeIP)
	assert.False(t, denied.Allowed)
	assert.Equal(t, 3, denied.CurrentCount)
	assert.Equal(t, clock.Now().Add(time.Minute), denied.ResetAt)

	// The first hit slides out; the denied hits still count
	clock.Advance(31 * time.Second)
	result := limiter.CheckRateLimit(context.Background(), "k", rule, models.ScopeIP)
	assert.False(t, result.Allowed)
	assert.Equal(t, 3, result.CurrentCount)
}

func TestRateLimitService_UsesKeyWithPrefixAndScope(t *testing.T) {
	var gotKey string
	var gotWindow time.Duration
	durable := &MockSlidingWindowStore{
		SlidingWindowHitFunc: func(ctx context.Context, key string, window time.Duration, now time.Time) (int64, error) {
			gotKey = key
			gotWindow = window
			return 1, nil
		},
	}
	limiter := NewRateLimitService(durable, RateLimitConfig{Prefix: "rl"}, newDiscardLogger())

	result, err := limiter.CheckNamed(context.Background(), models.RuleLogin, "a@example.com", models.ScopeEmail)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, "rl:email:LOGIN:a@example.com", gotKey)
	assert.Equal(t, 15*time.Minute, gotWindow)
}

func TestRateLimitService_StoreFailureFallsBack(t *testing.T) {
	clock := NewFakeClock(testStart)
	calls := 0
	durable := &MockSlidingWindowStore{
		SlidingWindowHitFunc: func(ctx context.Context, key string, window time.Duration, now time.Time) (int64, error) {
			calls++
			return 0, errors.New("dial tcp: i/o timeout")
		},
	}
	m := metrics.New()
	limiter := NewRateLimitService(durable, DefaultRateLimitConfig(), newDiscardLogger()).
		WithClock(clock.Now).
		WithMetrics(m)
	rule := models.RateLimitRule{Name: "TEST", Window: time.Minute, MaxRequests: 2}

	first := limiter.CheckRateLimit(context.Background(), "k", rule, models.ScopeIP)
	second := limiter.CheckRateLimit(context.Background(), "k", rule, models.ScopeIP)
	third := limiter.CheckRateLimit(context.Background(), "k", rule, models.ScopeIP)

	assert.Equal(t, 3, calls)
	assert.True(t, first.Allowed)
	assert.Equal(t, 1, first.Remaining)
	assert.True(t, second.Allowed)
	assert.False(t, third.Allowed)
	expected := `
# HELP bastion_ratelimit_fallback_total Rate limit checks served by the in-memory fallback after a durable store error
# TYPE bastion_ratelimit_fallback_total counter
bastion_ratelimit_fallback_total{rule="TEST"} 3
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "bastion_ratelimit_fallback_total"))
}

func TestRateLimitService_StoreRecoveryUsesDurableAgain(t *testing.T) {
	failing := true
	durable := &MockSlidingWindowStore{
		SlidingWindowHitFunc: func(ctx context.Context, key string, window time.Duration, now time.Time) (int64, error) {
			if failing {
				return 0, models.ErrStoreUnavailable
			}
			return 1, nil
		},
	}
	limiter := NewRateLimitService(durable, DefaultRateLimitConfig(), newDiscardLogger())
	rule := models.RateLimitRule{Name: "TEST", Window: time.Minute, MaxRequests: 1}

	assert.True(t, limiter.CheckRateLimit(context.Background(), "k", rule, models.ScopeIP).Allowed)
	assert.False(t, limiter.CheckRateLimit(context.Background(), "k", rule, models.ScopeIP).Allowed)

	// Fallback state is not synchronized back to the durable store
	failing = false
	assert.True(t, limiter.CheckRateLimit(context.Background(), "k", rule, models.ScopeIP).Allowed)
}

// ============================================================================
// CheckNamed / SweepFallback
// ============================================================================

func TestRateLimitService_CheckNamed_UnknownRule(t *testing.T) {
	limiter := NewRateLimitService(nil, DefaultRateLimitConfig(), newDiscardLogger())

	_, err := limiter.CheckNamed(context.Background(), "NOPE", "1.2.3.4", models.ScopeIP)
	assert.ErrorIs(t, err, models.ErrUnknownRule)
}

func TestRateLimitService_SweepFallbackIdempotent(t *testing.T) {
	clock := NewFakeClock(testStart)
	limiter := newMemoryLimiter(clock)
	rule := models.RateLimitRule{Name: "TEST", Window: time.Minute, MaxRequests: 3}

	limiter.CheckRateLimit(context.Background(), "a", rule, models.ScopeIP)
	limiter.CheckRateLimit(context.Background(), "b", rule, models.ScopeIP)

	clock.Advance(25 * time.Hour)
	assert.Equal(t, 2, limiter.SweepFallback())
	assert.Equal(t, 0, limiter.SweepFallback())
}

func TestDefaultRules(t *testing.T) {
	rules := DefaultRules()

	login := rules[models.RuleLogin]
	assert.Equal(t, 15*time.Minute, login.Window)
	assert.Equal(t, 5, login.MaxRequests)
	assert.Equal(t, 15*time.Minute, login.BlockDuration)

	upload := rules[models.RuleClassUpload]
	assert.Equal(t, time.Hour, upload.Window)
	assert.Equal(t, 20, upload.MaxRequests)
	assert.Zero(t, upload.BlockDuration)

	for name, rule := range rules {
		assert.Equal(t, name, rule.Name)
	}
}
