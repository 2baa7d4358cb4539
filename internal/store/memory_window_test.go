package store

import (
	"testing"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryWindowStore_CountsWithinWindow(t *testing.T) {
	s := NewMemoryWindowStore()
	rule := models.RateLimitRule{Name: "test", Window: time.Minute, MaxRequests: 3}
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, wantRemaining := range []int{2, 1, 0} {
		res := s.Hit("k", rule, now.Add(time.Duration(i)*time.Second))
		assert.True(t, res.Allowed, "request %d", i+1)
		assert.Equal(t, i+1, res.CurrentCount)
		assert.Equal(t, wantRemaining, res.Remaining)
		assert.Equal(t, now.Add(time.Minute), res.ResetAt)
	}

	res := s.Hit("k", rule, now.Add(3*time.Second))
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, 4, res.CurrentCount)
}

func TestMemoryWindowStore_ResetsAfterWindow(t *testing.T) {
	s := NewMemoryWindowStore()
	rule := models.RateLimitRule{Name: "test", Window: time.Minute, MaxRequests: 3}
	now := time.Now()

	for i := 0; i < 4; i++ {
		s.Hit("k", rule, now)
	}

	res := s.Hit("k", rule, now.Add(time.Minute+time.Millisecond))
	assert.True(t, res.Allowed)
	assert.Equal(t, 2, res.Remaining)
}

func TestMemoryWindowStore_BlockOutlivesWindow(t *testing.T) {
	s := NewMemoryWindowStore()
	rule := models.RateLimitRule{Name: "test", Window: time.Minute, MaxRequests: 1, BlockDuration: 5 * time.Minute}
	now := time.Now()

	require.True(t, s.Hit("k", rule, now).Allowed)
	denied := s.Hit("k", rule, now)
	require.False(t, denied.Allowed)
	assert.Equal(t, now.Add(5*time.Minute), denied.ResetAt)

	// Window has elapsed but the block has not
	later := now.Add(2 * time.Minute)
	res := s.Hit("k", rule, later)
	assert.False(t, res.Allowed)
	assert.Equal(t, now.Add(5*time.Minute), res.ResetAt)

	res = s.Hit("k", rule, now.Add(5*time.Minute))
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.CurrentCount)
}

func TestMemoryWindowStore_KeysAreIndependent(t *testing.T) {
	s := NewMemoryWindowStore()
	rule := models.RateLimitRule{Name: "test", Window: time.Minute, MaxRequests: 1}
	now := time.Now()

	s.Hit("a", rule, now)
	assert.False(t, s.Hit("a", rule, now).Allowed)
	assert.True(t, s.Hit("b", rule, now).Allowed)
}

func TestMemoryWindowStore_Sweep(t *testing.T) {
	s := NewMemoryWindowStore()
	rule := models.RateLimitRule{Name: "test", Window: time.Minute, MaxRequests: 1, BlockDuration: 48 * time.Hour}
	now := time.Now()

	s.Hit("idle", rule, now)
	s.Hit("blocked", rule, now)
	s.Hit("blocked", rule, now)
	s.Hit("fresh", rule, now.Add(23*time.Hour))

	sweepAt := now.Add(25 * time.Hour)
	assert.Equal(t, 1, s.Sweep(sweepAt))
	assert.Equal(t, 2, s.Len())

	// Second run with no time advance removes nothing
	assert.Equal(t, 0, s.Sweep(sweepAt))
	assert.Equal(t, 2, s.Len())
}
