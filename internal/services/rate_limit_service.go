package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/bastion/internal/metrics"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/store"
)

// SlidingWindowStore is the durable backend for rate limiting
type SlidingWindowStore interface {
	SlidingWindowHit(ctx context.Context, key string, window time.Duration, now time.Time) (int64, error)
}

// RateLimitConfig holds the named rule table and key prefix
type RateLimitConfig struct {
	Prefix string
	Rules  map[string]models.RateLimitRule
}

// DefaultRules returns the built-in rule table
func DefaultRules() map[string]models.RateLimitRule {
	rules := []models.RateLimitRule{
		{Name: models.RuleLogin, Window: 15 * time.Minute, MaxRequests: 5, BlockDuration: 15 * time.Minute},
		{Name: models.RuleRegistration, Window: time.Hour, MaxRequests: 3, BlockDuration: time.Hour},
		{Name: models.RuleAIAnalyze, Window: time.Minute, MaxRequests: 10, BlockDuration: 5 * time.Minute},
		{Name: models.RuleAIIdentify, Window: time.Minute, MaxRequests: 5, BlockDuration: 5 * time.Minute},
		{Name: models.RuleGeneral, Window: time.Minute, MaxRequests: 60, BlockDuration: time.Minute},
		{Name: models.RuleClassAuth, Window: 15 * time.Minute, MaxRequests: 5, BlockDuration: 15 * time.Minute},
		{Name: models.RuleClassUpload, Window: time.Hour, MaxRequests: 20},
		{Name: models.RuleClassAI, Window: time.Hour, MaxRequests: 10},
		{Name: models.RuleClassGeneral, Window: 15 * time.Minute, MaxRequests: 100},
	}

	table := make(map[string]models.RateLimitRule, len(rules))
	for _, r := range rules {
		table[r.Name] = r
	}
	return table
}

// DefaultRateLimitConfig returns the default rule table under the "ratelimit" prefix
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{Prefix: "ratelimit", Rules: DefaultRules()}
}

// RateLimitService counts requests per (scope, rule, identifier) key.
// The durable store gives an accurate sliding window shared by all instances;
// when it is absent or fails, the call is served by a process-local fixed window.
type RateLimitService struct {
	durable  SlidingWindowStore
	fallback *store.MemoryWindowStore
	rules    map[string]models.RateLimitRule
	prefix   string
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewRateLimitService creates a RateLimitService. durable may be nil for in-memory-only mode.
func NewRateLimitService(durable SlidingWindowStore, config RateLimitConfig, logger *slog.Logger) *RateLimitService {
	if config.Prefix == "" {
		config.Prefix = "ratelimit"
	}
	if config.Rules == nil {
		config.Rules = DefaultRules()
	}
	return &RateLimitService{
		durable:  durable,
		fallback: store.NewMemoryWindowStore(),
		rules:    config.Rules,
		prefix:   config.Prefix,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock replaces the time source, for tests
func (s *RateLimitService) WithClock(now func() time.Time) *RateLimitService {
	s.now = now
	return s
}

// WithMetrics attaches metrics collectors
func (s *RateLimitService) WithMetrics(m *metrics.Metrics) *RateLimitService {
	s.metrics = m
	return s
}

// Rule looks up a named rule
func (s *RateLimitService) Rule(name string) (models.RateLimitRule, bool) {
	rule, ok := s.rules[name]
	return rule, ok
}

// Key builds the store key for one identifier under a rule and scope
func (s *RateLimitService) Key(scope, ruleName, identifier string) string {
	return fmt.Sprintf("%s:%s:%s:%s", s.prefix, scope, ruleName, identifier)
}

// CheckRateLimit counts this request and reports whether it is within the rule.
// The request that crosses the limit is itself counted; callers must not retry the check.
// Never fails: store errors degrade to the in-memory fallback for this call.
func (s *RateLimitService) CheckRateLimit(ctx context.Context, identifier string, rule models.RateLimitRule, scope string) models.RateLimitResult {
	if scope == "" {
		scope = models.ScopeIP
	}
	key := s.Key(scope, rule.Name, identifier)
	now := s.now()

	if s.durable == nil {
		return s.fallback.Hit(key, rule, now)
	}

	result, err := s.checkDurable(ctx, key, rule, now)
	if err != nil {
		s.logger.Warn("rate limit store error, using in-memory fallback",
			slog.String("key", key),
			slog.String("rule", rule.Name),
			slog.Any("error", err))
		s.metrics.Fallback(rule.Name)
		return s.fallback.Hit(key, rule, now)
	}

	return result
}

// CheckNamed is CheckRateLimit with the rule resolved by name
func (s *RateLimitService) CheckNamed(ctx context.Context, ruleName, identifier, scope string) (models.RateLimitResult, error) {
	rule, ok := s.rules[ruleName]
	if !ok {
		return models.RateLimitResult{}, fmt.Errorf("%w: %s", models.ErrUnknownRule, ruleName)
	}
	return s.CheckRateLimit(ctx, identifier, rule, scope), nil
}

// checkDurable runs the sliding-window algorithm against the durable store
func (s *RateLimitService) checkDurable(ctx context.Context, key string, rule models.RateLimitRule, now time.Time) (models.RateLimitResult, error) {
	count, err := s.durable.SlidingWindowHit(ctx, key, rule.Window, now)
	if err != nil {
		return models.RateLimitResult{}, err
	}

	current := int(count)
	return models.RateLimitResult{
		Allowed:      current <= rule.MaxRequests,
		CurrentCount: current,
		Remaining:    max(0, rule.MaxRequests-current),
		ResetAt:      now.Add(rule.Window),
	}, nil
}

// SweepFallback purges idle in-memory fallback entries
func (s *RateLimitService) SweepFallback() int {
	return s.fallback.Sweep(s.now())
}
