package models

import "time"

// Rule names. Upper-case names are per-action rules used by route handlers;
// lower-case names are the path classes used by the DoS gate.
const (
	RuleLogin        = "LOGIN"
	RuleRegistration = "REGISTRATION"
	RuleAIAnalyze    = "AI_ANALYZE"
	RuleAIIdentify   = "AI_IDENTIFY"
	RuleGeneral      = "GENERAL"

	RuleClassAuth    = "auth"
	RuleClassUpload  = "upload"
	RuleClassAI      = "ai"
	RuleClassGeneral = "general"
)

// Identifier scopes. IP-based and user-based checks for one action never share a key.
const (
	ScopeIP    = "ip"
	ScopeUser  = "user"
	ScopeEmail = "email"
)

// RateLimitRule is the static policy for one logical action
type RateLimitRule struct {
	Name          string        `validate:"required"`
	Window        time.Duration `validate:"gt=0"`
	MaxRequests   int           `validate:"gt=0"`
	BlockDuration time.Duration `validate:"gte=0"` // zero means no block beyond the window
}

// RateLimitResult is the outcome of one counted request
type RateLimitResult struct {
	Allowed      bool
	CurrentCount int
	Remaining    int
	ResetAt      time.Time
}

// RetryAfter returns the whole seconds a client should wait, rounded up
func (r RateLimitResult) RetryAfter(now time.Time) int {
	d := r.ResetAt.Sub(now)
	if d <= 0 {
		return 0
	}
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}

// WindowEntry is the per-key state of the in-memory fixed-window fallback
type WindowEntry struct {
	Count        int
	WindowStart  time.Time
	BlockedUntil *time.Time
	LastSeen     time.Time
}
