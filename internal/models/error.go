package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInternalServer = errors.New("internal server error")

	// Policy rejections. These are expected outcomes, surfaced to callers as 403/429.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrCSRFValidation    = errors.New("csrf validation failed")

	// Infra faults. Never returned across a public entry point; callers degrade instead.
	ErrStoreUnavailable = errors.New("durable store unavailable")
	ErrMalformedEntry   = errors.New("malformed stored entry")

	// Configuration faults
	ErrUnknownRule = errors.New("unknown rate limit rule")
)

// RateLimitError carries the decision behind a rate limit rejection so callers
// can emit retry metadata. It matches ErrRateLimitExceeded under errors.Is.
type RateLimitError struct {
	Rule   string
	Result RateLimitResult
}

func (e *RateLimitError) Error() string {
	return "rate limit exceeded for rule " + e.Rule
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimitExceeded
}
