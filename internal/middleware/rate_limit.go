package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/services"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
	"github.com/go-chi/httprate"
)

// KeyFunc resolves the rate limit identifier and scope for a request
type KeyFunc func(r *http.Request) (identifier, scope string)

// RateLimit applies a named rule to every request, keyed by keyFn.
// A rule missing from the limiter is logged once per request and not enforced.
func RateLimit(limiter *services.RateLimitService, ruleName string, keyFn KeyFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identifier, scope := keyFn(r)

			result, err := limiter.CheckNamed(r.Context(), ruleName, identifier, scope)
			if errors.Is(err, models.ErrUnknownRule) {
				logger.Error("rate limit rule not configured", slog.String("rule", ruleName))
				next.ServeHTTP(w, r)
				return
			}

			if !result.Allowed {
				logger.Warn("rate limit exceeded",
					slog.String("rule", ruleName),
					slog.String("scope", scope),
					slog.String("path", r.URL.Path),
					slog.Int("count", result.CurrentCount))
				pkghttp.WriteRateLimited(w, result, time.Now())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// KeyByIP keys requests by client IP
func KeyByIP(ipConfig *pkghttp.IPConfig) KeyFunc {
	return func(r *http.Request) (string, string) {
		return pkghttp.ExtractClientIP(r, ipConfig), models.ScopeIP
	}
}

// KeyByUser keys requests by authenticated user id, or by client IP for anonymous requests.
// Requires OptionalAuth earlier in the chain.
func KeyByUser(ipConfig *pkghttp.IPConfig) KeyFunc {
	return func(r *http.Request) (string, string) {
		if claims := auth.GetUserFromContext(r); claims != nil && claims.UserID != "" {
			return claims.UserID, models.ScopeUser
		}
		return pkghttp.ExtractClientIP(r, ipConfig), models.ScopeIP
	}
}

// RateLimitByIP applies ruleName per client IP
func RateLimitByIP(limiter *services.RateLimitService, ruleName string, ipConfig *pkghttp.IPConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	return RateLimit(limiter, ruleName, KeyByIP(ipConfig), logger)
}

// RateLimitByUser applies ruleName per authenticated user, falling back to client IP
func RateLimitByUser(limiter *services.RateLimitService, ruleName string, ipConfig *pkghttp.IPConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	return RateLimit(limiter, ruleName, KeyByUser(ipConfig), logger)
}

// HealthRateLimit is a coarse per-IP limit for operational endpoints that sit
// outside the admission gate (health checks, metrics scrapes)
func HealthRateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		1*time.Minute,
		httprate.WithKeyByRealIP(),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteTooManyRequests(w, "Rate limit exceeded")
		}),
	)
}
