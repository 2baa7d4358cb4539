package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/stretchr/testify/assert"
)

func withClaims(req *http.Request, userID string) *http.Request {
	claims := &models.TokenClaims{UserID: userID, Type: "access"}
	return req.WithContext(context.WithValue(req.Context(), auth.UserContextKey, claims))
}

func TestRateLimitByIP_EnforcesRule(t *testing.T) {
	limiter := newLimiter(nil)
	handler := RateLimitByIP(limiter, models.RuleRegistration, nil, discardLogger())(okHandler())

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("POST", "/api/register", nil)
		req.RemoteAddr = "192.0.2.1:5555"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	}

	req := httptest.NewRequest("POST", "/api/register", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))

	// Another IP has its own budget
	other := httptest.NewRequest("POST", "/api/register", nil)
	other.RemoteAddr = "192.0.2.2:5555"
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, other)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimitByUser_KeysByUserID(t *testing.T) {
	limiter := newLimiter(nil)
	handler := RateLimitByUser(limiter, models.RuleAIIdentify, nil, discardLogger())(okHandler())

	// Same user from different IPs shares one budget
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest("POST", "/api/ai/identify", nil)
		req.RemoteAddr = fmt.Sprintf("192.0.2.%d:5555", i+1)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, withClaims(req, "user-1"))
		assert.Equal(t, http.StatusOK, w.Code)
	}

	req := httptest.NewRequest("POST", "/api/ai/identify", nil)
	req.RemoteAddr = "192.0.2.9:5555"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, withClaims(req, "user-1"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// A different user is unaffected
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, withClaims(httptest.NewRequest("POST", "/api/ai/identify", nil), "user-2"))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestKeyByUser_FallsBackToIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"

	identifier, scope := KeyByUser(nil)(req)
	assert.Equal(t, "192.0.2.1", identifier)
	assert.Equal(t, models.ScopeIP, scope)

	identifier, scope = KeyByUser(nil)(withClaims(req, "user-1"))
	assert.Equal(t, "user-1", identifier)
	assert.Equal(t, models.ScopeUser, scope)
}

func TestRateLimit_UnknownRulePassesThrough(t *testing.T) {
	limiter := newLimiter(nil)
	handler := RateLimitByIP(limiter, "MISSING", nil, discardLogger())(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthRateLimit(t *testing.T) {
	handler := HealthRateLimit(2)(okHandler())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/health", nil)
		req.RemoteAddr = "192.0.2.50:5555"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
