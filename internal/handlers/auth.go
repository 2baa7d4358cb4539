package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/services"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
)

// AuthGuardInterface is the credential check the login endpoint delegates to
type AuthGuardInterface interface {
	Authenticate(ctx context.Context, attempt services.LoginAttempt) (*services.AuthResult, error)
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	guard    AuthGuardInterface
	ipConfig *pkghttp.IPConfig
	now      func() time.Time
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(guard AuthGuardInterface, ipConfig *pkghttp.IPConfig) *AuthHandler {
	return &AuthHandler{
		guard:    guard,
		ipConfig: ipConfig,
		now:      time.Now,
	}
}

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=128"`
}

// LoginResponse identifies the authenticated account
type LoginResponse struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// Login verifies credentials behind rate limiting and account lockout.
// Every credential failure gets the same 401 body.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.guard.Authenticate(r.Context(), services.LoginAttempt{
		Email:     req.Email,
		Password:  req.Password,
		IPAddress: pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		var rlErr *models.RateLimitError
		switch {
		case errors.As(err, &rlErr):
			pkghttp.WriteRateLimited(w, rlErr.Result, h.now())
		case errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, "Authentication failed")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(LoginResponse{UserID: result.UserID, Email: result.Email})
}
