package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/models"
	pkgauth "github.com/BradenHooton/bastion/pkg/auth"
	pkglogger "github.com/BradenHooton/bastion/pkg/logger"
)

// CredentialRepository looks up the stored password hash for an email
type CredentialRepository interface {
	GetByEmail(ctx context.Context, email string) (*models.Credential, error)
}

// LoginAttempt is one credential check
type LoginAttempt struct {
	Email     string
	Password  string
	IPAddress string
	UserAgent string
}

// AuthResult identifies the account behind a successful login
type AuthResult struct {
	UserID string
	Email  string
}

// AuthGuard wraps credential verification with rate limiting and account lockout.
// Every failure, whether the account is missing, the password is wrong, or the
// account is locked, returns models.ErrUnauthorized after the same padded delay.
type AuthGuard struct {
	creds       CredentialRepository
	lockout     *LockoutService
	limiter     *RateLimitService
	timing      *auth.TimingDelay
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewAuthGuard creates an AuthGuard. timing may be nil to disable padding.
func NewAuthGuard(
	creds CredentialRepository,
	lockout *LockoutService,
	limiter *RateLimitService,
	timing *auth.TimingDelay,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *AuthGuard {
	return &AuthGuard{
		creds:       creds,
		lockout:     lockout,
		limiter:     limiter,
		timing:      timing,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// Authenticate verifies a login attempt.
// Returns *models.RateLimitError when the IP or the email exhausted the LOGIN rule,
// models.ErrUnauthorized for any credential failure, models.ErrInternalServer when
// the credential lookup itself fails.
func (g *AuthGuard) Authenticate(ctx context.Context, attempt LoginAttempt) (*AuthResult, error) {
	start := time.Now()
	email := strings.ToLower(strings.TrimSpace(attempt.Email))

	if email == "" {
		g.logger.Warn("login attempt with empty email")
		g.timing.WaitFrom(start, false)
		return nil, models.ErrUnauthorized
	}

	if err := g.checkRateLimits(ctx, email, attempt.IPAddress); err != nil {
		return nil, err
	}

	if status := g.lockout.IsLocked(ctx, email); status.Locked {
		// Only the logs know the account is locked
		g.logger.Info("login blocked: account locked",
			slog.String("identity", pkglogger.SanitizedEmail(email)),
			slog.Duration("remaining", status.Remaining))
		g.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_failed",
			Identity:      email,
			IPAddress:     attempt.IPAddress,
			UserAgent:     attempt.UserAgent,
			FailureReason: "account_locked",
		})
		_ = pkgauth.CompareDummy(attempt.Password)
		g.timing.WaitFrom(start, false)
		return nil, models.ErrUnauthorized
	}

	cred, err := g.creds.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			g.logger.Error("failed to look up credentials", slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		_ = pkgauth.CompareDummy(attempt.Password)
		return nil, g.fail(ctx, start, email, "", attempt, "unknown_account")
	}

	if err := pkgauth.ComparePassword(cred.PasswordHash, attempt.Password); err != nil {
		return nil, g.fail(ctx, start, email, cred.UserID, attempt, "invalid_password")
	}

	g.lockout.Clear(ctx, email)
	g.logger.Info("user authenticated", slog.String("user_id", cred.UserID))
	g.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "login_success",
		UserID:    cred.UserID,
		IPAddress: attempt.IPAddress,
		UserAgent: attempt.UserAgent,
		Success:   true,
	})
	g.timing.WaitFrom(start, true)

	return &AuthResult{UserID: cred.UserID, Email: email}, nil
}

// checkRateLimits applies LOGIN to the client IP and to the email independently; both must pass
func (g *AuthGuard) checkRateLimits(ctx context.Context, email, ip string) error {
	rule, ok := g.limiter.Rule(models.RuleLogin)
	if !ok {
		g.logger.Error("login rate limit rule missing; skipping check")
		return nil
	}

	checks := []struct {
		scope, identifier string
	}{
		{models.ScopeIP, ip},
		{models.ScopeEmail, email},
	}
	for _, c := range checks {
		if c.identifier == "" {
			continue
		}
		result := g.limiter.CheckRateLimit(ctx, c.identifier, rule, c.scope)
		if !result.Allowed {
			g.auditLogger.LogSecurityEvent(pkglogger.AuditEvent{
				EventType:     "login_rate_limited",
				IPAddress:     ip,
				FailureReason: c.scope,
			})
			return &models.RateLimitError{Rule: rule.Name, Result: result}
		}
	}

	return nil
}

// fail records the failure against the email whether or not an account exists
func (g *AuthGuard) fail(ctx context.Context, start time.Time, email, userID string, attempt LoginAttempt, reason string) error {
	result := g.lockout.RecordFailure(ctx, email)

	g.logger.Info("login failed: invalid credentials",
		slog.String("identity", pkglogger.SanitizedEmail(email)),
		slog.Bool("locked", result.Locked),
		slog.Int("attempts_remaining", result.AttemptsRemaining))
	g.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType:     "login_failed",
		UserID:        userID,
		Identity:      email,
		IPAddress:     attempt.IPAddress,
		UserAgent:     attempt.UserAgent,
		FailureReason: reason,
	})

	g.timing.WaitFrom(start, false)
	return models.ErrUnauthorized
}
