package middleware

import (
	"io"
	"log/slog"
	"time"

	"github.com/BradenHooton/bastion/internal/services"
	pkglogger "github.com/BradenHooton/bastion/pkg/logger"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func discardAudit() *pkglogger.AuditLogger {
	return pkglogger.NewAuditLogger(discardLogger())
}

func newLimiter(now func() time.Time) *services.RateLimitService {
	limiter := services.NewRateLimitService(nil, services.DefaultRateLimitConfig(), discardLogger())
	if now != nil {
		limiter.WithClock(now)
	}
	return limiter
}
