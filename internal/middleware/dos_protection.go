package middleware

import (
	"log/slog"
	"net/http"

	"github.com/BradenHooton/bastion/internal/services"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
	pkglogger "github.com/BradenHooton/bastion/pkg/logger"
)

// DoSProtection is the outermost admission wrapper. Rejected requests get a 429
// or 413 with a generic body; the gate's reason goes to the audit log only.
// A panicking handler is turned into a generic 500.
func DoSProtection(gate *services.DoSGate, ipConfig *pkghttp.IPConfig, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := pkghttp.ExtractClientIP(r, ipConfig)

			decision := gate.Evaluate(r.Context(), services.RequestInfo{
				IP:            ip,
				Method:        r.Method,
				Path:          r.URL.Path,
				UserAgent:     r.UserAgent(),
				ContentType:   r.Header.Get("Content-Type"),
				ContentLength: r.ContentLength,
			})

			if !decision.Admitted {
				auditLogger.LogSecurityEvent(pkglogger.AuditEvent{
					EventType:     "request_rejected",
					IPAddress:     ip,
					UserAgent:     r.UserAgent(),
					FailureReason: decision.Reason,
					Metadata:      map[string]string{"path": r.URL.Path},
				})
				writeDecision(w, decision)
				return
			}

			defer gate.Release(decision.RequestID)
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error("handler panic",
						slog.String("method", r.Method),
						slog.String("path", r.URL.Path),
						slog.Any("panic", rec))
					pkghttp.WriteInternalError(w, "Internal server error")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

func writeDecision(w http.ResponseWriter, decision services.Decision) {
	switch {
	case decision.Status == http.StatusRequestEntityTooLarge:
		pkghttp.WritePayloadTooLarge(w)
	case decision.RateLimit != nil:
		pkghttp.WriteRateLimited(w, *decision.RateLimit, decision.DecidedAt)
	default:
		pkghttp.WriteTooManyRequestsAfter(w, decision.RetryAfter)
	}
}
