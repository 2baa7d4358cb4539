package middleware

import (
	"log/slog"
	"net/http"

	"github.com/BradenHooton/bastion/internal/auth"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
)

// CSRFProtection rejects state-changing requests whose Origin or Referer is not allow-listed.
// Safe methods pass untouched.
func CSRFProtection(validator *auth.OriginValidator, ipConfig *pkghttp.IPConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			referer := r.Header.Get("Referer")

			if err := validator.Validate(r.Method, origin, referer); err != nil {
				logger.Warn("CSRF validation failed",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("origin", origin),
					slog.Bool("has_referer", referer != ""),
					slog.String("ip", pkghttp.ExtractClientIP(r, ipConfig)))
				pkghttp.WriteCSRFRejected(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
