package routes

import (
	"log/slog"
	"net/http"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/handlers"
	"github.com/BradenHooton/bastion/internal/middleware"
	"github.com/BradenHooton/bastion/internal/services"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
	pkglogger "github.com/BradenHooton/bastion/pkg/logger"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// OpsRequestsPerMinute bounds /health and /metrics per client
const OpsRequestsPerMinute = 60

// Dependencies are the components the router wires together
type Dependencies struct {
	Env             string
	Logger          *slog.Logger
	AuditLogger     *pkglogger.AuditLogger
	IPConfig        *pkghttp.IPConfig
	Gate            *services.DoSGate
	Limiter         *services.RateLimitService
	OriginValidator *auth.OriginValidator
	TokenVerifier   *auth.TokenVerifier // nil disables user-scoped identifiers

	// AuthHandler is nil when no credential store is configured
	AuthHandler *handlers.AuthHandler

	Health  http.HandlerFunc
	Metrics http.Handler

	// Application registers business routes behind the admission chain
	Application func(r chi.Router, guards Guards)
}

// Guards builds per-route rate limit middleware from the shared limiter
type Guards struct {
	deps Dependencies
}

// ByIP limits a route under ruleName per client IP
func (g Guards) ByIP(ruleName string) func(http.Handler) http.Handler {
	return middleware.RateLimitByIP(g.deps.Limiter, ruleName, g.deps.IPConfig, g.deps.Logger)
}

// ByUser limits a route under ruleName per authenticated user, else per client IP
func (g Guards) ByUser(ruleName string) func(http.Handler) http.Handler {
	return middleware.RateLimitByUser(g.deps.Limiter, ruleName, g.deps.IPConfig, g.deps.Logger)
}

// NewRouter builds the HTTP handler.
//
// Every /api request passes DoSProtection first, then optional bearer parsing,
// then the CSRF origin check for state-changing methods. Operational endpoints
// sit outside the gate behind a coarse per-IP limit.
func NewRouter(deps Dependencies) http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(middleware.SecurityHeaders(deps.Env))
	router.Use(middleware.CORS(deps.OriginValidator, middleware.DefaultCORSConfig()))
	router.Use(middleware.SecureLogger(deps.Logger, deps.IPConfig))

	router.Group(func(r chi.Router) {
		r.Use(middleware.HealthRateLimit(OpsRequestsPerMinute))
		if deps.Health != nil {
			r.Get("/health", deps.Health)
		}
		if deps.Metrics != nil {
			r.Handle("/metrics", deps.Metrics)
		}
	})

	router.Route("/api", func(r chi.Router) {
		r.Use(middleware.DoSProtection(deps.Gate, deps.IPConfig, deps.Logger, deps.AuditLogger))
		r.Use(auth.OptionalAuth(deps.TokenVerifier))
		r.Use(middleware.CSRFProtection(deps.OriginValidator, deps.IPConfig, deps.Logger))

		if deps.AuthHandler != nil {
			r.Post("/auth/login", deps.AuthHandler.Login)
		}

		if deps.Application != nil {
			deps.Application(r, Guards{deps: deps})
		}
	})

	return router
}
