package auth

import (
	"net/http"
	"net/url"

	"github.com/BradenHooton/bastion/internal/models"
)

// OriginValidator rejects state-changing requests whose Origin (or, failing
// that, Referer) is not in a fixed allow-list. It holds no per-session state.
type OriginValidator struct {
	allowed map[string]struct{}
	origins []string
}

// NewOriginValidator creates a validator over an exact-match allow-list
func NewOriginValidator(allowedOrigins []string) *OriginValidator {
	v := &OriginValidator{allowed: make(map[string]struct{}, len(allowedOrigins))}
	for _, origin := range allowedOrigins {
		if _, dup := v.allowed[origin]; dup {
			continue
		}
		v.allowed[origin] = struct{}{}
		v.origins = append(v.origins, origin)
	}
	return v
}

// AllowedOrigins returns the allow-list in configuration order
func (v *OriginValidator) AllowedOrigins() []string {
	return append([]string(nil), v.origins...)
}

// Validate returns nil when the request may proceed and models.ErrCSRFValidation otherwise.
// Only state-changing methods are checked. A present Origin header is authoritative;
// Referer is consulted only when Origin is absent. Neither header means reject.
func (v *OriginValidator) Validate(method, origin, referer string) error {
	if !IsStateChangingMethod(method) {
		return nil
	}

	if origin != "" {
		if v.isAllowed(origin) {
			return nil
		}
		return models.ErrCSRFValidation
	}

	if referer != "" {
		refererOrigin, ok := OriginFromURL(referer)
		if ok && v.isAllowed(refererOrigin) {
			return nil
		}
		return models.ErrCSRFValidation
	}

	return models.ErrCSRFValidation
}

func (v *OriginValidator) isAllowed(origin string) bool {
	_, ok := v.allowed[origin]
	return ok
}

// OriginFromURL derives scheme://host[:port] from an absolute URL.
// Values without a scheme or host do not count as URLs.
func OriginFromURL(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return u.Scheme + "://" + u.Host, true
}

// IsStateChangingMethod checks if the HTTP method modifies state
func IsStateChangingMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
		return true
	default:
		return false
	}
}
