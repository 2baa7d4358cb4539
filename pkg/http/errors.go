package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
)

// CSRFErrorCode is the stable code clients can branch on for CSRF rejections
const CSRFErrorCode = "CSRF_VALIDATION_FAILED"

// ErrorResponse represents a standard API error response
type ErrorResponse struct {
	Error   string `json:"error"`             // Machine-readable error code
	Message string `json:"message,omitempty"` // Human-readable message
	Details string `json:"details,omitempty"` // Optional additional context
}

// RateLimitResponse is the 429 body
type RateLimitResponse struct {
	Error string `json:"error"`
}

// CSRFResponse is the 403 body for a failed origin check
type CSRFResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// WriteError writes a JSON error response with the given status code
func WriteError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	WriteErrorWithDetails(w, statusCode, errorCode, message, "")
}

// WriteErrorWithDetails writes a JSON error response with additional details
func WriteErrorWithDetails(w http.ResponseWriter, statusCode int, errorCode, message, details string) {
	writeJSON(w, statusCode, ErrorResponse{
		Error:   errorCode,
		Message: message,
		Details: details,
	})
}

// WriteRateLimited writes a 429 with Retry-After (seconds) and X-RateLimit-* headers.
// X-RateLimit-Reset is a unix timestamp in seconds.
func WriteRateLimited(w http.ResponseWriter, result models.RateLimitResult, now time.Time) {
	h := w.Header()
	h.Set("Retry-After", strconv.Itoa(result.RetryAfter(now)))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

	writeJSON(w, http.StatusTooManyRequests, RateLimitResponse{
		Error: "Too many requests. Please try again later.",
	})
}

// WriteTooManyRequestsAfter writes a 429 carrying only a Retry-After hint
func WriteTooManyRequestsAfter(w http.ResponseWriter, retryAfter time.Duration) {
	seconds := int((retryAfter + time.Second - 1) / time.Second)
	w.Header().Set("Retry-After", strconv.Itoa(max(seconds, 1)))

	writeJSON(w, http.StatusTooManyRequests, RateLimitResponse{
		Error: "Too many requests. Please try again later.",
	})
}

// WriteCSRFRejected writes the 403 for a failed origin check
func WriteCSRFRejected(w http.ResponseWriter) {
	writeJSON(w, http.StatusForbidden, CSRFResponse{
		Error: "CSRF validation failed",
		Code:  CSRFErrorCode,
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	// Encoding errors are not exposed to the client
	_ = json.NewEncoder(w).Encode(body)
}

// Common error writers for consistency
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "bad_request", message)
}

func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, "unauthorized", message)
}

func WritePayloadTooLarge(w http.ResponseWriter) {
	WriteError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "Request body too large")
}

func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, "rate_limit_exceeded", message)
}

func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, "internal_error", message)
}
