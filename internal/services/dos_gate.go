package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/BradenHooton/bastion/internal/metrics"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// Internal rejection reasons. Logged and counted, never sent to clients.
const (
	ReasonSuspiciousIP   = "suspicious_ip"
	ReasonPayloadTooBig  = "payload_too_large"
	ReasonConcurrency    = "concurrency"
	ReasonRateLimit      = "rate_limit"
	ReasonAutomationUA   = "automation_user_agent"
	ReasonHighFrequency  = "high_frequency"
	ReasonContentType    = "malformed_content_type"
	ReasonPathTraversal  = "path_traversal"
	ReasonAdmitted       = "admitted"
	ReasonInternalFailed = "internal_error"
)

// DoSConfig holds DoS gate thresholds
type DoSConfig struct {
	MaxRequestSize           int64         `validate:"gt=0"`
	MaxConcurrentRequests    int           `validate:"gt=0"`
	RequestTimeout           time.Duration `validate:"gt=0"`
	EnableAnomalyDetection   bool
	AnomalyRequestsPerMinute int           `validate:"gt=0"`
	AnomalyWindow            time.Duration `validate:"gt=0"`
	SuspiciousIPTTL          time.Duration `validate:"gt=0"`
	SuspiciousUserAgents     []string
}

// DefaultSuspiciousUserAgents are case-insensitive substrings of common automation clients
func DefaultSuspiciousUserAgents() []string {
	return []string{
		"bot", "crawler", "spider", "scraper",
		"curl", "wget", "python-requests", "scrapy",
		"sqlmap", "nikto", "nmap", "masscan", "zgrab",
	}
}

// DefaultDoSConfig returns the default gate thresholds
func DefaultDoSConfig() DoSConfig {
	return DoSConfig{
		MaxRequestSize:           10 << 20,
		MaxConcurrentRequests:    50,
		RequestTimeout:           30 * time.Second,
		EnableAnomalyDetection:   true,
		AnomalyRequestsPerMinute: 20,
		AnomalyWindow:            time.Minute,
		SuspiciousIPTTL:          30 * time.Minute,
		SuspiciousUserAgents:     DefaultSuspiciousUserAgents(),
	}
}

// RequestInfo is what the gate needs to know about an inbound request.
// ContentLength is -1 when the size was not declared.
type RequestInfo struct {
	IP            string
	Method        string
	Path          string
	UserAgent     string
	ContentType   string
	ContentLength int64
}

// Decision is the gate's verdict. Reason is for logs and metrics only.
type Decision struct {
	Admitted   bool
	Status     int
	Reason     string
	RequestID  string
	RetryAfter time.Duration
	RateLimit  *models.RateLimitResult
	DecidedAt  time.Time
}

type frequencyCounter struct {
	count       int
	windowStart time.Time
}

// DoSGate composes block-list, size, concurrency, rate limit and anomaly
// checks into one admission decision, cheapest checks first. Its tables are
// process-local and only bound abuse from a single instance's point of view.
type DoSGate struct {
	limiter *RateLimitService
	config  DoSConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu     sync.Mutex
	active map[string]models.ActiveRequestRecord
	recent map[string]*frequencyCounter

	// ip -> expiry on the gate clock
	suspicious *cache.Cache
}

// NewDoSGate creates a gate that delegates rate limiting to limiter
func NewDoSGate(limiter *RateLimitService, config DoSConfig, logger *slog.Logger) *DoSGate {
	agents := make([]string, 0, len(config.SuspiciousUserAgents))
	for _, ua := range config.SuspiciousUserAgents {
		agents = append(agents, strings.ToLower(ua))
	}
	config.SuspiciousUserAgents = agents

	return &DoSGate{
		limiter:    limiter,
		config:     config,
		logger:     logger,
		now:        time.Now,
		active:     make(map[string]models.ActiveRequestRecord),
		suspicious: cache.New(config.SuspiciousIPTTL, time.Minute),
		recent:     make(map[string]*frequencyCounter),
	}
}

// WithClock replaces the time source, for tests
func (g *DoSGate) WithClock(now func() time.Time) *DoSGate {
	g.now = now
	return g
}

// WithMetrics attaches metrics collectors
func (g *DoSGate) WithMetrics(m *metrics.Metrics) *DoSGate {
	g.metrics = m
	return g
}

// Evaluate runs the admission pipeline for one request. An admitted request
// occupies a concurrency slot until Release or until RequestTimeout elapses.
// Internal failures admit the request.
func (g *DoSGate) Evaluate(ctx context.Context, info RequestInfo) (decision Decision) {
	var id string
	defer func() {
		if rec := recover(); rec != nil {
			g.Release(id)
			g.logger.Error("dos gate internal error, admitting request",
				slog.String("ip", info.IP),
				slog.String("path", info.Path),
				slog.Any("error", fmt.Errorf("panic: %v", rec)))
			g.metrics.FailOpen()
			g.metrics.Decision(metrics.OutcomeAdmit, ReasonInternalFailed)
			decision = Decision{Admitted: true, Reason: ReasonInternalFailed}
		}
	}()

	now := g.now()

	if expiry, blocked := g.suspiciousUntil(info.IP, now); blocked {
		return g.reject(info, now, http.StatusTooManyRequests, ReasonSuspiciousIP, expiry.Sub(now), nil)
	}

	// Undeclared sizes pass; the body is not read here
	if info.ContentLength > g.config.MaxRequestSize {
		return g.reject(info, now, http.StatusRequestEntityTooLarge, ReasonPayloadTooBig, 0, nil)
	}

	// The slot is taken before the slower checks so parallel requests see it;
	// any later rejection gives it back
	var ok bool
	if id, ok = g.acquire(info, now); !ok {
		return g.reject(info, now, http.StatusTooManyRequests, ReasonConcurrency, g.config.RequestTimeout, nil)
	}

	if rule, ok := g.limiter.Rule(ClassifyPath(info.Path)); ok {
		result := g.limiter.CheckRateLimit(ctx, info.IP, rule, models.ScopeIP)
		if !result.Allowed {
			g.Release(id)
			return g.reject(info, now, http.StatusTooManyRequests, ReasonRateLimit, result.ResetAt.Sub(now), &result)
		}
	}

	if g.config.EnableAnomalyDetection {
		if reason := g.detectAnomaly(info, now); reason != "" {
			g.Release(id)
			g.markSuspicious(info.IP, now)
			return g.reject(info, now, http.StatusTooManyRequests, reason, g.config.SuspiciousIPTTL, nil)
		}
	}

	g.metrics.Decision(metrics.OutcomeAdmit, ReasonAdmitted)
	return Decision{Admitted: true, Status: http.StatusOK, Reason: ReasonAdmitted, RequestID: id, DecidedAt: now}
}

// Release frees the concurrency slot held by an admitted request
func (g *DoSGate) Release(requestID string) {
	if requestID == "" {
		return
	}
	g.mu.Lock()
	delete(g.active, requestID)
	g.mu.Unlock()
}

// ActiveCount returns the number of unexpired active requests for ip
func (g *DoSGate) ActiveCount(ip string) int {
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	return g.activeCountLocked(ip, now)
}

func (g *DoSGate) activeCountLocked(ip string, now time.Time) int {
	count := 0
	for _, rec := range g.active {
		if rec.IP == ip && now.Sub(rec.StartTime) < g.config.RequestTimeout {
			count++
		}
	}
	return count
}

// IsSuspicious reports whether ip is currently on the block-list
func (g *DoSGate) IsSuspicious(ip string) bool {
	_, blocked := g.suspiciousUntil(ip, g.now())
	return blocked
}

// Sweep drops active records older than RequestTimeout, expired block-list
// entries and idle frequency counters. Returns how many active records were removed.
func (g *DoSGate) Sweep() int {
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	removed := 0
	for id, rec := range g.active {
		if now.Sub(rec.StartTime) >= g.config.RequestTimeout {
			delete(g.active, id)
			removed++
		}
	}
	g.suspicious.DeleteExpired()
	for ip, item := range g.suspicious.Items() {
		if expiry, ok := item.Object.(time.Time); ok && !now.Before(expiry) {
			g.suspicious.Delete(ip)
		}
	}
	for ip, counter := range g.recent {
		if now.Sub(counter.windowStart) > g.config.AnomalyWindow {
			delete(g.recent, ip)
		}
	}

	if removed > 0 {
		g.logger.Debug("swept expired active requests", slog.Int("removed", removed))
	}
	return removed
}

// ClassifyPath maps a request path to the rule class the gate limits it under
func ClassifyPath(path string) string {
	p := strings.ToLower(path)
	switch {
	case strings.Contains(p, "/auth/") || strings.HasSuffix(p, "/auth") ||
		strings.Contains(p, "/login") || strings.Contains(p, "/register"):
		return models.RuleClassAuth
	case strings.Contains(p, "/upload"):
		return models.RuleClassUpload
	case strings.Contains(p, "/ai/") || strings.HasSuffix(p, "/ai"):
		return models.RuleClassAI
	default:
		return models.RuleClassGeneral
	}
}

// detectAnomaly returns the first heuristic that fires, or ""
func (g *DoSGate) detectAnomaly(info RequestInfo, now time.Time) string {
	ua := strings.ToLower(info.UserAgent)
	for _, token := range g.config.SuspiciousUserAgents {
		if token != "" && strings.Contains(ua, token) {
			return ReasonAutomationUA
		}
	}

	if g.countRecent(info.IP, now) > g.config.AnomalyRequestsPerMinute {
		return ReasonHighFrequency
	}

	if strings.Contains(info.ContentType, "..") {
		return ReasonContentType
	}

	if strings.Contains(info.Path, "../") || strings.Contains(info.Path, `..\`) {
		return ReasonPathTraversal
	}

	return ""
}

func (g *DoSGate) countRecent(ip string, now time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	counter := g.recent[ip]
	if counter == nil || now.Sub(counter.windowStart) > g.config.AnomalyWindow {
		counter = &frequencyCounter{windowStart: now}
		g.recent[ip] = counter
	}
	counter.count++
	return counter.count
}

func (g *DoSGate) suspiciousUntil(ip string, now time.Time) (time.Time, bool) {
	cached, found := g.suspicious.Get(ip)
	if !found {
		return time.Time{}, false
	}
	expiry := cached.(time.Time)
	if !now.Before(expiry) {
		g.suspicious.Delete(ip)
		return time.Time{}, false
	}
	return expiry, true
}

func (g *DoSGate) markSuspicious(ip string, now time.Time) {
	g.suspicious.Set(ip, now.Add(g.config.SuspiciousIPTTL), cache.DefaultExpiration)
}

// acquire counts the IP's live records and registers a new one under a single
// lock. Returns false when the IP is already at MaxConcurrentRequests.
func (g *DoSGate) acquire(info RequestInfo, now time.Time) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.activeCountLocked(info.IP, now) >= g.config.MaxConcurrentRequests {
		return "", false
	}

	id := uuid.NewString()
	rec := models.ActiveRequestRecord{
		RequestID: id,
		StartTime: now,
		SizeBytes: max(info.ContentLength, 0),
		IP:        info.IP,
		UserAgent: info.UserAgent,
		Path:      info.Path,
	}
	g.active[id] = rec

	return id, true
}

func (g *DoSGate) reject(info RequestInfo, now time.Time, status int, reason string, retryAfter time.Duration, result *models.RateLimitResult) Decision {
	g.logger.Warn("request rejected",
		slog.String("ip", info.IP),
		slog.String("method", info.Method),
		slog.String("path", info.Path),
		slog.Int("status", status),
		slog.String("reason", reason))
	g.metrics.Decision(metrics.OutcomeReject, reason)

	return Decision{
		Admitted:   false,
		Status:     status,
		Reason:     reason,
		RetryAfter: max(retryAfter, 0),
		RateLimit:  result,
		DecidedAt:  now,
	}
}
