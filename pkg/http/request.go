package http

import (
	"net"
	"net/http"
	"strings"
)

// UnknownClientIP identifies requests whose address could not be determined.
// All such requests share one rate limit bucket.
const UnknownClientIP = "unknown"

// Forwarding headers in the order they are trusted
const (
	HeaderCFConnectingIP = "CF-Connecting-IP"
	HeaderRealIP         = "X-Real-IP"
	HeaderForwardedFor   = "X-Forwarded-For"
)

// IPConfig holds configuration for IP extraction and validation
type IPConfig struct {
	TrustedProxies []string // CIDR ranges of trusted proxies
}

// ExtractClientIP returns the client IP used as the admission identifier.
//
// Flow:
// 1. CDN header (CF-Connecting-IP)
// 2. Reverse proxy header (X-Real-IP)
// 3. First entry of X-Forwarded-For, when it parses
// 4. RemoteAddr, or "unknown"
//
// When trusted proxies are configured, steps 1-3 apply only to requests whose
// RemoteAddr falls inside one of them; otherwise forwarding headers could be spoofed
// by any direct client.
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	remoteIP := getRemoteAddr(r)

	if headersTrusted(remoteIP, config) {
		if ip := strings.TrimSpace(r.Header.Get(HeaderCFConnectingIP)); isValidIP(ip) {
			return ip
		}
		if ip := strings.TrimSpace(r.Header.Get(HeaderRealIP)); isValidIP(ip) {
			return ip
		}
		// Only the leftmost entry names the client; later entries are appended by proxies
		if xff := r.Header.Get(HeaderForwardedFor); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); isValidIP(ip) {
				return ip
			}
		}
	}

	return remoteIP
}

// headersTrusted reports whether forwarding headers may be honoured for this peer
func headersTrusted(remoteIP string, config *IPConfig) bool {
	if config == nil || len(config.TrustedProxies) == 0 {
		return true
	}
	return isTrustedProxy(remoteIP, config.TrustedProxies)
}

// getRemoteAddr extracts the IP address from RemoteAddr (removing port if present)
func getRemoteAddr(r *http.Request) string {
	if r.RemoteAddr == "" {
		return UnknownClientIP
	}
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}

// isTrustedProxy checks if an IP address is within any of the trusted proxy CIDR ranges
func isTrustedProxy(ip string, trustedProxies []string) bool {
	clientIP := net.ParseIP(ip)
	if clientIP == nil {
		return false
	}

	for _, cidr := range trustedProxies {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			continue // Skip invalid CIDR ranges
		}
		if ipNet.Contains(clientIP) {
			return true
		}
	}

	return false
}

// isValidIP checks if a string is a valid IPv4 or IPv6 address
func isValidIP(ip string) bool {
	return ip != "" && net.ParseIP(ip) != nil
}
