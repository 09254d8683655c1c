package middleware

import (
	"net/http"
	"strconv"
)

// SecurityConfig configures security headers
type SecurityConfig struct {
	// EnableHSTS enables HTTP Strict Transport Security
	EnableHSTS bool
	// HSTSMaxAge is the max-age value for HSTS in seconds
	HSTSMaxAge int
	// FrameOptions controls X-Frame-Options (DENY, SAMEORIGIN, or empty to disable)
	FrameOptions string
	// ContentTypeNosniff enables X-Content-Type-Options: nosniff
	ContentTypeNosniff bool
	// ReferrerPolicy sets the Referrer-Policy header
	ReferrerPolicy string
	// CSPPolicy sets Content-Security-Policy (empty to disable)
	CSPPolicy string
}

// DefaultSecurityConfig returns secure defaults for an API server
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		EnableHSTS:         true,
		HSTSMaxAge:         31536000,
		FrameOptions:       "DENY",
		ContentTypeNosniff: true,
		ReferrerPolicy:     "strict-origin-when-cross-origin",
		CSPPolicy:          "default-src 'none'; frame-ancestors 'none'",
	}
}

// SecurityHeaders adds security headers to HTTP responses
type SecurityHeaders struct {
	config SecurityConfig
	next   http.Handler
}

// NewSecurityHeaders creates security headers middleware
func NewSecurityHeaders(config SecurityConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return &SecurityHeaders{config: config, next: next}
	}
}

// ServeHTTP implements http.Handler
func (s *SecurityHeaders) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.setSecurityHeaders(w)
	s.next.ServeHTTP(w, r)
}

func (s *SecurityHeaders) setSecurityHeaders(w http.ResponseWriter) {
	// HSTS is only effective over HTTPS; harmless otherwise
	if s.config.EnableHSTS && s.config.HSTSMaxAge > 0 {
		w.Header().Set("Strict-Transport-Security",
			"max-age="+strconv.Itoa(s.config.HSTSMaxAge)+"; includeSubDomains")
	}
	if s.config.FrameOptions != "" {
		w.Header().Set("X-Frame-Options", s.config.FrameOptions)
	}
	if s.config.ContentTypeNosniff {
		w.Header().Set("X-Content-Type-Options", "nosniff")
	}
	if s.config.ReferrerPolicy != "" {
		w.Header().Set("Referrer-Policy", s.config.ReferrerPolicy)
	}
	if s.config.CSPPolicy != "" {
		w.Header().Set("Content-Security-Policy", s.config.CSPPolicy)
	}

	// API responses carry billing data; never cache
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
}
