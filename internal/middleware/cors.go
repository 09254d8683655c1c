// Package middleware provides HTTP middleware components
package middleware

import (
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/StreetsDigital/aip-coordinator/pkg/logger"
)

// CORSConfig configures CORS behavior
type CORSConfig struct {
	// AllowedOrigins lists origins permitted to make cross-origin requests.
	// "*" allows all origins (not recommended for production).
	AllowedOrigins []string
	// AllowedMethods specifies the methods allowed for cross-origin requests.
	AllowedMethods []string
	// AllowedHeaders specifies the headers allowed in cross-origin requests.
	AllowedHeaders []string
	// ExposedHeaders specifies headers that browsers are allowed to access.
	ExposedHeaders []string
	// MaxAge indicates how long preflight results can be cached (in seconds).
	MaxAge int
}

// DefaultCORSConfig reads allowed origins from the environment
func DefaultCORSConfig() CORSConfig {
	originsEnv := os.Getenv("CORS_ALLOWED_ORIGINS")
	var origins []string
	if originsEnv != "" {
		origins = strings.Split(originsEnv, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
	}

	return CORSConfig{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{
			"Content-Type",
			"Accept",
			"Origin",
			"X-Requested-With",
		},
		ExposedHeaders: []string{
			"X-Request-ID",
		},
		MaxAge: 86400,
	}
}

// CORS middleware handles Cross-Origin Resource Sharing
type CORS struct {
	config    CORSConfig
	originSet map[string]bool
	allowAll  bool
	next      http.Handler
}

// NewCORS creates a new CORS middleware
func NewCORS(config CORSConfig) func(http.Handler) http.Handler {
	originSet := make(map[string]bool)
	allowAll := false
	for _, origin := range config.AllowedOrigins {
		if origin == "*" {
			allowAll = true
		} else {
			originSet[origin] = true
		}
	}

	if len(config.AllowedOrigins) == 0 {
		logger.Log.Warn().Msg("CORS_ALLOWED_ORIGINS not set - CORS disabled")
	} else if allowAll {
		logger.Log.Warn().Msg("CORS configured with wildcard origin (*) - not recommended for production")
	}

	return func(next http.Handler) http.Handler {
		return &CORS{
			config:    config,
			originSet: originSet,
			allowAll:  allowAll,
			next:      next,
		}
	}
}

// ServeHTTP implements http.Handler
func (c *CORS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")

	// No Origin header = not a CORS request
	if origin == "" {
		c.next.ServeHTTP(w, r)
		return
	}

	if !c.isOriginAllowed(origin) {
		// No CORS headers; the browser blocks the response
		c.next.ServeHTTP(w, r)
		return
	}

	c.setCORSHeaders(w, origin)

	if r.Method == http.MethodOptions {
		c.handlePreflight(w)
		return
	}

	c.next.ServeHTTP(w, r)
}

func (c *CORS) isOriginAllowed(origin string) bool {
	if c.allowAll {
		return true
	}
	return c.originSet[origin]
}

func (c *CORS) setCORSHeaders(w http.ResponseWriter, origin string) {
	// Echo the actual origin, not "*"
	w.Header().Set("Access-Control-Allow-Origin", origin)

	if len(c.config.ExposedHeaders) > 0 {
		w.Header().Set("Access-Control-Expose-Headers",
			strings.Join(c.config.ExposedHeaders, ", "))
	}

	// Vary matters for caches
	w.Header().Add("Vary", "Origin")
}

func (c *CORS) handlePreflight(w http.ResponseWriter) {
	if len(c.config.AllowedMethods) > 0 {
		w.Header().Set("Access-Control-Allow-Methods",
			strings.Join(c.config.AllowedMethods, ", "))
	}
	if len(c.config.AllowedHeaders) > 0 {
		w.Header().Set("Access-Control-Allow-Headers",
			strings.Join(c.config.AllowedHeaders, ", "))
	}
	if c.config.MaxAge > 0 {
		w.Header().Set("Access-Control-Max-Age", strconv.Itoa(c.config.MaxAge))
	}
	w.WriteHeader(http.StatusNoContent)
}
