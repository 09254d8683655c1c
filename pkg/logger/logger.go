// Package logger provides structured logging for the AIP coordinator
package logger

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// RequestIDKey is the context key for request IDs
	RequestIDKey ContextKey = "request_id"
	// ServeTokenKey is the context key for serve tokens
	ServeTokenKey ContextKey = "serve_token"
)

var (
	// Log is the global logger instance
	Log zerolog.Logger
)

// Config holds logger configuration
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	TimeFormat string // time format for console output
}

// DefaultConfig returns sensible defaults for production
func DefaultConfig() Config {
	return Config{
		Level:      getEnv("LOG_LEVEL", "info"),
		Format:     getEnv("LOG_FORMAT", "json"),
		TimeFormat: time.RFC3339,
	}
}

// Init initializes the global logger
func Init(cfg Config) {
	var output io.Writer = os.Stdout

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: cfg.TimeFormat,
		}
	}

	Log = zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("service", "aip-coordinator").
		Logger()
}

// WithRequestID adds a request ID to the logger context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithServeToken adds a serve token to the logger context
func WithServeToken(ctx context.Context, serveToken string) context.Context {
	return context.WithValue(ctx, ServeTokenKey, serveToken)
}

// FromContext returns a logger with context values
func FromContext(ctx context.Context) zerolog.Logger {
	l := Log.With()

	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		l = l.Str("request_id", requestID)
	}

	if serveToken, ok := ctx.Value(ServeTokenKey).(string); ok {
		l = l.Str("serve_token", serveToken)
	}

	return l.Logger()
}

// Auction returns a logger for auction events
func Auction(auctionID string) *zerolog.Logger {
	l := Log.With().Str("auction_id", auctionID).Logger()
	return &l
}

// Bidder returns a logger for bidder events
func Bidder(name string) *zerolog.Logger {
	l := Log.With().Str("bidder", name).Logger()
	return &l
}

// Ledger returns a logger for ledger events
func Ledger(serveToken string) *zerolog.Logger {
	l := Log.With().Str("serve_token", serveToken).Logger()
	return &l
}

// Weave returns a logger for recommendation coordinator events
func Weave(sessionID, messageID string) *zerolog.Logger {
	l := Log.With().
		Str("session_id", sessionID).
		Str("message_id", messageID).
		Logger()
	return &l
}

// HTTP returns a logger for HTTP events
func HTTP() *zerolog.Logger {
	l := Log.With().Str("component", "http").Logger()
	return &l
}

// Fanout returns a logger for distribution publisher events
func Fanout() *zerolog.Logger {
	l := Log.With().Str("component", "fanout").Logger()
	return &l
}

// getEnv returns environment variable or default
func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
