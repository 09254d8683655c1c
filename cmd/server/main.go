// Package main is the entry point for the AIP auction coordinator
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/StreetsDigital/aip-coordinator/internal/auction"
	"github.com/StreetsDigital/aip-coordinator/internal/bidders"
	"github.com/StreetsDigital/aip-coordinator/internal/bidresponse"
	"github.com/StreetsDigital/aip-coordinator/internal/config"
	"github.com/StreetsDigital/aip-coordinator/internal/endpoints"
	"github.com/StreetsDigital/aip-coordinator/internal/events"
	"github.com/StreetsDigital/aip-coordinator/internal/fanout"
	"github.com/StreetsDigital/aip-coordinator/internal/inbox"
	"github.com/StreetsDigital/aip-coordinator/internal/ledger"
	"github.com/StreetsDigital/aip-coordinator/internal/metrics"
	"github.com/StreetsDigital/aip-coordinator/internal/middleware"
	"github.com/StreetsDigital/aip-coordinator/internal/storage"
	"github.com/StreetsDigital/aip-coordinator/internal/transport"
	"github.com/StreetsDigital/aip-coordinator/internal/validation"
	"github.com/StreetsDigital/aip-coordinator/internal/weave"
	"github.com/StreetsDigital/aip-coordinator/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "Server config file (falls back to "+config.EnvConfigPath+")")
	biddersPath := flag.String("bidders", "bidders.yaml", "Bidder inventory file (overridden by "+config.EnvBiddersPath+" when set)")
	port := flag.Int("port", 0, "Override listen port")
	flag.Parse()

	logger.Init(logger.DefaultConfig())
	log := logger.Log

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if *port != 0 {
		cfg.Listen.Port = *port
	}

	log.Info().
		Int("port", cfg.Listen.Port).
		Str("ledger_backend", cfg.Ledger.Backend).
		Str("distribution_backend", cfg.Auction.Distribution.Backend).
		Int("window_ms", cfg.Auction.WindowMS).
		Msg("Starting AIP auction coordinator")

	registry, err := bidders.Load(config.BiddersPath(*biddersPath))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load bidder inventory")
	}
	log.Info().
		Int("count", registry.Count()).
		Strs("bidders", bidders.Names(registry.All())).
		Msg("Bidder registry loaded")

	ctx := context.Background()
	store, err := storage.Build(ctx, cfg.Ledger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build record store")
	}

	dist, err := fanout.Build(ctx, cfg.Auction.Distribution)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build distribution publisher")
	}

	m := metrics.NewMetrics("aip")
	nonces := transport.NewNonceCache(cfg.Transport.NonceTTL())
	in := inbox.New()
	ledgerSvc := ledger.NewService(store)
	runner := auction.NewRunner(registry, dist, ledgerSvc, in, cfg.Auction.Window())
	validator := validation.Passthrough{}
	bidSvc := bidresponse.NewService(registry, in, nonces, cfg.Transport.MaxClockSkew())
	eventSvc := events.NewService(ledgerSvc, registry, nonces, validator, cfg.Transport.MaxClockSkew())
	weaveSvc := weave.NewService(store, runner)

	server := endpoints.NewServer(cfg, runner, bidSvc, eventSvc, weaveSvc, ledgerSvc, registry, validator, m)

	// Build middleware chain: CORS -> Security -> Logging -> Size Limit -> Metrics -> Router
	cors := middleware.NewCORS(middleware.DefaultCORSConfig())
	security := middleware.NewSecurityHeaders(middleware.DefaultSecurityConfig())
	sizeLimiter := middleware.NewSizeLimiter(middleware.DefaultSizeLimitConfig())

	handler := http.Handler(server.Router())
	handler = m.Middleware(handler)
	handler = sizeLimiter.Middleware(handler)
	handler = loggingMiddleware(handler)
	handler = security(handler)
	handler = cors(handler)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Listen.Host, cfg.Listen.Port),
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("Server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")

	// Drain in-flight background auctions before tearing down storage
	if err := weaveSvc.Close(); err != nil {
		log.Warn().Err(err).Msg("Error draining recommendation workers")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	if err := dist.Close(); err != nil {
		log.Warn().Err(err).Msg("Error closing distribution publisher")
	}
	if err := store.Close(); err != nil {
		log.Warn().Err(err).Msg("Error closing record store")
	}

	log.Info().Msg("Server stopped gracefully")
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs HTTP requests with structured logging
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}
		w.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(wrapped, r.WithContext(logger.WithRequestID(r.Context(), requestID)))

		duration := time.Since(start)

		event := logger.Log.Info()
		if wrapped.statusCode >= 400 {
			event = logger.Log.Warn()
		}
		if wrapped.statusCode >= 500 {
			event = logger.Log.Error()
		}

		event.
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.statusCode).
			Dur("duration_ms", duration).
			Str("remote_addr", r.RemoteAddr).
			Msg("HTTP request")
	})
}

// generateRequestID creates a unique request ID using cryptographically secure randomness
func generateRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return time.Now().Format("20060102150405.000000000")
	}
	return hex.EncodeToString(b)
}
