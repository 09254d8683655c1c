// Package metrics provides Prometheus metrics for the AIP coordinator
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Request metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Auction metrics
	AuctionsTotal   *prometheus.CounterVec
	AuctionDuration prometheus.Histogram
	BidsCollected   prometheus.Histogram
	ClearingPrice   prometheus.Histogram
	PublishFailures *prometheus.CounterVec

	// Envelope guard metrics
	GuardRejections *prometheus.CounterVec

	// Event metrics
	EventsIngested *prometheus.CounterVec

	// Recommendation metrics
	RecommendationRequests *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "aip"
	}

	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being served",
			},
		),

		AuctionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auctions_total",
				Help:      "Total number of auctions by outcome",
			},
			[]string{"outcome"},
		),
		AuctionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "auction_duration_seconds",
				Help:      "End-to-end auction duration in seconds",
				Buckets:   []float64{.01, .025, .05, .1, .25, .5, .75, 1, 1.5, 2},
			},
		),
		BidsCollected: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "bids_collected",
				Help:      "Bids collected per auction window",
				Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
			},
		),
		ClearingPrice: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "clearing_price",
				Help:      "Clearing price distribution",
				Buckets:   []float64{0.1, 0.5, 1, 2, 3, 5, 10, 20, 50},
			},
		),
		PublishFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "publish_failures_total",
				Help:      "Pool publications that failed",
			},
			[]string{"pool"},
		),

		GuardRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "guard_rejections_total",
				Help:      "Envelope guard rejections by kind",
			},
			[]string{"kind"},
		),

		EventsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_ingested_total",
				Help:      "Billing events by type and outcome",
			},
			[]string{"event_type", "status"},
		),

		RecommendationRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recommendation_requests_total",
				Help:      "Recommendation requests by cache path",
			},
			[]string{"path"},
		),
	}

	// Register all metrics
	prometheus.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.AuctionsTotal,
		m.AuctionDuration,
		m.BidsCollected,
		m.ClearingPrice,
		m.PublishFailures,
		m.GuardRejections,
		m.EventsIngested,
		m.RecommendationRequests,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns HTTP middleware that records request metrics
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.RequestsInFlight.Inc()
		defer m.RequestsInFlight.Dec()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(wrapped.statusCode)

		m.RequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		m.RequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
	})
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

// RecordAuction records one auction outcome
func (m *Metrics) RecordAuction(outcome string, duration time.Duration, bids int, clearingPrice float64) {
	m.AuctionsTotal.WithLabelValues(outcome).Inc()
	m.AuctionDuration.Observe(duration.Seconds())
	m.BidsCollected.Observe(float64(bids))
	if clearingPrice > 0 {
		m.ClearingPrice.Observe(clearingPrice)
	}
}

// RecordGuardRejection records an envelope guard rejection
func (m *Metrics) RecordGuardRejection(kind string) {
	m.GuardRejections.WithLabelValues(kind).Inc()
}

// RecordEvent records a billing event ingestion attempt
func (m *Metrics) RecordEvent(eventType, status string) {
	m.EventsIngested.WithLabelValues(eventType, status).Inc()
}

// RecordRecommendation records which cache path served a recommendation
func (m *Metrics) RecordRecommendation(path string) {
	m.RecommendationRequests.WithLabelValues(path).Inc()
}

// RecordPublishFailure records a failed pool publication
func (m *Metrics) RecordPublishFailure(pool string) {
	m.PublishFailures.WithLabelValues(pool).Inc()
}
