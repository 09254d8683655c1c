package endpoints

import (
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/StreetsDigital/aip-coordinator/internal/auction"
	"github.com/StreetsDigital/aip-coordinator/internal/bidders"
	"github.com/StreetsDigital/aip-coordinator/internal/bidresponse"
	"github.com/StreetsDigital/aip-coordinator/internal/config"
	"github.com/StreetsDigital/aip-coordinator/internal/events"
	"github.com/StreetsDigital/aip-coordinator/internal/ledger"
	"github.com/StreetsDigital/aip-coordinator/internal/metrics"
	"github.com/StreetsDigital/aip-coordinator/internal/validation"
	"github.com/StreetsDigital/aip-coordinator/internal/weave"
)

// Version is the API version reported by ping and health
const Version = "1.0.0"

// Server wires the coordinator services into HTTP handlers
type Server struct {
	cfg       *config.Config
	runner    *auction.Runner
	bids      *bidresponse.Service
	events    *events.Service
	weave     *weave.Service
	ledger    *ledger.Service
	registry  *bidders.Registry
	validator validation.Validator
	metrics   *metrics.Metrics
	startTime time.Time
}

// NewServer creates the HTTP surface over the coordinator services
func NewServer(
	cfg *config.Config,
	runner *auction.Runner,
	bids *bidresponse.Service,
	eventSvc *events.Service,
	weaveSvc *weave.Service,
	ledgerSvc *ledger.Service,
	registry *bidders.Registry,
	validator validation.Validator,
	m *metrics.Metrics,
) *Server {
	return &Server{
		cfg:       cfg,
		runner:    runner,
		bids:      bids,
		events:    eventSvc,
		weave:     weaveSvc,
		ledger:    ledgerSvc,
		registry:  registry,
		validator: validator,
		metrics:   m,
		startTime: time.Now(),
	}
}

// Router mounts the versioned HTTP surface
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Route("/aip", func(r chi.Router) {
		r.Get("/ping", s.handlePing)
		r.Post("/context", s.handleContext)
		r.Post("/bid-response", s.handleBidResponse)
		r.Post("/events", s.handleEvents)
	})

	r.Post("/v1/weave/recommendations", s.handleRecommendations)

	r.Route("/admin", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/stats", s.handleStats)
		r.Get("/config", s.handleConfig)
		r.Get("/bidders", s.handleBidders)
	})

	r.Method("GET", "/metrics", metrics.Handler())

	return r
}
