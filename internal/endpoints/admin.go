package endpoints

import (
	"net/http"
	"time"

	"github.com/StreetsDigital/aip-coordinator/internal/ledger"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"version":   Version,
		"uptime_s":  int(time.Since(s.startTime).Seconds()),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	records, err := s.ledger.List(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	byState := map[string]int{}
	events := 0
	for _, rec := range records {
		byState[string(rec.State)]++
		events += len(rec.Events)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"records":           len(records),
		"records_by_state":  byState,
		"events_recorded":   events,
		"auction_completed": byState[string(ledger.StateAuctionCompleted)] + byState[string(ledger.StateEventRecorded)],
		"no_bid":            byState[string(ledger.StateNoBid)],
	})
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	// Safe echo: backend selections and tunables only, never options that
	// may carry credentials.
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transport": map[string]interface{}{
			"nonce_ttl_seconds": s.cfg.Transport.NonceTTLSeconds,
			"max_clock_skew_ms": s.cfg.Transport.MaxClockSkewMS,
		},
		"ledger": map[string]interface{}{
			"backend": s.cfg.Ledger.Backend,
		},
		"auction": map[string]interface{}{
			"window_ms":            s.cfg.Auction.WindowMS,
			"distribution_backend": s.cfg.Auction.Distribution.Backend,
		},
		"operator": map[string]interface{}{
			"id":              s.cfg.Operator.ID,
			"allowed_formats": s.cfg.Operator.AllowedFormats,
		},
	})
}

func (s *Server) handleBidders(w http.ResponseWriter, _ *http.Request) {
	inventory := make([]map[string]interface{}, 0, s.registry.Count())
	for _, bidder := range s.registry.All() {
		inventory = append(inventory, map[string]interface{}{
			"id":          bidder.Name,
			"endpoint":    bidder.Endpoint,
			"pools":       bidder.Pools,
			"timeout_ms":  bidder.TimeoutMS,
			"permissions": []string{"submit-bid"},
			"status":      "active",
		})
	}
	writeJSON(w, http.StatusOK, inventory)
}
