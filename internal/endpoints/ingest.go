package endpoints

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/StreetsDigital/aip-coordinator/internal/inbox"
	"github.com/StreetsDigital/aip-coordinator/internal/transport"
	"github.com/StreetsDigital/aip-coordinator/internal/weave"
)

func (s *Server) handleBidResponse(w http.ResponseWriter, r *http.Request) {
	var envelope map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON in request body")
		return
	}
	defer r.Body.Close()

	if err := s.bids.Submit(envelope); err != nil {
		s.metrics.RecordGuardRejection(rejectionKind(err))
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var envelope map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON in request body")
		return
	}
	defer r.Body.Close()

	eventType, serveToken, err := s.events.Ingest(r.Context(), envelope)
	if err != nil {
		s.metrics.RecordEvent(stringField(envelope, "event_type"), "rejected")
		writeDomainError(w, err)
		return
	}
	s.metrics.RecordEvent(eventType, "accepted")

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":      "accepted",
		"serve_token": serveToken,
		"event_type":  eventType,
	})
}

type recommendationRequest struct {
	MessageID string `json:"message_id"`
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
}

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	var req recommendationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON in request body")
		return
	}
	defer r.Body.Close()

	resp, err := s.weave.GetOrCreate(r.Context(), req.SessionID, req.MessageID, req.Query)
	if err != nil {
		if errors.Is(err, weave.ErrMissingField) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeDomainError(w, err)
		return
	}
	s.metrics.RecordRecommendation(string(resp.Status))

	writeJSON(w, http.StatusOK, resp)
}

// rejectionKind gives a coarse metric label for a guard rejection
func rejectionKind(err error) string {
	switch {
	case errors.Is(err, transport.ErrNonceMissing), errors.Is(err, transport.ErrNonceReplay):
		return "nonce"
	case errors.Is(err, transport.ErrTimestampMissing),
		errors.Is(err, transport.ErrTimestampMalformed),
		errors.Is(err, transport.ErrTimestampSkew):
		return "timestamp"
	case errors.Is(err, transport.ErrSignatureMissing),
		errors.Is(err, transport.ErrSignatureMalformed),
		errors.Is(err, transport.ErrSignatureInvalid):
		return "signature"
	case errors.Is(err, inbox.ErrAuctionNotActive), errors.Is(err, inbox.ErrNotSubscribed):
		return "gating"
	default:
		return "other"
	}
}
