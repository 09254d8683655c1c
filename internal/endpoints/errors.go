// Package endpoints provides the coordinator's HTTP surface
package endpoints

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/StreetsDigital/aip-coordinator/internal/bidresponse"
	"github.com/StreetsDigital/aip-coordinator/internal/events"
	"github.com/StreetsDigital/aip-coordinator/internal/fanout"
	"github.com/StreetsDigital/aip-coordinator/internal/inbox"
	"github.com/StreetsDigital/aip-coordinator/internal/ledger"
	"github.com/StreetsDigital/aip-coordinator/internal/transport"
	"github.com/StreetsDigital/aip-coordinator/internal/validation"
	"github.com/StreetsDigital/aip-coordinator/internal/weave"
	"github.com/StreetsDigital/aip-coordinator/pkg/logger"
)

// unprocessable lists the error kinds mapped to 422: envelope guard
// failures, gating rejections, and ledger rule violations.
var unprocessable = []error{
	validation.ErrSchemaInvalid,
	transport.ErrTimestampMissing,
	transport.ErrTimestampMalformed,
	transport.ErrTimestampSkew,
	transport.ErrNonceMissing,
	transport.ErrNonceReplay,
	transport.ErrSignatureMissing,
	transport.ErrSignatureMalformed,
	transport.ErrSignatureInvalid,
	inbox.ErrAuctionNotActive,
	inbox.ErrNotSubscribed,
	ledger.ErrUnknownServeToken,
	ledger.ErrInvalidTransition,
	ledger.ErrNoBidNoEvents,
	ledger.ErrSingleChargeViolation,
	ledger.ErrUnknownEventType,
	bidresponse.ErrServeTokenMissing,
	bidresponse.ErrBidMissing,
	bidresponse.ErrBidderMissing,
	bidresponse.ErrUnknownBidder,
	bidresponse.ErrPricingInvalid,
	events.ErrEventTypeMissing,
	events.ErrServeTokenMissing,
	events.ErrUnknownBidder,
}

// statusFor maps a domain error onto its HTTP status code
func statusFor(err error) int {
	if errors.Is(err, weave.ErrMissingField) {
		return http.StatusBadRequest
	}
	for _, kind := range unprocessable {
		if errors.Is(err, kind) {
			return http.StatusUnprocessableEntity
		}
	}
	if errors.Is(err, fanout.ErrPublishFailed) {
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

// writeError writes the error response body for a failed request
func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// writeDomainError maps err to a status and writes the detail body
func writeDomainError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.HTTP().Error().Err(err).Msg("request failed")
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

// writeJSON writes a JSON response with the given status
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.HTTP().Error().Err(err).Msg("failed to encode response")
	}
}
