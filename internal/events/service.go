// Package events ingests signed billing event envelopes against the ledger
package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/StreetsDigital/aip-coordinator/internal/bidders"
	"github.com/StreetsDigital/aip-coordinator/internal/ledger"
	"github.com/StreetsDigital/aip-coordinator/internal/transport"
	"github.com/StreetsDigital/aip-coordinator/internal/validation"
	"github.com/StreetsDigital/aip-coordinator/pkg/logger"
)

// Ingestion errors
var (
	ErrEventTypeMissing  = errors.New("event_type missing")
	ErrServeTokenMissing = errors.New("serve_token missing")
	ErrUnknownBidder     = errors.New("unknown bidder on event")
)

// schemaNames maps event types (and their short aliases) to the schema
// registered for them.
var schemaNames = map[string]string{
	ledger.EventTypeExposure:   "event_cpx_exposure",
	ledger.EventTypeClick:      "event_cpc_click",
	ledger.EventTypeConversion: "event_cpa_conversion",
}

var eventAliases = map[string]string{
	"exposure":   ledger.EventTypeExposure,
	"click":      ledger.EventTypeClick,
	"conversion": ledger.EventTypeConversion,
}

// Service validates event envelopes and records them on the winning ledger
// record under the single-charge rule.
type Service struct {
	ledger    *ledger.Service
	registry  *bidders.Registry
	nonces    *transport.NonceCache
	validator validation.Validator
	maxSkew   time.Duration
	now       func() time.Time
}

// NewService creates an event ingestion service
func NewService(l *ledger.Service, registry *bidders.Registry, nonces *transport.NonceCache, validator validation.Validator, maxSkew time.Duration) *Service {
	return &Service{
		ledger:    l,
		registry:  registry,
		nonces:    nonces,
		validator: validator,
		maxSkew:   maxSkew,
		now:       time.Now,
	}
}

// Ingest runs the event pipeline: schema, identity, skew, replay, signature,
// then the ledger append. It returns the canonical event type and the serve
// token for the acknowledgement body.
func (s *Service) Ingest(ctx context.Context, envelope map[string]interface{}) (eventType, serveToken string, err error) {
	eventType = canonicalEventType(stringField(envelope, "event_type"))
	if eventType == "" {
		return "", "", ErrEventTypeMissing
	}
	schema, ok := schemaNames[eventType]
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ledger.ErrUnknownEventType, eventType)
	}
	if err := s.validator.Validate(schema, envelope); err != nil {
		return "", "", err
	}

	serveToken = stringField(envelope, "serve_token")
	if serveToken == "" {
		return "", "", ErrServeTokenMissing
	}

	timestamp := stringField(envelope, "timestamp")
	if _, err := transport.AssertWithinSkew(timestamp, s.maxSkew, s.now()); err != nil {
		return "", "", err
	}

	key := transport.EventNonceKey(serveToken, eventType, replayDiscriminator(envelope, timestamp))
	if err := s.nonces.AssertFresh(key); err != nil {
		return "", "", err
	}

	// Events are signed by the reporting actor. When a bidder is named the
	// signature is verified against its registered key.
	if bidderName := stringField(envelope, "bidder"); bidderName != "" {
		bidder, ok := s.registry.Get(bidderName)
		if !ok {
			return "", "", fmt.Errorf("%w: %s", ErrUnknownBidder, bidderName)
		}
		payload, _ := envelope["payload"].(map[string]interface{})
		if payload == nil {
			payload = unsignedView(envelope)
		}
		if err := transport.Verify(payload, stringField(envelope, "signature"), bidder.PublicKey); err != nil {
			return "", "", err
		}
	}

	if _, err := s.ledger.RecordEvent(ctx, serveToken, eventType, envelope); err != nil {
		return "", "", err
	}

	logger.Ledger(serveToken).Info().
		Str("event_type", eventType).
		Msg("billing event recorded")
	return eventType, serveToken, nil
}

func canonicalEventType(eventType string) string {
	if canonical, ok := eventAliases[eventType]; ok {
		return canonical
	}
	return eventType
}

// replayDiscriminator derives the composite-key tail: the first defined of
// event_id, conversion_id, timestamp.
func replayDiscriminator(envelope map[string]interface{}, timestamp string) string {
	if id := stringField(envelope, "event_id"); id != "" {
		return id
	}
	if id := stringField(envelope, "conversion_id"); id != "" {
		return id
	}
	return timestamp
}

// unsignedView strips the signature before verification when the envelope is
// self-signed rather than carrying a payload sub-object.
func unsignedView(envelope map[string]interface{}) map[string]interface{} {
	view := make(map[string]interface{}, len(envelope))
	for k, v := range envelope {
		if k == "signature" {
			continue
		}
		view[k] = v
	}
	return view
}

func stringField(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}
