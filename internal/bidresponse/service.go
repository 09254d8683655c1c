// Package bidresponse verifies and admits signed bid envelopes
package bidresponse

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/StreetsDigital/aip-coordinator/internal/bidders"
	"github.com/StreetsDigital/aip-coordinator/internal/inbox"
	"github.com/StreetsDigital/aip-coordinator/internal/transport"
	"github.com/StreetsDigital/aip-coordinator/pkg/logger"
)

// Submission errors
var (
	ErrServeTokenMissing = errors.New("serve_token missing")
	ErrBidMissing        = errors.New("bid payload missing")
	ErrBidderMissing     = errors.New("bidder missing")
	ErrUnknownBidder     = errors.New("unknown bidder")
	ErrPricingInvalid    = errors.New("no parseable price in bid")
)

// Service runs the submission pipeline: identity, replay, skew, signature,
// pricing, inbox gating — in that order, so the cheapest guards fire first.
type Service struct {
	registry *bidders.Registry
	inbox    *inbox.Inbox
	nonces   *transport.NonceCache
	maxSkew  time.Duration
	now      func() time.Time
}

// NewService creates the bid submission service
func NewService(registry *bidders.Registry, in *inbox.Inbox, nonces *transport.NonceCache, maxSkew time.Duration) *Service {
	return &Service{
		registry: registry,
		inbox:    in,
		nonces:   nonces,
		maxSkew:  maxSkew,
		now:      time.Now,
	}
}

// Submit verifies the signed envelope and adds the bid to its auction's
// inbox. Any failure is a typed error mapped to 422 at the HTTP surface.
func (s *Service) Submit(envelope map[string]interface{}) error {
	serveToken := stringField(envelope, "serve_token")
	if serveToken == "" {
		// legacy envelopes address the auction directly
		serveToken = stringField(envelope, "auction_id")
	}
	if serveToken == "" {
		return ErrServeTokenMissing
	}

	bid, ok := envelope["bid"].(map[string]interface{})
	if !ok {
		return ErrBidMissing
	}

	bidderName := resolveBidder(envelope, bid)
	if bidderName == "" {
		return ErrBidderMissing
	}
	bidder, ok := s.registry.Get(bidderName)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBidder, bidderName)
	}

	timestamp := stringField(envelope, "timestamp")
	if timestamp == "" {
		timestamp = stringField(bid, "timestamp")
	}
	nonce := resolveNonce(envelope, bid)
	if nonce == "" {
		return transport.ErrNonceMissing
	}

	if err := s.nonces.AssertFresh(transport.BidNonceKey(serveToken, nonce, bidderName)); err != nil {
		return err
	}
	if _, err := transport.AssertWithinSkew(timestamp, s.maxSkew, s.now()); err != nil {
		return err
	}
	if err := transport.Verify(bid, stringField(envelope, "signature"), bidder.PublicKey); err != nil {
		return err
	}

	price, err := derivePrice(bid)
	if err != nil {
		return err
	}

	if err := s.inbox.Add(serveToken, inbox.BidResponse{
		Bidder:  bidderName,
		Payload: bid,
		Price:   price,
	}); err != nil {
		return err
	}

	logger.Bidder(bidderName).Debug().
		Str("serve_token", serveToken).
		Float64("price", price).
		Msg("bid accepted")
	return nil
}

// resolveBidder looks for the bidder identity under the agreed key and its
// legacy fallbacks.
func resolveBidder(envelope, bid map[string]interface{}) string {
	for _, key := range []string{"brand_agent_id", "bidder", "agent_id"} {
		if name := stringField(bid, key); name != "" {
			return name
		}
	}
	return stringField(envelope, "bidder")
}

func resolveNonce(envelope, bid map[string]interface{}) string {
	if auth, ok := bid["auth"].(map[string]interface{}); ok {
		if nonce := stringField(auth, "nonce"); nonce != "" {
			return nonce
		}
	}
	return stringField(envelope, "nonce")
}

// derivePrice extracts the bid's scalar price: the first defined of
// pricing.cpa, pricing.cpc, pricing.cpx (case-insensitive), else bid.price.
func derivePrice(bid map[string]interface{}) (float64, error) {
	if pricing, ok := bid["pricing"].(map[string]interface{}); ok {
		lowered := make(map[string]interface{}, len(pricing))
		for k, v := range pricing {
			lowered[strings.ToLower(k)] = v
		}
		for _, unit := range []string{"cpa", "cpc", "cpx"} {
			if v, ok := lowered[unit]; ok && v != nil {
				if price, ok := parsePrice(v); ok {
					return price, nil
				}
				return 0, fmt.Errorf("%w: pricing.%s = %v", ErrPricingInvalid, unit, v)
			}
		}
	}
	if v, ok := bid["price"]; ok && v != nil {
		if price, ok := parsePrice(v); ok {
			return price, nil
		}
	}
	return 0, ErrPricingInvalid
}

func parsePrice(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case int:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(val, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func stringField(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}
