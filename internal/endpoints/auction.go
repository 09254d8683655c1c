package endpoints

import (
	"encoding/json"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/StreetsDigital/aip-coordinator/internal/auction"
)

// Default creative TTL and its floor, in milliseconds
const (
	defaultTTLMS = 60000
	minTTLMS     = 1000
)

// auctionResult is the response body of POST /aip/context
type auctionResult struct {
	AuctionID  string       `json:"auction_id"`
	ServeToken string       `json:"serve_token"`
	TTLMS      int          `json:"ttl_ms"`
	NoBid      bool         `json:"no_bid,omitempty"`
	Winner     *winnerBlock `json:"winner,omitempty"`
	Render     *renderBlock `json:"render,omitempty"`
}

type winnerBlock struct {
	BrandAgentID        string `json:"brand_agent_id"`
	PreferredUnit       string `json:"preferred_unit"`
	ReservedAmountCents int64  `json:"reserved_amount_cents"`
	CampaignID          string `json:"campaign_id,omitempty"`
	ProductID           string `json:"product_id,omitempty"`
}

type renderBlock struct {
	Label string `json:"label"`
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
	CTA   string `json:"cta,omitempty"`
	URL   string `json:"url,omitempty"`
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": Version,
	})
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON in request body")
		return
	}
	if err := s.validator.Validate("context_request", doc); err != nil {
		writeDomainError(w, err)
		return
	}

	var req auction.ContextRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed context request")
		return
	}

	start := time.Now()
	res, err := s.runner.Run(r.Context(), &req)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	outcome := "settled"
	if res.NoBid {
		outcome = "no_bid"
	}
	clearing, _ := strconv.ParseFloat(res.ClearingPrice, 64)
	s.metrics.RecordAuction(outcome, time.Since(start), res.BidCount, clearing)

	writeJSON(w, http.StatusOK, buildAuctionResult(res))
}

func buildAuctionResult(res *auction.Result) *auctionResult {
	out := &auctionResult{
		AuctionID:  res.AuctionID,
		ServeToken: res.ServeToken,
		TTLMS:      defaultTTLMS,
	}
	if res.NoBid || res.Winner == nil {
		out.NoBid = true
		return out
	}

	out.TTLMS = winnerTTL(res.Winner)
	out.Winner = &winnerBlock{
		BrandAgentID:        stringField(res.Winner, "brand_agent_id"),
		PreferredUnit:       preferredUnit(res.Winner),
		ReservedAmountCents: clearingCents(res.ClearingPrice),
		CampaignID:          stringField(res.Winner, "campaign_id"),
		ProductID:           stringField(res.Winner, "product_id"),
	}
	out.Render = renderFrom(res.Winner)
	return out
}

// winnerTTL applies the creative TTL floor: max(winner ttl_ms, 1000),
// defaulting to 60000 when the bid carries none.
func winnerTTL(winner map[string]interface{}) int {
	ttl := defaultTTLMS
	if v, ok := numberField(winner, "ttl_ms"); ok {
		ttl = int(v)
	}
	if ttl < minTTLMS {
		ttl = minTTLMS
	}
	return ttl
}

// preferredUnit reflects which pricing unit the winning bid carries,
// in the same precedence order pricing derivation uses.
func preferredUnit(winner map[string]interface{}) string {
	pricing, _ := winner["pricing"].(map[string]interface{})
	lowered := make(map[string]bool, len(pricing))
	for k, v := range pricing {
		if v != nil {
			lowered[strings.ToLower(k)] = true
		}
	}
	switch {
	case lowered["cpa"]:
		return "CPA"
	case lowered["cpc"]:
		return "CPC"
	default:
		return "CPX"
	}
}

func clearingCents(clearingPrice string) int64 {
	f, err := strconv.ParseFloat(clearingPrice, 64)
	if err != nil {
		return 0
	}
	return int64(math.Round(f * 100))
}

func renderFrom(winner map[string]interface{}) *renderBlock {
	offer, _ := winner["offer"].(map[string]interface{})
	creative, _ := offer["creative_input"].(map[string]interface{})
	if creative == nil {
		return nil
	}
	return &renderBlock{
		Label: "[Ad]",
		Title: stringField(creative, "product_name"),
		Body:  firstString(creative["descriptions"]),
		CTA:   "Learn more",
		URL:   firstString(creative["resource_urls"]),
	}
}

func stringField(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

func numberField(m map[string]interface{}, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func firstString(v interface{}) string {
	if list, ok := v.([]interface{}); ok && len(list) > 0 {
		if s, ok := list[0].(string); ok {
			return s
		}
	}
	return ""
}
