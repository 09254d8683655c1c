package auction

import (
	"context"
	"time"

	"github.com/StreetsDigital/aip-coordinator/internal/bidders"
	"github.com/StreetsDigital/aip-coordinator/internal/fanout"
	"github.com/StreetsDigital/aip-coordinator/internal/inbox"
	"github.com/StreetsDigital/aip-coordinator/internal/ledger"
	"github.com/StreetsDigital/aip-coordinator/pkg/logger"
)

// Result is the outcome of one auction run
type Result struct {
	AuctionID       string
	ServeToken      string
	State           ledger.State
	NoBid           bool
	Winner          map[string]interface{}
	WinnerPrice     float64
	ClearingPrice   string
	Pools           []string
	EligibleBidders []string
	BidCount        int
}

// Runner glues the registry, fanout, inbox, and ledger into the auction
// pipeline. One goroutine owns each in-flight auction.
type Runner struct {
	registry *bidders.Registry
	fanout   *fanout.Fanout
	ledger   *ledger.Service
	inbox    *inbox.Inbox
	window   time.Duration
}

// NewRunner creates an auction runner with the given collection window
func NewRunner(registry *bidders.Registry, f *fanout.Fanout, l *ledger.Service, in *inbox.Inbox, window time.Duration) *Runner {
	return &Runner{
		registry: registry,
		fanout:   f,
		ledger:   l,
		inbox:    in,
		window:   window,
	}
}

// Run executes one auction end to end. The window opens at registration and
// is not extended by publish latency; bidders that respond after Collect
// drains are rejected upstream as not active. Cancelling ctx abandons the
// auction, leaving the record in CREATED.
func (r *Runner) Run(ctx context.Context, req *ContextRequest) (*Result, error) {
	contextDoc, err := req.ToMap()
	if err != nil {
		return nil, err
	}

	rec, err := r.ledger.Create(ctx, contextDoc)
	if err != nil {
		return nil, err
	}
	log := logger.Auction(rec.AuctionID).With().Str("serve_token", rec.ServeToken).Logger()

	pools := Classify(req)
	eligible := r.registry.FilterByPools(pools)
	eligibleNames := bidders.Names(eligible)

	if _, err := r.ledger.Annotate(ctx, rec.ServeToken, func(lr *ledger.Record) {
		lr.Pools = pools
		lr.EligibleBidders = eligibleNames
	}); err != nil {
		return nil, err
	}

	// The window opens at registration; publish latency eats into it rather
	// than extending it.
	windowStart := time.Now()
	r.inbox.Register(rec.ServeToken, eligibleNames)

	publishPayload := map[string]interface{}{
		"auction_id":      rec.AuctionID,
		"serve_token":     rec.ServeToken,
		"pools":           pools,
		"context_request": contextDoc,
		"bidders":         eligibleNames,
	}
	published, pubErr := r.fanout.Publish(ctx, rec.AuctionID, pools, publishPayload)
	if pubErr != nil {
		// Even with every pool down the window still runs: responders that
		// learned of the auction out of band may submit.
		log.Warn().Err(pubErr).Msg("fanout failed for all pools")
	}
	if len(published) > 0 {
		if _, err := r.ledger.Annotate(ctx, rec.ServeToken, func(lr *ledger.Record) {
			lr.PublishedPools = published
		}); err != nil {
			return nil, err
		}
	}

	log.Info().
		Strs("pools", pools).
		Strs("eligible_bidders", eligibleNames).
		Dur("window", r.window).
		Msg("auction window open")

	remaining := r.window - time.Since(windowStart)
	if remaining < 0 {
		remaining = 0
	}
	bids, err := r.inbox.Collect(ctx, rec.ServeToken, remaining)
	if err != nil {
		log.Warn().Err(err).Msg("auction abandoned")
		return nil, err
	}

	if len(bids) == 0 {
		settled, err := r.ledger.RecordNoBid(ctx, rec.ServeToken)
		if err != nil {
			return nil, err
		}
		log.Info().Msg("no bids received")
		return resultFrom(settled, nil), nil
	}

	winner := Select(bids)
	settled, err := r.ledger.Settle(ctx, rec.ServeToken, bids, winner)
	if err != nil {
		return nil, err
	}
	log.Info().
		Int("bids", len(bids)).
		Str("winner", winner.Bidder).
		Str("clearing_price", settled.ClearingPrice).
		Msg("auction settled")
	return resultFrom(settled, winner), nil
}

func resultFrom(rec *ledger.Record, winner *inbox.BidResponse) *Result {
	res := &Result{
		AuctionID:       rec.AuctionID,
		ServeToken:      rec.ServeToken,
		State:           rec.State,
		NoBid:           rec.NoBid,
		Winner:          rec.Winner,
		ClearingPrice:   rec.ClearingPrice,
		Pools:           rec.Pools,
		EligibleBidders: rec.EligibleBidders,
		BidCount:        len(rec.Bids),
	}
	if winner != nil {
		res.WinnerPrice = winner.Price
	}
	return res
}
