// Package inbox collects signed bid responses during the auction window
package inbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Inbox gating errors
var (
	ErrAuctionNotActive = errors.New("auction not active")
	ErrNotSubscribed    = errors.New("bidder not subscribed to auction")
)

// BidResponse is an in-flight bid accepted into an auction
type BidResponse struct {
	Bidder  string
	Payload map[string]interface{}
	Price   float64
}

type auctionState struct {
	allowed   map[string]struct{}
	responses []BidResponse
}

// Inbox holds the per-auction allow-list and FIFO response queue. One mutex
// guards both; Collect's window sleep happens outside the lock so submissions
// are never blocked by the runner.
type Inbox struct {
	mu       sync.Mutex
	auctions map[string]*auctionState
}

// New creates an empty inbox
func New() *Inbox {
	return &Inbox{auctions: make(map[string]*auctionState)}
}

// Register opens an auction, setting its allowed bidder set
func (in *Inbox) Register(auctionID string, bidderNames []string) {
	allowed := make(map[string]struct{}, len(bidderNames))
	for _, name := range bidderNames {
		allowed[name] = struct{}{}
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	in.auctions[auctionID] = &auctionState{allowed: allowed}
}

// Add appends a response to an open auction. Responses for unknown auctions
// or from bidders outside the allow-list are rejected.
func (in *Inbox) Add(auctionID string, resp BidResponse) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	state, ok := in.auctions[auctionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAuctionNotActive, auctionID)
	}
	if _, allowed := state.allowed[resp.Bidder]; !allowed {
		return fmt.Errorf("%w: %s", ErrNotSubscribed, resp.Bidder)
	}
	state.responses = append(state.responses, resp)
	return nil
}

// Collect sleeps for the auction window, then atomically drains the response
// queue and discards the allow-list. Concurrent Add calls during the window
// are accepted; after Collect returns they fail with ErrAuctionNotActive.
// Context cancellation abandons the auction and deregisters it.
func (in *Inbox) Collect(ctx context.Context, auctionID string, window time.Duration) ([]BidResponse, error) {
	timer := time.NewTimer(window)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		in.drop(auctionID)
		return nil, ctx.Err()
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	state, ok := in.auctions[auctionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAuctionNotActive, auctionID)
	}
	delete(in.auctions, auctionID)
	return state.responses, nil
}

func (in *Inbox) drop(auctionID string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	delete(in.auctions, auctionID)
}

// Active reports whether an auction is currently accepting responses
func (in *Inbox) Active(auctionID string) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	_, ok := in.auctions[auctionID]
	return ok
}
