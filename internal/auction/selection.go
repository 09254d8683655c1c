package auction

import (
	"github.com/StreetsDigital/aip-coordinator/internal/inbox"
)

// Select picks the winning bid: highest price, with ties broken by inbox
// acceptance order (the earlier response wins). Returns nil when no bids
// were received.
func Select(bids []inbox.BidResponse) *inbox.BidResponse {
	var winner *inbox.BidResponse
	for i := range bids {
		if winner == nil || bids[i].Price > winner.Price {
			winner = &bids[i]
		}
	}
	return winner
}
