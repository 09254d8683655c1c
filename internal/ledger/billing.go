package ledger

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/StreetsDigital/aip-coordinator/internal/inbox"
)

// Billing event types in priority order
const (
	EventTypeExposure   = "cpx_exposure"
	EventTypeClick      = "cpc_click"
	EventTypeConversion = "cpa_conversion"
)

// Billing errors
var (
	ErrSingleChargeViolation = errors.New("single-charge violation")
	ErrUnknownEventType      = errors.New("unknown event type")
)

var eventPriorities = map[string]int{
	EventTypeExposure:   0,
	EventTypeClick:      1,
	EventTypeConversion: 2,
}

// EventPriority returns the billing priority for an event type
func EventPriority(eventType string) (int, error) {
	p, ok := eventPriorities[eventType]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}
	return p, nil
}

// maxRecordedPriority scans a record's events for the highest billing
// priority already charged. Returns -1 when none have been recorded.
func maxRecordedPriority(events []map[string]interface{}) int {
	max := -1
	for _, event := range events {
		eventType, _ := event["event_type"].(string)
		if p, ok := eventPriorities[eventType]; ok && p > max {
			max = p
		}
	}
	return max
}

// assertChargeable enforces strict monotonic billing escalation: an incoming
// event is accepted only if its priority exceeds every priority already
// recorded.
func assertChargeable(events []map[string]interface{}, eventType string) error {
	p, err := EventPriority(eventType)
	if err != nil {
		return err
	}
	if recorded := maxRecordedPriority(events); p <= recorded {
		return fmt.Errorf("%w: %s (priority %d) not above recorded priority %d",
			ErrSingleChargeViolation, eventType, p, recorded)
	}
	return nil
}

// ClearingPrice computes the price the winner pays: second-highest bid price
// under two or more bids, the winner's own price for a single bid, zero when
// there is no winner.
func ClearingPrice(bids []inbox.BidResponse, winner *inbox.BidResponse) float64 {
	if winner == nil {
		return 0
	}
	if len(bids) < 2 {
		return winner.Price
	}
	prices := make([]float64, len(bids))
	for i, bid := range bids {
		prices[i] = bid.Price
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(prices)))
	return prices[1]
}

// FormatPrice renders a monetary value in the fixed 4-decimal wire form
func FormatPrice(price float64) string {
	return strconv.FormatFloat(price, 'f', 4, 64)
}
