package ledger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/StreetsDigital/aip-coordinator/internal/inbox"
)

// Store errors. Backends return ErrNotFound for missing records; the service
// translates it into ErrUnknownServeToken at the domain boundary.
var (
	ErrNotFound          = errors.New("ledger record not found")
	ErrAlreadyExists     = errors.New("ledger record already exists")
	ErrUnknownServeToken = errors.New("unknown serve token")
)

// Store is the abstract ledger record store. UpdateRecord applies the mutation
// atomically with respect to other updates of the same record; the service
// never needs cross-record transactions.
type Store interface {
	CreateRecord(ctx context.Context, rec *Record) error
	GetRecord(ctx context.Context, serveToken string) (*Record, error)
	UpdateRecord(ctx context.Context, serveToken string, mutate func(*Record) error) (*Record, error)
	ListRecords(ctx context.Context) ([]*Record, error)
}

// Service owns ledger record lifecycle: creation, settlement, no-bid
// terminal state, event recording under the single-charge rule.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService creates a ledger service over the given store
func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Create opens a fresh ledger record in state CREATED. The serve token is a
// high-entropy opaque identifier; a platform-supplied serve_token_hint
// becomes its prefix. The auction id defaults to the platform request id.
func (s *Service) Create(ctx context.Context, contextRequest map[string]interface{}) (*Record, error) {
	auctionID, _ := contextRequest["request_id"].(string)
	if auctionID == "" {
		auctionID = uuid.NewString()
	}

	var serveToken string
	if hint, _ := contextRequest["serve_token_hint"].(string); hint != "" {
		serveToken = fmt.Sprintf("%s-%s", hint, randomHex(16))
	} else {
		serveToken = "stk_" + randomHex(16)
	}

	now := s.now().UTC()
	rec := &Record{
		ServeToken:      serveToken,
		AuctionID:       auctionID,
		State:           StateCreated,
		Context:         contextRequest,
		Pools:           []string{},
		EligibleBidders: []string{},
		Bids:            []map[string]interface{}{},
		Events:          []map[string]interface{}{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreateRecord(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Settle transitions CREATED -> AUCTION_COMPLETED, attaching the received
// bids, the winner, and the clearing price.
func (s *Service) Settle(ctx context.Context, serveToken string, bids []inbox.BidResponse, winner *inbox.BidResponse) (*Record, error) {
	return s.update(ctx, serveToken, func(rec *Record) error {
		next, err := Transition(rec.State, EventAuctionSettled)
		if err != nil {
			return err
		}
		rec.State = next
		rec.Bids = make([]map[string]interface{}, len(bids))
		for i, bid := range bids {
			rec.Bids[i] = bid.Payload
		}
		if winner != nil {
			rec.Winner = winner.Payload
		}
		rec.ClearingPrice = FormatPrice(ClearingPrice(bids, winner))
		return nil
	})
}

// RecordNoBid transitions CREATED -> NO_BID. The state is terminal; events
// on no-bid records are rejected.
func (s *Service) RecordNoBid(ctx context.Context, serveToken string) (*Record, error) {
	return s.update(ctx, serveToken, func(rec *Record) error {
		next, err := Transition(rec.State, EventNoBidRecorded)
		if err != nil {
			return err
		}
		rec.State = next
		rec.NoBid = true
		rec.Bids = []map[string]interface{}{}
		rec.Winner = nil
		rec.ClearingPrice = FormatPrice(0)
		return nil
	})
}

// RecordEvent appends a billing event under the single-charge rule and
// advances the state machine.
func (s *Service) RecordEvent(ctx context.Context, serveToken, eventType string, payload map[string]interface{}) (*Record, error) {
	return s.update(ctx, serveToken, func(rec *Record) error {
		if rec.NoBid {
			return ErrNoBidNoEvents
		}
		if err := assertChargeable(rec.Events, eventType); err != nil {
			return err
		}
		next, err := Transition(rec.State, EventIngested)
		if err != nil {
			return err
		}
		rec.State = next

		event := make(map[string]interface{}, len(payload)+2)
		for k, v := range payload {
			event[k] = v
		}
		event["event_type"] = eventType
		event["recorded_at"] = s.now().UTC().Format(time.RFC3339Nano)
		rec.Events = append(rec.Events, event)
		return nil
	})
}

// Annotate attaches classification results without a state transition
func (s *Service) Annotate(ctx context.Context, serveToken string, mutate func(*Record)) (*Record, error) {
	return s.update(ctx, serveToken, func(rec *Record) error {
		mutate(rec)
		return nil
	})
}

// Get returns the record for a serve token
func (s *Service) Get(ctx context.Context, serveToken string) (*Record, error) {
	rec, err := s.store.GetRecord(ctx, serveToken)
	if err != nil {
		return nil, s.translate(err, serveToken)
	}
	return rec, nil
}

// List returns all ledger records
func (s *Service) List(ctx context.Context) ([]*Record, error) {
	return s.store.ListRecords(ctx)
}

func (s *Service) update(ctx context.Context, serveToken string, mutate func(*Record) error) (*Record, error) {
	rec, err := s.store.UpdateRecord(ctx, serveToken, func(rec *Record) error {
		if err := mutate(rec); err != nil {
			return err
		}
		rec.UpdatedAt = s.now().UTC()
		return nil
	})
	if err != nil {
		return nil, s.translate(err, serveToken)
	}
	return rec, nil
}

func (s *Service) translate(err error, serveToken string) error {
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownServeToken, serveToken)
	}
	return err
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing means the process cannot mint identifiers at all
		panic(fmt.Sprintf("ledger: crypto/rand unavailable: %v", err))
	}
	return hex.EncodeToString(b)
}
