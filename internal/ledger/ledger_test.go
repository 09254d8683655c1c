package ledger

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/StreetsDigital/aip-coordinator/internal/inbox"
)

// fakeStore is a minimal in-memory Store for service tests
type fakeStore struct {
	mu      sync.Mutex
	records map[string]*Record
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]*Record)}
}

func (f *fakeStore) CreateRecord(_ context.Context, rec *Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[rec.ServeToken]; ok {
		return ErrAlreadyExists
	}
	f.records[rec.ServeToken] = rec.Clone()
	return nil
}

func (f *fakeStore) GetRecord(_ context.Context, token string) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[token]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (f *fakeStore) UpdateRecord(_ context.Context, token string, mutate func(*Record) error) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[token]
	if !ok {
		return nil, ErrNotFound
	}
	working := rec.Clone()
	if err := mutate(working); err != nil {
		return nil, err
	}
	f.records[token] = working
	return working.Clone(), nil
}

func (f *fakeStore) ListRecords(_ context.Context) ([]*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Record, 0, len(f.records))
	for _, rec := range f.records {
		out = append(out, rec.Clone())
	}
	return out, nil
}

func TestTransitionTableIsClosed(t *testing.T) {
	legal := map[[2]string]State{
		{string(StateCreated), string(EventAuctionSettled)}:    StateAuctionCompleted,
		{string(StateCreated), string(EventNoBidRecorded)}:     StateNoBid,
		{string(StateAuctionCompleted), string(EventIngested)}: StateEventRecorded,
		{string(StateEventRecorded), string(EventIngested)}:    StateEventRecorded,
	}

	states := []State{StateCreated, StateAuctionCompleted, StateNoBid, StateEventRecorded}
	events := []Event{EventAuctionSettled, EventNoBidRecorded, EventIngested}

	for _, state := range states {
		for _, event := range events {
			next, err := Transition(state, event)
			want, ok := legal[[2]string{string(state), string(event)}]
			if ok {
				if err != nil {
					t.Errorf("(%s, %s): unexpected error %v", state, event, err)
				} else if next != want {
					t.Errorf("(%s, %s) = %s, want %s", state, event, next, want)
				}
				continue
			}
			if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("(%s, %s): expected ErrInvalidTransition, got %v", state, event, err)
			}
		}
	}
}

func TestClearingPrice(t *testing.T) {
	a := inbox.BidResponse{Bidder: "a", Price: 2.5}
	b := inbox.BidResponse{Bidder: "b", Price: 1.75}
	c := inbox.BidResponse{Bidder: "c", Price: 3.0}

	if got := ClearingPrice(nil, nil); got != 0 {
		t.Errorf("no winner: got %v", got)
	}
	if got := ClearingPrice([]inbox.BidResponse{a}, &a); got != 2.5 {
		t.Errorf("single bid: got %v", got)
	}
	if got := ClearingPrice([]inbox.BidResponse{a, b}, &a); got != 1.75 {
		t.Errorf("two bids: got %v", got)
	}
	if got := ClearingPrice([]inbox.BidResponse{a, b, c}, &c); got != 2.5 {
		t.Errorf("three bids: got %v", got)
	}
}

func TestFormatPrice(t *testing.T) {
	if got := FormatPrice(1.75); got != "1.7500" {
		t.Errorf("got %q", got)
	}
	if got := FormatPrice(0); got != "0.0000" {
		t.Errorf("got %q", got)
	}
}

func TestCreateRecord(t *testing.T) {
	svc := NewService(newFakeStore())

	rec, err := svc.Create(context.Background(), map[string]interface{}{
		"context_id": "ctx_1",
		"request_id": "req_1",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.AuctionID != "req_1" {
		t.Errorf("auction_id = %q, want request_id", rec.AuctionID)
	}
	if !strings.HasPrefix(rec.ServeToken, "stk_") || len(rec.ServeToken) != 4+32 {
		t.Errorf("serve token %q lacks 128 bits of entropy", rec.ServeToken)
	}
	if rec.State != StateCreated {
		t.Errorf("state = %s", rec.State)
	}
}

func TestCreateRecordHonorsHint(t *testing.T) {
	svc := NewService(newFakeStore())

	rec, err := svc.Create(context.Background(), map[string]interface{}{
		"serve_token_hint": "camp42",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(rec.ServeToken, "camp42-") {
		t.Errorf("serve token %q should start with the hint", rec.ServeToken)
	}
	if rec.AuctionID == "" {
		t.Error("auction id should be generated")
	}
}

func TestSettleComputesSecondPrice(t *testing.T) {
	svc := NewService(newFakeStore())
	rec, err := svc.Create(context.Background(), map[string]interface{}{})
	if err != nil {
		t.Fatal(err)
	}

	bids := []inbox.BidResponse{
		{Bidder: "a", Payload: map[string]interface{}{"brand_agent_id": "a"}, Price: 2.5},
		{Bidder: "b", Payload: map[string]interface{}{"brand_agent_id": "b"}, Price: 1.75},
	}
	settled, err := svc.Settle(context.Background(), rec.ServeToken, bids, &bids[0])
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if settled.State != StateAuctionCompleted {
		t.Errorf("state = %s", settled.State)
	}
	if settled.ClearingPrice != "1.7500" {
		t.Errorf("clearing_price = %q, want 1.7500", settled.ClearingPrice)
	}
	if settled.Winner["brand_agent_id"] != "a" {
		t.Errorf("winner = %v", settled.Winner)
	}
	if len(settled.Bids) != 2 {
		t.Errorf("bids = %d", len(settled.Bids))
	}

	// Settling twice is an invalid transition
	if _, err := svc.Settle(context.Background(), rec.ServeToken, bids, &bids[0]); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestNoBidIsTerminal(t *testing.T) {
	svc := NewService(newFakeStore())
	rec, err := svc.Create(context.Background(), map[string]interface{}{})
	if err != nil {
		t.Fatal(err)
	}

	nb, err := svc.RecordNoBid(context.Background(), rec.ServeToken)
	if err != nil {
		t.Fatalf("record no bid: %v", err)
	}
	if nb.State != StateNoBid || !nb.NoBid {
		t.Errorf("record = %+v", nb)
	}
	if nb.ClearingPrice != "0.0000" {
		t.Errorf("clearing_price = %q", nb.ClearingPrice)
	}

	_, err = svc.RecordEvent(context.Background(), rec.ServeToken, EventTypeExposure, map[string]interface{}{})
	if !errors.Is(err, ErrNoBidNoEvents) {
		t.Errorf("expected ErrNoBidNoEvents, got %v", err)
	}
}

func TestSingleChargeMonotonicity(t *testing.T) {
	svc := NewService(newFakeStore())
	rec, err := svc.Create(context.Background(), map[string]interface{}{})
	if err != nil {
		t.Fatal(err)
	}
	winner := inbox.BidResponse{Bidder: "a", Payload: map[string]interface{}{}, Price: 1}
	if _, err := svc.Settle(context.Background(), rec.ServeToken, []inbox.BidResponse{winner}, &winner); err != nil {
		t.Fatal(err)
	}

	// Click (priority 1) first
	updated, err := svc.RecordEvent(context.Background(), rec.ServeToken, EventTypeClick, map[string]interface{}{"event_id": "e1"})
	if err != nil {
		t.Fatalf("click: %v", err)
	}
	if updated.State != StateEventRecorded {
		t.Errorf("state = %s", updated.State)
	}

	// Exposure (priority 0) after click is a single-charge violation
	_, err = svc.RecordEvent(context.Background(), rec.ServeToken, EventTypeExposure, map[string]interface{}{"event_id": "e2"})
	if !errors.Is(err, ErrSingleChargeViolation) {
		t.Errorf("expected ErrSingleChargeViolation, got %v", err)
	}

	// Repeating the same priority is also rejected
	_, err = svc.RecordEvent(context.Background(), rec.ServeToken, EventTypeClick, map[string]interface{}{"event_id": "e3"})
	if !errors.Is(err, ErrSingleChargeViolation) {
		t.Errorf("expected ErrSingleChargeViolation on repeat, got %v", err)
	}

	// Conversion (priority 2) escalates
	updated, err = svc.RecordEvent(context.Background(), rec.ServeToken, EventTypeConversion, map[string]interface{}{"event_id": "e4"})
	if err != nil {
		t.Fatalf("conversion: %v", err)
	}
	if len(updated.Events) != 2 {
		t.Errorf("events = %d, want 2", len(updated.Events))
	}

	// Unknown event types are rejected before touching the record
	_, err = svc.RecordEvent(context.Background(), rec.ServeToken, "cpm_impression", map[string]interface{}{})
	if !errors.Is(err, ErrUnknownEventType) {
		t.Errorf("expected ErrUnknownEventType, got %v", err)
	}
}

func TestEventOnCreatedRecordIsInvalid(t *testing.T) {
	svc := NewService(newFakeStore())
	rec, err := svc.Create(context.Background(), map[string]interface{}{})
	if err != nil {
		t.Fatal(err)
	}

	_, err = svc.RecordEvent(context.Background(), rec.ServeToken, EventTypeExposure, map[string]interface{}{})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestUnknownServeToken(t *testing.T) {
	svc := NewService(newFakeStore())

	if _, err := svc.Get(context.Background(), "stk_missing"); !errors.Is(err, ErrUnknownServeToken) {
		t.Errorf("expected ErrUnknownServeToken, got %v", err)
	}
	if _, err := svc.RecordNoBid(context.Background(), "stk_missing"); !errors.Is(err, ErrUnknownServeToken) {
		t.Errorf("expected ErrUnknownServeToken, got %v", err)
	}
}
