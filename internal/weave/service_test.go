package weave

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/StreetsDigital/aip-coordinator/internal/auction"
	"github.com/StreetsDigital/aip-coordinator/internal/ledger"
)

// memStore is a minimal Store for coordinator tests
type memStore struct {
	mu   sync.Mutex
	recs map[string]*Recommendation
}

func newMemStore() *memStore {
	return &memStore{recs: make(map[string]*Recommendation)}
}

func (m *memStore) key(sessionID, messageID string) string {
	return sessionID + "/" + messageID
}

func (m *memStore) CreateRecommendation(_ context.Context, rec *Recommendation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := m.key(rec.SessionID, rec.MessageID)
	if _, ok := m.recs[key]; ok {
		return ErrAlreadyExists
	}
	cloned := *rec
	m.recs[key] = &cloned
	return nil
}

func (m *memStore) GetRecommendation(_ context.Context, sessionID, messageID string) (*Recommendation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[m.key(sessionID, messageID)]
	if !ok {
		return nil, ErrNotFound
	}
	cloned := *rec
	return &cloned, nil
}

func (m *memStore) UpdateRecommendation(_ context.Context, sessionID, messageID string, mutate func(*Recommendation) error) (*Recommendation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[m.key(sessionID, messageID)]
	if !ok {
		return nil, ErrNotFound
	}
	working := *rec
	if err := mutate(&working); err != nil {
		return nil, err
	}
	m.recs[m.key(sessionID, messageID)] = &working
	cloned := working
	return &cloned, nil
}

// fakeRunner counts runs and returns a canned result
type fakeRunner struct {
	runs   atomic.Int64
	result *auction.Result
	err    error
	delay  time.Duration
}

func (f *fakeRunner) Run(ctx context.Context, req *auction.ContextRequest) (*auction.Result, error) {
	f.runs.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func winningResult() *auction.Result {
	return &auction.Result{
		AuctionID:     "a1",
		ServeToken:    "stk_1",
		State:         ledger.StateAuctionCompleted,
		ClearingPrice: "1.7500",
		Winner: map[string]interface{}{
			"brand_agent_id": "acme",
			"offer": map[string]interface{}{
				"creative_input": map[string]interface{}{
					"brand_name":    "Acme",
					"product_name":  "Widget Pro",
					"descriptions":  []interface{}{"The best widget."},
					"resource_urls": []interface{}{"https://acme.example/widget"},
				},
			},
		},
	}
}

func waitForStatus(t *testing.T, svc *Service, sessionID, messageID string, want Status) *Response {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		resp, err := svc.GetOrCreate(context.Background(), sessionID, messageID, "")
		if err != nil {
			t.Fatal(err)
		}
		if resp.Status == want {
			return resp
		}
		select {
		case <-deadline:
			t.Fatalf("status never became %s (last: %s)", want, resp.Status)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestGetOrCreateCompletesInBackground(t *testing.T) {
	runner := &fakeRunner{result: winningResult()}
	svc := NewService(newMemStore(), runner)
	defer svc.Close()

	resp, err := svc.GetOrCreate(context.Background(), "s", "m", "best widgets")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != StatusInProgress || resp.RetryAfterMS != RetryAfterMS {
		t.Errorf("first call = %+v", resp)
	}

	completed := waitForStatus(t, svc, "s", "m", StatusCompleted)
	want := "[Ad] Widget Pro - The best widget. Learn more: https://acme.example/widget"
	if completed.WeaveContent != want {
		t.Errorf("weave_content = %q, want %q", completed.WeaveContent, want)
	}
	if completed.ServeToken != "stk_1" {
		t.Errorf("serve_token = %q", completed.ServeToken)
	}
	if completed.CreativeMetadata["brand_name"] != "Acme" {
		t.Errorf("creative_metadata = %v", completed.CreativeMetadata)
	}
	if got := runner.runs.Load(); got != 1 {
		t.Errorf("auctions run = %d, want 1", got)
	}
}

func TestGetOrCreateSingleFlight(t *testing.T) {
	runner := &fakeRunner{result: winningResult(), delay: 50 * time.Millisecond}
	svc := NewService(newMemStore(), runner)
	defer svc.Close()

	const callers = 16
	var wg sync.WaitGroup
	responses := make([]*Response, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := svc.GetOrCreate(context.Background(), "s", "m", "q")
			if err != nil {
				t.Errorf("caller %d: %v", i, err)
				return
			}
			responses[i] = resp
		}(i)
	}
	wg.Wait()

	for i, resp := range responses {
		if resp == nil {
			continue
		}
		if resp.Status != StatusInProgress {
			t.Errorf("caller %d status = %s, want in_progress", i, resp.Status)
		}
	}

	waitForStatus(t, svc, "s", "m", StatusCompleted)
	if got := runner.runs.Load(); got != 1 {
		t.Errorf("auctions run = %d, want exactly 1", got)
	}
}

func TestGetOrCreateFailurePath(t *testing.T) {
	runner := &fakeRunner{err: errors.New("fanout exploded")}
	svc := NewService(newMemStore(), runner)
	defer svc.Close()

	if _, err := svc.GetOrCreate(context.Background(), "s", "m", "q"); err != nil {
		t.Fatal(err)
	}

	failed := waitForStatus(t, svc, "s", "m", StatusFailed)
	if failed.Error != "fanout exploded" {
		t.Errorf("error = %q", failed.Error)
	}
}

func TestGetOrCreateNoBidYieldsEmptyWeave(t *testing.T) {
	runner := &fakeRunner{result: &auction.Result{
		AuctionID:  "a1",
		ServeToken: "stk_nb",
		State:      ledger.StateNoBid,
		NoBid:      true,
	}}
	svc := NewService(newMemStore(), runner)
	defer svc.Close()

	if _, err := svc.GetOrCreate(context.Background(), "s", "m", "q"); err != nil {
		t.Fatal(err)
	}

	completed := waitForStatus(t, svc, "s", "m", StatusCompleted)
	if completed.WeaveContent != "" {
		t.Errorf("weave_content = %q, want empty", completed.WeaveContent)
	}
	if completed.ServeToken != "stk_nb" {
		t.Errorf("serve_token = %q", completed.ServeToken)
	}
}

func TestGetOrCreateRequiresKeys(t *testing.T) {
	svc := NewService(newMemStore(), &fakeRunner{result: winningResult()})
	defer svc.Close()

	if _, err := svc.GetOrCreate(context.Background(), "", "m", ""); !errors.Is(err, ErrMissingField) {
		t.Errorf("expected ErrMissingField, got %v", err)
	}
	if _, err := svc.GetOrCreate(context.Background(), "s", "", ""); !errors.Is(err, ErrMissingField) {
		t.Errorf("expected ErrMissingField, got %v", err)
	}
}
