package storage

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/StreetsDigital/aip-coordinator/internal/config"
	"github.com/StreetsDigital/aip-coordinator/internal/ledger"
	"github.com/StreetsDigital/aip-coordinator/internal/weave"
)

func TestMemoryStoreLedgerLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	rec := &ledger.Record{
		ServeToken: "stk_1",
		AuctionID:  "a1",
		State:      ledger.StateCreated,
		Context:    map[string]interface{}{"query_text": "laptops"},
	}
	if err := store.CreateRecord(ctx, rec); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.CreateRecord(ctx, rec); !errors.Is(err, ledger.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}

	got, err := store.GetRecord(ctx, "stk_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	// Snapshot isolation: mutating the returned copy must not leak back
	got.Context["query_text"] = "tampered"
	again, _ := store.GetRecord(ctx, "stk_1")
	if again.Context["query_text"] != "laptops" {
		t.Error("store snapshot was mutated through a returned copy")
	}

	if _, err := store.GetRecord(ctx, "stk_missing"); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreUpdateIsAtomic(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.CreateRecord(ctx, &ledger.Record{ServeToken: "stk_1", State: ledger.StateCreated}); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.UpdateRecord(ctx, "stk_1", func(rec *ledger.Record) error {
				rec.Events = append(rec.Events, map[string]interface{}{"event_type": "cpx_exposure"})
				return nil
			})
			if err != nil {
				t.Errorf("update: %v", err)
			}
		}()
	}
	wg.Wait()

	rec, err := store.GetRecord(ctx, "stk_1")
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.Events) != 50 {
		t.Errorf("events = %d, want 50 (lost updates)", len(rec.Events))
	}
}

func TestMemoryStoreUpdateErrorLeavesRecordUntouched(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.CreateRecord(ctx, &ledger.Record{ServeToken: "stk_1", State: ledger.StateCreated}); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	_, err := store.UpdateRecord(ctx, "stk_1", func(rec *ledger.Record) error {
		rec.State = ledger.StateNoBid
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected mutation error, got %v", err)
	}

	rec, _ := store.GetRecord(ctx, "stk_1")
	if rec.State != ledger.StateCreated {
		t.Errorf("failed mutation leaked: state = %s", rec.State)
	}
}

func TestMemoryStoreRecommendationConditionalInsert(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	rec := &weave.Recommendation{SessionID: "s", MessageID: "m", Status: weave.StatusInProgress}
	if err := store.CreateRecommendation(ctx, rec); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.CreateRecommendation(ctx, rec); !errors.Is(err, weave.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}

	// Distinct message under the same session is a different key
	other := &weave.Recommendation{SessionID: "s", MessageID: "m2", Status: weave.StatusInProgress}
	if err := store.CreateRecommendation(ctx, other); err != nil {
		t.Errorf("distinct key rejected: %v", err)
	}

	got, err := store.GetRecommendation(ctx, "s", "m")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != weave.StatusInProgress {
		t.Errorf("status = %s", got.Status)
	}

	if _, err := store.GetRecommendation(ctx, "s", "missing"); !errors.Is(err, weave.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	updated, err := store.UpdateRecommendation(ctx, "s", "m", func(r *weave.Recommendation) error {
		r.Status = weave.StatusCompleted
		r.WeaveContent = "[Ad] Widget - Great. Learn more: https://example.com"
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != weave.StatusCompleted {
		t.Errorf("status = %s", updated.Status)
	}
}

func TestBuildSelectsBackend(t *testing.T) {
	store, err := Build(context.Background(), config.LedgerConfig{Backend: config.BackendInMemory})
	if err != nil {
		t.Fatalf("build in_memory: %v", err)
	}
	if _, ok := store.(*MemoryStore); !ok {
		t.Errorf("expected *MemoryStore, got %T", store)
	}

	if _, err := Build(context.Background(), config.LedgerConfig{Backend: "etcd"}); err == nil {
		t.Error("expected error for unknown backend")
	}
}
