package inbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestAddRequiresRegistration(t *testing.T) {
	in := New()

	err := in.Add("stk_unknown", BidResponse{Bidder: "acme"})
	if !errors.Is(err, ErrAuctionNotActive) {
		t.Errorf("expected ErrAuctionNotActive, got %v", err)
	}
}

func TestAddRejectsUnsubscribedBidder(t *testing.T) {
	in := New()
	in.Register("stk_1", []string{"acme", "globex"})

	if err := in.Add("stk_1", BidResponse{Bidder: "acme", Price: 1.0}); err != nil {
		t.Fatalf("allowed bidder rejected: %v", err)
	}
	err := in.Add("stk_1", BidResponse{Bidder: "initech", Price: 2.0})
	if !errors.Is(err, ErrNotSubscribed) {
		t.Errorf("expected ErrNotSubscribed, got %v", err)
	}
}

func TestCollectDrainsInFIFOOrder(t *testing.T) {
	in := New()
	in.Register("stk_1", []string{"acme", "globex"})

	if err := in.Add("stk_1", BidResponse{Bidder: "acme", Price: 2.5}); err != nil {
		t.Fatal(err)
	}
	if err := in.Add("stk_1", BidResponse{Bidder: "globex", Price: 1.75}); err != nil {
		t.Fatal(err)
	}

	bids, err := in.Collect(context.Background(), "stk_1", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(bids) != 2 {
		t.Fatalf("expected 2 bids, got %d", len(bids))
	}
	if bids[0].Bidder != "acme" || bids[1].Bidder != "globex" {
		t.Errorf("order = [%s %s]", bids[0].Bidder, bids[1].Bidder)
	}

	// Late submission after the window drains
	err = in.Add("stk_1", BidResponse{Bidder: "acme", Price: 9.0})
	if !errors.Is(err, ErrAuctionNotActive) {
		t.Errorf("expected ErrAuctionNotActive for late add, got %v", err)
	}
}

func TestCollectAcceptsConcurrentAddsDuringWindow(t *testing.T) {
	in := New()
	in.Register("stk_1", []string{"acme"})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(20 * time.Millisecond)
		if err := in.Add("stk_1", BidResponse{Bidder: "acme", Price: 3.0}); err != nil {
			t.Errorf("add during window: %v", err)
		}
	}()

	bids, err := in.Collect(context.Background(), "stk_1", 100*time.Millisecond)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	wg.Wait()

	if len(bids) != 1 {
		t.Errorf("expected 1 bid accepted mid-window, got %d", len(bids))
	}
}

func TestCollectCancellationDeregisters(t *testing.T) {
	in := New()
	in.Register("stk_1", []string{"acme"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := in.Collect(ctx, "stk_1", time.Minute); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if in.Active("stk_1") {
		t.Error("auction still active after canceled collect")
	}
}

func TestAuctionsAreIsolated(t *testing.T) {
	in := New()
	in.Register("stk_1", []string{"acme"})
	in.Register("stk_2", []string{"acme"})

	if err := in.Add("stk_1", BidResponse{Bidder: "acme", Price: 1}); err != nil {
		t.Fatal(err)
	}

	bids2, err := in.Collect(context.Background(), "stk_2", time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if len(bids2) != 0 {
		t.Errorf("stk_2 should have no bids, got %d", len(bids2))
	}

	bids1, err := in.Collect(context.Background(), "stk_1", time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if len(bids1) != 1 {
		t.Errorf("stk_1 should keep its bid, got %d", len(bids1))
	}
}
