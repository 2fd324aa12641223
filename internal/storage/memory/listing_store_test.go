package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"invoice-market/internal/domain"
	"invoice-market/internal/storage"
)

func newListing(assetPk, seller string, qty uint64) *domain.Listing {
	return &domain.Listing{
		AssetPk:  assetPk,
		Seller:   seller,
		Price:    1_000_000,
		Qty:      qty,
		Protocol: domain.ProtocolV1,
	}
}

func TestListingStore_InsertAndGet(t *testing.T) {
	store := NewListingStore()
	ctx := context.Background()

	l := newListing("asset1", "seller1", 5_000_000)
	if err := store.Insert(ctx, l); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if l.ID == 0 {
		t.Fatal("Insert did not assign ID")
	}

	got, err := store.GetByID(ctx, l.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Status != domain.ListingStatusOpen {
		t.Errorf("Status = %s, want Open", got.Status)
	}
	if got.RemainingQty != 5_000_000 {
		t.Errorf("RemainingQty = %d, want 5000000", got.RemainingQty)
	}
}

func TestListingStore_GetMissing(t *testing.T) {
	store := NewListingStore()

	_, err := store.GetByID(context.Background(), 42)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestListingStore_PartialFill(t *testing.T) {
	store := NewListingStore()
	ctx := context.Background()

	l := newListing("asset1", "seller1", 5_000_000)
	if err := store.Insert(ctx, l); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := store.Fill(ctx, l.ID, 3_000_000)
	if err != nil {
		t.Fatalf("Fill failed: %v", err)
	}
	if got.RemainingQty != 2_000_000 {
		t.Errorf("RemainingQty = %d, want 2000000", got.RemainingQty)
	}
	if got.Status != domain.ListingStatusOpen {
		t.Errorf("Status = %s, want Open after partial fill", got.Status)
	}

	got, err = store.Fill(ctx, l.ID, 2_000_000)
	if err != nil {
		t.Fatalf("Final fill failed: %v", err)
	}
	if got.Status != domain.ListingStatusFilled {
		t.Errorf("Status = %s, want Filled when remaining hits zero", got.Status)
	}
	if got.RemainingQty != 0 {
		t.Errorf("RemainingQty = %d, want 0", got.RemainingQty)
	}
}

func TestListingStore_FillExceedsRemaining(t *testing.T) {
	store := NewListingStore()
	ctx := context.Background()

	l := newListing("asset1", "seller1", 100)
	if err := store.Insert(ctx, l); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	_, err := store.Fill(ctx, l.ID, 101)
	if !errors.Is(err, storage.ErrConflict) {
		t.Errorf("Expected ErrConflict, got %v", err)
	}

	got, _ := store.GetByID(ctx, l.ID)
	if got.RemainingQty != 100 {
		t.Errorf("RemainingQty mutated to %d on rejected fill", got.RemainingQty)
	}
}

func TestListingStore_CancelKeepsRemaining(t *testing.T) {
	store := NewListingStore()
	ctx := context.Background()

	l := newListing("asset1", "seller1", 5_000_000)
	if err := store.Insert(ctx, l); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if _, err := store.Fill(ctx, l.ID, 3_000_000); err != nil {
		t.Fatalf("Fill failed: %v", err)
	}

	got, err := store.Cancel(ctx, l.ID)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if got.Status != domain.ListingStatusCanceled {
		t.Errorf("Status = %s, want Canceled", got.Status)
	}
	if got.RemainingQty != 2_000_000 {
		t.Errorf("RemainingQty = %d, want 2000000 (not zeroed for audit)", got.RemainingQty)
	}

	// Canceled is terminal.
	if _, err := store.Cancel(ctx, l.ID); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("Double cancel: expected ErrConflict, got %v", err)
	}
	if _, err := store.Fill(ctx, l.ID, 1); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("Fill after cancel: expected ErrConflict, got %v", err)
	}
}

func TestListingStore_ConcurrentFillsNeverOverfill(t *testing.T) {
	store := NewListingStore()
	ctx := context.Background()

	l := newListing("asset1", "seller1", 5_000_000)
	if err := store.Insert(ctx, l); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	const workers = 8
	const fillQty = 3_000_000

	var wg sync.WaitGroup
	successes := make([]bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if _, err := store.Fill(ctx, l.ID, fillQty); err == nil {
				successes[n] = true
			}
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, ok := range successes {
		if ok {
			succeeded++
		}
	}
	// 5M remaining can absorb exactly one 3M fill.
	if succeeded != 1 {
		t.Errorf("Expected exactly 1 successful fill, got %d", succeeded)
	}

	got, _ := store.GetByID(ctx, l.ID)
	if got.RemainingQty != 2_000_000 {
		t.Errorf("RemainingQty = %d, want 2000000", got.RemainingQty)
	}
}

func TestListingStore_ListFilters(t *testing.T) {
	store := NewListingStore()
	ctx := context.Background()

	a := newListing("asset1", "alice", 100)
	b := newListing("asset1", "bob", 200)
	c := newListing("asset2", "alice", 300)
	for _, l := range []*domain.Listing{a, b, c} {
		if err := store.Insert(ctx, l); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}
	if _, err := store.Cancel(ctx, b.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	asset1 := "asset1"
	open := domain.ListingStatusOpen
	got, err := store.List(ctx, storage.ListingFilter{AssetPk: &asset1, Status: &open})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != a.ID {
		t.Errorf("List(asset1, Open) = %d rows, want only listing %d", len(got), a.ID)
	}

	alice := "alice"
	got, err = store.List(ctx, storage.ListingFilter{Seller: &alice})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("List(seller=alice) = %d rows, want 2", len(got))
	}
}

func TestListingStore_SyncRemaining(t *testing.T) {
	store := NewListingStore()
	ctx := context.Background()

	l := newListing("asset1", "seller1", 5_000_000)
	if err := store.Insert(ctx, l); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := store.MarkInitialized(ctx, l.ID); err != nil {
		t.Fatalf("MarkInitialized failed: %v", err)
	}

	got, err := store.SyncRemaining(ctx, l.ID, 0)
	if err != nil {
		t.Fatalf("SyncRemaining failed: %v", err)
	}
	if got.Status != domain.ListingStatusFilled || got.RemainingQty != 0 {
		t.Errorf("Sync to 0: status=%s remaining=%d, want Filled/0", got.Status, got.RemainingQty)
	}
	if !got.OnchainInitialized {
		t.Error("OnchainInitialized flag lost")
	}
}
