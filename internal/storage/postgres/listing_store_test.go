package postgres

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoice-market/internal/domain"
	"invoice-market/internal/storage"
)

func testListing(assetPk, seller string, qty uint64) *domain.Listing {
	return &domain.Listing{
		AssetPk:  assetPk,
		Seller:   seller,
		Price:    1_000_000,
		Qty:      qty,
		Protocol: domain.ProtocolV1,
	}
}

func TestListingStore_InsertAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewListingStore(pool)

	l := testListing("AssetMint1", "SellerWallet1", 5_000_000)
	err := store.Insert(ctx, l)
	require.NoError(t, err)
	require.NotZero(t, l.ID)

	got, err := store.GetByID(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ListingStatusOpen, got.Status)
	assert.Equal(t, uint64(5_000_000), got.RemainingQty)
	assert.Equal(t, domain.ProtocolV1, got.Protocol)
	assert.False(t, got.OnchainInitialized)
}

func TestListingStore_GetMissing(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewListingStore(pool)

	_, err := store.GetByID(context.Background(), 9999)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListingStore_FillLifecycle(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewListingStore(pool)

	l := testListing("AssetMint1", "SellerWallet1", 5_000_000)
	require.NoError(t, store.Insert(ctx, l))

	// Partial fill keeps the listing Open.
	got, err := store.Fill(ctx, l.ID, 3_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(2_000_000), got.RemainingQty)
	assert.Equal(t, domain.ListingStatusOpen, got.Status)

	// Overfill is rejected without mutating state.
	_, err = store.Fill(ctx, l.ID, 2_000_001)
	assert.ErrorIs(t, err, storage.ErrConflict)

	got, err = store.GetByID(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(2_000_000), got.RemainingQty)

	// Exhausting remaining flips status to Filled.
	got, err = store.Fill(ctx, l.ID, 2_000_000)
	require.NoError(t, err)
	assert.Equal(t, domain.ListingStatusFilled, got.Status)
	assert.Zero(t, got.RemainingQty)

	// Filled is terminal for fills.
	_, err = store.Fill(ctx, l.ID, 1)
	assert.ErrorIs(t, err, storage.ErrConflict)
}

func TestListingStore_FillMissing(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewListingStore(pool)

	_, err := store.Fill(context.Background(), 9999, 100)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListingStore_ConcurrentFills(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewListingStore(pool)

	l := testListing("AssetMint1", "SellerWallet1", 5_000_000)
	require.NoError(t, store.Insert(ctx, l))

	// Two buyers race for 3M units each against a 5M listing;
	// the conditional UPDATE lets exactly one through.
	const workers = 4
	var wg sync.WaitGroup
	results := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, results[n] = store.Fill(ctx, l.ID, 3_000_000)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, storage.ErrConflict)
		}
	}
	assert.Equal(t, 1, succeeded)

	got, err := store.GetByID(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(2_000_000), got.RemainingQty)
}

func TestListingStore_Cancel(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewListingStore(pool)

	l := testListing("AssetMint1", "SellerWallet1", 5_000_000)
	require.NoError(t, store.Insert(ctx, l))
	_, err := store.Fill(ctx, l.ID, 1_000_000)
	require.NoError(t, err)

	got, err := store.Cancel(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ListingStatusCanceled, got.Status)
	assert.Equal(t, uint64(4_000_000), got.RemainingQty, "cancel preserves remaining qty")

	_, err = store.Cancel(ctx, l.ID)
	assert.ErrorIs(t, err, storage.ErrConflict)
	_, err = store.Fill(ctx, l.ID, 1)
	assert.ErrorIs(t, err, storage.ErrConflict)
}

func TestListingStore_ListFilters(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewListingStore(pool)

	a := testListing("AssetMint1", "Alice", 100)
	b := testListing("AssetMint1", "Bob", 200)
	c := testListing("AssetMint2", "Alice", 300)
	for _, l := range []*domain.Listing{a, b, c} {
		require.NoError(t, store.Insert(ctx, l))
	}
	_, err := store.Cancel(ctx, b.ID)
	require.NoError(t, err)

	got, err := store.List(ctx, storage.ListingFilter{
		AssetPk: ptr("AssetMint1"),
		Status:  ptr(domain.ListingStatusOpen),
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, a.ID, got[0].ID)

	got, err = store.List(ctx, storage.ListingFilter{Seller: ptr("Alice")})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestListingStore_SyncRemaining(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewListingStore(pool)

	l := testListing("AssetMint1", "SellerWallet1", 5_000_000)
	require.NoError(t, store.Insert(ctx, l))
	require.NoError(t, store.MarkInitialized(ctx, l.ID))

	got, err := store.SyncRemaining(ctx, l.ID, 1_500_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_500_000), got.RemainingQty)
	assert.Equal(t, domain.ListingStatusOpen, got.Status)
	assert.True(t, got.OnchainInitialized)

	got, err = store.SyncRemaining(ctx, l.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.ListingStatusFilled, got.Status)
}
