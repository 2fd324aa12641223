package memory

import (
	"context"
	"errors"
	"testing"

	"invoice-market/internal/domain"
	"invoice-market/internal/storage"
)

func TestAssetStore_UpsertPreservesCreatedAt(t *testing.T) {
	store := NewAssetStore()
	ctx := context.Background()

	a := &domain.AssetRecord{AssetPk: "asset1", Seller: "seller1", Amount: 100, Status: domain.AssetStatusOpen, CreatedAt: 1000}
	if err := store.Upsert(ctx, a); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	update := &domain.AssetRecord{AssetPk: "asset1", Seller: "seller1", Amount: 100, FundedAmount: 100, Status: domain.AssetStatusFunded, CreatedAt: 9999}
	if err := store.Upsert(ctx, update); err != nil {
		t.Fatalf("Second upsert failed: %v", err)
	}

	got, err := store.GetByPk(ctx, "asset1")
	if err != nil {
		t.Fatalf("GetByPk failed: %v", err)
	}
	if got.CreatedAt != 1000 {
		t.Errorf("CreatedAt = %d, want original 1000", got.CreatedAt)
	}
	if got.Status != domain.AssetStatusFunded {
		t.Errorf("Status = %s, want Funded", got.Status)
	}
}

func TestAssetStore_ListByWallet(t *testing.T) {
	store := NewAssetStore()
	ctx := context.Background()

	inv := "investor1"
	assets := []*domain.AssetRecord{
		{AssetPk: "a1", Seller: "alice", Status: domain.AssetStatusOpen},
		{AssetPk: "a2", Seller: "bob", Investor: &inv, Status: domain.AssetStatusFunded},
		{AssetPk: "a3", Seller: "alice", Status: domain.AssetStatusSettled},
	}
	for _, a := range assets {
		if err := store.Upsert(ctx, a); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}

	got, err := store.List(ctx, nil, &inv, 0, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 1 || got[0].AssetPk != "a2" {
		t.Errorf("List(wallet=investor1) returned %d rows, want only a2", len(got))
	}

	alice := "alice"
	open := domain.AssetStatusOpen
	got, err = store.List(ctx, &open, &alice, 0, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 1 || got[0].AssetPk != "a1" {
		t.Errorf("List(Open, alice) returned %d rows, want only a1", len(got))
	}
}

func TestAssetStore_ListFractionalized(t *testing.T) {
	store := NewAssetStore()
	ctx := context.Background()

	shares := "sharesMint1"
	assets := []*domain.AssetRecord{
		{AssetPk: "a1", Seller: "alice", Status: domain.AssetStatusOpen},
		{AssetPk: "a2", Seller: "bob", SharesMint: &shares, Status: domain.AssetStatusFunded},
	}
	for _, a := range assets {
		if err := store.Upsert(ctx, a); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}

	got, err := store.ListFractionalized(ctx)
	if err != nil {
		t.Fatalf("ListFractionalized failed: %v", err)
	}
	if len(got) != 1 || got[0].AssetPk != "a2" {
		t.Errorf("ListFractionalized returned %d rows, want only a2", len(got))
	}
}

func TestAssetStore_GetMissing(t *testing.T) {
	store := NewAssetStore()

	_, err := store.GetByPk(context.Background(), "nope")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
