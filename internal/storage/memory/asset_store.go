package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"invoice-market/internal/domain"
	"invoice-market/internal/storage"
)

// AssetStore is an in-memory implementation of storage.AssetStore.
type AssetStore struct {
	mu   sync.RWMutex
	data map[string]*domain.AssetRecord // keyed by asset_pk
}

// NewAssetStore creates a new in-memory asset store.
func NewAssetStore() *AssetStore {
	return &AssetStore{data: make(map[string]*domain.AssetRecord)}
}

var _ storage.AssetStore = (*AssetStore)(nil)

// Upsert inserts or replaces the echo row for a.AssetPk.
func (s *AssetStore) Upsert(_ context.Context, a *domain.AssetRecord) error {
	if a == nil || a.AssetPk == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	copy := *a
	if existing, ok := s.data[a.AssetPk]; ok {
		copy.CreatedAt = existing.CreatedAt
	} else if copy.CreatedAt == 0 {
		copy.CreatedAt = now
	}
	copy.UpdatedAt = now
	s.data[copy.AssetPk] = &copy
	return nil
}

// GetByPk retrieves an asset by address.
func (s *AssetStore) GetByPk(_ context.Context, assetPk string) (*domain.AssetRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.data[assetPk]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copy := *a
	return &copy, nil
}

// List retrieves assets, optionally filtered, newest first.
func (s *AssetStore) List(_ context.Context, status *domain.AssetStatus, wallet *string, limit, offset int) ([]*domain.AssetRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.AssetRecord
	for _, a := range s.data {
		if status != nil && a.Status != *status {
			continue
		}
		if wallet != nil {
			participant := a.Seller == *wallet ||
				(a.Investor != nil && *a.Investor == *wallet)
			if !participant {
				continue
			}
		}
		copy := *a
		result = append(result, &copy)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt > result[j].UpdatedAt
	})

	if limit <= 0 || limit > defaultListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(result) {
		return nil, nil
	}
	result = result[offset:]
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ListFractionalized retrieves assets with an initialized shares mint.
func (s *AssetStore) ListFractionalized(_ context.Context) ([]*domain.AssetRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.AssetRecord
	for _, a := range s.data {
		if a.Fractionalized() {
			copy := *a
			result = append(result, &copy)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].AssetPk < result[j].AssetPk
	})
	return result, nil
}
