package memory

import (
	"context"
	"sort"
	"sync"

	"invoice-market/internal/domain"
	"invoice-market/internal/storage"
)

// PositionsCacheStore is an in-memory implementation of storage.PositionsCacheStore.
type PositionsCacheStore struct {
	mu   sync.RWMutex
	data map[string]*domain.PositionSnapshot
}

// NewPositionsCacheStore creates a new in-memory positions cache.
func NewPositionsCacheStore() *PositionsCacheStore {
	return &PositionsCacheStore{data: make(map[string]*domain.PositionSnapshot)}
}

var _ storage.PositionsCacheStore = (*PositionsCacheStore)(nil)

// Get retrieves the snapshot for an asset.
func (s *PositionsCacheStore) Get(_ context.Context, assetPk string) (*domain.PositionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.data[assetPk]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copy := *snap
	copy.Positions = append([]domain.Position(nil), snap.Positions...)
	return &copy, nil
}

// Put replaces the snapshot for snap.AssetPk.
func (s *PositionsCacheStore) Put(_ context.Context, snap *domain.PositionSnapshot) error {
	if snap == nil || snap.AssetPk == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *snap
	copy.Positions = append([]domain.Position(nil), snap.Positions...)
	s.data[copy.AssetPk] = &copy
	return nil
}

// Delete drops the snapshot for an asset.
func (s *PositionsCacheStore) Delete(_ context.Context, assetPk string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, assetPk)
	return nil
}

// PositionHistoryStore is an in-memory implementation of storage.PositionHistoryStore.
type PositionHistoryStore struct {
	mu   sync.Mutex
	data []*domain.PositionDiff
}

// NewPositionHistoryStore creates a new in-memory history store.
func NewPositionHistoryStore() *PositionHistoryStore {
	return &PositionHistoryStore{}
}

var _ storage.PositionHistoryStore = (*PositionHistoryStore)(nil)

// Append inserts diff records.
func (s *PositionHistoryStore) Append(_ context.Context, diffs []*domain.PositionDiff) error {
	if len(diffs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range diffs {
		if d == nil || d.AssetPk == "" || d.Wallet == "" {
			return storage.ErrInvalidInput
		}
		copy := *d
		s.data = append(s.data, &copy)
	}
	return nil
}

// ListByAsset retrieves diffs for an asset, newest first.
func (s *PositionHistoryStore) ListByAsset(_ context.Context, assetPk string, limit int) ([]*domain.PositionDiff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*domain.PositionDiff
	for _, d := range s.data {
		if d.AssetPk == assetPk {
			copy := *d
			result = append(result, &copy)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Ts > result[j].Ts
	})

	if limit <= 0 {
		limit = 100
	}
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
