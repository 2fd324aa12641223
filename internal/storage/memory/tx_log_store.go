package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"invoice-market/internal/domain"
	"invoice-market/internal/storage"
)

// TxLogStore is an in-memory implementation of storage.TxLogStore.
type TxLogStore struct {
	mu     sync.Mutex
	nextID int64
	data   []*domain.TxLog
}

// NewTxLogStore creates a new in-memory tx log store.
func NewTxLogStore() *TxLogStore {
	return &TxLogStore{nextID: 1}
}

var _ storage.TxLogStore = (*TxLogStore)(nil)

// Insert adds an audit record.
func (s *TxLogStore) Insert(_ context.Context, l *domain.TxLog) error {
	if l == nil || l.AssetPk == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *l
	copy.ID = s.nextID
	if copy.CreatedAt == 0 {
		copy.CreatedAt = time.Now().UnixMilli()
	}
	s.nextID++
	s.data = append(s.data, &copy)
	return nil
}

// ListByAsset retrieves audit records for an asset, newest first.
func (s *TxLogStore) ListByAsset(_ context.Context, assetPk string, limit int) ([]*domain.TxLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*domain.TxLog
	for _, l := range s.data {
		if l.AssetPk == assetPk {
			copy := *l
			result = append(result, &copy)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt > result[j].CreatedAt
	})

	if limit <= 0 {
		limit = 100
	}
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
