package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"invoice-market/internal/domain"
	"invoice-market/internal/storage"
)

const defaultListLimit = 200

// ListingStore is an in-memory implementation of storage.ListingStore.
type ListingStore struct {
	mu     sync.Mutex
	nextID int64
	data   map[int64]*domain.Listing
}

// NewListingStore creates a new in-memory listing store.
func NewListingStore() *ListingStore {
	return &ListingStore{
		nextID: 1,
		data:   make(map[int64]*domain.Listing),
	}
}

var _ storage.ListingStore = (*ListingStore)(nil)

// Insert adds a new listing and assigns its ID.
func (s *ListingStore) Insert(_ context.Context, l *domain.Listing) error {
	if l == nil || l.AssetPk == "" || l.Seller == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	copy := *l
	copy.ID = s.nextID
	copy.RemainingQty = copy.Qty
	copy.Status = domain.ListingStatusOpen
	if copy.CreatedAt == 0 {
		copy.CreatedAt = now
	}
	copy.UpdatedAt = copy.CreatedAt
	s.nextID++
	s.data[copy.ID] = &copy

	*l = copy
	return nil
}

// GetByID retrieves a listing. Returns ErrNotFound if not exists.
func (s *ListingStore) GetByID(_ context.Context, id int64) (*domain.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.data[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copy := *l
	return &copy, nil
}

// List retrieves listings matching the filter, newest first.
func (s *ListingStore) List(_ context.Context, f storage.ListingFilter) ([]*domain.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*domain.Listing
	for _, l := range s.data {
		if f.AssetPk != nil && l.AssetPk != *f.AssetPk {
			continue
		}
		if f.Seller != nil && l.Seller != *f.Seller {
			continue
		}
		if f.Status != nil && l.Status != *f.Status {
			continue
		}
		copy := *l
		result = append(result, &copy)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].UpdatedAt != result[j].UpdatedAt {
			return result[i].UpdatedAt > result[j].UpdatedAt
		}
		return result[i].ID > result[j].ID
	})

	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Fill atomically decrements remaining quantity by qty.
// The store mutex serializes concurrent fills; the same conditional check the
// Postgres store expresses in a single UPDATE runs here under the lock.
func (s *ListingStore) Fill(_ context.Context, id int64, qty uint64) (*domain.Listing, error) {
	if qty == 0 {
		return nil, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.data[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if l.Status != domain.ListingStatusOpen || qty > l.RemainingQty {
		return nil, storage.ErrConflict
	}

	l.RemainingQty -= qty
	if l.RemainingQty == 0 {
		l.Status = domain.ListingStatusFilled
	}
	l.UpdatedAt = time.Now().UnixMilli()

	copy := *l
	return &copy, nil
}

// Cancel marks an Open listing Canceled, leaving RemainingQty as-is.
func (s *ListingStore) Cancel(_ context.Context, id int64) (*domain.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.data[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if l.Status != domain.ListingStatusOpen {
		return nil, storage.ErrConflict
	}

	l.Status = domain.ListingStatusCanceled
	l.UpdatedAt = time.Now().UnixMilli()

	copy := *l
	return &copy, nil
}

// MarkInitialized flags that the listing's on-chain account exists.
func (s *ListingStore) MarkInitialized(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.data[id]
	if !ok {
		return storage.ErrNotFound
	}
	l.OnchainInitialized = true
	l.UpdatedAt = time.Now().UnixMilli()
	return nil
}

// SyncRemaining overwrites qty bookkeeping from chain state.
func (s *ListingStore) SyncRemaining(_ context.Context, id int64, remaining uint64) (*domain.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.data[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if l.Status == domain.ListingStatusCanceled {
		return nil, storage.ErrConflict
	}

	l.RemainingQty = remaining
	if remaining == 0 {
		l.Status = domain.ListingStatusFilled
	} else {
		l.Status = domain.ListingStatusOpen
	}
	l.UpdatedAt = time.Now().UnixMilli()

	copy := *l
	return &copy, nil
}
