package memory

import (
	"context"
	"sync"
	"time"

	"invoice-market/internal/domain"
	"invoice-market/internal/storage"
)

// WebhookEventStore is an in-memory implementation of storage.WebhookEventStore.
type WebhookEventStore struct {
	mu     sync.Mutex
	nextID int64
	data   map[string]*domain.WebhookEvent // keyed by idem_key
}

// NewWebhookEventStore creates a new in-memory webhook event store.
func NewWebhookEventStore() *WebhookEventStore {
	return &WebhookEventStore{
		nextID: 1,
		data:   make(map[string]*domain.WebhookEvent),
	}
}

var _ storage.WebhookEventStore = (*WebhookEventStore)(nil)

// InsertIfAbsent records the event unless its idempotency key exists.
func (s *WebhookEventStore) InsertIfAbsent(_ context.Context, ev *domain.WebhookEvent) (bool, *domain.WebhookEvent, error) {
	if ev == nil || ev.IdemKey == "" {
		return false, nil, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.data[ev.IdemKey]; ok {
		copy := *existing
		return false, &copy, nil
	}

	copy := *ev
	copy.ID = s.nextID
	if copy.CreatedAt == 0 {
		copy.CreatedAt = time.Now().UnixMilli()
	}
	s.nextID++
	s.data[copy.IdemKey] = &copy

	out := copy
	return true, &out, nil
}

// GetByKey retrieves an event by idempotency key.
func (s *WebhookEventStore) GetByKey(_ context.Context, idemKey string) (*domain.WebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.data[idemKey]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copy := *ev
	return &copy, nil
}

// MarkProcessed stamps the event processed with the settlement signature.
func (s *WebhookEventStore) MarkProcessed(_ context.Context, idemKey string, settleSig string, processedAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.data[idemKey]
	if !ok {
		return storage.ErrNotFound
	}
	ev.ProcessedAt = &processedAt
	ev.SettleSig = &settleSig
	return nil
}

// Delete releases an idempotency key. Absent is not an error.
func (s *WebhookEventStore) Delete(_ context.Context, idemKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, idemKey)
	return nil
}
