package postgres

import (
	"context"
	"fmt"
	"time"

	"invoice-market/internal/domain"
	"invoice-market/internal/storage"
)

const webhookEventColumns = `id, idem_key, ts, sig, payload_hash, created_at, processed_at, settle_sig`

// WebhookEventStore implements storage.WebhookEventStore using PostgreSQL.
type WebhookEventStore struct {
	pool *Pool
}

// NewWebhookEventStore creates a new WebhookEventStore.
func NewWebhookEventStore(pool *Pool) *WebhookEventStore {
	return &WebhookEventStore{pool: pool}
}

// Compile-time interface check.
var _ storage.WebhookEventStore = (*WebhookEventStore)(nil)

// InsertIfAbsent records the event unless its idempotency key exists. The
// unique index on idem_key arbitrates concurrent deliveries: exactly one
// insert wins, everyone else observes the winner's row.
func (s *WebhookEventStore) InsertIfAbsent(ctx context.Context, ev *domain.WebhookEvent) (bool, *domain.WebhookEvent, error) {
	if ev == nil || ev.IdemKey == "" {
		return false, nil, storage.ErrInvalidInput
	}

	if ev.CreatedAt == 0 {
		ev.CreatedAt = time.Now().UnixMilli()
	}

	query := `
		INSERT INTO webhook_events (idem_key, ts, sig, payload_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (idem_key) DO NOTHING
		RETURNING id
	`

	err := s.pool.QueryRow(ctx, query,
		ev.IdemKey,
		ev.Ts,
		ev.Sig,
		ev.PayloadHash,
		ev.CreatedAt,
	).Scan(&ev.ID)
	if err == nil {
		return true, nil, nil
	}
	if !isNotFoundError(err) {
		return false, nil, fmt.Errorf("insert webhook event: %w", err)
	}

	// Conflict path: the key already exists, return the original event.
	existing, err := s.GetByKey(ctx, ev.IdemKey)
	if err != nil {
		return false, nil, err
	}
	return false, existing, nil
}

// GetByKey retrieves an event by idempotency key. ErrNotFound if absent.
func (s *WebhookEventStore) GetByKey(ctx context.Context, idemKey string) (*domain.WebhookEvent, error) {
	query := `SELECT ` + webhookEventColumns + ` FROM webhook_events WHERE idem_key = $1`

	var ev domain.WebhookEvent
	err := s.pool.QueryRow(ctx, query, idemKey).Scan(
		&ev.ID,
		&ev.IdemKey,
		&ev.Ts,
		&ev.Sig,
		&ev.PayloadHash,
		&ev.CreatedAt,
		&ev.ProcessedAt,
		&ev.SettleSig,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get webhook event by key: %w", err)
	}
	return &ev, nil
}

// MarkProcessed stamps the event processed and stores the settlement signature.
func (s *WebhookEventStore) MarkProcessed(ctx context.Context, idemKey string, settleSig string, processedAt int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE webhook_events SET processed_at = $2, settle_sig = $3 WHERE idem_key = $1`,
		idemKey, processedAt, settleSig)
	if err != nil {
		return fmt.Errorf("mark webhook event processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Delete releases an idempotency key. Absent is not an error.
func (s *WebhookEventStore) Delete(ctx context.Context, idemKey string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM webhook_events WHERE idem_key = $1`, idemKey); err != nil {
		return fmt.Errorf("delete webhook event: %w", err)
	}
	return nil
}
