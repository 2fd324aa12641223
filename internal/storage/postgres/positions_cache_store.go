package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"invoice-market/internal/domain"
	"invoice-market/internal/storage"
)

// PositionsCacheStore implements storage.PositionsCacheStore using PostgreSQL.
// Snapshots are stored as JSONB since they are replaced wholesale on every
// recompute and never queried per-wallet in SQL.
type PositionsCacheStore struct {
	pool *Pool
}

// NewPositionsCacheStore creates a new PositionsCacheStore.
func NewPositionsCacheStore(pool *Pool) *PositionsCacheStore {
	return &PositionsCacheStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PositionsCacheStore = (*PositionsCacheStore)(nil)

type positionPayload struct {
	Wallet string `json:"wallet"`
	Amount uint64 `json:"amount"`
}

// Get retrieves the snapshot for an asset. ErrNotFound if absent.
func (s *PositionsCacheStore) Get(ctx context.Context, assetPk string) (*domain.PositionSnapshot, error) {
	query := `SELECT positions, updated_at FROM positions_cache WHERE asset_pk = $1`

	var raw []byte
	var updatedAt int64
	err := s.pool.QueryRow(ctx, query, assetPk).Scan(&raw, &updatedAt)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get positions snapshot: %w", err)
	}

	var payload []positionPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode positions snapshot: %w", err)
	}

	snap := &domain.PositionSnapshot{AssetPk: assetPk, UpdatedAt: updatedAt}
	for _, p := range payload {
		snap.Positions = append(snap.Positions, domain.Position{Wallet: p.Wallet, Amount: p.Amount})
	}
	return snap, nil
}

// Put replaces the snapshot for snap.AssetPk.
func (s *PositionsCacheStore) Put(ctx context.Context, snap *domain.PositionSnapshot) error {
	if snap == nil || snap.AssetPk == "" {
		return storage.ErrInvalidInput
	}
	if snap.UpdatedAt == 0 {
		snap.UpdatedAt = time.Now().UnixMilli()
	}

	payload := make([]positionPayload, 0, len(snap.Positions))
	for _, p := range snap.Positions {
		payload = append(payload, positionPayload{Wallet: p.Wallet, Amount: p.Amount})
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode positions snapshot: %w", err)
	}

	query := `
		INSERT INTO positions_cache (asset_pk, positions, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (asset_pk) DO UPDATE SET
			positions = EXCLUDED.positions,
			updated_at = EXCLUDED.updated_at
	`

	if _, err := s.pool.Exec(ctx, query, snap.AssetPk, raw, snap.UpdatedAt); err != nil {
		return fmt.Errorf("put positions snapshot: %w", err)
	}
	return nil
}

// Delete drops the snapshot for an asset. Absent is not an error.
func (s *PositionsCacheStore) Delete(ctx context.Context, assetPk string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM positions_cache WHERE asset_pk = $1`, assetPk); err != nil {
		return fmt.Errorf("delete positions snapshot: %w", err)
	}
	return nil
}
