package clickhouse

import (
	"context"
	"fmt"

	"invoice-market/internal/domain"
	"invoice-market/internal/storage"
)

// PositionHistoryStore implements storage.PositionHistoryStore using ClickHouse.
// Diffs are append-only facts, so MergeTree's lack of update semantics is a
// feature here, not a limitation.
type PositionHistoryStore struct {
	conn *Conn
}

// NewPositionHistoryStore creates a new PositionHistoryStore.
func NewPositionHistoryStore(conn *Conn) *PositionHistoryStore {
	return &PositionHistoryStore{conn: conn}
}

// Compile-time interface check.
var _ storage.PositionHistoryStore = (*PositionHistoryStore)(nil)

// Append inserts diff records as a single batch.
func (s *PositionHistoryStore) Append(ctx context.Context, diffs []*domain.PositionDiff) error {
	if len(diffs) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO positions_history (
			asset_pk, wallet, delta, new_amount, ts
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, d := range diffs {
		err = batch.Append(
			d.AssetPk, d.Wallet, d.Delta, d.NewAmount, uint64(d.Ts),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// ListByAsset retrieves diffs for an asset, newest first.
func (s *PositionHistoryStore) ListByAsset(ctx context.Context, assetPk string, limit int) ([]*domain.PositionDiff, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT asset_pk, wallet, delta, new_amount, ts
		FROM positions_history
		WHERE asset_pk = ?
		ORDER BY ts DESC
		LIMIT ?
	`

	rows, err := s.conn.Query(ctx, query, assetPk, uint64(limit))
	if err != nil {
		return nil, fmt.Errorf("query diffs by asset: %w", err)
	}
	defer rows.Close()

	return scanPositionDiffs(rows)
}

// scanPositionDiffs scans multiple rows into a slice.
func scanPositionDiffs(rows chRows) ([]*domain.PositionDiff, error) {
	var diffs []*domain.PositionDiff

	for rows.Next() {
		var d domain.PositionDiff
		var ts uint64

		err := rows.Scan(
			&d.AssetPk,
			&d.Wallet,
			&d.Delta,
			&d.NewAmount,
			&ts,
		)
		if err != nil {
			return nil, fmt.Errorf("scan diff row: %w", err)
		}

		d.Ts = int64(ts)
		diffs = append(diffs, &d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate diff rows: %w", err)
	}

	return diffs, nil
}
