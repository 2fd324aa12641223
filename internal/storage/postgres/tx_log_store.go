package postgres

import (
	"context"
	"fmt"
	"time"

	"invoice-market/internal/domain"
	"invoice-market/internal/storage"
)

// TxLogStore implements storage.TxLogStore using PostgreSQL.
type TxLogStore struct {
	pool *Pool
}

// NewTxLogStore creates a new TxLogStore.
func NewTxLogStore(pool *Pool) *TxLogStore {
	return &TxLogStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TxLogStore = (*TxLogStore)(nil)

// Insert records a submitted ledger transaction.
func (s *TxLogStore) Insert(ctx context.Context, l *domain.TxLog) error {
	if l == nil || l.Sig == "" {
		return storage.ErrInvalidInput
	}
	if l.CreatedAt == 0 {
		l.CreatedAt = time.Now().UnixMilli()
	}

	query := `
		INSERT INTO tx_logs (sig, kind, asset_pk, success, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	err := s.pool.QueryRow(ctx, query,
		l.Sig,
		l.Kind,
		l.AssetPk,
		l.Success,
		l.Error,
		l.CreatedAt,
	).Scan(&l.ID)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert tx log: %w", err)
	}
	return nil
}

// ListByAsset retrieves transaction logs for an asset, newest first.
func (s *TxLogStore) ListByAsset(ctx context.Context, assetPk string, limit int) ([]*domain.TxLog, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `
		SELECT id, sig, kind, asset_pk, success, error, created_at
		FROM tx_logs
		WHERE asset_pk = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, query, assetPk, limit)
	if err != nil {
		return nil, fmt.Errorf("list tx logs: %w", err)
	}
	defer rows.Close()

	var logs []*domain.TxLog
	for rows.Next() {
		var l domain.TxLog
		if err := rows.Scan(&l.ID, &l.Sig, &l.Kind, &l.AssetPk, &l.Success, &l.Error, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tx log row: %w", err)
		}
		logs = append(logs, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tx log rows: %w", err)
	}

	return logs, nil
}
