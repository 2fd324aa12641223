package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"invoice-market/internal/domain"
	"invoice-market/internal/storage"
)

const assetColumns = `asset_pk, seller, investor, funds_mint, amount, funded_amount, status, metadata_hash, due_date, escrow_authority, escrow_token, shares_mint, created_at, updated_at, last_sig`

// AssetStore implements storage.AssetStore using PostgreSQL.
type AssetStore struct {
	pool *Pool
}

// NewAssetStore creates a new AssetStore.
func NewAssetStore(pool *Pool) *AssetStore {
	return &AssetStore{pool: pool}
}

// Compile-time interface check.
var _ storage.AssetStore = (*AssetStore)(nil)

// Upsert inserts or replaces the echo row for a.AssetPk. The original
// created_at is preserved on conflict.
func (s *AssetStore) Upsert(ctx context.Context, a *domain.AssetRecord) error {
	if a == nil || a.AssetPk == "" {
		return storage.ErrInvalidInput
	}

	now := time.Now().UnixMilli()
	if a.CreatedAt == 0 {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	query := `
		INSERT INTO assets (
			asset_pk, seller, investor, funds_mint, amount, funded_amount, status, metadata_hash,
			due_date, escrow_authority, escrow_token, shares_mint, created_at, updated_at, last_sig
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (asset_pk) DO UPDATE SET
			seller = EXCLUDED.seller,
			investor = EXCLUDED.investor,
			funds_mint = EXCLUDED.funds_mint,
			amount = EXCLUDED.amount,
			funded_amount = EXCLUDED.funded_amount,
			status = EXCLUDED.status,
			metadata_hash = EXCLUDED.metadata_hash,
			due_date = EXCLUDED.due_date,
			escrow_authority = EXCLUDED.escrow_authority,
			escrow_token = EXCLUDED.escrow_token,
			shares_mint = EXCLUDED.shares_mint,
			updated_at = EXCLUDED.updated_at,
			last_sig = EXCLUDED.last_sig
	`

	_, err := s.pool.Exec(ctx, query,
		a.AssetPk,
		a.Seller,
		a.Investor,
		a.FundsMint,
		int64(a.Amount),
		int64(a.FundedAmount),
		string(a.Status),
		a.MetadataHash,
		a.DueDate,
		a.EscrowAuthority,
		a.EscrowToken,
		a.SharesMint,
		a.CreatedAt,
		a.UpdatedAt,
		a.LastSig,
	)
	if err != nil {
		return fmt.Errorf("upsert asset: %w", err)
	}
	return nil
}

// GetByPk retrieves an asset by address. ErrNotFound if absent.
func (s *AssetStore) GetByPk(ctx context.Context, assetPk string) (*domain.AssetRecord, error) {
	query := `SELECT ` + assetColumns + ` FROM assets WHERE asset_pk = $1`

	a, err := scanAsset(s.pool.QueryRow(ctx, query, assetPk))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get asset by pk: %w", err)
	}
	return a, nil
}

// List retrieves assets, optionally filtered by status and participant wallet.
func (s *AssetStore) List(ctx context.Context, status *domain.AssetStatus, wallet *string, limit, offset int) ([]*domain.AssetRecord, error) {
	var conds []string
	var args []any

	if status != nil {
		args = append(args, string(*status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if wallet != nil {
		args = append(args, *wallet)
		conds = append(conds, fmt.Sprintf("(seller = $%d OR investor = $%d)", len(args), len(args)))
	}

	query := `SELECT ` + assetColumns + ` FROM assets`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY updated_at DESC, asset_pk LIMIT $%d", len(args))
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	return scanAssets(rows)
}

// ListFractionalized retrieves assets with an initialized shares mint.
func (s *AssetStore) ListFractionalized(ctx context.Context) ([]*domain.AssetRecord, error) {
	query := `SELECT ` + assetColumns + ` FROM assets WHERE shares_mint IS NOT NULL AND shares_mint <> '' ORDER BY asset_pk`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list fractionalized assets: %w", err)
	}
	defer rows.Close()

	return scanAssets(rows)
}

// scanAsset scans a single asset row.
func scanAsset(row rowScanner) (*domain.AssetRecord, error) {
	var a domain.AssetRecord
	var amount, funded int64
	var status string

	err := row.Scan(
		&a.AssetPk,
		&a.Seller,
		&a.Investor,
		&a.FundsMint,
		&amount,
		&funded,
		&status,
		&a.MetadataHash,
		&a.DueDate,
		&a.EscrowAuthority,
		&a.EscrowToken,
		&a.SharesMint,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.LastSig,
	)
	if err != nil {
		return nil, err
	}

	a.Amount = uint64(amount)
	a.FundedAmount = uint64(funded)
	a.Status = domain.AssetStatus(status)
	return &a, nil
}

// scanAssets scans multiple rows into a slice of AssetRecord.
func scanAssets(rows pgx.Rows) ([]*domain.AssetRecord, error) {
	var assets []*domain.AssetRecord

	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan asset row: %w", err)
		}
		assets = append(assets, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate asset rows: %w", err)
	}

	return assets, nil
}
