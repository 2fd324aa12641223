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

const listingColumns = `id, asset_pk, seller, price, qty, remaining_qty, status, protocol, signature, onchain_initialized, created_at, updated_at`

const defaultListLimit = 200

// ListingStore implements storage.ListingStore using PostgreSQL.
type ListingStore struct {
	pool *Pool
}

// NewListingStore creates a new ListingStore.
func NewListingStore(pool *Pool) *ListingStore {
	return &ListingStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ListingStore = (*ListingStore)(nil)

// Insert adds a new listing and assigns its ID.
func (s *ListingStore) Insert(ctx context.Context, l *domain.Listing) error {
	if l == nil || l.AssetPk == "" || l.Seller == "" {
		return storage.ErrInvalidInput
	}

	now := time.Now().UnixMilli()
	if l.CreatedAt == 0 {
		l.CreatedAt = now
	}

	query := `
		INSERT INTO listings (
			asset_pk, seller, price, qty, remaining_qty, status, protocol, signature, onchain_initialized, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $4, 'Open', $5, $6, $7, $8, $8)
		RETURNING id
	`

	err := s.pool.QueryRow(ctx, query,
		l.AssetPk,
		l.Seller,
		int64(l.Price),
		int64(l.Qty),
		string(l.Protocol),
		l.Signature,
		l.OnchainInitialized,
		l.CreatedAt,
	).Scan(&l.ID)
	if err != nil {
		return fmt.Errorf("insert listing: %w", err)
	}

	l.RemainingQty = l.Qty
	l.Status = domain.ListingStatusOpen
	l.UpdatedAt = l.CreatedAt
	return nil
}

// GetByID retrieves a listing. Returns ErrNotFound if not exists.
func (s *ListingStore) GetByID(ctx context.Context, id int64) (*domain.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE id = $1`

	l, err := scanListing(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get listing by id: %w", err)
	}
	return l, nil
}

// List retrieves listings matching the filter, newest first.
func (s *ListingStore) List(ctx context.Context, f storage.ListingFilter) ([]*domain.Listing, error) {
	var conds []string
	var args []any

	if f.AssetPk != nil {
		args = append(args, *f.AssetPk)
		conds = append(conds, fmt.Sprintf("asset_pk = $%d", len(args)))
	}
	if f.Seller != nil {
		args = append(args, *f.Seller)
		conds = append(conds, fmt.Sprintf("seller = $%d", len(args)))
	}
	if f.Status != nil {
		args = append(args, string(*f.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + listingColumns + ` FROM listings`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY updated_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list listings: %w", err)
	}
	defer rows.Close()

	return scanListings(rows)
}

// Fill atomically decrements remaining quantity by qty. The conditional UPDATE
// is the critical section: concurrent fills race on the WHERE clause and only
// one can win the last units.
func (s *ListingStore) Fill(ctx context.Context, id int64, qty uint64) (*domain.Listing, error) {
	if qty == 0 {
		return nil, storage.ErrInvalidInput
	}

	query := `
		UPDATE listings
		SET remaining_qty = remaining_qty - $2,
		    status = CASE WHEN remaining_qty - $2 = 0 THEN 'Filled' ELSE status END,
		    updated_at = $3
		WHERE id = $1 AND status = 'Open' AND remaining_qty >= $2
		RETURNING ` + listingColumns

	l, err := scanListing(s.pool.QueryRow(ctx, query, id, int64(qty), time.Now().UnixMilli()))
	if err != nil {
		if isNotFoundError(err) {
			return nil, s.classifyMiss(ctx, id)
		}
		return nil, fmt.Errorf("fill listing: %w", err)
	}
	return l, nil
}

// Cancel marks an Open listing Canceled, leaving remaining_qty as-is.
func (s *ListingStore) Cancel(ctx context.Context, id int64) (*domain.Listing, error) {
	query := `
		UPDATE listings
		SET status = 'Canceled', updated_at = $2
		WHERE id = $1 AND status = 'Open'
		RETURNING ` + listingColumns

	l, err := scanListing(s.pool.QueryRow(ctx, query, id, time.Now().UnixMilli()))
	if err != nil {
		if isNotFoundError(err) {
			return nil, s.classifyMiss(ctx, id)
		}
		return nil, fmt.Errorf("cancel listing: %w", err)
	}
	return l, nil
}

// MarkInitialized flags that the listing's on-chain account exists.
func (s *ListingStore) MarkInitialized(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE listings SET onchain_initialized = TRUE, updated_at = $2 WHERE id = $1`,
		id, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("mark listing initialized: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// SyncRemaining overwrites qty bookkeeping from chain state.
func (s *ListingStore) SyncRemaining(ctx context.Context, id int64, remaining uint64) (*domain.Listing, error) {
	query := `
		UPDATE listings
		SET remaining_qty = $2,
		    status = CASE WHEN $2 = 0 THEN 'Filled' ELSE 'Open' END,
		    updated_at = $3
		WHERE id = $1 AND status <> 'Canceled'
		RETURNING ` + listingColumns

	l, err := scanListing(s.pool.QueryRow(ctx, query, id, int64(remaining), time.Now().UnixMilli()))
	if err != nil {
		if isNotFoundError(err) {
			return nil, s.classifyMiss(ctx, id)
		}
		return nil, fmt.Errorf("sync listing remaining: %w", err)
	}
	return l, nil
}

// classifyMiss distinguishes a missing row from a row the WHERE clause
// rejected, so callers get ErrNotFound vs ErrConflict correctly.
func (s *ListingStore) classifyMiss(ctx context.Context, id int64) error {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM listings WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check listing exists: %w", err)
	}
	if !exists {
		return storage.ErrNotFound
	}
	return storage.ErrConflict
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanListing scans a single listing row.
func scanListing(row rowScanner) (*domain.Listing, error) {
	var l domain.Listing
	var price, qty, remaining int64
	var status, protocol string

	err := row.Scan(
		&l.ID,
		&l.AssetPk,
		&l.Seller,
		&price,
		&qty,
		&remaining,
		&status,
		&protocol,
		&l.Signature,
		&l.OnchainInitialized,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	l.Price = uint64(price)
	l.Qty = uint64(qty)
	l.RemainingQty = uint64(remaining)
	l.Status = domain.ListingStatus(status)
	l.Protocol = domain.ListingProtocol(protocol)
	return &l, nil
}

// scanListings scans multiple rows into a slice of Listing.
func scanListings(rows pgx.Rows) ([]*domain.Listing, error) {
	var listings []*domain.Listing

	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("scan listing row: %w", err)
		}
		listings = append(listings, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate listing rows: %w", err)
	}

	return listings, nil
}
