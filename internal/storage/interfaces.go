package storage

import (
	"context"

	"invoice-market/internal/domain"
)

// ListingFilter narrows listing queries. Nil fields match everything.
type ListingFilter struct {
	AssetPk *string
	Seller  *string
	Status  *domain.ListingStatus
	Limit   int // <= 0 means the store default
}

// ListingStore provides access to the listings table.
//
// Fill is the single required critical section in the core: it must perform a
// conditional decrement (decrement-if-sufficient while Open) so two concurrent
// fills can never both succeed against the same remaining units.
type ListingStore interface {
	// Insert adds a new listing and assigns its ID. RemainingQty is set to Qty.
	Insert(ctx context.Context, l *domain.Listing) error

	// GetByID retrieves a listing. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id int64) (*domain.Listing, error)

	// List retrieves listings matching the filter, newest first.
	List(ctx context.Context, f ListingFilter) ([]*domain.Listing, error)

	// Fill atomically decrements remaining quantity by qty. Returns the
	// updated listing. Returns ErrConflict when the listing is not Open or
	// qty exceeds the remaining quantity; ErrNotFound when it does not exist.
	// Sets status to Filled when remaining reaches zero.
	Fill(ctx context.Context, id int64, qty uint64) (*domain.Listing, error)

	// Cancel marks an Open listing Canceled, leaving RemainingQty as-is.
	// Returns ErrConflict when the listing is not Open.
	Cancel(ctx context.Context, id int64) (*domain.Listing, error)

	// MarkInitialized flags that the listing's on-chain account exists.
	MarkInitialized(ctx context.Context, id int64) error

	// SyncRemaining overwrites qty bookkeeping from chain state. The on-chain
	// remaining quantity is canonical once the listing is initialized.
	SyncRemaining(ctx context.Context, id int64, remaining uint64) (*domain.Listing, error)
}

// WebhookEventStore provides access to the webhook_events table.
type WebhookEventStore interface {
	// InsertIfAbsent records the event unless its idempotency key exists.
	// Returns (true, inserted event) on insert, (false, existing event) when
	// the key is already present. Uniqueness is enforced by the store.
	InsertIfAbsent(ctx context.Context, ev *domain.WebhookEvent) (bool, *domain.WebhookEvent, error)

	// GetByKey retrieves an event by idempotency key. ErrNotFound if absent.
	GetByKey(ctx context.Context, idemKey string) (*domain.WebhookEvent, error)

	// MarkProcessed stamps the event processed and stores the settlement
	// transaction signature. A failed settlement never calls this, so a
	// genuine retry with the same key can proceed.
	MarkProcessed(ctx context.Context, idemKey string, settleSig string, processedAt int64) error

	// Delete releases an idempotency key after a failed settlement so a
	// redelivery can claim it again. Absent is not an error.
	Delete(ctx context.Context, idemKey string) error
}

// AssetStore is the local echo cache of on-chain asset records.
type AssetStore interface {
	// Upsert inserts or replaces the echo row for a.AssetPk.
	Upsert(ctx context.Context, a *domain.AssetRecord) error

	// GetByPk retrieves an asset by address. ErrNotFound if absent.
	GetByPk(ctx context.Context, assetPk string) (*domain.AssetRecord, error)

	// List retrieves assets, optionally filtered by status and participant
	// wallet (seller or investor), newest first.
	List(ctx context.Context, status *domain.AssetStatus, wallet *string, limit, offset int) ([]*domain.AssetRecord, error)

	// ListFractionalized retrieves assets with an initialized shares mint;
	// these are the indexer's sweep targets.
	ListFractionalized(ctx context.Context) ([]*domain.AssetRecord, error)
}

// PositionsCacheStore holds derived per-asset ownership snapshots.
// Contents are disposable: the indexer can rebuild them from the ledger.
type PositionsCacheStore interface {
	// Get retrieves the snapshot for an asset. ErrNotFound if absent.
	Get(ctx context.Context, assetPk string) (*domain.PositionSnapshot, error)

	// Put replaces the snapshot for snap.AssetPk.
	Put(ctx context.Context, snap *domain.PositionSnapshot) error

	// Delete drops the snapshot for an asset. Absent is not an error.
	Delete(ctx context.Context, assetPk string) error
}

// PositionHistoryStore is the append-only diff history.
type PositionHistoryStore interface {
	// Append inserts diff records. Records are never mutated after insert.
	Append(ctx context.Context, diffs []*domain.PositionDiff) error

	// ListByAsset retrieves diffs for an asset, newest first.
	ListByAsset(ctx context.Context, assetPk string, limit int) ([]*domain.PositionDiff, error)
}

// TxLogStore records submitted ledger transactions for audit.
type TxLogStore interface {
	Insert(ctx context.Context, l *domain.TxLog) error
	ListByAsset(ctx context.Context, assetPk string, limit int) ([]*domain.TxLog, error)
}
