package domain

// ListingStatus is the off-chain listing lifecycle state.
// Open -> Filled (remaining reaches zero) or Open -> Canceled (terminal).
type ListingStatus string

const (
	ListingStatusOpen     ListingStatus = "Open"
	ListingStatusFilled   ListingStatus = "Filled"
	ListingStatusCanceled ListingStatus = "Canceled"
)

// ListingProtocol selects the settlement design for a listing.
// V1 deposits shares into a program escrow at creation; V2 leaves shares with
// the seller under a revocable delegation to the market authority.
type ListingProtocol string

const (
	ProtocolV1 ListingProtocol = "v1"
	ProtocolV2 ListingProtocol = "v2"
)

// Listing is a signature-authenticated sell offer for fractional units.
// Corresponds to the listings table. Rows are never deleted; Canceled keeps
// RemainingQty as-is for audit.
type Listing struct {
	ID           int64 // monotonic, assigned by the store
	AssetPk      string
	Seller       string
	Price        uint64 // per-unit price in funds-mint base units
	Qty          uint64 // original quantity
	RemainingQty uint64 // invariant: 0 <= RemainingQty <= Qty
	Status       ListingStatus
	Protocol     ListingProtocol
	Signature    *string // detached ed25519 signature over the create message
	// OnchainInitialized marks that a listing account exists on the ledger;
	// from then on the chain's remaining quantity is canonical and off-chain
	// fills are rejected.
	OnchainInitialized bool
	CreatedAt          int64 // unix ms
	UpdatedAt          int64 // unix ms
}

// Open reports whether the listing can still be filled or canceled.
func (l *Listing) Open() bool { return l.Status == ListingStatusOpen }
