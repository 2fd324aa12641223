package domain

// AssetStatus is the on-chain lifecycle state of a tokenized receivable.
// Transitions are monotonic: Open -> Funded -> Settled.
type AssetStatus string

const (
	AssetStatusOpen    AssetStatus = "Open"
	AssetStatusFunded  AssetStatus = "Funded"
	AssetStatusSettled AssetStatus = "Settled"
)

// Valid reports whether s is a known asset status.
func (s AssetStatus) Valid() bool {
	switch s {
	case AssetStatusOpen, AssetStatusFunded, AssetStatusSettled:
		return true
	}
	return false
}

// AssetRecord mirrors the on-chain asset account. The external ledger is the
// source of truth; rows in the assets table are an echo cache maintained by
// the indexer and rebuildable at any time.
type AssetRecord struct {
	AssetPk         string // account address (base58)
	Seller          string
	Investor        *string // nullable until first funding
	FundsMint       string  // settlement currency mint
	Amount          uint64  // funding target, base units
	FundedAmount    uint64  // invariant: FundedAmount <= Amount
	Status          AssetStatus
	MetadataHash    string
	DueDate         int64   // unix seconds
	EscrowAuthority string  // derived PDA
	EscrowToken     string  // derived ATA of the escrow authority
	SharesMint      *string // nil until fractionalization is initialized
	CreatedAt       int64   // unix ms, local echo only
	UpdatedAt       int64   // unix ms, local echo only
	LastSig         *string // last transaction signature seen for this asset
}

// Fractionalized reports whether the asset has an initialized shares mint.
func (a *AssetRecord) Fractionalized() bool {
	return a.SharesMint != nil && *a.SharesMint != ""
}
