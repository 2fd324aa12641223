package solana

// Well-known program addresses.
const (
	SystemProgramID = "11111111111111111111111111111111"
	TokenProgramID  = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	ATAProgramID    = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
	SysvarRentID    = "SysvarRent111111111111111111111111111111111"
)

// SPL token account data size in bytes.
const TokenAccountSize = 165

// AccountInfo represents account state as returned by getAccountInfo.
type AccountInfo struct {
	Lamports   uint64
	Owner      string
	Data       string // base64 encoded
	Executable bool
	RentEpoch  uint64
}

// TokenAccount is a parsed SPL token account.
type TokenAccount struct {
	Address string // token account address
	Mint    string
	Owner   string // wallet that owns the tokens
	Amount  uint64 // base units
}

// Blockhash is the result of getLatestBlockhash. Never cache it: a stale
// blockhash makes the built transaction unsubmittable.
type Blockhash struct {
	Blockhash            string
	LastValidBlockHeight uint64
}

// SignatureInfo from getSignaturesForAddress.
type SignatureInfo struct {
	Signature string
	Slot      int64
	BlockTime *int64
	Err       interface{}
}

// SignaturesOpts defines optional pagination parameters for getSignaturesForAddress.
type SignaturesOpts struct {
	Before string // Start searching backwards from this signature
	Until  string // Search until this signature
	Limit  int    // Maximum number of signatures to return
}
