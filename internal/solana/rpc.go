package solana

import "context"

// RPCClient defines the Solana RPC HTTP interface used by the ledger gateway.
type RPCClient interface {
	// GetAccountInfo retrieves account info by public key.
	// Returns nil if the account does not exist.
	GetAccountInfo(ctx context.Context, pubkey string) (*AccountInfo, error)

	// GetLatestBlockhash fetches a fresh blockhash for transaction building.
	GetLatestBlockhash(ctx context.Context) (*Blockhash, error)

	// GetTokenAccountsByMint scans all token accounts holding the given mint.
	GetTokenAccountsByMint(ctx context.Context, mint string) ([]TokenAccount, error)

	// SendTransaction submits a base64-encoded signed transaction and
	// returns its signature.
	SendTransaction(ctx context.Context, txBase64 string) (string, error)

	// GetSignaturesForAddress retrieves signatures for an address with pagination.
	GetSignaturesForAddress(ctx context.Context, address string, opts *SignaturesOpts) ([]SignatureInfo, error)

	// GetSlot retrieves the current slot.
	GetSlot(ctx context.Context) (int64, error)
}
