package marketplace

import (
	"errors"
	"fmt"
)

var (
	// ErrSellerMismatch is returned when the acting wallet is not the
	// listing's seller.
	ErrSellerMismatch = errors.New("wallet is not the listing seller")

	// ErrOnchainManaged is returned when an off-chain fill targets a listing
	// whose on-chain account exists. From that point the chain's remaining
	// quantity is canonical and bookkeeping fills are disabled.
	ErrOnchainManaged = errors.New("listing is managed on chain, off-chain fill rejected")
)

// InsufficientBalanceError rejects an over-listing attempt and names the
// maximum quantity the seller could list right now.
type InsufficientBalanceError struct {
	Requested uint64
	Available uint64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient available balance: requested %d, max listable %d", e.Requested, e.Available)
}
