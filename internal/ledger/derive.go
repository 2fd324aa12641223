package ledger

import (
	"crypto/sha256"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"

	"invoice-market/internal/solana"
)

// PDA seed prefixes used by the on-chain program.
const (
	escrowSeed  = "escrow"
	marketSeed  = "market"
	listingSeed = "listing"
)

// DeriveAddress derives a Program Derived Address for the given seeds.
// The algorithm appends a bump byte, the program ID, and the
// "ProgramDerivedAddress" marker, then takes the sha256; the first bump
// counting down from 255 that lands off the ed25519 curve wins.
func DeriveAddress(programID string, seeds ...[]byte) (string, uint8, error) {
	program, err := base58.Decode(programID)
	if err != nil || len(program) != 32 {
		return "", 0, fmt.Errorf("invalid program id %q", programID)
	}

	for bump := byte(255); bump > 0; bump-- {
		data := make([]byte, 0)
		for _, seed := range seeds {
			data = append(data, seed...)
		}
		data = append(data, bump)
		data = append(data, program...)
		data = append(data, []byte("ProgramDerivedAddress")...)

		hash := sha256.Sum256(data)

		if !isOnCurve(hash[:]) {
			return base58.Encode(hash[:]), bump, nil
		}
	}

	return "", 0, fmt.Errorf("no valid bump for seeds")
}

func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}

// DeriveATA derives the associated token account for a wallet and mint.
func DeriveATA(owner, mint string) (string, error) {
	ownerBytes, err := base58.Decode(owner)
	if err != nil || len(ownerBytes) != 32 {
		return "", fmt.Errorf("invalid owner %q", owner)
	}
	mintBytes, err := base58.Decode(mint)
	if err != nil || len(mintBytes) != 32 {
		return "", fmt.Errorf("invalid mint %q", mint)
	}
	tokenProgram, err := base58.Decode(solana.TokenProgramID)
	if err != nil {
		return "", err
	}

	addr, _, err := DeriveAddress(solana.ATAProgramID, ownerBytes, tokenProgram, mintBytes)
	return addr, err
}

// EscrowAuthority derives the escrow authority PDA for an asset.
func EscrowAuthority(programID, assetPk string) (string, uint8, error) {
	assetBytes, err := base58.Decode(assetPk)
	if err != nil || len(assetBytes) != 32 {
		return "", 0, fmt.Errorf("invalid asset pk %q", assetPk)
	}
	return DeriveAddress(programID, []byte(escrowSeed), assetBytes)
}

// MarketAuthority derives the marketplace authority PDA for an asset; it
// owns the seller-side escrow used by v1 listings.
func MarketAuthority(programID, assetPk string) (string, uint8, error) {
	assetBytes, err := base58.Decode(assetPk)
	if err != nil || len(assetBytes) != 32 {
		return "", 0, fmt.Errorf("invalid asset pk %q", assetPk)
	}
	return DeriveAddress(programID, []byte(marketSeed), assetBytes)
}

// ListingAddress derives the on-chain listing account for an asset and seller.
func ListingAddress(programID, assetPk, seller string) (string, uint8, error) {
	assetBytes, err := base58.Decode(assetPk)
	if err != nil || len(assetBytes) != 32 {
		return "", 0, fmt.Errorf("invalid asset pk %q", assetPk)
	}
	sellerBytes, err := base58.Decode(seller)
	if err != nil || len(sellerBytes) != 32 {
		return "", 0, fmt.Errorf("invalid seller %q", seller)
	}
	return DeriveAddress(programID, []byte(listingSeed), assetBytes, sellerBytes)
}
