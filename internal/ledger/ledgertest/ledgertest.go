// Package ledgertest fabricates ledger account bytes for tests.
package ledgertest

import (
	"encoding/base64"
	"encoding/binary"

	"github.com/mr-tron/base58"

	"invoice-market/internal/domain"
	"invoice-market/internal/ledger"
	"invoice-market/internal/solana"
)

func mustDecode(addr string) []byte {
	raw, err := base58.Decode(addr)
	if err != nil || len(raw) != 32 {
		panic("ledgertest: invalid base58 pubkey " + addr)
	}
	return raw
}

func appendPubkey(buf []byte, addr string) []byte {
	if addr == "" {
		var zero [32]byte
		return append(buf, zero[:]...)
	}
	return append(buf, mustDecode(addr)...)
}

func appendU64(buf []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(buf, v)
}

// EncodeAssetAccount builds the raw bytes of an asset account from a record.
func EncodeAssetAccount(a *domain.AssetRecord) []byte {
	buf := append([]byte{}, ledger.AccountDiscriminator("InvoiceAsset")...)
	buf = appendPubkey(buf, a.Seller)
	investor := ""
	if a.Investor != nil {
		investor = *a.Investor
	}
	buf = appendPubkey(buf, investor)
	buf = appendPubkey(buf, a.FundsMint)
	sharesMint := ""
	if a.SharesMint != nil {
		sharesMint = *a.SharesMint
	}
	buf = appendPubkey(buf, sharesMint)
	buf = appendU64(buf, a.Amount)
	buf = appendU64(buf, a.FundedAmount)
	buf = appendU64(buf, uint64(a.DueDate))

	var status byte
	switch a.Status {
	case domain.AssetStatusFunded:
		status = 1
	case domain.AssetStatusSettled:
		status = 2
	}
	buf = append(buf, status)

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(a.MetadataHash)))
	buf = append(buf, []byte(a.MetadataHash)...)
	return buf
}

// EncodeListingAccount builds the raw bytes of an on-chain listing account.
func EncodeListingAccount(l *ledger.ListingState) []byte {
	buf := append([]byte{}, ledger.AccountDiscriminator("Listing")...)
	buf = appendPubkey(buf, l.AssetPk)
	buf = appendPubkey(buf, l.Seller)
	buf = appendU64(buf, l.Price)
	buf = appendU64(buf, l.Qty)
	buf = appendU64(buf, l.RemainingQty)
	buf = append(buf, l.Status)
	return buf
}

// EncodeTokenAccount builds the raw bytes of an SPL token account.
func EncodeTokenAccount(mint, owner string, amount uint64) []byte {
	buf := make([]byte, 0, solana.TokenAccountSize)
	buf = appendPubkey(buf, mint)
	buf = appendPubkey(buf, owner)
	buf = appendU64(buf, amount)
	pad := make([]byte, solana.TokenAccountSize-len(buf))
	return append(buf, pad...)
}

// EncodeMintAccount builds the raw bytes of an SPL mint account.
func EncodeMintAccount(supply uint64, decimals uint8) []byte {
	buf := make([]byte, 82)
	binary.LittleEndian.PutUint64(buf[36:], supply)
	buf[44] = decimals
	return buf
}

// AccountInfo wraps raw account bytes as base64 account info owned by owner.
func AccountInfo(owner string, raw []byte) *solana.AccountInfo {
	return &solana.AccountInfo{
		Lamports: 1_000_000,
		Owner:    owner,
		Data:     base64.StdEncoding.EncodeToString(raw),
	}
}

// Pubkey deterministically fabricates a base58 pubkey from a single byte tag.
func Pubkey(tag byte) string {
	var raw [32]byte
	for i := range raw {
		raw[i] = tag
	}
	return base58.Encode(raw[:])
}
