package ledger

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/mr-tron/base58"

	"invoice-market/internal/domain"
	"invoice-market/internal/solana"
)

// Program account type names, hashed into discriminators.
const (
	assetAccountName   = "InvoiceAsset"
	listingAccountName = "Listing"
)

var zeroPubkey [32]byte

// ListingState is the decoded on-chain listing account. Once a listing is
// initialized on chain, this remaining quantity is canonical over the
// off-chain bookkeeping.
type ListingState struct {
	AssetPk      string
	Seller       string
	Price        uint64
	Qty          uint64
	RemainingQty uint64
	Status       uint8 // 0 open, 1 filled, 2 canceled
}

// reader walks account bytes with bounds checks.
type reader struct {
	data []byte
	pos  int
}

func (r *reader) remaining() int { return len(r.data) - r.pos }

func (r *reader) bytes(n int) ([]byte, error) {
	if r.remaining() < n {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrBadAccountData, n, r.pos, r.remaining())
	}
	out := r.data[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *reader) pubkey() (string, bool, error) {
	raw, err := r.bytes(32)
	if err != nil {
		return "", false, err
	}
	if bytes.Equal(raw, zeroPubkey[:]) {
		return "", false, nil
	}
	return base58.Encode(raw), true, nil
}

func (r *reader) u64() (uint64, error) {
	raw, err := r.bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(raw), nil
}

func (r *reader) i64() (int64, error) {
	v, err := r.u64()
	return int64(v), err
}

func (r *reader) u8() (uint8, error) {
	raw, err := r.bytes(1)
	if err != nil {
		return 0, err
	}
	return raw[0], nil
}

// borshString reads a u32 length-prefixed UTF-8 string.
func (r *reader) borshString() (string, error) {
	raw, err := r.bytes(4)
	if err != nil {
		return "", err
	}
	n := binary.LittleEndian.Uint32(raw)
	if n > uint32(r.remaining()) {
		return "", fmt.Errorf("%w: string length %d exceeds %d remaining bytes", ErrBadAccountData, n, r.remaining())
	}
	data, err := r.bytes(int(n))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeAssetAccount parses the on-chain asset account. The caller fills
// AssetPk and the derived escrow addresses; only ledger-held fields are
// populated here.
func DecodeAssetAccount(data []byte) (*domain.AssetRecord, error) {
	r := &reader{data: data}

	disc, err := r.bytes(8)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(disc, AccountDiscriminator(assetAccountName)) {
		return nil, fmt.Errorf("%w: wrong account discriminator", ErrBadAccountData)
	}

	a := &domain.AssetRecord{}

	seller, ok, err := r.pubkey()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: zero seller", ErrBadAccountData)
	}
	a.Seller = seller

	if investor, ok, err := r.pubkey(); err != nil {
		return nil, err
	} else if ok {
		a.Investor = &investor
	}

	fundsMint, _, err := r.pubkey()
	if err != nil {
		return nil, err
	}
	a.FundsMint = fundsMint

	if sharesMint, ok, err := r.pubkey(); err != nil {
		return nil, err
	} else if ok {
		a.SharesMint = &sharesMint
	}

	if a.Amount, err = r.u64(); err != nil {
		return nil, err
	}
	if a.FundedAmount, err = r.u64(); err != nil {
		return nil, err
	}
	if a.DueDate, err = r.i64(); err != nil {
		return nil, err
	}

	status, err := r.u8()
	if err != nil {
		return nil, err
	}
	switch status {
	case 0:
		a.Status = domain.AssetStatusOpen
	case 1:
		a.Status = domain.AssetStatusFunded
	case 2:
		a.Status = domain.AssetStatusSettled
	default:
		return nil, fmt.Errorf("%w: unknown status %d", ErrBadAccountData, status)
	}

	if a.MetadataHash, err = r.borshString(); err != nil {
		return nil, err
	}

	return a, nil
}

// DecodeListingAccount parses an on-chain listing account.
func DecodeListingAccount(data []byte) (*ListingState, error) {
	r := &reader{data: data}

	disc, err := r.bytes(8)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(disc, AccountDiscriminator(listingAccountName)) {
		return nil, fmt.Errorf("%w: wrong account discriminator", ErrBadAccountData)
	}

	l := &ListingState{}

	assetPk, ok, err := r.pubkey()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: zero asset", ErrBadAccountData)
	}
	l.AssetPk = assetPk

	seller, ok, err := r.pubkey()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: zero seller", ErrBadAccountData)
	}
	l.Seller = seller

	if l.Price, err = r.u64(); err != nil {
		return nil, err
	}
	if l.Qty, err = r.u64(); err != nil {
		return nil, err
	}
	if l.RemainingQty, err = r.u64(); err != nil {
		return nil, err
	}
	if l.Status, err = r.u8(); err != nil {
		return nil, err
	}

	return l, nil
}

// DecodeTokenAccount parses a raw SPL token account: mint at offset 0,
// owner at 32, amount at 64.
func DecodeTokenAccount(data []byte) (mint, owner string, amount uint64, err error) {
	if len(data) < solana.TokenAccountSize {
		return "", "", 0, fmt.Errorf("%w: token account is %d bytes, want %d", ErrBadAccountData, len(data), solana.TokenAccountSize)
	}
	mint = base58.Encode(data[0:32])
	owner = base58.Encode(data[32:64])
	amount = binary.LittleEndian.Uint64(data[64:72])
	return mint, owner, amount, nil
}

// MintInfo is the decoded SPL mint account.
type MintInfo struct {
	Supply   uint64
	Decimals uint8
}

// DecodeMintAccount parses a raw SPL mint account: supply at offset 36,
// decimals at 44, total size 82.
func DecodeMintAccount(data []byte) (*MintInfo, error) {
	if len(data) < 82 {
		return nil, fmt.Errorf("%w: mint account is %d bytes, want 82", ErrBadAccountData, len(data))
	}
	return &MintInfo{
		Supply:   binary.LittleEndian.Uint64(data[36:44]),
		Decimals: data[44],
	}, nil
}
