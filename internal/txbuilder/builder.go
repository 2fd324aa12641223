// Package txbuilder assembles unsigned legacy transactions for the invoice
// marketplace program. Every builder fetches a fresh blockhash and resolves
// accounts against the live ledger at build time, so the returned payload is
// ready for wallet signing without further lookups.
package txbuilder

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"log"

	"invoice-market/internal/domain"
	"invoice-market/internal/ledger"
)

// Both sentinels match ledger.ErrPrerequisiteMissing so callers can treat
// any uninitialized dependent account uniformly.
var (
	// ErrNotFractionalized is returned for share operations on an asset
	// without an initialized shares mint.
	ErrNotFractionalized = fmt.Errorf("%w: asset has no shares mint", ledger.ErrPrerequisiteMissing)
	// ErrNoEscrow is returned when an operation needs the asset's funds
	// escrow and it was never created.
	ErrNoEscrow = fmt.Errorf("%w: asset has no escrow token account", ledger.ErrPrerequisiteMissing)
)

// UnsignedTx is a serialized transaction waiting for wallet signatures.
type UnsignedTx struct {
	TxBase64             string   `json:"tx"`
	Blockhash            string   `json:"blockhash"`
	LastValidBlockHeight uint64   `json:"lastValidBlockHeight"`
	Signers              []string `json:"signers"`
}

// Builder resolves accounts through the ledger gateway and produces
// serialized transactions.
type Builder struct {
	gw     *ledger.Gateway
	logger *log.Logger
}

func NewBuilder(gw *ledger.Gateway) *Builder {
	return &Builder{
		gw:     gw,
		logger: log.New(log.Writer(), "[txbuilder] ", log.LstdFlags),
	}
}

// finalize fetches a fresh blockhash, serializes the transaction unsigned
// and records who must sign it.
func (b *Builder) finalize(ctx context.Context, feePayer string, instructions ...Instruction) (*UnsignedTx, error) {
	bh, err := b.gw.LatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch blockhash: %w", err)
	}

	tx := NewTransaction(feePayer, bh.Blockhash).Add(instructions...)
	signers, err := tx.RequiredSigners()
	if err != nil {
		return nil, err
	}
	raw, err := tx.Serialize()
	if err != nil {
		return nil, err
	}

	return &UnsignedTx{
		TxBase64:             raw,
		Blockhash:            bh.Blockhash,
		LastValidBlockHeight: bh.LastValidBlockHeight,
		Signers:              signers,
	}, nil
}

// ensureATA derives the associated token account for owner and mint and, if
// it does not exist yet, returns a creation instruction funded by payer.
func (b *Builder) ensureATA(ctx context.Context, payer, owner, mint string) (string, []Instruction, error) {
	ata, err := ledger.DeriveATA(owner, mint)
	if err != nil {
		return "", nil, err
	}
	exists, err := b.gw.AccountExists(ctx, ata)
	if err != nil {
		return "", nil, err
	}
	if exists {
		return ata, nil, nil
	}
	b.logger.Printf("prepending ATA create owner=%s mint=%s", owner, mint)
	return ata, []Instruction{createATAIx(payer, ata, owner, mint)}, nil
}

// BuildMintAsset creates the asset account for a new receivable. The asset
// keypair is generated client side; both it and the seller must sign.
func (b *Builder) BuildMintAsset(ctx context.Context, assetPk, seller, metadataHash string, amount uint64, dueDate int64) (*UnsignedTx, error) {
	if amount == 0 {
		return nil, fmt.Errorf("txbuilder: amount must be positive")
	}
	ix := mintInvoiceIx(b.gw.ProgramID(), assetPk, seller, metadataHash, amount, dueDate)
	return b.finalize(ctx, seller, ix)
}

// BuildCreateEscrow initializes the escrow authority PDA and its funds token
// account for an existing asset.
func (b *Builder) BuildCreateEscrow(ctx context.Context, assetPk, payer string) (*UnsignedTx, error) {
	asset, err := b.gw.GetAssetRecord(ctx, assetPk)
	if err != nil {
		return nil, err
	}
	escrowAuth, _, err := ledger.EscrowAuthority(b.gw.ProgramID(), assetPk)
	if err != nil {
		return nil, err
	}
	escrowToken, err := ledger.DeriveATA(escrowAuth, asset.FundsMint)
	if err != nil {
		return nil, err
	}
	ix := createEscrowIx(b.gw.ProgramID(), assetPk, escrowAuth, escrowToken, asset.FundsMint, payer)
	return b.finalize(ctx, payer, ix)
}

// BuildFund funds the whole invoice from the investor's funds account into
// escrow. The investor's funds ATA must already exist; a missing one means
// the wallet holds none of the settlement currency, which no transaction we
// build can fix.
func (b *Builder) BuildFund(ctx context.Context, assetPk, investor string, amount uint64) (*UnsignedTx, error) {
	asset, err := b.gw.GetAssetRecord(ctx, assetPk)
	if err != nil {
		return nil, err
	}
	if asset.EscrowToken == "" {
		return nil, ErrNoEscrow
	}
	investorToken, err := ledger.DeriveATA(investor, asset.FundsMint)
	if err != nil {
		return nil, err
	}
	ix := fundInvoiceIx(b.gw.ProgramID(), assetPk, investor, investorToken, asset.EscrowToken, amount)
	return b.finalize(ctx, investor, ix)
}

// BuildInitShares creates the shares mint for fractional ownership. The mint
// keypair is generated client side and co-signs.
func (b *Builder) BuildInitShares(ctx context.Context, assetPk, sharesMint, seller string, supply uint64, decimals uint8) (*UnsignedTx, error) {
	if _, err := b.gw.GetAssetRecord(ctx, assetPk); err != nil {
		return nil, err
	}
	ix := initSharesIx(b.gw.ProgramID(), assetPk, sharesMint, seller, supply, decimals)
	return b.finalize(ctx, seller, ix)
}

// BuildFundFractional funds a slice of the invoice and mints matching shares
// to the investor. The investor's shares ATA is created in the same
// transaction when missing.
func (b *Builder) BuildFundFractional(ctx context.Context, assetPk, investor string, amount uint64) (*UnsignedTx, error) {
	asset, err := b.gw.GetAssetRecord(ctx, assetPk)
	if err != nil {
		return nil, err
	}
	if !asset.Fractionalized() {
		return nil, ErrNotFractionalized
	}
	if asset.EscrowToken == "" {
		return nil, ErrNoEscrow
	}

	investorFunds, err := ledger.DeriveATA(investor, asset.FundsMint)
	if err != nil {
		return nil, err
	}
	investorShares, setup, err := b.ensureATA(ctx, investor, investor, *asset.SharesMint)
	if err != nil {
		return nil, err
	}

	escrowAuth, _, err := ledger.EscrowAuthority(b.gw.ProgramID(), assetPk)
	if err != nil {
		return nil, err
	}

	ix := fundInvoiceFractionalIx(b.gw.ProgramID(), assetPk, investor, investorFunds,
		asset.EscrowToken, *asset.SharesMint, investorShares, escrowAuth, amount)
	return b.finalize(ctx, investor, append(setup, ix)...)
}

// BuildSetSettled builds and signs the operator-gated settlement flip with
// the relayer key. Ready to submit, no wallet involvement.
func (b *Builder) BuildSetSettled(ctx context.Context, assetPk string, relayer ed25519.PrivateKey, relayerPubkey string) (string, error) {
	bh, err := b.gw.LatestBlockhash(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch blockhash: %w", err)
	}

	tx := NewTransaction(relayerPubkey, bh.Blockhash).
		Add(setSettledIx(b.gw.ProgramID(), assetPk, relayerPubkey))
	return tx.SerializeSigned(map[string]ed25519.PrivateKey{relayerPubkey: relayer})
}

// assetForListing loads the asset and common derived accounts for listing
// builders.
func (b *Builder) assetForListing(ctx context.Context, assetPk, seller string) (*domain.AssetRecord, string, string, error) {
	asset, err := b.gw.GetAssetRecord(ctx, assetPk)
	if err != nil {
		return nil, "", "", err
	}
	if !asset.Fractionalized() {
		return nil, "", "", ErrNotFractionalized
	}
	listingAddr, _, err := ledger.ListingAddress(b.gw.ProgramID(), assetPk, seller)
	if err != nil {
		return nil, "", "", err
	}
	marketAuth, _, err := ledger.MarketAuthority(b.gw.ProgramID(), assetPk)
	if err != nil {
		return nil, "", "", err
	}
	return asset, listingAddr, marketAuth, nil
}

// BuildCreateListing escrows qty shares under the market authority and
// initializes the on-chain listing.
func (b *Builder) BuildCreateListing(ctx context.Context, assetPk, seller string, price, qty uint64) (*UnsignedTx, error) {
	asset, listingAddr, marketAuth, err := b.assetForListing(ctx, assetPk, seller)
	if err != nil {
		return nil, err
	}

	sellerShares, err := ledger.DeriveATA(seller, *asset.SharesMint)
	if err != nil {
		return nil, err
	}
	marketShares, setup, err := b.ensureATA(ctx, seller, marketAuth, *asset.SharesMint)
	if err != nil {
		return nil, err
	}

	ix := createListingIx(b.gw.ProgramID(), listingAddr, assetPk, seller,
		sellerShares, marketAuth, marketShares, price, qty)
	return b.finalize(ctx, seller, append(setup, ix)...)
}

// BuildFulfillListing settles a buyer's fill against the escrowed shares.
// The buyer's shares ATA is created in the same transaction when missing.
func (b *Builder) BuildFulfillListing(ctx context.Context, assetPk, seller, buyer string, qty uint64) (*UnsignedTx, error) {
	asset, listingAddr, marketAuth, err := b.assetForListing(ctx, assetPk, seller)
	if err != nil {
		return nil, err
	}

	buyerFunds, err := ledger.DeriveATA(buyer, asset.FundsMint)
	if err != nil {
		return nil, err
	}
	marketShares, err := ledger.DeriveATA(marketAuth, *asset.SharesMint)
	if err != nil {
		return nil, err
	}
	buyerShares, setup, err := b.ensureATA(ctx, buyer, buyer, *asset.SharesMint)
	if err != nil {
		return nil, err
	}
	sellerFunds, fundsSetup, err := b.ensureATA(ctx, buyer, seller, asset.FundsMint)
	if err != nil {
		return nil, err
	}
	setup = append(setup, fundsSetup...)

	ix := fulfillListingIx(b.gw.ProgramID(), listingAddr, assetPk, buyer,
		buyerFunds, sellerFunds, marketShares, buyerShares, marketAuth, qty)
	return b.finalize(ctx, buyer, append(setup, ix)...)
}

// BuildCancelListing returns escrowed shares to the seller and closes the
// listing account.
func (b *Builder) BuildCancelListing(ctx context.Context, assetPk, seller string) (*UnsignedTx, error) {
	asset, listingAddr, marketAuth, err := b.assetForListing(ctx, assetPk, seller)
	if err != nil {
		return nil, err
	}

	sellerShares, err := ledger.DeriveATA(seller, *asset.SharesMint)
	if err != nil {
		return nil, err
	}
	marketShares, err := ledger.DeriveATA(marketAuth, *asset.SharesMint)
	if err != nil {
		return nil, err
	}

	ix := cancelListingIx(b.gw.ProgramID(), listingAddr, seller, marketShares, sellerShares, marketAuth)
	return b.finalize(ctx, seller, ix)
}

// BuildCreateListingV2 initializes an allowance-based listing. Shares stay
// with the seller; the delegation approval rides in the same transaction.
func (b *Builder) BuildCreateListingV2(ctx context.Context, assetPk, seller string, price, qty uint64) (*UnsignedTx, error) {
	asset, listingAddr, marketAuth, err := b.assetForListing(ctx, assetPk, seller)
	if err != nil {
		return nil, err
	}

	sellerShares, err := ledger.DeriveATA(seller, *asset.SharesMint)
	if err != nil {
		return nil, err
	}
	mint, err := b.gw.GetMintInfo(ctx, *asset.SharesMint)
	if err != nil {
		return nil, err
	}

	approve := approveCheckedIx(sellerShares, *asset.SharesMint, marketAuth, seller, qty, mint.Decimals)
	create := createListingV2Ix(b.gw.ProgramID(), listingAddr, assetPk, seller, price, qty)
	return b.finalize(ctx, seller, approve, create)
}

// BuildFulfillListingV2 settles a fill by pulling shares straight from the
// seller's account through the delegated allowance.
func (b *Builder) BuildFulfillListingV2(ctx context.Context, assetPk, seller, buyer string, qty uint64) (*UnsignedTx, error) {
	asset, listingAddr, marketAuth, err := b.assetForListing(ctx, assetPk, seller)
	if err != nil {
		return nil, err
	}

	buyerFunds, err := ledger.DeriveATA(buyer, asset.FundsMint)
	if err != nil {
		return nil, err
	}
	sellerShares, err := ledger.DeriveATA(seller, *asset.SharesMint)
	if err != nil {
		return nil, err
	}
	buyerShares, setup, err := b.ensureATA(ctx, buyer, buyer, *asset.SharesMint)
	if err != nil {
		return nil, err
	}
	sellerFunds, fundsSetup, err := b.ensureATA(ctx, buyer, seller, asset.FundsMint)
	if err != nil {
		return nil, err
	}
	setup = append(setup, fundsSetup...)

	ix := fulfillListingV2Ix(b.gw.ProgramID(), listingAddr, assetPk, buyer,
		buyerFunds, sellerFunds, sellerShares, buyerShares, marketAuth, qty)
	return b.finalize(ctx, buyer, append(setup, ix)...)
}

// BuildCancelListingV2 closes an allowance-based listing and revokes the
// delegation in the same transaction.
func (b *Builder) BuildCancelListingV2(ctx context.Context, assetPk, seller string) (*UnsignedTx, error) {
	asset, listingAddr, _, err := b.assetForListing(ctx, assetPk, seller)
	if err != nil {
		return nil, err
	}

	sellerShares, err := ledger.DeriveATA(seller, *asset.SharesMint)
	if err != nil {
		return nil, err
	}

	cancel := cancelListingV2Ix(b.gw.ProgramID(), listingAddr, seller)
	revoke := revokeIx(sellerShares, seller)
	return b.finalize(ctx, seller, cancel, revoke)
}

// BuildApproveShares delegates qty shares to the market authority without
// touching listing state. Used to top up or repair a v2 allowance.
func (b *Builder) BuildApproveShares(ctx context.Context, assetPk, owner string, qty uint64) (*UnsignedTx, error) {
	asset, err := b.gw.GetAssetRecord(ctx, assetPk)
	if err != nil {
		return nil, err
	}
	if !asset.Fractionalized() {
		return nil, ErrNotFractionalized
	}
	return b.buildApprove(ctx, assetPk, owner, *asset.SharesMint, qty)
}

// BuildApproveFunds delegates funds-mint tokens to the market authority so a
// buy side can be settled without the buyer online.
func (b *Builder) BuildApproveFunds(ctx context.Context, assetPk, owner string, amount uint64) (*UnsignedTx, error) {
	asset, err := b.gw.GetAssetRecord(ctx, assetPk)
	if err != nil {
		return nil, err
	}
	return b.buildApprove(ctx, assetPk, owner, asset.FundsMint, amount)
}

func (b *Builder) buildApprove(ctx context.Context, assetPk, owner, mint string, amount uint64) (*UnsignedTx, error) {
	marketAuth, _, err := ledger.MarketAuthority(b.gw.ProgramID(), assetPk)
	if err != nil {
		return nil, err
	}
	ownerToken, err := ledger.DeriveATA(owner, mint)
	if err != nil {
		return nil, err
	}
	info, err := b.gw.GetMintInfo(ctx, mint)
	if err != nil {
		return nil, err
	}
	ix := approveCheckedIx(ownerToken, mint, marketAuth, owner, amount, info.Decimals)
	return b.finalize(ctx, owner, ix)
}

// BuildRevokeShares clears the share delegation on the owner's account.
func (b *Builder) BuildRevokeShares(ctx context.Context, assetPk, owner string) (*UnsignedTx, error) {
	asset, err := b.gw.GetAssetRecord(ctx, assetPk)
	if err != nil {
		return nil, err
	}
	if !asset.Fractionalized() {
		return nil, ErrNotFractionalized
	}
	return b.buildRevoke(ctx, owner, *asset.SharesMint)
}

// BuildRevokeFunds clears the funds delegation on the owner's account.
func (b *Builder) BuildRevokeFunds(ctx context.Context, assetPk, owner string) (*UnsignedTx, error) {
	asset, err := b.gw.GetAssetRecord(ctx, assetPk)
	if err != nil {
		return nil, err
	}
	return b.buildRevoke(ctx, owner, asset.FundsMint)
}

func (b *Builder) buildRevoke(ctx context.Context, owner, mint string) (*UnsignedTx, error) {
	ownerToken, err := ledger.DeriveATA(owner, mint)
	if err != nil {
		return nil, err
	}
	return b.finalize(ctx, owner, revokeIx(ownerToken, owner))
}
