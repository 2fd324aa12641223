package txbuilder

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/mr-tron/base58"

	"invoice-market/internal/domain"
	"invoice-market/internal/ledger"
	"invoice-market/internal/ledger/ledgertest"
	"invoice-market/internal/solana/stub"
)

func newTestBuilder() (*Builder, *stub.RPCClient, string) {
	rpc := stub.NewRPCClient()
	programID := ledgertest.Pubkey(0x10)
	return NewBuilder(ledger.NewGateway(rpc, programID)), rpc, programID
}

func seedAsset(t *testing.T, rpc *stub.RPCClient, programID string, fractionalized bool) *domain.AssetRecord {
	t.Helper()
	asset := &domain.AssetRecord{
		AssetPk:      ledgertest.Pubkey(0x20),
		Seller:       ledgertest.Pubkey(0x21),
		FundsMint:    ledgertest.Pubkey(0x22),
		Amount:       1_000_000,
		FundedAmount: 0,
		Status:       domain.AssetStatusOpen,
		MetadataHash: "QmTest",
		DueDate:      1_900_000_000,
	}
	if fractionalized {
		sharesMint := ledgertest.Pubkey(0x23)
		asset.SharesMint = &sharesMint
		rpc.SetAccount(sharesMint, ledgertest.AccountInfo(programID, ledgertest.EncodeMintAccount(1_000_000, 6)))
	}
	rpc.SetAccount(asset.AssetPk, ledgertest.AccountInfo(programID, ledgertest.EncodeAssetAccount(asset)))
	return asset
}

// instructionCount re-parses the serialized transaction and returns how many
// instructions it carries.
func instructionCount(t *testing.T, txBase64 string) int {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(txBase64)
	if err != nil {
		t.Fatal(err)
	}
	numSigs, n, err := decodeCompactU16(raw)
	if err != nil {
		t.Fatal(err)
	}
	msg := raw[n+numSigs*64:]
	numKeys, n2, err := decodeCompactU16(msg[3:])
	if err != nil {
		t.Fatal(err)
	}
	tail := msg[3+n2+numKeys*32+32:]
	count, _, err := decodeCompactU16(tail)
	if err != nil {
		t.Fatal(err)
	}
	return count
}

func TestBuildMintAssetSigners(t *testing.T) {
	b, _, _ := newTestBuilder()
	assetPk := ledgertest.Pubkey(0x30)
	seller := ledgertest.Pubkey(0x31)

	tx, err := b.BuildMintAsset(context.Background(), assetPk, seller, "QmMeta", 500_000, 1_900_000_000)
	if err != nil {
		t.Fatal(err)
	}
	if len(tx.Signers) != 2 || tx.Signers[0] != seller || tx.Signers[1] != assetPk {
		t.Fatalf("signers = %v, want seller then asset keypair", tx.Signers)
	}
	if tx.Blockhash == "" || tx.TxBase64 == "" {
		t.Fatal("expected populated blockhash and payload")
	}
}

func TestBuildMintAssetRejectsZeroAmount(t *testing.T) {
	b, _, _ := newTestBuilder()
	if _, err := b.BuildMintAsset(context.Background(), ledgertest.Pubkey(0x30), ledgertest.Pubkey(0x31), "Qm", 0, 0); err == nil {
		t.Fatal("expected error for zero amount")
	}
}

func TestBuildFundFractionalPrependsMissingATA(t *testing.T) {
	b, rpc, programID := newTestBuilder()
	asset := seedAsset(t, rpc, programID, true)
	investor := ledgertest.Pubkey(0x40)

	tx, err := b.BuildFundFractional(context.Background(), asset.AssetPk, investor, 100_000)
	if err != nil {
		t.Fatal(err)
	}
	// ATA create for the investor's shares account, then the funding call.
	if got := instructionCount(t, tx.TxBase64); got != 2 {
		t.Fatalf("instruction count = %d, want 2", got)
	}
	if tx.Signers[0] != investor {
		t.Fatalf("fee payer = %s, want investor", tx.Signers[0])
	}
}

func TestBuildFundFractionalSkipsExistingATA(t *testing.T) {
	b, rpc, programID := newTestBuilder()
	asset := seedAsset(t, rpc, programID, true)
	investor := ledgertest.Pubkey(0x40)

	ata, err := ledger.DeriveATA(investor, *asset.SharesMint)
	if err != nil {
		t.Fatal(err)
	}
	rpc.SetAccount(ata, ledgertest.AccountInfo(programID, ledgertest.EncodeTokenAccount(*asset.SharesMint, investor, 0)))

	tx, err := b.BuildFundFractional(context.Background(), asset.AssetPk, investor, 100_000)
	if err != nil {
		t.Fatal(err)
	}
	if got := instructionCount(t, tx.TxBase64); got != 1 {
		t.Fatalf("instruction count = %d, want 1", got)
	}
}

func TestBuildFundFractionalNotFractionalized(t *testing.T) {
	b, rpc, programID := newTestBuilder()
	asset := seedAsset(t, rpc, programID, false)

	_, err := b.BuildFundFractional(context.Background(), asset.AssetPk, ledgertest.Pubkey(0x40), 100_000)
	if !errors.Is(err, ErrNotFractionalized) {
		t.Fatalf("err = %v, want ErrNotFractionalized", err)
	}
	if !errors.Is(err, ledger.ErrPrerequisiteMissing) {
		t.Fatalf("err = %v, must match the prerequisite sentinel", err)
	}
}

func TestBuildFundMissingAsset(t *testing.T) {
	b, _, _ := newTestBuilder()
	_, err := b.BuildFund(context.Background(), ledgertest.Pubkey(0x77), ledgertest.Pubkey(0x40), 100)
	if !errors.Is(err, ledger.ErrAccountNotFound) {
		t.Fatalf("err = %v, want ErrAccountNotFound", err)
	}
}

func TestBuildCreateListingV2CarriesApproval(t *testing.T) {
	b, rpc, programID := newTestBuilder()
	asset := seedAsset(t, rpc, programID, true)

	tx, err := b.BuildCreateListingV2(context.Background(), asset.AssetPk, asset.Seller, 950, 10_000)
	if err != nil {
		t.Fatal(err)
	}
	// ApproveChecked then create_listing_v2.
	if got := instructionCount(t, tx.TxBase64); got != 2 {
		t.Fatalf("instruction count = %d, want 2", got)
	}
	if len(tx.Signers) != 1 || tx.Signers[0] != asset.Seller {
		t.Fatalf("signers = %v, want only the seller", tx.Signers)
	}
}

func TestBuildCancelListingV2CarriesRevoke(t *testing.T) {
	b, rpc, programID := newTestBuilder()
	asset := seedAsset(t, rpc, programID, true)

	tx, err := b.BuildCancelListingV2(context.Background(), asset.AssetPk, asset.Seller)
	if err != nil {
		t.Fatal(err)
	}
	if got := instructionCount(t, tx.TxBase64); got != 2 {
		t.Fatalf("instruction count = %d, want 2", got)
	}
}

func TestBuildFulfillListingCreatesBuyerAccounts(t *testing.T) {
	b, rpc, programID := newTestBuilder()
	asset := seedAsset(t, rpc, programID, true)
	buyer := ledgertest.Pubkey(0x50)

	// Seller already has a funds account; buyer has nothing.
	sellerFunds, err := ledger.DeriveATA(asset.Seller, asset.FundsMint)
	if err != nil {
		t.Fatal(err)
	}
	rpc.SetAccount(sellerFunds, ledgertest.AccountInfo(programID, ledgertest.EncodeTokenAccount(asset.FundsMint, asset.Seller, 0)))

	tx, err := b.BuildFulfillListing(context.Background(), asset.AssetPk, asset.Seller, buyer, 2_500)
	if err != nil {
		t.Fatal(err)
	}
	// Buyer shares ATA create, then fulfill.
	if got := instructionCount(t, tx.TxBase64); got != 2 {
		t.Fatalf("instruction count = %d, want 2", got)
	}
	if tx.Signers[0] != buyer {
		t.Fatalf("fee payer = %s, want buyer", tx.Signers[0])
	}
}

func TestBuildSetSettledIsFullySigned(t *testing.T) {
	b, rpc, programID := newTestBuilder()
	asset := seedAsset(t, rpc, programID, false)

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	relayer := base58.Encode(pub)

	encoded, err := b.BuildSetSettled(context.Background(), asset.AssetPk, priv, relayer)
	if err != nil {
		t.Fatal(err)
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatal(err)
	}
	numSigs, n, err := decodeCompactU16(raw)
	if err != nil {
		t.Fatal(err)
	}
	if numSigs != 1 {
		t.Fatalf("signature count = %d, want 1", numSigs)
	}
	sig := raw[n : n+64]
	msg := raw[n+64:]
	if !ed25519.Verify(pub, msg, sig) {
		t.Fatal("relayer signature does not verify")
	}
}

func TestBuildApproveAndRevokeFunds(t *testing.T) {
	b, rpc, programID := newTestBuilder()
	asset := seedAsset(t, rpc, programID, true)
	owner := ledgertest.Pubkey(0x60)

	rpc.SetAccount(asset.FundsMint, ledgertest.AccountInfo(programID, ledgertest.EncodeMintAccount(0, 6)))

	approve, err := b.BuildApproveFunds(context.Background(), asset.AssetPk, owner, 999)
	if err != nil {
		t.Fatal(err)
	}
	if got := instructionCount(t, approve.TxBase64); got != 1 {
		t.Fatalf("approve instruction count = %d, want 1", got)
	}

	revoke, err := b.BuildRevokeFunds(context.Background(), asset.AssetPk, owner)
	if err != nil {
		t.Fatal(err)
	}
	if len(revoke.Signers) != 1 || revoke.Signers[0] != owner {
		t.Fatalf("revoke signers = %v, want only the owner", revoke.Signers)
	}
}
