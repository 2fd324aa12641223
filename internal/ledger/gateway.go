package ledger

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"sort"

	"invoice-market/internal/domain"
	"invoice-market/internal/solana"
)

// Gateway is the read/submit surface over the external ledger. The ledger is
// canonical for asset state and share ownership; everything this process
// stores locally is derived from what the gateway reads here.
type Gateway struct {
	rpc       solana.RPCClient
	programID string
	logger    *log.Logger
}

// NewGateway creates a Gateway bound to the marketplace program.
func NewGateway(rpc solana.RPCClient, programID string) *Gateway {
	return &Gateway{
		rpc:       rpc,
		programID: programID,
		logger:    log.New(log.Writer(), "[ledger] ", log.LstdFlags),
	}
}

// ProgramID returns the marketplace program address.
func (g *Gateway) ProgramID() string {
	return g.programID
}

// GetAssetRecord reads and decodes the asset account, filling in the
// derived escrow addresses.
func (g *Gateway) GetAssetRecord(ctx context.Context, assetPk string) (*domain.AssetRecord, error) {
	info, err := g.rpc.GetAccountInfo(ctx, assetPk)
	if err != nil {
		return nil, fmt.Errorf("get asset account %s: %w", assetPk, err)
	}
	if info == nil {
		return nil, fmt.Errorf("asset %s: %w", assetPk, ErrAccountNotFound)
	}

	raw, err := base64.StdEncoding.DecodeString(info.Data)
	if err != nil {
		return nil, fmt.Errorf("decode asset account data: %w", err)
	}

	a, err := DecodeAssetAccount(raw)
	if err != nil {
		return nil, fmt.Errorf("asset %s: %w", assetPk, err)
	}
	a.AssetPk = assetPk

	escrowAuth, _, err := EscrowAuthority(g.programID, assetPk)
	if err != nil {
		return nil, fmt.Errorf("derive escrow authority: %w", err)
	}
	a.EscrowAuthority = escrowAuth

	if a.FundsMint != "" {
		escrowToken, err := DeriveATA(escrowAuth, a.FundsMint)
		if err != nil {
			return nil, fmt.Errorf("derive escrow token: %w", err)
		}
		a.EscrowToken = escrowToken
	}

	return a, nil
}

// GetListingState reads and decodes an on-chain listing account.
// Returns ErrAccountNotFound if the listing was never initialized on chain.
func (g *Gateway) GetListingState(ctx context.Context, listingAddr string) (*ListingState, error) {
	info, err := g.rpc.GetAccountInfo(ctx, listingAddr)
	if err != nil {
		return nil, fmt.Errorf("get listing account %s: %w", listingAddr, err)
	}
	if info == nil {
		return nil, fmt.Errorf("listing %s: %w", listingAddr, ErrAccountNotFound)
	}

	raw, err := base64.StdEncoding.DecodeString(info.Data)
	if err != nil {
		return nil, fmt.Errorf("decode listing account data: %w", err)
	}

	return DecodeListingAccount(raw)
}

// GetTokenBalances reconstructs per-wallet ownership of a mint by scanning
// all of its token accounts. Multiple accounts per owner are summed; zero
// balances are dropped. Results sort by wallet for deterministic diffing.
func (g *Gateway) GetTokenBalances(ctx context.Context, mint string) ([]domain.Position, error) {
	accounts, err := g.rpc.GetTokenAccountsByMint(ctx, mint)
	if err != nil {
		return nil, fmt.Errorf("scan token accounts for %s: %w", mint, err)
	}

	byOwner := make(map[string]uint64)
	for _, ta := range accounts {
		byOwner[ta.Owner] += ta.Amount
	}

	positions := make([]domain.Position, 0, len(byOwner))
	for wallet, amount := range byOwner {
		if amount == 0 {
			continue
		}
		positions = append(positions, domain.Position{Wallet: wallet, Amount: amount})
	}
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].Wallet < positions[j].Wallet
	})

	return positions, nil
}

// GetMintInfo reads and decodes an SPL mint account.
func (g *Gateway) GetMintInfo(ctx context.Context, mint string) (*MintInfo, error) {
	info, err := g.rpc.GetAccountInfo(ctx, mint)
	if err != nil {
		return nil, fmt.Errorf("get mint account %s: %w", mint, err)
	}
	if info == nil {
		return nil, fmt.Errorf("mint %s: %w", mint, ErrAccountNotFound)
	}

	raw, err := base64.StdEncoding.DecodeString(info.Data)
	if err != nil {
		return nil, fmt.Errorf("decode mint account data: %w", err)
	}

	return DecodeMintAccount(raw)
}

// AccountExists reports whether the account has been initialized.
func (g *Gateway) AccountExists(ctx context.Context, pubkey string) (bool, error) {
	info, err := g.rpc.GetAccountInfo(ctx, pubkey)
	if err != nil {
		return false, fmt.Errorf("get account %s: %w", pubkey, err)
	}
	return info != nil, nil
}

// LatestBlockhash fetches a fresh blockhash. Deliberately uncached: every
// transaction build pays one RPC round trip so it never carries an expired
// blockhash.
func (g *Gateway) LatestBlockhash(ctx context.Context) (*solana.Blockhash, error) {
	return g.rpc.GetLatestBlockhash(ctx)
}

// SubmitTransaction sends a base64-encoded signed transaction.
func (g *Gateway) SubmitTransaction(ctx context.Context, txBase64 string) (string, error) {
	sig, err := g.rpc.SendTransaction(ctx, txBase64)
	if err != nil {
		return "", fmt.Errorf("submit transaction: %w", err)
	}
	g.logger.Printf("submitted transaction sig=%s", sig)
	return sig, nil
}

// RecentSignatures lists recent transaction signatures touching an address.
func (g *Gateway) RecentSignatures(ctx context.Context, address string, limit int) ([]solana.SignatureInfo, error) {
	var opts *solana.SignaturesOpts
	if limit > 0 {
		opts = &solana.SignaturesOpts{Limit: limit}
	}
	return g.rpc.GetSignaturesForAddress(ctx, address, opts)
}
