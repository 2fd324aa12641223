// Package marketplace is the state machine over the listing ledger: create,
// partial fill and cancel, all signature gated. The store does the one
// critical conditional update; this layer does the authentication and the
// no-over-listing arithmetic.
package marketplace

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"invoice-market/internal/domain"
	"invoice-market/internal/ledger"
	"invoice-market/internal/sigverify"
	"invoice-market/internal/storage"
)

// BalanceSource reports a wallet's current fractional-unit balance for an
// asset. Implemented by the position indexer; balances always come from the
// ledger, never from the caller.
type BalanceSource interface {
	WalletBalance(ctx context.Context, assetPk, wallet string) (uint64, error)
}

// Service drives the listing lifecycle.
type Service struct {
	listings storage.ListingStore
	verifier *sigverify.Verifier
	balances BalanceSource
	gw       *ledger.Gateway
	logger   *log.Logger

	now func() int64 // unix ms
}

// New creates a Service. gw may be nil when chain reconciliation is not
// wired (pure off-chain mode).
func New(listings storage.ListingStore, verifier *sigverify.Verifier, balances BalanceSource, gw *ledger.Gateway) *Service {
	return &Service{
		listings: listings,
		verifier: verifier,
		balances: balances,
		gw:       gw,
		logger:   log.New(log.Writer(), "[marketplace] ", log.LstdFlags),
		now:      func() int64 { return time.Now().UnixMilli() },
	}
}

// CreateParams carries a signed listing creation intent.
type CreateParams struct {
	AssetPk   string
	Seller    string
	Price     uint64
	Qty       uint64
	Ts        int64
	Signature string
	Protocol  domain.ListingProtocol
}

// Create verifies the seller's signature and the no-over-listing policy,
// then inserts the listing. Available quantity is the seller's live ledger
// balance minus what their other open listings already reserve; the
// reservation is computed at call time, never persisted.
func (s *Service) Create(ctx context.Context, p CreateParams) (*domain.Listing, error) {
	if p.Price == 0 || p.Qty == 0 {
		return nil, fmt.Errorf("%w: price and qty must be positive", storage.ErrInvalidInput)
	}
	protocol := p.Protocol
	if protocol == "" {
		protocol = domain.ProtocolV1
	}
	if protocol != domain.ProtocolV1 && protocol != domain.ProtocolV2 {
		return nil, fmt.Errorf("%w: unknown protocol %q", storage.ErrInvalidInput, p.Protocol)
	}

	msg := sigverify.CreateMessage(p.AssetPk, p.Seller, p.Price, p.Qty, p.Ts)
	if err := s.verifier.Verify(msg, p.Seller, p.Signature); err != nil {
		return nil, err
	}
	if err := s.verifier.CheckTimestamp(p.Ts); err != nil {
		return nil, err
	}

	available, err := s.availableToList(ctx, p.AssetPk, p.Seller)
	if err != nil {
		return nil, err
	}
	if p.Qty > available {
		return nil, &InsufficientBalanceError{Requested: p.Qty, Available: available}
	}

	now := s.now()
	l := &domain.Listing{
		AssetPk:      p.AssetPk,
		Seller:       p.Seller,
		Price:        p.Price,
		Qty:          p.Qty,
		RemainingQty: p.Qty,
		Status:       domain.ListingStatusOpen,
		Protocol:     protocol,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if p.Signature != "" {
		sig := p.Signature
		l.Signature = &sig
	}
	if err := s.listings.Insert(ctx, l); err != nil {
		return nil, err
	}
	s.logger.Printf("listing %d created asset=%s seller=%s qty=%d price=%d protocol=%s",
		l.ID, l.AssetPk, l.Seller, l.Qty, l.Price, protocol)
	return l, nil
}

// availableToList is balance minus what the seller's open listings for the
// asset already reserve.
func (s *Service) availableToList(ctx context.Context, assetPk, seller string) (uint64, error) {
	balance, err := s.balances.WalletBalance(ctx, assetPk, seller)
	if err != nil {
		return 0, fmt.Errorf("fetch balance: %w", err)
	}

	open := domain.ListingStatusOpen
	existing, err := s.listings.List(ctx, storage.ListingFilter{
		AssetPk: &assetPk,
		Seller:  &seller,
		Status:  &open,
	})
	if err != nil {
		return 0, err
	}

	var reserved uint64
	for _, l := range existing {
		reserved += l.RemainingQty
	}
	if reserved >= balance {
		return 0, nil
	}
	return balance - reserved, nil
}

// FillParams carries a signed partial-fill intent.
type FillParams struct {
	ListingID int64
	Buyer     string
	Qty       uint64
	Ts        int64
	Signature string
}

// Fill verifies the buyer's signature and applies the conditional decrement
// at the store. Listings with an on-chain account reject off-chain fills;
// their remaining quantity only moves through chain reconciliation.
func (s *Service) Fill(ctx context.Context, p FillParams) (*domain.Listing, error) {
	if p.Qty == 0 {
		return nil, fmt.Errorf("%w: qty must be positive", storage.ErrInvalidInput)
	}

	msg := sigverify.FillMessage(p.ListingID, p.Buyer, p.Qty, p.Ts)
	if err := s.verifier.Verify(msg, p.Buyer, p.Signature); err != nil {
		return nil, err
	}
	if err := s.verifier.CheckTimestamp(p.Ts); err != nil {
		return nil, err
	}

	l, err := s.listings.GetByID(ctx, p.ListingID)
	if err != nil {
		return nil, err
	}
	if l.OnchainInitialized {
		return nil, ErrOnchainManaged
	}

	filled, err := s.listings.Fill(ctx, p.ListingID, p.Qty)
	if err != nil {
		return nil, err
	}
	s.logger.Printf("listing %d filled qty=%d remaining=%d by=%s", filled.ID, p.Qty, filled.RemainingQty, p.Buyer)
	return filled, nil
}

// CancelParams carries a signed cancel intent.
type CancelParams struct {
	ListingID int64
	Seller    string
	Ts        int64
	Signature string
}

// Cancel verifies the seller's signature and identity, then marks the
// listing Canceled. Remaining quantity is left as-is for audit.
func (s *Service) Cancel(ctx context.Context, p CancelParams) (*domain.Listing, error) {
	msg := sigverify.CancelMessage(p.ListingID, p.Seller, p.Ts)
	if err := s.verifier.Verify(msg, p.Seller, p.Signature); err != nil {
		return nil, err
	}
	if err := s.verifier.CheckTimestamp(p.Ts); err != nil {
		return nil, err
	}

	l, err := s.listings.GetByID(ctx, p.ListingID)
	if err != nil {
		return nil, err
	}
	if l.Seller != p.Seller {
		return nil, ErrSellerMismatch
	}

	canceled, err := s.listings.Cancel(ctx, p.ListingID)
	if err != nil {
		return nil, err
	}
	s.logger.Printf("listing %d canceled remaining=%d", canceled.ID, canceled.RemainingQty)
	return canceled, nil
}

// Get retrieves one listing.
func (s *Service) Get(ctx context.Context, id int64) (*domain.Listing, error) {
	return s.listings.GetByID(ctx, id)
}

// List retrieves listings by filter, newest first.
func (s *Service) List(ctx context.Context, f storage.ListingFilter) ([]*domain.Listing, error) {
	return s.listings.List(ctx, f)
}

// SyncFromChain reconciles a listing row against its on-chain account. Once
// the account exists, chain remaining quantity wins over local bookkeeping.
func (s *Service) SyncFromChain(ctx context.Context, id int64) (*domain.Listing, error) {
	if s.gw == nil {
		return nil, fmt.Errorf("chain reconciliation is not configured")
	}

	l, err := s.listings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	addr, _, err := ledger.ListingAddress(s.gw.ProgramID(), l.AssetPk, l.Seller)
	if err != nil {
		return nil, err
	}
	state, err := s.gw.GetListingState(ctx, addr)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		// Never initialized, or already closed on chain. Local state stands.
		return l, nil
	}
	if err != nil {
		return nil, err
	}

	if !l.OnchainInitialized {
		if err := s.listings.MarkInitialized(ctx, id); err != nil {
			return nil, err
		}
	}
	synced, err := s.listings.SyncRemaining(ctx, id, state.RemainingQty)
	if err != nil {
		return nil, err
	}
	s.logger.Printf("listing %d synced from chain remaining=%d", id, state.RemainingQty)
	return synced, nil
}
