package httpapi

import (
	"encoding/json"
	"net/http"

	"invoice-market/internal/domain"
	"invoice-market/internal/observability"
	"invoice-market/internal/txbuilder"
)

// loadListing resolves the {id} route param into a listing row.
func (s *Server) loadListing(w http.ResponseWriter, r *http.Request) (*domain.Listing, bool) {
	id, err := listingID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid listing id")
		return nil, false
	}
	l, err := s.market.Get(r.Context(), id)
	if err != nil {
		writeMappedError(w, err)
		return nil, false
	}
	return l, true
}

func (s *Server) writeBuilt(w http.ResponseWriter, op string, tx *txbuilder.UnsignedTx, err error) {
	if err != nil {
		writeMappedError(w, err)
		return
	}
	observability.RecordTransactionBuilt(op)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "transaction": tx})
}

// qtyRequest is the body of builder routes that take an amount.
type qtyRequest struct {
	Qty uint64 `json:"qty"`
}

func decodeQty(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	var req qtyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Qty == 0 {
		writeError(w, http.StatusBadRequest, "qty must be a positive integer")
		return 0, false
	}
	return req.Qty, true
}

// wallet requires the X-Wallet header.
func wallet(w http.ResponseWriter, r *http.Request) (string, bool) {
	addr := r.Header.Get(walletHeader)
	if addr == "" {
		writeError(w, http.StatusUnauthorized, "missing X-Wallet header")
		return "", false
	}
	return addr, true
}

func (s *Server) handleBuildCreate(w http.ResponseWriter, r *http.Request) {
	l, ok := s.loadListing(w, r)
	if !ok {
		return
	}
	tx, err := s.builder.BuildCreateListing(r.Context(), l.AssetPk, l.Seller, l.Price, l.RemainingQty)
	s.writeBuilt(w, "create_listing", tx, err)
}

func (s *Server) handleBuildFulfill(w http.ResponseWriter, r *http.Request) {
	l, ok := s.loadListing(w, r)
	if !ok {
		return
	}
	qty, ok := decodeQty(w, r)
	if !ok {
		return
	}
	buyer, ok := wallet(w, r)
	if !ok {
		return
	}
	tx, err := s.builder.BuildFulfillListing(r.Context(), l.AssetPk, l.Seller, buyer, qty)
	s.writeBuilt(w, "fulfill_listing", tx, err)
}

func (s *Server) handleBuildCancel(w http.ResponseWriter, r *http.Request) {
	l, ok := s.loadListing(w, r)
	if !ok {
		return
	}
	tx, err := s.builder.BuildCancelListing(r.Context(), l.AssetPk, l.Seller)
	s.writeBuilt(w, "cancel_listing", tx, err)
}

func (s *Server) handleBuildCreateV2(w http.ResponseWriter, r *http.Request) {
	l, ok := s.loadListing(w, r)
	if !ok {
		return
	}
	tx, err := s.builder.BuildCreateListingV2(r.Context(), l.AssetPk, l.Seller, l.Price, l.RemainingQty)
	s.writeBuilt(w, "create_listing_v2", tx, err)
}

func (s *Server) handleBuildFulfillV2(w http.ResponseWriter, r *http.Request) {
	l, ok := s.loadListing(w, r)
	if !ok {
		return
	}
	qty, ok := decodeQty(w, r)
	if !ok {
		return
	}
	buyer, ok := wallet(w, r)
	if !ok {
		return
	}
	tx, err := s.builder.BuildFulfillListingV2(r.Context(), l.AssetPk, l.Seller, buyer, qty)
	s.writeBuilt(w, "fulfill_listing_v2", tx, err)
}

func (s *Server) handleBuildCancelV2(w http.ResponseWriter, r *http.Request) {
	l, ok := s.loadListing(w, r)
	if !ok {
		return
	}
	tx, err := s.builder.BuildCancelListingV2(r.Context(), l.AssetPk, l.Seller)
	s.writeBuilt(w, "cancel_listing_v2", tx, err)
}

func (s *Server) handleBuildApproveShares(w http.ResponseWriter, r *http.Request) {
	l, ok := s.loadListing(w, r)
	if !ok {
		return
	}
	qty, ok := decodeQty(w, r)
	if !ok {
		return
	}
	owner, ok := wallet(w, r)
	if !ok {
		return
	}
	tx, err := s.builder.BuildApproveShares(r.Context(), l.AssetPk, owner, qty)
	s.writeBuilt(w, "approve_shares", tx, err)
}

func (s *Server) handleBuildApproveFunds(w http.ResponseWriter, r *http.Request) {
	l, ok := s.loadListing(w, r)
	if !ok {
		return
	}
	qty, ok := decodeQty(w, r)
	if !ok {
		return
	}
	owner, ok := wallet(w, r)
	if !ok {
		return
	}
	tx, err := s.builder.BuildApproveFunds(r.Context(), l.AssetPk, owner, qty)
	s.writeBuilt(w, "approve_funds", tx, err)
}

func (s *Server) handleBuildRevokeShares(w http.ResponseWriter, r *http.Request) {
	l, ok := s.loadListing(w, r)
	if !ok {
		return
	}
	owner, ok := wallet(w, r)
	if !ok {
		return
	}
	tx, err := s.builder.BuildRevokeShares(r.Context(), l.AssetPk, owner)
	s.writeBuilt(w, "revoke_shares", tx, err)
}

func (s *Server) handleBuildRevokeFunds(w http.ResponseWriter, r *http.Request) {
	l, ok := s.loadListing(w, r)
	if !ok {
		return
	}
	owner, ok := wallet(w, r)
	if !ok {
		return
	}
	tx, err := s.builder.BuildRevokeFunds(r.Context(), l.AssetPk, owner)
	s.writeBuilt(w, "revoke_funds", tx, err)
}
