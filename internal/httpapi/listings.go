package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"invoice-market/internal/domain"
	"invoice-market/internal/marketplace"
	"invoice-market/internal/observability"
	"invoice-market/internal/storage"
)

// listingJSON is the wire shape of a listing.
type listingJSON struct {
	ID                 int64  `json:"id"`
	AssetPk            string `json:"assetId"`
	Seller             string `json:"seller"`
	Price              uint64 `json:"price"`
	Qty                uint64 `json:"qty"`
	RemainingQty       uint64 `json:"remainingQty"`
	Status             string `json:"status"`
	Protocol           string `json:"protocol"`
	OnchainInitialized bool   `json:"onchainInitialized"`
	CreatedAt          int64  `json:"createdAt"`
	UpdatedAt          int64  `json:"updatedAt"`
}

func toListingJSON(l *domain.Listing) listingJSON {
	return listingJSON{
		ID:                 l.ID,
		AssetPk:            l.AssetPk,
		Seller:             l.Seller,
		Price:              l.Price,
		Qty:                l.Qty,
		RemainingQty:       l.RemainingQty,
		Status:             string(l.Status),
		Protocol:           string(l.Protocol),
		OnchainInitialized: l.OnchainInitialized,
		CreatedAt:          l.CreatedAt,
		UpdatedAt:          l.UpdatedAt,
	}
}

func toListingsJSON(ls []*domain.Listing) []listingJSON {
	out := make([]listingJSON, 0, len(ls))
	for _, l := range ls {
		out = append(out, toListingJSON(l))
	}
	return out
}

func listingID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

type createListingRequest struct {
	AssetID   string `json:"assetId"`
	Price     uint64 `json:"price"`
	Qty       uint64 `json:"qty"`
	Ts        int64  `json:"ts"`
	Signature string `json:"signature"`
	Protocol  string `json:"protocol"`
}

func (s *Server) handleCreateListing(w http.ResponseWriter, r *http.Request) {
	var req createListingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	seller := r.Header.Get(walletHeader)
	if seller == "" {
		writeError(w, http.StatusUnauthorized, "missing X-Wallet header")
		return
	}

	l, err := s.market.Create(r.Context(), marketplace.CreateParams{
		AssetPk:   req.AssetID,
		Seller:    seller,
		Price:     req.Price,
		Qty:       req.Qty,
		Ts:        req.Ts,
		Signature: req.Signature,
		Protocol:  domain.ListingProtocol(req.Protocol),
	})
	if err != nil {
		writeMappedError(w, err)
		return
	}
	observability.RecordListingCreated()
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "listing": toListingJSON(l)})
}

func (s *Server) handleListListings(w http.ResponseWriter, r *http.Request) {
	f := storage.ListingFilter{}
	if seller := r.URL.Query().Get("seller"); seller != "" {
		f.Seller = &seller
	}
	if status := r.URL.Query().Get("status"); status != "" {
		st := domain.ListingStatus(status)
		f.Status = &st
	}
	ls, err := s.market.List(r.Context(), f)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "listings": toListingsJSON(ls)})
}

func (s *Server) handleOpenListings(w http.ResponseWriter, r *http.Request) {
	open := domain.ListingStatusOpen
	ls, err := s.market.List(r.Context(), storage.ListingFilter{Status: &open})
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "listings": toListingsJSON(ls)})
}

func (s *Server) handleGetListing(w http.ResponseWriter, r *http.Request) {
	id, err := listingID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid listing id")
		return
	}
	l, err := s.market.Get(r.Context(), id)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "listing": toListingJSON(l)})
}

func (s *Server) handleAssetListings(w http.ResponseWriter, r *http.Request) {
	assetPk := chi.URLParam(r, "assetPk")
	ls, err := s.market.List(r.Context(), storage.ListingFilter{AssetPk: &assetPk})
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "listings": toListingsJSON(ls)})
}

type fillListingRequest struct {
	Qty       uint64 `json:"qty"`
	Ts        int64  `json:"ts"`
	Signature string `json:"signature"`
}

func (s *Server) handleFillListing(w http.ResponseWriter, r *http.Request) {
	id, err := listingID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid listing id")
		return
	}
	var req fillListingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	buyer := r.Header.Get(walletHeader)
	if buyer == "" {
		writeError(w, http.StatusUnauthorized, "missing X-Wallet header")
		return
	}

	l, err := s.market.Fill(r.Context(), marketplace.FillParams{
		ListingID: id,
		Buyer:     buyer,
		Qty:       req.Qty,
		Ts:        req.Ts,
		Signature: req.Signature,
	})
	if err != nil {
		if statusFor(err) == http.StatusBadRequest {
			observability.RecordFill("conflict")
		}
		writeMappedError(w, err)
		return
	}
	observability.RecordFill("ok")
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "listing": toListingJSON(l)})
}

// handleSyncListing reconciles a listing row against its on-chain account.
// Clients call it after landing a create/fulfill/cancel transaction; once
// the account exists, chain remaining quantity overrides the local row.
func (s *Server) handleSyncListing(w http.ResponseWriter, r *http.Request) {
	id, err := listingID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid listing id")
		return
	}
	l, err := s.market.SyncFromChain(r.Context(), id)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "listing": toListingJSON(l)})
}

type cancelListingRequest struct {
	Ts        int64  `json:"ts"`
	Signature string `json:"signature"`
}

func (s *Server) handleCancelListing(w http.ResponseWriter, r *http.Request) {
	id, err := listingID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid listing id")
		return
	}
	var req cancelListingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	seller := r.Header.Get(walletHeader)
	if seller == "" {
		writeError(w, http.StatusUnauthorized, "missing X-Wallet header")
		return
	}

	l, err := s.market.Cancel(r.Context(), marketplace.CancelParams{
		ListingID: id,
		Seller:    seller,
		Ts:        req.Ts,
		Signature: req.Signature,
	})
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "listing": toListingJSON(l)})
}
