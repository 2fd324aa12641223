package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"invoice-market/internal/domain"
)

// assetJSON is the wire shape of an asset echo record.
type assetJSON struct {
	AssetPk         string  `json:"assetId"`
	Seller          string  `json:"seller"`
	Investor        *string `json:"investor"`
	FundsMint       string  `json:"fundsMint"`
	Amount          uint64  `json:"amount"`
	FundedAmount    uint64  `json:"fundedAmount"`
	Status          string  `json:"status"`
	MetadataHash    string  `json:"metadataHash"`
	DueDate         int64   `json:"dueDate"`
	EscrowAuthority string  `json:"escrowAuthority"`
	EscrowToken     string  `json:"escrowToken"`
	SharesMint      *string `json:"sharesMint"`
	UpdatedAt       int64   `json:"updatedAt"`
}

func toAssetJSON(a *domain.AssetRecord) assetJSON {
	return assetJSON{
		AssetPk:         a.AssetPk,
		Seller:          a.Seller,
		Investor:        a.Investor,
		FundsMint:       a.FundsMint,
		Amount:          a.Amount,
		FundedAmount:    a.FundedAmount,
		Status:          string(a.Status),
		MetadataHash:    a.MetadataHash,
		DueDate:         a.DueDate,
		EscrowAuthority: a.EscrowAuthority,
		EscrowToken:     a.EscrowToken,
		SharesMint:      a.SharesMint,
		UpdatedAt:       a.UpdatedAt,
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	var status *domain.AssetStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		st := domain.AssetStatus(raw)
		if !st.Valid() {
			writeError(w, http.StatusBadRequest, "unknown status "+raw)
			return
		}
		status = &st
	}
	var wallet *string
	if raw := r.URL.Query().Get("wallet"); raw != "" {
		wallet = &raw
	}

	assets, err := s.assets.List(r.Context(), status, wallet, queryInt(r, "limit", 100), queryInt(r, "offset", 0))
	if err != nil {
		writeMappedError(w, err)
		return
	}
	out := make([]assetJSON, 0, len(assets))
	for _, a := range assets {
		out = append(out, toAssetJSON(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "assets": out})
}

// handleGetAsset serves the echo record when present and falls back to a
// live ledger read for assets the indexer has not picked up yet.
func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	assetPk := chi.URLParam(r, "assetPk")

	a, err := s.assets.GetByPk(r.Context(), assetPk)
	if err != nil {
		if _, refreshErr := s.indexer.Refresh(r.Context(), assetPk); refreshErr != nil {
			writeMappedError(w, refreshErr)
			return
		}
		if a, err = s.assets.GetByPk(r.Context(), assetPk); err != nil {
			writeMappedError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "asset": toAssetJSON(a)})
}

func (s *Server) handleAssetPositions(w http.ResponseWriter, r *http.Request) {
	assetPk := chi.URLParam(r, "assetPk")

	snap, err := s.indexer.Positions(r.Context(), assetPk)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"assetId":   assetPk,
		"positions": snap.Positions,
		"updatedAt": snap.UpdatedAt,
	})
}

func (s *Server) handlePositionsHistory(w http.ResponseWriter, r *http.Request) {
	assetPk := chi.URLParam(r, "assetPk")

	diffs, err := s.indexer.History(r.Context(), assetPk, queryInt(r, "limit", 100))
	if err != nil {
		writeMappedError(w, err)
		return
	}
	type diffJSON struct {
		Wallet    string `json:"wallet"`
		Delta     int64  `json:"delta"`
		NewAmount uint64 `json:"newAmount"`
		Ts        int64  `json:"ts"`
	}
	out := make([]diffJSON, 0, len(diffs))
	for _, d := range diffs {
		out = append(out, diffJSON{Wallet: d.Wallet, Delta: d.Delta, NewAmount: d.NewAmount, Ts: d.Ts})
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "assetId": assetPk, "history": out})
}

func (s *Server) handleAssetTxLogs(w http.ResponseWriter, r *http.Request) {
	assetPk := chi.URLParam(r, "assetPk")

	logs, err := s.txlogs.ListByAsset(r.Context(), assetPk, queryInt(r, "limit", 100))
	if err != nil {
		writeMappedError(w, err)
		return
	}
	type logJSON struct {
		Sig       string  `json:"sig"`
		Kind      string  `json:"kind"`
		Success   bool    `json:"success"`
		Error     *string `json:"error,omitempty"`
		CreatedAt int64   `json:"createdAt"`
	}
	out := make([]logJSON, 0, len(logs))
	for _, l := range logs {
		out = append(out, logJSON{Sig: l.Sig, Kind: l.Kind, Success: l.Success, Error: l.Error, CreatedAt: l.CreatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "assetId": assetPk, "txLogs": out})
}
