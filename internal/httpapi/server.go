// Package httpapi exposes the marketplace over REST. Handlers are thin:
// decode, delegate, map errors. Wallet identity rides in the X-Wallet
// header; payload-level authentication is the signature verifier's job.
package httpapi

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"invoice-market/internal/marketplace"
	"invoice-market/internal/observability"
	"invoice-market/internal/positions"
	"invoice-market/internal/settlement"
	"invoice-market/internal/storage"
	"invoice-market/internal/txbuilder"
)

const walletHeader = "X-Wallet"

// Server wires the core services into HTTP handlers.
type Server struct {
	market  *marketplace.Service
	indexer *positions.Indexer
	builder *txbuilder.Builder
	webhook *settlement.Gateway
	assets  storage.AssetStore
	txlogs  storage.TxLogStore
	logger  *log.Logger
}

func NewServer(market *marketplace.Service, indexer *positions.Indexer, builder *txbuilder.Builder, webhook *settlement.Gateway, assets storage.AssetStore, txlogs storage.TxLogStore) *Server {
	return &Server{
		market:  market,
		indexer: indexer,
		builder: builder,
		webhook: webhook,
		assets:  assets,
		txlogs:  txlogs,
		logger:  log.New(log.Writer(), "[http] ", log.LstdFlags),
	}
}

// requestID tags every request with a UUID echoed in X-Request-Id.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "service": "invoice-market"})
	})
	r.Handle("/metrics", observability.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/listings", func(r chi.Router) {
			r.Post("/", s.handleCreateListing)
			r.Get("/", s.handleListListings)
			r.Get("/open", s.handleOpenListings)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetListing)
				r.Post("/fill", s.handleFillListing)
				r.Post("/cancel", s.handleCancelListing)
				r.Post("/sync", s.handleSyncListing)

				r.Post("/build-create-tx", s.handleBuildCreate)
				r.Post("/build-fulfill-tx", s.handleBuildFulfill)
				r.Post("/build-cancel-tx", s.handleBuildCancel)
				r.Post("/build-create-v2-tx", s.handleBuildCreateV2)
				r.Post("/build-fulfill-v2", s.handleBuildFulfillV2)
				r.Post("/build-cancel-v2-tx", s.handleBuildCancelV2)
				r.Post("/build-approve-shares", s.handleBuildApproveShares)
				r.Post("/build-approve-usdc", s.handleBuildApproveFunds)
				r.Post("/build-revoke-shares", s.handleBuildRevokeShares)
				r.Post("/build-revoke-usdc", s.handleBuildRevokeFunds)
			})
		})

		r.Get("/assets", s.handleListAssets)
		r.Route("/asset/{assetPk}", func(r chi.Router) {
			r.Get("/", s.handleGetAsset)
			r.Get("/listings", s.handleAssetListings)
			r.Get("/positions", s.handleAssetPositions)
			r.Get("/positions/history", s.handlePositionsHistory)
			r.Get("/txlogs", s.handleAssetTxLogs)
		})
	})

	r.Post("/webhook/payment", s.handlePaymentWebhook)

	return r
}
