package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"invoice-market/internal/ledger"
	"invoice-market/internal/marketplace"
	"invoice-market/internal/settlement"
	"invoice-market/internal/sigverify"
	"invoice-market/internal/storage"
)

// errorResponse is the uniform failure payload.
type errorResponse struct {
	Ok    bool   `json:"ok"`
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Ok: false, Error: message})
}

// statusFor maps an error to its HTTP status. Unknown errors are treated as
// upstream failures: every non-sentinel path in the core ends at the ledger
// or the database.
func statusFor(err error) int {
	switch {
	case errors.Is(err, sigverify.ErrBadSignature),
		errors.Is(err, sigverify.ErrBadWallet),
		errors.Is(err, sigverify.ErrStaleTimestamp),
		errors.Is(err, settlement.ErrBadSignature),
		errors.Is(err, settlement.ErrStaleTimestamp),
		errors.Is(err, marketplace.ErrSellerMismatch):
		return http.StatusUnauthorized
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, ledger.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, settlement.ErrInFlight):
		return http.StatusConflict
	case errors.Is(err, storage.ErrConflict),
		errors.Is(err, marketplace.ErrOnchainManaged),
		errors.Is(err, storage.ErrInvalidInput),
		errors.Is(err, storage.ErrDuplicateKey),
		errors.Is(err, settlement.ErrMalformedPayload),
		errors.Is(err, ledger.ErrPrerequisiteMissing),
		errors.Is(err, ledger.ErrBadAccountData),
		isInsufficientBalance(err):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func isInsufficientBalance(err error) bool {
	var ib *marketplace.InsufficientBalanceError
	return errors.As(err, &ib)
}

func writeMappedError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}
