package httpapi

import (
	"io"
	"net/http"
	"strconv"

	"invoice-market/internal/settlement"
)

const (
	hmacSignatureHeader = "X-Hmac-Signature"
	hmacTimestampHeader = "X-Hmac-Timestamp"
	idempotencyHeader   = "X-Idempotency-Key"

	maxWebhookBody = 1 << 20
)

// handlePaymentWebhook receives payment-provider deliveries. The raw body
// is read before any parsing because the HMAC covers the exact bytes.
func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return
	}

	ts, err := strconv.ParseInt(r.Header.Get(hmacTimestampHeader), 10, 64)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing or invalid "+hmacTimestampHeader)
		return
	}

	res, err := s.webhook.Handle(r.Context(), settlement.Delivery{
		IdemKey:   r.Header.Get(idempotencyHeader),
		Ts:        ts,
		Signature: r.Header.Get(hmacSignatureHeader),
		Body:      body,
	})
	if err != nil {
		writeMappedError(w, err)
		return
	}

	resp := map[string]any{"ok": true}
	if res.Idempotent {
		resp["idempotent"] = true
	}
	if res.SettleSig != "" {
		resp["sig"] = res.SettleSig
	}
	writeJSON(w, http.StatusOK, resp)
}
