package domain

// WebhookEvent tracks one payment-webhook delivery for idempotency.
// IdemKey is unique at the storage layer; that constraint, not the in-memory
// check, is what prevents double execution under concurrent duplicates.
type WebhookEvent struct {
	ID          int64
	IdemKey     string
	Ts          int64 // caller-supplied timestamp from the signed header (ms)
	Sig         string
	PayloadHash string // sha256 hex of the raw body
	CreatedAt   int64  // unix ms
	ProcessedAt *int64 // nil until settlement succeeded
	SettleSig   *string
}

// Processed reports whether settlement side effects already ran for this key.
func (e *WebhookEvent) Processed() bool { return e.ProcessedAt != nil }

// TxLog is a best-effort audit record of a ledger transaction submitted by
// the server (settlements and relayer-signed operations).
type TxLog struct {
	ID        int64
	Sig       string
	Kind      string // e.g. "set_settled"
	AssetPk   string
	Success   bool
	Error     *string
	CreatedAt int64 // unix ms
}
