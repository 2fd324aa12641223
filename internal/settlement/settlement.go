// Package settlement is the payment-webhook gateway: HMAC-authenticated,
// idempotency-keyed deliveries that trigger the final on-chain fund
// release. The caller's amount is advisory only; settlement always acts on
// the funded amount read fresh from the ledger.
package settlement

import (
	"context"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"invoice-market/internal/domain"
	"invoice-market/internal/ledger"
	"invoice-market/internal/observability"
	"invoice-market/internal/storage"
	"invoice-market/internal/txbuilder"
)

// DefaultTolerance bounds the accepted clock drift of the signed timestamp.
const DefaultTolerance = 300 * time.Second

var (
	// ErrBadSignature is returned when the HMAC does not match.
	ErrBadSignature = errors.New("settlement: invalid webhook signature")
	// ErrStaleTimestamp is returned when the signed timestamp is outside
	// the tolerance window.
	ErrStaleTimestamp = errors.New("settlement: timestamp outside tolerance")
	// ErrMalformedPayload is returned when the body is not valid JSON or
	// names no asset.
	ErrMalformedPayload = errors.New("settlement: malformed payload")
	// ErrInFlight is returned when a duplicate delivery arrives while the
	// key's original delivery is still settling. The sender should retry
	// after the original resolves.
	ErrInFlight = errors.New("settlement: delivery for this key is in flight")
)

// Config configures the gateway.
type Config struct {
	// Secret is the shared HMAC secret.
	Secret string
	// Tolerance bounds |now - ts|. Zero means DefaultTolerance.
	Tolerance time.Duration
	// RelayerKey signs the set_settled transaction server side.
	RelayerKey ed25519.PrivateKey
	// RelayerPubkey is the relayer wallet address (base58).
	RelayerPubkey string
}

// Gateway processes payment webhook deliveries.
type Gateway struct {
	cfg     Config
	gw      *ledger.Gateway
	builder *txbuilder.Builder
	events  storage.WebhookEventStore
	txlogs  storage.TxLogStore
	logger  *log.Logger

	now func() int64 // unix ms
}

func New(cfg Config, gw *ledger.Gateway, builder *txbuilder.Builder, events storage.WebhookEventStore, txlogs storage.TxLogStore) *Gateway {
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = DefaultTolerance
	}
	return &Gateway{
		cfg:     cfg,
		gw:      gw,
		builder: builder,
		events:  events,
		txlogs:  txlogs,
		logger:  log.New(log.Writer(), "[settlement] ", log.LstdFlags),
		now:     func() int64 { return time.Now().UnixMilli() },
	}
}

// Delivery is one webhook request as received off the wire.
type Delivery struct {
	IdemKey   string
	Ts        int64  // signed header timestamp, unix ms
	Signature string // hex HMAC over "<ts>.<body>"
	Body      []byte // raw request body
}

// Result reports the outcome of a processed delivery.
type Result struct {
	Idempotent bool
	SettleSig  string
}

// payload is the webhook body. Amount is advisory and never settled.
type payload struct {
	AssetID string `json:"assetId"`
	Amount  uint64 `json:"amount"`
}

// sign computes the expected hex HMAC for a timestamp and body.
func sign(secret string, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// verify authenticates the delivery. Signature first so a forged request
// learns nothing from timing of the later checks.
func (g *Gateway) verify(d Delivery) error {
	expected := sign(g.cfg.Secret, d.Ts, d.Body)
	if !hmac.Equal([]byte(expected), []byte(d.Signature)) {
		return ErrBadSignature
	}
	drift := g.now() - d.Ts
	if drift < 0 {
		drift = -drift
	}
	if drift > g.cfg.Tolerance.Milliseconds() {
		return ErrStaleTimestamp
	}
	return nil
}

// Handle verifies, deduplicates and executes one delivery.
//
// The unique idempotency key arbitrates concurrent duplicates: only the
// delivery that wins the insert settles. A key already marked processed
// short-circuits to an idempotent success; a key present but unprocessed
// means the winner is still settling and the duplicate is rejected with
// ErrInFlight. A failed settlement deletes its row before returning, so a
// genuine redelivery claims the key fresh.
func (g *Gateway) Handle(ctx context.Context, d Delivery) (*Result, error) {
	observability.RecordWebhookReceived()

	if err := g.verify(d); err != nil {
		reason := "signature"
		if errors.Is(err, ErrStaleTimestamp) {
			reason = "timestamp"
		}
		observability.RecordWebhookRejected(reason)
		return nil, err
	}

	var p payload
	if err := json.Unmarshal(d.Body, &p); err != nil || p.AssetID == "" {
		observability.RecordWebhookRejected("payload")
		return nil, ErrMalformedPayload
	}

	if d.IdemKey == "" {
		// No key, no replay protection. Process but warn; the upstream
		// should always send one.
		g.logger.Printf("delivery for asset %s without idempotency key", p.AssetID)
		sig, err := g.settle(ctx, p.AssetID)
		if err != nil {
			return nil, err
		}
		return &Result{SettleSig: sig}, nil
	}

	hash := sha256.Sum256(d.Body)
	inserted, existing, err := g.events.InsertIfAbsent(ctx, &domain.WebhookEvent{
		IdemKey:     d.IdemKey,
		Ts:          d.Ts,
		Sig:         d.Signature,
		PayloadHash: hex.EncodeToString(hash[:]),
		CreatedAt:   g.now(),
	})
	if err != nil {
		return nil, err
	}
	if !inserted && existing.Processed() {
		observability.RecordWebhookReplayed()
		g.logger.Printf("replayed delivery key=%s short-circuited", d.IdemKey)
		res := &Result{Idempotent: true}
		if existing.SettleSig != nil {
			res.SettleSig = *existing.SettleSig
		}
		return res, nil
	}
	if !inserted {
		observability.RecordWebhookRejected("in_flight")
		g.logger.Printf("duplicate delivery key=%s while original in flight", d.IdemKey)
		return nil, ErrInFlight
	}

	sig, err := g.settle(ctx, p.AssetID)
	if err != nil {
		// Release the key so a redelivery can claim it. Until then any
		// duplicate is turned away as in flight, which is the safe side:
		// a lost row only costs the sender one extra retry.
		if delErr := g.events.Delete(ctx, d.IdemKey); delErr != nil {
			g.logger.Printf("release key=%s after failed settlement: %v", d.IdemKey, delErr)
		}
		return nil, err
	}

	if err := g.events.MarkProcessed(ctx, d.IdemKey, sig, g.now()); err != nil {
		// Settlement happened; losing the mark only risks an extra
		// idempotent ledger call on redelivery.
		g.logger.Printf("mark processed key=%s: %v", d.IdemKey, err)
	}
	return &Result{SettleSig: sig}, nil
}

// settle reads the asset fresh, submits the relayer-signed status flip and
// writes the audit row. The payload amount never reaches this path.
func (g *Gateway) settle(ctx context.Context, assetPk string) (string, error) {
	started := time.Now()

	asset, err := g.gw.GetAssetRecord(ctx, assetPk)
	if err != nil {
		observability.RecordSettlement("error", time.Since(started).Seconds())
		return "", err
	}
	if asset.Status == domain.AssetStatusSettled {
		observability.RecordSettlement("already_settled", time.Since(started).Seconds())
		g.logger.Printf("asset %s already settled", assetPk)
		return "", nil
	}

	g.logger.Printf("settling asset %s funded=%d of %d", assetPk, asset.FundedAmount, asset.Amount)

	signedTx, err := g.builder.BuildSetSettled(ctx, assetPk, g.cfg.RelayerKey, g.cfg.RelayerPubkey)
	if err != nil {
		observability.RecordSettlement("error", time.Since(started).Seconds())
		return "", err
	}

	sig, submitErr := g.gw.SubmitTransaction(ctx, signedTx)
	g.audit(ctx, assetPk, sig, submitErr)
	if submitErr != nil {
		observability.RecordSettlement("error", time.Since(started).Seconds())
		return "", fmt.Errorf("submit settlement: %w", submitErr)
	}

	observability.RecordSettlement("ok", time.Since(started).Seconds())
	return sig, nil
}

// audit writes the tx_logs row. Best effort; an audit failure never fails
// the settlement.
func (g *Gateway) audit(ctx context.Context, assetPk, sig string, submitErr error) {
	l := &domain.TxLog{
		Sig:       sig,
		Kind:      "set_settled",
		AssetPk:   assetPk,
		Success:   submitErr == nil,
		CreatedAt: g.now(),
	}
	if submitErr != nil {
		msg := submitErr.Error()
		l.Error = &msg
	}
	if err := g.txlogs.Insert(ctx, l); err != nil {
		g.logger.Printf("audit log asset %s: %v", assetPk, err)
	}
}
