package httpapi

import (
	"bytes"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mr-tron/base58"

	"invoice-market/internal/domain"
	"invoice-market/internal/ledger"
	"invoice-market/internal/ledger/ledgertest"
	"invoice-market/internal/marketplace"
	"invoice-market/internal/positions"
	"invoice-market/internal/settlement"
	"invoice-market/internal/sigverify"
	"invoice-market/internal/solana"
	"invoice-market/internal/solana/stub"
	"invoice-market/internal/storage/memory"
	"invoice-market/internal/txbuilder"
)

const webhookSecret = "test-secret"

type env struct {
	srv     *httptest.Server
	rpc     *stub.RPCClient
	assetPk string
	mint    string
	seller  testWallet
}

type testWallet struct {
	address string
	priv    ed25519.PrivateKey
}

func newWalletKey(t *testing.T) testWallet {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	return testWallet{address: base58.Encode(pub), priv: priv}
}

func (w testWallet) sign(message string) string {
	return base58.Encode(ed25519.Sign(w.priv, []byte(message)))
}

func newEnv(t *testing.T) *env {
	t.Helper()
	rpc := stub.NewRPCClient()
	programID := ledgertest.Pubkey(0x10)
	gw := ledger.NewGateway(rpc, programID)

	seller := newWalletKey(t)
	mint := ledgertest.Pubkey(0x23)
	asset := &domain.AssetRecord{
		AssetPk:      ledgertest.Pubkey(0x20),
		Seller:       seller.address,
		FundsMint:    ledgertest.Pubkey(0x22),
		Amount:       10_000_000,
		FundedAmount: 10_000_000,
		Status:       domain.AssetStatusFunded,
		SharesMint:   &mint,
	}
	rpc.SetAccount(asset.AssetPk, ledgertest.AccountInfo(programID, ledgertest.EncodeAssetAccount(asset)))
	rpc.SetAccount(mint, ledgertest.AccountInfo(programID, ledgertest.EncodeMintAccount(10_000_000, 6)))
	rpc.SetTokenAccounts(mint, []solana.TokenAccount{
		{Mint: mint, Owner: seller.address, Amount: 5_000_000},
	})

	listings := memory.NewListingStore()
	assets := memory.NewAssetStore()
	txlogs := memory.NewTxLogStore()

	indexer := positions.New(gw, assets, memory.NewPositionsCacheStore(), memory.NewPositionHistoryStore(), nil, positions.Config{})
	verifier := sigverify.NewVerifier(true, sigverify.DefaultTolerance)
	market := marketplace.New(listings, verifier, indexer, gw)
	builder := txbuilder.NewBuilder(gw)

	relayerPub, relayerPriv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	webhook := settlement.New(settlement.Config{
		Secret:        webhookSecret,
		RelayerKey:    relayerPriv,
		RelayerPubkey: base58.Encode(relayerPub),
	}, gw, builder, memory.NewWebhookEventStore(), txlogs)

	server := NewServer(market, indexer, builder, webhook, assets, txlogs)
	srv := httptest.NewServer(server.Router())
	t.Cleanup(srv.Close)

	return &env{srv: srv, rpc: rpc, assetPk: asset.AssetPk, mint: mint, seller: seller}
}

func (e *env) do(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

func (e *env) createListing(t *testing.T, qty uint64) int64 {
	t.Helper()
	ts := time.Now().UnixMilli()
	sig := e.seller.sign(sigverify.CreateMessage(e.assetPk, e.seller.address, 1_000_000, qty, ts))
	resp, body := e.do(t, http.MethodPost, "/api/listings", map[string]any{
		"assetId":   e.assetPk,
		"price":     1_000_000,
		"qty":       qty,
		"ts":        ts,
		"signature": sig,
	}, map[string]string{walletHeader: e.seller.address})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create listing status = %d body = %v", resp.StatusCode, body)
	}
	listing := body["listing"].(map[string]any)
	return int64(listing["id"].(float64))
}

func TestHealthz(t *testing.T) {
	e := newEnv(t)
	resp, body := e.do(t, http.MethodGet, "/healthz", nil, nil)
	if resp.StatusCode != http.StatusOK || body["ok"] != true {
		t.Fatalf("healthz = %d %v", resp.StatusCode, body)
	}
}

func TestCreateListingEndToEnd(t *testing.T) {
	e := newEnv(t)
	id := e.createListing(t, 5_000_000)

	resp, body := e.do(t, http.MethodGet, fmt.Sprintf("/api/listings/%d", id), nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get listing = %d", resp.StatusCode)
	}
	listing := body["listing"].(map[string]any)
	if listing["status"] != "Open" || listing["remainingQty"].(float64) != 5_000_000 {
		t.Fatalf("listing = %v", listing)
	}
}

func TestCreateListingForeignSignatureRejected(t *testing.T) {
	e := newEnv(t)
	intruder := newWalletKey(t)

	ts := time.Now().UnixMilli()
	sig := intruder.sign(sigverify.CreateMessage(e.assetPk, e.seller.address, 1_000_000, 1_000, ts))
	resp, body := e.do(t, http.MethodPost, "/api/listings", map[string]any{
		"assetId":   e.assetPk,
		"price":     1_000_000,
		"qty":       1_000,
		"ts":        ts,
		"signature": sig,
	}, map[string]string{walletHeader: e.seller.address})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d body = %v, want 401", resp.StatusCode, body)
	}
	if body["ok"] != false {
		t.Fatalf("error payload = %v, want ok:false", body)
	}
}

func TestCreateListingOverAvailableRejected(t *testing.T) {
	e := newEnv(t)

	ts := time.Now().UnixMilli()
	sig := e.seller.sign(sigverify.CreateMessage(e.assetPk, e.seller.address, 1_000_000, 6_000_000, ts))
	resp, body := e.do(t, http.MethodPost, "/api/listings", map[string]any{
		"assetId":   e.assetPk,
		"price":     1_000_000,
		"qty":       6_000_000,
		"ts":        ts,
		"signature": sig,
	}, map[string]string{walletHeader: e.seller.address})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	// The error names the computable maximum.
	if msg := body["error"].(string); msg == "" || !bytes.Contains([]byte(msg), []byte("5000000")) {
		t.Fatalf("error = %q, want the max listable quantity in the message", msg)
	}
}

func TestFillListing(t *testing.T) {
	e := newEnv(t)
	buyer := newWalletKey(t)
	id := e.createListing(t, 5_000_000)

	ts := time.Now().UnixMilli()
	sig := buyer.sign(sigverify.FillMessage(id, buyer.address, 3_000_000, ts))
	resp, body := e.do(t, http.MethodPost, fmt.Sprintf("/api/listings/%d/fill", id), map[string]any{
		"qty":       3_000_000,
		"ts":        ts,
		"signature": sig,
	}, map[string]string{walletHeader: buyer.address})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fill = %d %v", resp.StatusCode, body)
	}
	listing := body["listing"].(map[string]any)
	if listing["remainingQty"].(float64) != 2_000_000 {
		t.Fatalf("remaining = %v, want 2000000", listing["remainingQty"])
	}
}

func TestSyncListingFromChain(t *testing.T) {
	e := newEnv(t)
	id := e.createListing(t, 5_000_000)

	addr, _, err := ledger.ListingAddress(ledgertest.Pubkey(0x10), e.assetPk, e.seller.address)
	if err != nil {
		t.Fatal(err)
	}
	e.rpc.SetAccount(addr, ledgertest.AccountInfo(ledgertest.Pubkey(0x10), ledgertest.EncodeListingAccount(&ledger.ListingState{
		AssetPk:      e.assetPk,
		Seller:       e.seller.address,
		Price:        1_000_000,
		Qty:          5_000_000,
		RemainingQty: 2_000_000,
	})))

	resp, body := e.do(t, http.MethodPost, fmt.Sprintf("/api/listings/%d/sync", id), nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sync = %d %v", resp.StatusCode, body)
	}
	listing := body["listing"].(map[string]any)
	if listing["onchainInitialized"] != true {
		t.Fatalf("listing = %v, want onchainInitialized", listing)
	}
	if listing["remainingQty"].(float64) != 2_000_000 {
		t.Fatalf("remaining = %v, want the chain's 2000000", listing["remainingQty"])
	}

	// Off-chain fills now bounce: the chain owns the remaining quantity.
	buyer := newWalletKey(t)
	ts := time.Now().UnixMilli()
	sig := buyer.sign(sigverify.FillMessage(id, buyer.address, 1, ts))
	resp, _ = e.do(t, http.MethodPost, fmt.Sprintf("/api/listings/%d/fill", id), map[string]any{
		"qty":       1,
		"ts":        ts,
		"signature": sig,
	}, map[string]string{walletHeader: buyer.address})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("fill after sync = %d, want 400", resp.StatusCode)
	}
}

func TestFillUnknownListing404(t *testing.T) {
	e := newEnv(t)
	buyer := newWalletKey(t)

	ts := time.Now().UnixMilli()
	sig := buyer.sign(sigverify.FillMessage(999, buyer.address, 1, ts))
	resp, _ := e.do(t, http.MethodPost, "/api/listings/999/fill", map[string]any{
		"qty":       1,
		"ts":        ts,
		"signature": sig,
	}, map[string]string{walletHeader: buyer.address})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestAssetPositions(t *testing.T) {
	e := newEnv(t)

	resp, body := e.do(t, http.MethodGet, "/api/asset/"+e.assetPk+"/positions", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("positions = %d", resp.StatusCode)
	}
	positions := body["positions"].([]any)
	if len(positions) != 1 {
		t.Fatalf("positions = %v, want one holder", positions)
	}
}

func TestBuildFulfillTx(t *testing.T) {
	e := newEnv(t)
	buyer := newWalletKey(t)
	id := e.createListing(t, 1_000_000)

	resp, body := e.do(t, http.MethodPost, fmt.Sprintf("/api/listings/%d/build-fulfill-tx", id), map[string]any{
		"qty": 500_000,
	}, map[string]string{walletHeader: buyer.address})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("build = %d %v", resp.StatusCode, body)
	}
	tx := body["transaction"].(map[string]any)
	if tx["tx"].(string) == "" || tx["blockhash"].(string) == "" {
		t.Fatalf("transaction payload = %v", tx)
	}
	signers := tx["signers"].([]any)
	if len(signers) != 1 || signers[0] != buyer.address {
		t.Fatalf("signers = %v, want the buyer", signers)
	}
}

func webhookSig(ts int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestPaymentWebhookIdempotent(t *testing.T) {
	e := newEnv(t)
	payload := []byte(`{"assetId":"` + e.assetPk + `","amount":1}`)
	ts := time.Now().UnixMilli()
	headers := map[string]string{
		hmacSignatureHeader: webhookSig(ts, payload),
		hmacTimestampHeader: fmt.Sprintf("%d", ts),
		idempotencyHeader:   "pay-1",
	}

	send := func() (*http.Response, map[string]any) {
		req, err := http.NewRequest(http.MethodPost, e.srv.URL+"/webhook/payment", bytes.NewReader(payload))
		if err != nil {
			t.Fatal(err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		var decoded map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			t.Fatal(err)
		}
		return resp, decoded
	}

	resp, body := send()
	if resp.StatusCode != http.StatusOK || body["ok"] != true {
		t.Fatalf("first delivery = %d %v", resp.StatusCode, body)
	}
	if body["idempotent"] != nil {
		t.Fatal("first delivery must not be idempotent")
	}

	resp, body = send()
	if resp.StatusCode != http.StatusOK || body["idempotent"] != true {
		t.Fatalf("replay = %d %v, want idempotent:true", resp.StatusCode, body)
	}
	if len(e.rpc.SentTransactions) != 1 {
		t.Fatalf("submitted %d transactions, want 1", len(e.rpc.SentTransactions))
	}
}

func TestPaymentWebhookBadSignature(t *testing.T) {
	e := newEnv(t)
	payload := []byte(`{"assetId":"` + e.assetPk + `"}`)
	ts := time.Now().UnixMilli()

	req, err := http.NewRequest(http.MethodPost, e.srv.URL+"/webhook/payment", bytes.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set(hmacSignatureHeader, "deadbeef")
	req.Header.Set(hmacTimestampHeader, fmt.Sprintf("%d", ts))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}
