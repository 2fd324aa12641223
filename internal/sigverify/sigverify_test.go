package sigverify

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/mr-tron/base58"
)

// testWallet generates a keypair and returns the base58 wallet address,
// the private key, and a signer for canonical messages.
func testWallet(t *testing.T) (string, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return base58.Encode(pub), priv
}

func signMessage(priv ed25519.PrivateKey, message string) string {
	return base58.Encode(ed25519.Sign(priv, []byte(message)))
}

func TestVerifier_ValidSignature(t *testing.T) {
	wallet, priv := testWallet(t)
	v := NewVerifier(true, 0)

	msg := CreateMessage("AssetMint1", wallet, 1_000_000, 5_000_000, 1700000000000)
	sig := signMessage(priv, msg)

	if err := v.Verify(msg, wallet, sig); err != nil {
		t.Fatalf("Verify failed for valid signature: %v", err)
	}
}

func TestVerifier_TamperedMessage(t *testing.T) {
	wallet, priv := testWallet(t)
	v := NewVerifier(true, 0)

	msg := CreateMessage("AssetMint1", wallet, 1_000_000, 5_000_000, 1700000000000)
	sig := signMessage(priv, msg)

	// Same signature against a message with a different price.
	tampered := CreateMessage("AssetMint1", wallet, 2_000_000, 5_000_000, 1700000000000)
	err := v.Verify(tampered, wallet, sig)
	if !errors.Is(err, ErrBadSignature) {
		t.Errorf("Expected ErrBadSignature, got %v", err)
	}
}

func TestVerifier_WrongWallet(t *testing.T) {
	wallet, priv := testWallet(t)
	otherWallet, _ := testWallet(t)
	v := NewVerifier(true, 0)

	msg := FillMessage(7, wallet, 100, 1700000000000)
	sig := signMessage(priv, msg)

	err := v.Verify(msg, otherWallet, sig)
	if !errors.Is(err, ErrBadSignature) {
		t.Errorf("Expected ErrBadSignature for wrong wallet, got %v", err)
	}
}

func TestVerifier_MalformedWallet(t *testing.T) {
	_, priv := testWallet(t)
	v := NewVerifier(true, 0)

	msg := CancelMessage(7, "not-a-wallet", 1700000000000)
	sig := signMessage(priv, msg)

	err := v.Verify(msg, "not-base58-!!!", sig)
	if !errors.Is(err, ErrBadWallet) {
		t.Errorf("Expected ErrBadWallet, got %v", err)
	}
}

func TestVerifier_NotRequired(t *testing.T) {
	v := NewVerifier(false, 0)

	if err := v.Verify("anything", "anyone", "garbage"); err != nil {
		t.Errorf("Verify should pass when not required, got %v", err)
	}
}

func TestVerifier_TimestampTolerance(t *testing.T) {
	base := time.UnixMilli(1700000000000)
	v := NewVerifier(true, 300*time.Second)
	v.now = func() time.Time { return base }

	// Within tolerance.
	if err := v.CheckTimestamp(base.UnixMilli() - 299_000); err != nil {
		t.Errorf("CheckTimestamp rejected fresh ts: %v", err)
	}

	// 400s in the past, tolerance 300s.
	err := v.CheckTimestamp(base.UnixMilli() - 400_000)
	if !errors.Is(err, ErrStaleTimestamp) {
		t.Errorf("Expected ErrStaleTimestamp, got %v", err)
	}

	// Future drift counts too.
	err = v.CheckTimestamp(base.UnixMilli() + 400_000)
	if !errors.Is(err, ErrStaleTimestamp) {
		t.Errorf("Expected ErrStaleTimestamp for future ts, got %v", err)
	}
}

func TestCanonicalMessages(t *testing.T) {
	got := CreateMessage("asset1", "seller1", 1000, 500, 17)
	want := "listing:create\nassetId=asset1\nseller=seller1\nprice=1000\nqty=500\nts=17"
	if got != want {
		t.Errorf("CreateMessage = %q, want %q", got, want)
	}

	got = FillMessage(42, "buyer1", 300, 17)
	want = "listing:fill\nid=42\nbuyer=buyer1\nqty=300\nts=17"
	if got != want {
		t.Errorf("FillMessage = %q, want %q", got, want)
	}

	got = CancelMessage(42, "seller1", 17)
	want = "listing:cancel\nid=42\nseller=seller1\nts=17"
	if got != want {
		t.Errorf("CancelMessage = %q, want %q", got, want)
	}
}
