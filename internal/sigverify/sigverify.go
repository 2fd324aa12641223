// Package sigverify authenticates marketplace actions. A wallet address is
// the ed25519 public key in the ledger's addressing scheme, so verification
// needs no key registry: decode the address, verify the detached signature
// over the canonical message bytes.
package sigverify

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/mr-tron/base58"
)

// DefaultTolerance bounds how far a signed timestamp may drift from now.
const DefaultTolerance = 300 * time.Second

var (
	// ErrBadWallet means the wallet address is not a valid public key.
	ErrBadWallet = errors.New("invalid wallet address")

	// ErrBadSignature means the signature does not verify for the wallet.
	ErrBadSignature = errors.New("signature verification failed")

	// ErrStaleTimestamp means the signed timestamp is outside tolerance.
	ErrStaleTimestamp = errors.New("timestamp outside tolerance")
)

// Verifier checks detached ed25519 signatures and timestamp freshness.
type Verifier struct {
	// Require toggles signature enforcement. When false, Verify accepts
	// any signature; development environments run unsigned.
	Require bool

	// Tolerance is the maximum allowed |now - ts| for signed actions.
	Tolerance time.Duration

	// now is replaceable for tests.
	now func() time.Time
}

// NewVerifier creates a Verifier. A zero tolerance falls back to the default.
func NewVerifier(require bool, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Verifier{Require: require, Tolerance: tolerance, now: time.Now}
}

// Verify checks a base58-encoded detached signature over message for wallet.
// The wallet address is decoded directly as the ed25519 public key.
func (v *Verifier) Verify(message string, wallet string, signature string) error {
	if !v.Require {
		return nil
	}

	pub, err := base58.Decode(wallet)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: %s", ErrBadWallet, wallet)
	}

	sig, err := base58.Decode(signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return ErrBadSignature
	}

	if !ed25519.Verify(ed25519.PublicKey(pub), []byte(message), sig) {
		return ErrBadSignature
	}
	return nil
}

// CheckTimestamp rejects timestamps drifted beyond tolerance. ts is unix
// milliseconds as signed by the client.
func (v *Verifier) CheckTimestamp(ts int64) error {
	now := v.now().UnixMilli()
	drift := now - ts
	if drift < 0 {
		drift = -drift
	}
	if drift > v.Tolerance.Milliseconds() {
		return fmt.Errorf("%w: drift %dms exceeds %dms", ErrStaleTimestamp, drift, v.Tolerance.Milliseconds())
	}
	return nil
}

// Canonical signing messages. Field order and naming are byte-identical
// between signer and verifier; changing either breaks every client.

// CreateMessage is the canonical message a seller signs to create a listing.
func CreateMessage(assetPk, seller string, price, qty uint64, ts int64) string {
	return fmt.Sprintf("listing:create\nassetId=%s\nseller=%s\nprice=%d\nqty=%d\nts=%d",
		assetPk, seller, price, qty, ts)
}

// FillMessage is the canonical message a buyer signs to fill a listing.
func FillMessage(listingID int64, buyer string, qty uint64, ts int64) string {
	return fmt.Sprintf("listing:fill\nid=%d\nbuyer=%s\nqty=%d\nts=%d",
		listingID, buyer, qty, ts)
}

// CancelMessage is the canonical message a seller signs to cancel a listing.
func CancelMessage(listingID int64, seller string, ts int64) string {
	return fmt.Sprintf("listing:cancel\nid=%d\nseller=%s\nts=%d",
		listingID, seller, ts)
}
