// Package crypto provides RACER's signing, verification, and hashing
// primitives (component C1): individual Ed25519 envelope signatures, and a
// bitmap-compressed witness aggregate for ECHO/READY frames.
package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"errors"

	"github.com/racer-mesh/racer/pkg/wireid"
)

// Signature is a detached Ed25519 signature.
type Signature [ed25519.SignatureSize]byte

// ErrVerifyFailed is wrapped in the error Aggregate.Verify returns when a
// signer's signature does not check out; the plain Verify function reports
// the same failure as false. It is never surfaced to a publish caller —
// per §7 a bad signature is accounted as peer misbehavior (BadSignature) by
// the dispatcher, not propagated as an API error.
var ErrVerifyFailed = errors.New("crypto: signature verification failed")

// GenerateKey produces a fresh Ed25519 keypair, used by keygen.
func GenerateKey() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(nil)
}

// Sign signs msg (in RACER, always a 32-byte MID: envelope signatures and
// ECHO/READY witness signatures are both over the MID) with priv.
func Sign(priv ed25519.PrivateKey, msg []byte) Signature {
	var sig Signature
	copy(sig[:], ed25519.Sign(priv, msg))
	return sig
}

// Verify checks sig over msg under pub.
func Verify(pub ed25519.PublicKey, msg []byte, sig Signature) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, msg, sig[:])
}

// Hash computes the 32-byte content hash used as a MID. Callers pass the
// canonical encoding of the envelope's identity-bearing fields (see
// pkg/wire), never the raw payload alone, so that two different senders (or
// the same sender replaying under a new nonce) never collide.
func Hash(canonical []byte) wireid.MID {
	return sha256.Sum256(canonical)
}
