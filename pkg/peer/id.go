// Package peer maintains the live peer set a RACER node gossips with and
// draws uniform random samples from it for SPDE's echo/ready quorums.
package peer

import (
	"crypto/ed25519"
	"encoding/hex"
)

// ID is a peer's long-term identity: its Ed25519 public key. It is
// comparable and usable as a map key, which is what lets the witness sets
// in pkg/spde dedup by distinct signer without any extra bookkeeping.
type ID [ed25519.PublicKeySize]byte

// String renders the identity as lowercase hex, used in logs and metrics
// labels.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// PublicKey views the identity back as an ed25519.PublicKey for
// verification.
func (id ID) PublicKey() ed25519.PublicKey {
	return ed25519.PublicKey(id[:])
}

// FromPublicKey builds an ID from a raw Ed25519 public key.
func FromPublicKey(pub ed25519.PublicKey) (ID, bool) {
	var id ID
	if len(pub) != ed25519.PublicKeySize {
		return id, false
	}
	copy(id[:], pub)
	return id, true
}

// Info describes a single mesh peer.
type Info struct {
	Identity ID
	Address  string // transport URI, opaque to this package
}

// Snapshot is a point-in-time, read-only view of a peer and its liveness.
type Snapshot struct {
	Info
	Live       bool
	LastHeard  int64 // UnixNano (wall clock) of the registry's last Upsert/MarkLive for this peer
}
