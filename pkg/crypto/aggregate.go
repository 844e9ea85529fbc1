package crypto

import (
	"crypto/ed25519"
	"fmt"
	"sort"

	"github.com/racer-mesh/racer/pkg/peer"
)

// Aggregate is a bitmap-compressed collection of witness signatures over a
// single message (§4.1, §9). It is NOT a cryptographically aggregated
// signature — Ed25519 admits no such scheme — it compresses the *wire
// representation* of "N peers witnessed this MID" down to a canonical-order
// bitmap plus the individual signatures, and verification still checks
// every bit's signature individually. Semantics are therefore unchanged
// from a plain (peer_id, signature) set per §4.1's requirement; only
// encoding size differs. This mirrors the shape of the teacher's own
// crypto/bls.Aggregate{Bytes []byte} (an opaque blob type), generalized to
// something this package can actually verify without a pairing-friendly
// curve.
type Aggregate struct {
	order []peer.ID // canonical order: sorted by public-key bytes, fixed at construction
	index map[peer.ID]int
	bits  []bool
	sigs  []Signature
}

// NewAggregate builds an Aggregate over the given peer set, canonically
// ordered by public-key bytes per §9 ("The canonical ordering must be
// stable across the network").
func NewAggregate(peers []peer.ID) *Aggregate {
	order := make([]peer.ID, len(peers))
	copy(order, peers)
	sort.Slice(order, func(i, j int) bool {
		return string(order[i][:]) < string(order[j][:])
	})
	index := make(map[peer.ID]int, len(order))
	for i, id := range order {
		index[id] = i
	}
	return &Aggregate{
		order: order,
		index: index,
		bits:  make([]bool, len(order)),
		sigs:  make([]Signature, len(order)),
	}
}

// Add records that id witnessed msg with sig. Reports false if id is not
// part of the aggregate's canonical peer set.
func (a *Aggregate) Add(id peer.ID, sig Signature) bool {
	i, ok := a.index[id]
	if !ok {
		return false
	}
	a.bits[i] = true
	a.sigs[i] = sig
	return true
}

// Count returns how many distinct signers are currently set.
func (a *Aggregate) Count() int {
	n := 0
	for _, b := range a.bits {
		if b {
			n++
		}
	}
	return n
}

// Verify checks every set bit's individual signature over msg against the
// supplied public keys, returning an error naming the first peer that
// fails. pubkeys need only contain entries for peers whose bit is set.
func (a *Aggregate) Verify(msg []byte, pubkeys map[peer.ID]ed25519.PublicKey) error {
	for i, set := range a.bits {
		if !set {
			continue
		}
		id := a.order[i]
		pub, ok := pubkeys[id]
		if !ok {
			return fmt.Errorf("crypto: aggregate references unknown signer %s", id)
		}
		if !Verify(pub, msg, a.sigs[i]) {
			return fmt.Errorf("crypto: %w for signer %s", ErrVerifyFailed, id)
		}
	}
	return nil
}

// Bitmap returns a copy of the set/unset bits in canonical order, the
// on-wire representation alongside the packed signature list.
func (a *Aggregate) Bitmap() []bool {
	out := make([]bool, len(a.bits))
	copy(out, a.bits)
	return out
}

// Signers returns the peer IDs whose bit is currently set, in canonical
// order.
func (a *Aggregate) Signers() []peer.ID {
	out := make([]peer.ID, 0, a.Count())
	for i, set := range a.bits {
		if set {
			out = append(out, a.order[i])
		}
	}
	return out
}
