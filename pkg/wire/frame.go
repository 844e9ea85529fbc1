// Package wire implements RACER's canonical wire codec (component C2): a
// deterministic encoding for envelopes and control frames such that
// hash(encode(envelope identity fields)) reproducibly equals the MID at
// every node, and a version-tagged, length-unambiguous control frame
// format for ECHO/READY/PAYLOAD.
package wire

import (
	"errors"

	"github.com/racer-mesh/racer/pkg/wireid"
)

// CurrentVersion is the only wire version this build understands.
const CurrentVersion byte = 1

// Tag discriminates the ControlFrame union.
type Tag byte

const (
	TagEcho Tag = iota + 1
	TagReady
	TagPayload
)

func (t Tag) String() string {
	switch t {
	case TagEcho:
		return "ECHO"
	case TagReady:
		return "READY"
	case TagPayload:
		return "PAYLOAD"
	default:
		return "UNKNOWN"
	}
}

var (
	// ErrMalformedFrame is returned for frames with unknown tags, bad
	// structure, or trailing bytes after a valid decode (§4.2).
	ErrMalformedFrame = errors.New("wire: malformed frame")
	// ErrUnsupportedVersion is returned when the frame's version byte does
	// not match CurrentVersion (§6).
	ErrUnsupportedVersion = errors.New("wire: unsupported protocol version")
)

// Envelope is RACER's self-verifying signed message record (§3).
type Envelope struct {
	MID             wireid.MID
	SenderPublicKey []byte // raw Ed25519 public key bytes
	SequenceNonce   uint64
	PayloadType     string
	Payload         []byte
	Signature       [64]byte
}

// EnvelopeIdentity is the subset of Envelope fields that are hashed to
// produce the MID — everything except the signature itself, since the
// signature is computed over the MID, not the other way around.
type EnvelopeIdentity struct {
	SenderPublicKey []byte
	SequenceNonce   uint64
	PayloadType     string
	Payload         []byte
}

// Identity extracts the hashed subset of fields from e.
func (e Envelope) Identity() EnvelopeIdentity {
	return EnvelopeIdentity{
		SenderPublicKey: e.SenderPublicKey,
		SequenceNonce:   e.SequenceNonce,
		PayloadType:     e.PayloadType,
		Payload:         e.Payload,
	}
}

// Witness is a single peer's signature over a MID (not the payload), used
// for both ECHO and READY frames per §3.
type Witness struct {
	MID       wireid.MID
	Signer    []byte // raw Ed25519 public key
	Signature [64]byte
}

// ControlFrame is the tagged union RACER sends over the transport.
type ControlFrame struct {
	Version byte
	Tag     Tag

	Echo    *Witness
	Ready   *Witness
	Payload *Envelope
}

// NewEchoFrame builds a version-tagged ECHO control frame.
func NewEchoFrame(w Witness) ControlFrame {
	return ControlFrame{Version: CurrentVersion, Tag: TagEcho, Echo: &w}
}

// NewReadyFrame builds a version-tagged READY control frame.
func NewReadyFrame(w Witness) ControlFrame {
	return ControlFrame{Version: CurrentVersion, Tag: TagReady, Ready: &w}
}

// NewPayloadFrame builds a version-tagged PAYLOAD control frame.
func NewPayloadFrame(e Envelope) ControlFrame {
	return ControlFrame{Version: CurrentVersion, Tag: TagPayload, Payload: &e}
}
