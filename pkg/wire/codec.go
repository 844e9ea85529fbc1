package wire

import (
	"bytes"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// canonicalEncMode encodes with RFC 8949 §4.2.1 core deterministic encoding:
// map keys are sorted into their canonical bytewise order and integers use
// their shortest form, so the same Go value always produces the same bytes
// on every node regardless of map iteration order or field declaration
// order. This is what lets hash(encode(identity)) reproducibly equal the
// MID everywhere (§4.2).
var canonicalEncMode = func() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: invalid canonical encoding options: %v", err))
	}
	return mode
}()

var decMode = func() cbor.DecMode {
	mode, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("wire: invalid decoding options: %v", err))
	}
	return mode
}()

// wireIdentity is EnvelopeIdentity's on-wire shape. Field tags fix the map
// keys used for canonical ordering; the Go struct's declaration order does
// not matter once canonical mode sorts them.
type wireIdentity struct {
	Sender  []byte `cbor:"1,keyasint"`
	Nonce   uint64 `cbor:"2,keyasint"`
	PType   string `cbor:"3,keyasint"`
	Payload []byte `cbor:"4,keyasint"`
}

// EncodeIdentity canonically encodes the fields that feed the MID hash.
// This is the only encoder that MUST be byte-stable across the whole
// network; every node that receives the same logical envelope must produce
// the same bytes here or MIDs would disagree.
func EncodeIdentity(id EnvelopeIdentity) ([]byte, error) {
	w := wireIdentity{
		Sender:  id.SenderPublicKey,
		Nonce:   id.SequenceNonce,
		PType:   id.PayloadType,
		Payload: id.Payload,
	}
	return canonicalEncMode.Marshal(w)
}

type wireEnvelope struct {
	MID     []byte `cbor:"1,keyasint"`
	Sender  []byte `cbor:"2,keyasint"`
	Nonce   uint64 `cbor:"3,keyasint"`
	PType   string `cbor:"4,keyasint"`
	Payload []byte `cbor:"5,keyasint"`
	Sig     []byte `cbor:"6,keyasint"`
}

// EncodeEnvelope serializes a fully-signed Envelope for the PAYLOAD frame.
func EncodeEnvelope(e Envelope) ([]byte, error) {
	w := wireEnvelope{
		MID:     e.MID[:],
		Sender:  e.SenderPublicKey,
		Nonce:   e.SequenceNonce,
		PType:   e.PayloadType,
		Payload: e.Payload,
		Sig:     e.Signature[:],
	}
	return canonicalEncMode.Marshal(w)
}

// DecodeEnvelope parses bytes produced by EncodeEnvelope. It rejects
// trailing bytes after the decoded value per §4.2.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var w wireEnvelope
	rest, err := decodeOne(data, &w)
	if err != nil {
		return Envelope{}, err
	}
	if len(rest) != 0 {
		return Envelope{}, fmt.Errorf("%w: %d trailing bytes", ErrMalformedFrame, len(rest))
	}
	if len(w.MID) != 32 {
		return Envelope{}, fmt.Errorf("%w: bad mid length %d", ErrMalformedFrame, len(w.MID))
	}
	if len(w.Sig) != 64 {
		return Envelope{}, fmt.Errorf("%w: bad signature length %d", ErrMalformedFrame, len(w.Sig))
	}
	var e Envelope
	copy(e.MID[:], w.MID)
	copy(e.Signature[:], w.Sig)
	e.SenderPublicKey = w.Sender
	e.SequenceNonce = w.Nonce
	e.PayloadType = w.PType
	e.Payload = w.Payload
	return e, nil
}

type wireWitness struct {
	MID []byte `cbor:"1,keyasint"`
	Sig []byte `cbor:"2,keyasint"`
}

// wireFrame is the on-wire shape of a ControlFrame: a version byte, a tag,
// and exactly one populated union member.
type wireFrame struct {
	Version byte          `cbor:"1,keyasint"`
	Tag     byte          `cbor:"2,keyasint"`
	Witness *wireWitness  `cbor:"3,keyasint,omitempty"`
	Payload *wireEnvelope `cbor:"4,keyasint,omitempty"`
	Signer  []byte        `cbor:"5,keyasint,omitempty"`
}

// EncodeFrame serializes a ControlFrame to bytes, ready for the transport.
func EncodeFrame(f ControlFrame) ([]byte, error) {
	w := wireFrame{Version: f.Version, Tag: byte(f.Tag)}
	switch f.Tag {
	case TagEcho:
		if f.Echo == nil {
			return nil, fmt.Errorf("%w: ECHO frame missing witness", ErrMalformedFrame)
		}
		w.Witness = &wireWitness{MID: f.Echo.MID[:], Sig: f.Echo.Signature[:]}
		w.Signer = f.Echo.Signer
	case TagReady:
		if f.Ready == nil {
			return nil, fmt.Errorf("%w: READY frame missing witness", ErrMalformedFrame)
		}
		w.Witness = &wireWitness{MID: f.Ready.MID[:], Sig: f.Ready.Signature[:]}
		w.Signer = f.Ready.Signer
	case TagPayload:
		if f.Payload == nil {
			return nil, fmt.Errorf("%w: PAYLOAD frame missing envelope", ErrMalformedFrame)
		}
		w.Payload = &wireEnvelope{
			MID:     f.Payload.MID[:],
			Sender:  f.Payload.SenderPublicKey,
			Nonce:   f.Payload.SequenceNonce,
			PType:   f.Payload.PayloadType,
			Payload: f.Payload.Payload,
			Sig:     f.Payload.Signature[:],
		}
	default:
		return nil, fmt.Errorf("%w: unknown tag %d", ErrMalformedFrame, f.Tag)
	}
	return canonicalEncMode.Marshal(w)
}

// DecodeFrame parses bytes produced by EncodeFrame, validating the version
// byte and the tag/union consistency, and rejecting trailing bytes.
func DecodeFrame(data []byte) (ControlFrame, error) {
	var w wireFrame
	rest, err := decodeOne(data, &w)
	if err != nil {
		return ControlFrame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if len(rest) != 0 {
		return ControlFrame{}, fmt.Errorf("%w: %d trailing bytes", ErrMalformedFrame, len(rest))
	}
	if w.Version != CurrentVersion {
		return ControlFrame{}, ErrUnsupportedVersion
	}

	f := ControlFrame{Version: w.Version, Tag: Tag(w.Tag)}
	switch f.Tag {
	case TagEcho, TagReady:
		if w.Witness == nil || len(w.Witness.MID) != 32 || len(w.Witness.Sig) != 64 {
			return ControlFrame{}, fmt.Errorf("%w: bad witness fields", ErrMalformedFrame)
		}
		wit := &Witness{Signer: w.Signer}
		copy(wit.MID[:], w.Witness.MID)
		copy(wit.Signature[:], w.Witness.Sig)
		if f.Tag == TagEcho {
			f.Echo = wit
		} else {
			f.Ready = wit
		}
	case TagPayload:
		if w.Payload == nil {
			return ControlFrame{}, fmt.Errorf("%w: missing payload", ErrMalformedFrame)
		}
		env, err := envelopeFromWire(*w.Payload)
		if err != nil {
			return ControlFrame{}, err
		}
		f.Payload = &env
	default:
		return ControlFrame{}, fmt.Errorf("%w: unknown tag %d", ErrMalformedFrame, w.Tag)
	}
	return f, nil
}

func envelopeFromWire(w wireEnvelope) (Envelope, error) {
	if len(w.MID) != 32 || len(w.Sig) != 64 {
		return Envelope{}, fmt.Errorf("%w: bad envelope field lengths", ErrMalformedFrame)
	}
	var e Envelope
	copy(e.MID[:], w.MID)
	copy(e.Signature[:], w.Sig)
	e.SenderPublicKey = w.Sender
	e.SequenceNonce = w.Nonce
	e.PayloadType = w.PType
	e.Payload = w.Payload
	return e, nil
}

// decodeOne decodes a single CBOR value from data and returns any bytes
// left over, so callers can enforce "no trailing bytes" (§4.2). The
// decoder is fed through a real stateful io.Reader (bytes.Reader): cbor's
// streaming Decoder issues more than one Read() per Decode() whenever the
// value doesn't fit its internal buffer in one shot, and a stateless
// reader that always copies from the start of the slice would silently
// hand it the same bytes again instead of the true continuation.
func decodeOne(data []byte, v interface{}) ([]byte, error) {
	r := bytes.NewReader(data)
	dec := decMode.NewDecoder(r)
	if err := dec.Decode(v); err != nil {
		return nil, err
	}
	return data[dec.NumBytesRead():], nil
}
