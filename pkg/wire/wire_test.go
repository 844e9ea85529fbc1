package wire

import (
	"crypto/ed25519"
	"testing"

	"github.com/racer-mesh/racer/pkg/crypto"
	"github.com/stretchr/testify/require"
)

func TestEncodeIdentityIsDeterministic(t *testing.T) {
	id := EnvelopeIdentity{
		SenderPublicKey: []byte{1, 2, 3},
		SequenceNonce:   7,
		PayloadType:     "sensor.v1",
		Payload:         []byte("reading=42"),
	}
	a, err := EncodeIdentity(id)
	require.NoError(t, err)
	b, err := EncodeIdentity(id)
	require.NoError(t, err)
	require.Equal(t, a, b)

	other := id
	other.SequenceNonce = 8
	c, err := EncodeIdentity(other)
	require.NoError(t, err)
	require.NotEqual(t, a, c)
}

// TestMIDMatchesHashOfIdentity exercises invariant 4: the MID a receiver
// recomputes from a decoded envelope's identity fields must equal the MID
// the sender put on the wire.
func TestMIDMatchesHashOfIdentity(t *testing.T) {
	pub, priv, err := crypto.GenerateKey()
	require.NoError(t, err)

	identity := EnvelopeIdentity{
		SenderPublicKey: pub,
		SequenceNonce:   42,
		PayloadType:     "telemetry.v1",
		Payload:         []byte("temp=21.5"),
	}
	encoded, err := EncodeIdentity(identity)
	require.NoError(t, err)
	mid := crypto.Hash(encoded)

	env := Envelope{
		MID:             mid,
		SenderPublicKey: pub,
		SequenceNonce:   identity.SequenceNonce,
		PayloadType:     identity.PayloadType,
		Payload:         identity.Payload,
	}
	sig := crypto.Sign(priv, mid[:])
	env.Signature = [64]byte(sig)

	raw, err := EncodeEnvelope(env)
	require.NoError(t, err)
	decoded, err := DecodeEnvelope(raw)
	require.NoError(t, err)

	reEncoded, err := EncodeIdentity(decoded.Identity())
	require.NoError(t, err)
	recomputed := crypto.Hash(reEncoded)
	require.Equal(t, mid, recomputed)
	require.True(t, crypto.Verify(ed25519.PublicKey(decoded.SenderPublicKey), decoded.MID[:], crypto.Signature(decoded.Signature)))
}

func TestControlFrameRoundTripEcho(t *testing.T) {
	var mid [32]byte
	mid[0] = 0xAB
	w := Witness{MID: mid, Signer: []byte{9, 9, 9}, Signature: [64]byte{1}}
	f := NewEchoFrame(w)

	raw, err := EncodeFrame(f)
	require.NoError(t, err)
	decoded, err := DecodeFrame(raw)
	require.NoError(t, err)

	require.Equal(t, TagEcho, decoded.Tag)
	require.NotNil(t, decoded.Echo)
	require.Equal(t, mid, decoded.Echo.MID)
	require.Equal(t, w.Signer, decoded.Echo.Signer)
	require.Nil(t, decoded.Ready)
	require.Nil(t, decoded.Payload)
}

func TestControlFrameRoundTripReady(t *testing.T) {
	var mid [32]byte
	mid[1] = 0xCD
	w := Witness{MID: mid, Signer: []byte{4, 5, 6}, Signature: [64]byte{2}}
	f := NewReadyFrame(w)

	raw, err := EncodeFrame(f)
	require.NoError(t, err)
	decoded, err := DecodeFrame(raw)
	require.NoError(t, err)

	require.Equal(t, TagReady, decoded.Tag)
	require.NotNil(t, decoded.Ready)
	require.Nil(t, decoded.Echo)
}

func TestControlFrameRoundTripPayload(t *testing.T) {
	var mid [32]byte
	mid[2] = 0xEF
	env := Envelope{
		MID:             mid,
		SenderPublicKey: []byte{7, 8, 9},
		SequenceNonce:   3,
		PayloadType:     "x",
		Payload:         []byte("hello"),
		Signature:       [64]byte{3},
	}
	f := NewPayloadFrame(env)

	raw, err := EncodeFrame(f)
	require.NoError(t, err)
	decoded, err := DecodeFrame(raw)
	require.NoError(t, err)

	require.Equal(t, TagPayload, decoded.Tag)
	require.NotNil(t, decoded.Payload)
	require.Equal(t, env.MID, decoded.Payload.MID)
	require.Equal(t, env.Payload, decoded.Payload.Payload)
}

func TestDecodeFrameRejectsUnsupportedVersion(t *testing.T) {
	var mid [32]byte
	f := NewEchoFrame(Witness{MID: mid, Signer: []byte{1}, Signature: [64]byte{1}})
	f.Version = 99

	raw, err := EncodeFrame(f)
	require.NoError(t, err)
	_, err = DecodeFrame(raw)
	require.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestDecodeFrameRejectsTrailingBytes(t *testing.T) {
	var mid [32]byte
	f := NewEchoFrame(Witness{MID: mid, Signer: []byte{1}, Signature: [64]byte{1}})

	raw, err := EncodeFrame(f)
	require.NoError(t, err)
	raw = append(raw, 0x00, 0x01, 0x02)

	_, err = DecodeFrame(raw)
	require.ErrorIs(t, err, ErrMalformedFrame)
}

func TestDecodeFrameRejectsGarbage(t *testing.T) {
	_, err := DecodeFrame([]byte{0xFF, 0xFF, 0xFF})
	require.Error(t, err)
}

func TestDecodeEnvelopeRejectsTrailingBytes(t *testing.T) {
	var mid [32]byte
	env := Envelope{MID: mid, SenderPublicKey: []byte{1}, PayloadType: "t", Payload: []byte("p")}
	raw, err := EncodeEnvelope(env)
	require.NoError(t, err)
	raw = append(raw, 0xAA)

	_, err = DecodeEnvelope(raw)
	require.ErrorIs(t, err, ErrMalformedFrame)
}
