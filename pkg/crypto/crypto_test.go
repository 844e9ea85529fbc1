package crypto

import (
	"crypto/ed25519"
	"testing"

	"github.com/racer-mesh/racer/pkg/peer"
	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	pub, priv, err := GenerateKey()
	require.NoError(t, err)

	msg := []byte("racer envelope bytes")
	sig := Sign(priv, msg)
	require.True(t, Verify(pub, msg, sig))
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	pub, priv, err := GenerateKey()
	require.NoError(t, err)

	sig := Sign(priv, []byte("original"))
	require.False(t, Verify(pub, []byte("tampered"), sig))
}

func TestHashIsDeterministicAndCollisionSensitive(t *testing.T) {
	a := Hash([]byte("payload-a"))
	b := Hash([]byte("payload-a"))
	c := Hash([]byte("payload-b"))
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}

type keypair struct {
	id   peer.ID
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

func TestAggregateVerifiesOnlySetBits(t *testing.T) {
	var kps []keypair
	for i := 0; i < 4; i++ {
		pub, priv, err := GenerateKey()
		require.NoError(t, err)
		id, ok := peer.FromPublicKey(pub)
		require.True(t, ok)
		kps = append(kps, keypair{id: id, priv: priv, pub: pub})
	}

	ids := make([]peer.ID, len(kps))
	for i, k := range kps {
		ids[i] = k.id
	}
	agg := NewAggregate(ids)

	msg := []byte("mid-bytes")
	require.True(t, agg.Add(kps[0].id, Sign(kps[0].priv, msg)))
	require.True(t, agg.Add(kps[2].id, Sign(kps[2].priv, msg)))
	require.Equal(t, 2, agg.Count())

	pubkeys := map[peer.ID]ed25519.PublicKey{
		kps[0].id: kps[0].pub,
		kps[2].id: kps[2].pub,
	}
	require.NoError(t, agg.Verify(msg, pubkeys))
	require.ElementsMatch(t, []peer.ID{kps[0].id, kps[2].id}, agg.Signers())
}

func TestAggregateRejectsUnknownSigner(t *testing.T) {
	pub, _, err := GenerateKey()
	require.NoError(t, err)
	id, ok := peer.FromPublicKey(pub)
	require.True(t, ok)

	agg := NewAggregate([]peer.ID{id})
	outsider := peer.ID{0xFF}
	require.False(t, agg.Add(outsider, Signature{}))
}
