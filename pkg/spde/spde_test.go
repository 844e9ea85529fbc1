package spde

import (
	"context"
	"crypto/ed25519"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/racer-mesh/racer/pkg/crypto"
	"github.com/racer-mesh/racer/pkg/peer"
	"github.com/racer-mesh/racer/pkg/wire"
	"github.com/racer-mesh/racer/pkg/wireid"
	"github.com/racer-mesh/racer/racerlog"
)

// recordingOutbound captures every frame handed to it, keyed by tag, for
// assertion without needing a real transport.
type recordingOutbound struct {
	mu    sync.Mutex
	sends []recordedSend
}

type recordedSend struct {
	targets []peer.ID
	frame   wire.ControlFrame
}

func (o *recordingOutbound) Send(targets []peer.ID, frame wire.ControlFrame) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sends = append(o.sends, recordedSend{targets: targets, frame: frame})
}

func (o *recordingOutbound) framesByTag(tag wire.Tag) []recordedSend {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []recordedSend
	for _, s := range o.sends {
		if s.frame.Tag == tag {
			out = append(out, s)
		}
	}
	return out
}

func newTestPeer(t *testing.T) (peer.ID, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	id, ok := peer.FromPublicKey(pub)
	require.True(t, ok)
	return id, priv
}

func newTestEngine(t *testing.T, cfg Config, outbound Outbound) (*Engine, peer.ID, *peer.Registry, func(wireid.MID, wire.Envelope), *sync.Mutex, *[]wire.Envelope) {
	t.Helper()
	self, signer := newTestPeer(t)
	reg := peer.NewRegistry(self)
	sampler := peer.NewSampler(reg)

	var mu sync.Mutex
	var delivered []wire.Envelope
	onDeliver := func(mid wireid.MID, env wire.Envelope) {
		mu.Lock()
		defer mu.Unlock()
		delivered = append(delivered, env)
	}

	if cfg.GCInterval == 0 {
		cfg.GCInterval = time.Hour
	}
	if cfg.NumLanes == 0 {
		cfg.NumLanes = 1
	}
	e := New(cfg, self, signer, reg, sampler, outbound, onDeliver, racerlog.NoOp())
	t.Cleanup(e.Shutdown)
	return e, self, reg, onDeliver, &mu, &delivered
}

func addPeers(t *testing.T, reg *peer.Registry, n int) []peer.ID {
	t.Helper()
	ids := make([]peer.ID, n)
	for i := 0; i < n; i++ {
		id, _ := newTestPeer(t)
		reg.Upsert(peer.Info{Identity: id, Address: "fake://" + id.String()})
		ids[i] = id
	}
	return ids
}

func baseConfig() Config {
	return Config{
		EchoSampleSize:    3,
		ReadySampleSize:   3,
		ReadyThreshold:    2,
		DeliveryThreshold: 2,
		ReadyBroadcast:    false,
		ExpiryWindow:      time.Minute,
		DedupRetention:    time.Minute,
		NumLanes:          1,
		GCInterval:        time.Hour,
	}
}

func TestPublishTransitionsToEchoingAndBroadcastsPayloadAndEcho(t *testing.T) {
	out := &recordingOutbound{}
	e, _, reg, _, _, _ := newTestEngine(t, baseConfig(), out)
	addPeers(t, reg, 5)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	mid, err := e.Publish(ctx, "sensor.temp", []byte("23.5"))
	require.NoError(t, err)
	require.NotEqual(t, wireid.MID{}, mid)

	payloads := out.framesByTag(wire.TagPayload)
	echoes := out.framesByTag(wire.TagEcho)
	require.Len(t, payloads, 1)
	require.Len(t, echoes, 1)
	require.Len(t, payloads[0].targets, 5)
	require.Len(t, echoes[0].targets, 5)
	require.Equal(t, mid, payloads[0].frame.Payload.MID)
	require.Equal(t, mid, echoes[0].frame.Echo.MID)
}

func TestDuplicatePublishOfSameMIDIsRejected(t *testing.T) {
	out := &recordingOutbound{}
	e, _, reg, _, _, _ := newTestEngine(t, baseConfig(), out)
	addPeers(t, reg, 3)

	ctx := context.Background()
	// Publishing the exact same payload twice collides only if the nonce
	// were fixed; nextNonce() guarantees distinct MIDs per call, so we
	// instead exercise the guard directly by routing a duplicate event to
	// the same lane for a MID already past INIT.
	mid, err := e.Publish(ctx, "sensor.temp", []byte("same"))
	require.NoError(t, err)

	l := e.laneFor(mid)
	resultCh := make(chan error, 1)
	l.in <- event{kind: evLocalPublish, mid: mid, resultCh: resultCh}
	err = <-resultCh
	require.Error(t, err)
}

func waitForDelivery(t *testing.T, mu *sync.Mutex, delivered *[]wire.Envelope, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(*delivered)
		mu.Unlock()
		if n >= want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d deliveries", want)
}

func TestFullLifecycleFromRecvPayloadToDelivered(t *testing.T) {
	out := &recordingOutbound{}
	cfg := baseConfig()
	e, self, reg, _, mu, delivered := newTestEngine(t, cfg, out)
	addPeers(t, reg, 6)

	sender, signer := newTestPeer(t)
	reg.Upsert(peer.Info{Identity: sender, Address: "fake://sender"})

	identity := wire.EnvelopeIdentity{
		SenderPublicKey: sender.PublicKey(),
		SequenceNonce:   1,
		PayloadType:     "sensor.temp",
		Payload:         []byte("hello"),
	}
	encoded, err := wire.EncodeIdentity(identity)
	require.NoError(t, err)
	mid := crypto.Hash(encoded)
	env := wire.Envelope{
		MID:             mid,
		SenderPublicKey: identity.SenderPublicKey,
		SequenceNonce:   identity.SequenceNonce,
		PayloadType:     identity.PayloadType,
		Payload:         identity.Payload,
	}

	e.Route(sender, wire.NewPayloadFrame(env))

	// ECHOING now. Feed distinct ECHO witnesses until the ready_threshold
	// intersects echo_sample. Since we don't control sampling, and
	// echo_sample was drawn from the peers registered before the PAYLOAD
	// arrived, every live peer (those plus ten more) witnesses.
	addPeers(t, reg, 10)
	witnessPeers := reg.LiveIDs()
	for _, w := range witnessPeers {
		e.Route(w, wire.NewEchoFrame(wire.Witness{MID: mid, Signer: []byte(w.PublicKey())}))
	}
	for _, w := range witnessPeers {
		e.Route(w, wire.NewReadyFrame(wire.Witness{MID: mid, Signer: []byte(w.PublicKey())}))
	}

	_ = signer
	_ = self
	waitForDelivery(t, mu, delivered, 1)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "hello", string((*delivered)[0].Payload))
}

func TestByzantineEquivocationProducesIndependentMIDs(t *testing.T) {
	sender, _ := newTestPeer(t)
	id1 := wire.EnvelopeIdentity{SenderPublicKey: sender.PublicKey(), SequenceNonce: 7, PayloadType: "t", Payload: []byte("A")}
	id2 := wire.EnvelopeIdentity{SenderPublicKey: sender.PublicKey(), SequenceNonce: 7, PayloadType: "t", Payload: []byte("B")}

	e1, err := wire.EncodeIdentity(id1)
	require.NoError(t, err)
	e2, err := wire.EncodeIdentity(id2)
	require.NoError(t, err)

	require.NotEqual(t, crypto.Hash(e1), crypto.Hash(e2))
}

func TestRecvEchoDuringInitIsStashedThenReplayed(t *testing.T) {
	out := &recordingOutbound{}
	cfg := baseConfig()
	// echo_sample covers all 7 registered peers and two echoes are needed
	// (the PAYLOAD sender's and the stashed one), so READY goes out only if
	// the stashed ECHO is replayed and credited.
	cfg.ReadyThreshold = 2
	cfg.EchoSampleSize = 7
	e, _, reg, _, _, _ := newTestEngine(t, cfg, out)
	addPeers(t, reg, 5)

	sender, _ := newTestPeer(t)
	reg.Upsert(peer.Info{Identity: sender, Address: "fake://sender"})
	identity := wire.EnvelopeIdentity{SenderPublicKey: sender.PublicKey(), SequenceNonce: 1, PayloadType: "t", Payload: []byte("x")}
	encoded, err := wire.EncodeIdentity(identity)
	require.NoError(t, err)
	mid := crypto.Hash(encoded)

	witness, _ := newTestPeer(t)
	reg.Upsert(peer.Info{Identity: witness, Address: "fake://w"})

	// ECHO arrives before the PAYLOAD does: must be stashed, not dropped.
	e.Route(witness, wire.NewEchoFrame(wire.Witness{MID: mid, Signer: []byte(witness.PublicKey())}))

	env := wire.Envelope{MID: mid, SenderPublicKey: identity.SenderPublicKey, SequenceNonce: identity.SequenceNonce, PayloadType: identity.PayloadType, Payload: identity.Payload}
	e.Route(sender, wire.NewPayloadFrame(env))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		readies := out.framesByTag(wire.TagReady)
		if len(readies) > 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("stashed ECHO was never credited after PAYLOAD arrived")
}

func TestExpiredStateIsGarbageCollected(t *testing.T) {
	out := &recordingOutbound{}
	cfg := baseConfig()
	cfg.ExpiryWindow = time.Millisecond
	cfg.GCInterval = 5 * time.Millisecond
	e, self, reg, _, _, _ := newTestEngine(t, cfg, out)
	addPeers(t, reg, 3)
	_ = self

	ctx := context.Background()
	mid, err := e.Publish(ctx, "t", []byte("x"))
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	l := e.laneFor(mid)
	resultCh := make(chan error, 1)
	l.in <- event{kind: evLocalPublish, mid: mid, resultCh: resultCh}
	err = <-resultCh
	// With the prior state swept away, a fresh Publish-shaped event for the
	// same MID is treated as a new INIT state rather than rejected.
	require.NoError(t, err)
}

// TestLaneEvictsOldestStateWhenOverCapacity pins every MID to the same lane
// and publishes one more than MaxInflightPerLane allows: the oldest
// non-DELIVERED state must be evicted rather than the map growing past the
// configured bound.
func TestLaneEvictsOldestStateWhenOverCapacity(t *testing.T) {
	out := &recordingOutbound{}
	cfg := baseConfig()
	cfg.MaxInflightPerLane = 3
	e, _, reg, _, _, _ := newTestEngine(t, cfg, out)
	addPeers(t, reg, 3)

	l := e.lanes[0]
	ctx := context.Background()

	var mids []wireid.MID
	for i := 0; i < 4; i++ {
		mid, err := e.Publish(ctx, "t", []byte{byte(i)})
		require.NoError(t, err)
		mids = append(mids, mid)
	}

	require.LessOrEqual(t, len(l.states), cfg.MaxInflightPerLane)
	_, stillTracked := l.states[mids[0]]
	require.False(t, stillTracked, "oldest MID should have been evicted to make room")
	_, newest := l.states[mids[len(mids)-1]]
	require.True(t, newest, "newest MID should still be tracked")
}
