// Package spde implements RACER's Sequenced Probabilistic Double Echo
// engine (component C6): one state machine per message identifier, driven
// by a fixed pool of hash-bucketed worker lanes so that every MID has
// exactly one writer and no global lock is ever taken.
//
// The lane/routing shape generalizes luxfi-consensus's poll.Set /
// confidence factory-per-round pattern (one poll instance per in-flight
// consensus round, looked up by round ID) to "one state machine per
// message", and the per-message state machine itself is modeled on
// go-mcast's S0..S3 per-UID machine driven off a transport.
package spde

import (
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"runtime"
	"sync"
	"time"

	"github.com/racer-mesh/racer/pkg/crypto"
	"github.com/racer-mesh/racer/pkg/peer"
	"github.com/racer-mesh/racer/pkg/wire"
	"github.com/racer-mesh/racer/pkg/wireid"
	"github.com/racer-mesh/racer/racerlog"
)

// Config parameterizes the engine per §4.6.
type Config struct {
	EchoSampleSize    int
	ReadySampleSize   int
	ReadyThreshold    int
	DeliveryThreshold int
	ReadyBroadcast    bool
	ExpiryWindow      time.Duration
	DedupRetention    time.Duration
	NumLanes          int // 0 means runtime.GOMAXPROCS(0)
	GCInterval        time.Duration

	// MaxInflightPerLane bounds each lane's states map (§5 resource bounds).
	// When a lane is at capacity and a MID not yet tracked arrives, the
	// oldest non-DELIVERED state is evicted to make room, closing the
	// unbounded-growth path a flood of distinct garbage MIDs would otherwise
	// open for up to ExpiryWindow. 0 means defaultMaxInflightPerLane.
	MaxInflightPerLane int
}

func (c Config) numLanes() int {
	if c.NumLanes > 0 {
		return c.NumLanes
	}
	return runtime.GOMAXPROCS(0)
}

func (c Config) gcInterval() time.Duration {
	if c.GCInterval > 0 {
		return c.GCInterval
	}
	return time.Second
}

// defaultMaxInflightPerLane caps a single lane's states map absent an
// explicit Config.MaxInflightPerLane. Generous enough for normal churn
// (thousands of in-flight messages per lane) while still closing the
// unbounded-growth path.
const defaultMaxInflightPerLane = 8192

func (c Config) maxInflightPerLane() int {
	if c.MaxInflightPerLane > 0 {
		return c.MaxInflightPerLane
	}
	return defaultMaxInflightPerLane
}

// Outbound is how the engine hands a frame off to be sent to a set of
// peers. pkg/dispatch implements this; spde has no dependency on dispatch,
// and dispatch reaches the engine only through its own Router interface, so
// neither package imports the other.
type Outbound interface {
	Send(targets []peer.ID, frame wire.ControlFrame)
}

// DeliverFunc is invoked once per MID, the first time it reaches
// DELIVERED, with the envelope that was actually carried.
type DeliverFunc func(wireid.MID, wire.Envelope)

// Engine owns the fixed lane pool and routes every inbound/outbound event
// for a MID to the single lane responsible for it.
type Engine struct {
	cfg Config
	log racerlog.Logger

	self     peer.ID
	signer   ed25519.PrivateKey
	registry *peer.Registry
	sampler  peer.Sampler
	outbound Outbound
	onDeliver DeliverFunc

	lanes []*lane

	metrics *metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs an Engine. signer must correspond to self. onDeliver may
// be nil, in which case deliveries are discarded.
func New(cfg Config, self peer.ID, signer ed25519.PrivateKey, registry *peer.Registry, sampler peer.Sampler, outbound Outbound, onDeliver DeliverFunc, log racerlog.Logger) *Engine {
	if log == nil {
		log = racerlog.NoOp()
	}
	if onDeliver == nil {
		onDeliver = func(wireid.MID, wire.Envelope) {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:       cfg,
		log:       log,
		self:      self,
		signer:    signer,
		registry:  registry,
		sampler:   sampler,
		outbound:  outbound,
		onDeliver: onDeliver,
		metrics:   newMetrics(),
		ctx:       ctx,
		cancel:    cancel,
	}
	n := cfg.numLanes()
	e.lanes = make([]*lane, n)
	for i := 0; i < n; i++ {
		l := newLane(e)
		e.lanes[i] = l
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			l.run(ctx)
		}()
	}
	return e
}

// Shutdown cancels every lane goroutine and waits for them to exit.
func (e *Engine) Shutdown() {
	e.cancel()
	e.wg.Wait()
}

func (e *Engine) laneFor(mid wireid.MID) *lane {
	h := binary.BigEndian.Uint64(mid[:8])
	return e.lanes[h%uint64(len(e.lanes))]
}

// Publish initiates a new message locally: signs an envelope, transitions
// its state INIT->ECHOING, and broadcasts PAYLOAD+ECHO. It blocks until the
// owning lane has processed the publish (bounded by ctx).
func (e *Engine) Publish(ctx context.Context, payloadType string, payload []byte) (wireid.MID, error) {
	pub := e.signer.Public().(ed25519.PublicKey)
	identity := wire.EnvelopeIdentity{
		SenderPublicKey: pub,
		SequenceNonce:   nextNonce(),
		PayloadType:     payloadType,
		Payload:         payload,
	}
	encoded, err := wire.EncodeIdentity(identity)
	if err != nil {
		return wireid.MID{}, err
	}
	mid := crypto.Hash(encoded)

	resultCh := make(chan error, 1)
	ev := event{
		kind:     evLocalPublish,
		mid:      mid,
		identity: identity,
		resultCh: resultCh,
	}
	l := e.laneFor(mid)
	select {
	case l.in <- ev:
	case <-ctx.Done():
		return wireid.MID{}, ctx.Err()
	}
	select {
	case err := <-resultCh:
		return mid, err
	case <-ctx.Done():
		return mid, ctx.Err()
	}
}

// Route hands a verified inbound control frame to the lane that owns its
// MID. Verification (signature, MID-matches-content) must already have
// happened in pkg/dispatch; Route trusts its input.
func (e *Engine) Route(from peer.ID, frame wire.ControlFrame) {
	var mid wireid.MID
	switch frame.Tag {
	case wire.TagEcho:
		mid = frame.Echo.MID
	case wire.TagReady:
		mid = frame.Ready.MID
	case wire.TagPayload:
		mid = frame.Payload.MID
	default:
		return
	}

	ev := event{mid: mid, from: from}
	switch frame.Tag {
	case wire.TagEcho:
		ev.kind = evRecvEcho
	case wire.TagReady:
		ev.kind = evRecvReady
	case wire.TagPayload:
		ev.kind = evRecvPayload
		ev.envelope = frame.Payload
	}

	l := e.laneFor(mid)
	select {
	case l.in <- ev:
	case <-e.ctx.Done():
	}
}

var nonceCounter uint64
var nonceMu sync.Mutex

// nextNonce hands out a process-local monotonically increasing nonce for
// envelopes this node publishes, so every publish within one process gets a
// distinct MID. It is not persisted across restarts, matching the
// stateless-across-restarts design (§6): the counter starts again at 1, and
// the same payload type and bytes published under a reused nonce hash to
// the same MID as before the restart.
func nextNonce() uint64 {
	nonceMu.Lock()
	defer nonceMu.Unlock()
	nonceCounter++
	return nonceCounter
}
