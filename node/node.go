// Package node assembles RACER's components into a single running mesh
// participant (component C8, the Node Facade): crypto identity, transport,
// peer registry, the PLATO rate controller, the dispatcher, and the SPDE
// engine, wired together and exposed as Bootstrap/Publish/Subscribe/
// Peers/Shutdown.
//
// The bootstrap/run/deliver/Shutdown shape is grounded on go-mcast's Unity
// (NewUnity wiring a transport + state machine + clock into one struct,
// Shutdown returning once every owned goroutine has stopped).
package node

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/racer-mesh/racer/pkg/config"
	"github.com/racer-mesh/racer/pkg/dispatch"
	"github.com/racer-mesh/racer/pkg/plato"
	"github.com/racer-mesh/racer/pkg/peer"
	"github.com/racer-mesh/racer/pkg/spde"
	"github.com/racer-mesh/racer/pkg/transport"
	"github.com/racer-mesh/racer/pkg/wire"
	"github.com/racer-mesh/racer/pkg/wireid"
	"github.com/racer-mesh/racer/racerlog"
)

// deliveryQueueDepth bounds the subscriber fan-out queue (§9): a slow
// subscriber must never block the lane goroutine that produced a delivery.
const deliveryQueueDepth = 256

// DeliverFunc is a subscriber's callback, invoked once per MID the first
// time it reaches DELIVERED.
type DeliverFunc func(wireid.MID, wire.Envelope)

// Node is one running RACER mesh participant.
type Node struct {
	cfg    config.Config
	log    racerlog.Logger
	self   peer.ID
	signer ed25519.PrivateKey

	registry   *peer.Registry
	sampler    peer.Sampler
	transport  transport.Transport
	dispatcher *dispatch.Dispatcher
	engine     *spde.Engine
	plato      *plato.Controller

	mu          sync.Mutex
	pendingSelf map[wireid.MID]time.Time

	deliveryCh chan delivery
	subsMu     sync.RWMutex
	subs       []DeliverFunc

	closing       atomic.Bool
	transportDown atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type delivery struct {
	mid wireid.MID
	env wire.Envelope
}

// Bootstrap constructs a Node from cfg around the caller's Ed25519 signer
// and an already-bound transport, and starts the dispatcher and engine.
// Addresses in cfg.Peers.Routers are only logged, not added to the peer
// registry; peers become known through AddPeer or when the dispatcher
// verifies a frame from them.
func Bootstrap(cfg config.Config, signer ed25519.PrivateKey, tr transport.Transport, log racerlog.Logger) (*Node, error) {
	if log == nil {
		log = racerlog.NoOp()
	}
	pub, ok := signer.Public().(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("node: signer does not carry an ed25519 public key")
	}
	self, ok := peer.FromPublicKey(pub)
	if !ok {
		return nil, fmt.Errorf("node: invalid public key length")
	}

	registry := peer.NewRegistry(self)
	for _, addr := range cfg.Peers.Routers {
		log.Debug("node: known peer router configured", "addr", addr)
		_ = addr // actual identity is learned on first verified frame (pkg/dispatch); address-only bootstrap entries are not yet identity-bound
	}
	sampler := peer.NewSampler(registry)

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		cfg:         cfg,
		log:         log,
		self:        self,
		signer:      signer,
		registry:    registry,
		sampler:     sampler,
		transport:   tr,
		plato:       plato.New(platoParams(cfg.Plato), log),
		pendingSelf: make(map[wireid.MID]time.Time),
		deliveryCh:  make(chan delivery, deliveryQueueDepth),
		ctx:         ctx,
		cancel:      cancel,
	}

	n.dispatcher = dispatch.New(dispatch.Config{}, tr, registry, nil, log)
	n.engine = spde.New(engineConfig(cfg), self, signer, registry, sampler, n.dispatcher, n.onDelivered, log)
	n.dispatcher.SetRouter(n.engine)

	n.wg.Add(2)
	go func() {
		defer n.wg.Done()
		n.dispatcher.Run(ctx)
		// Run only returns once every recv worker has stopped. If that
		// happened without an orderly Shutdown having been requested, the
		// transport itself died out from under us.
		if !n.closing.Load() {
			n.transportDown.Store(true)
			n.log.Warn("node: dispatcher receive loop exited unexpectedly, transport unavailable")
		}
	}()
	go func() { defer n.wg.Done(); n.fanOutLoop(ctx) }()

	return n, nil
}

func platoParams(p config.PlatoSection) plato.Params {
	return plato.Params{
		WindowSize:  p.WindowSize,
		RSIPeriod:   p.RSIPeriod,
		TargetSecs:  p.TargetPublishingFrequencySecs,
		IntervalMax: p.IntervalMax,
		KUp:         p.KUp,
		KDown:       p.KDown,
		Alpha:       p.Alpha,
		Overbought:  p.Overbought,
		Oversold:    p.Oversold,
	}
}

func engineConfig(cfg config.Config) spde.Config {
	return spde.Config{
		EchoSampleSize:     cfg.Consensus.EchoSampleSize,
		ReadySampleSize:    cfg.Consensus.ReadySampleSize,
		ReadyThreshold:     cfg.Consensus.ReadyThreshold,
		DeliveryThreshold:  cfg.Consensus.DeliveryThreshold,
		ReadyBroadcast:     cfg.Consensus.ReadyBroadcast,
		ExpiryWindow:       time.Duration(cfg.Plato.TargetLatencySecs*20) * time.Second,
		DedupRetention:     cfg.DedupRetention(),
		MaxInflightPerLane: cfg.Consensus.MaxInflightPerLane,
	}
}

// Collectors exposes every owned component's prometheus collectors, for the
// caller to register with its own registry.
func (n *Node) Collectors() []prometheus.Collector {
	var out []prometheus.Collector
	out = append(out, n.engine.Collectors()...)
	out = append(out, n.dispatcher.Collectors()...)
	return out
}

// Self returns this node's own identity.
func (n *Node) Self() peer.ID { return n.self }

// AddPeer registers a known peer by identity and address, e.g. from static
// configuration or out-of-band discovery.
func (n *Node) AddPeer(id peer.ID, addr string) {
	n.registry.Upsert(peer.Info{Identity: id, Address: addr})
}

// Peers returns a point-in-time view of every known peer.
func (n *Node) Peers() []peer.Snapshot {
	return n.registry.Snapshot()
}

// Publish admits and broadcasts a new message if PLATO's current rate
// control allows it at this instant; otherwise it returns ErrRateLimited
// without touching the engine (§4.5 — pacing is enforced at the publish
// boundary, not inside SPDE).
func (n *Node) Publish(ctx context.Context, payloadType string, payload []byte) (wireid.MID, error) {
	if n.closing.Load() {
		return wireid.MID{}, ErrShuttingDown
	}
	if n.transportDown.Load() {
		return wireid.MID{}, ErrTransportUnavailable
	}

	now := time.Now()
	if !n.plato.Admit(now) {
		return wireid.MID{}, ErrRateLimited
	}

	mid, err := n.engine.Publish(ctx, payloadType, payload)
	if err != nil {
		return mid, err
	}
	n.plato.MarkAdmitted(now)

	n.mu.Lock()
	n.pendingSelf[mid] = now
	n.mu.Unlock()

	return mid, nil
}

// Subscribe registers fn to be invoked for every future delivered message.
// Every subscriber is called in turn from a single internal goroutine in
// delivery order, so a slow subscriber delays all subscribers' later
// callbacks; it never blocks the engine, because deliveries reach that
// goroutine through a bounded, drop-oldest queue.
func (n *Node) Subscribe(fn DeliverFunc) {
	n.subsMu.Lock()
	defer n.subsMu.Unlock()
	n.subs = append(n.subs, fn)
}

// onDelivered is spde's DeliverFunc: it measures this node's own
// publish-to-delivery latency (feeding PLATO) and queues the delivery for
// fan-out to subscribers, dropping the oldest queued delivery rather than
// blocking the lane goroutine that called it (§9 DeliveryDropped).
func (n *Node) onDelivered(mid wireid.MID, env wire.Envelope) {
	n.mu.Lock()
	publishedAt, wasSelf := n.pendingSelf[mid]
	if wasSelf {
		delete(n.pendingSelf, mid)
	}
	n.mu.Unlock()

	if wasSelf {
		n.plato.Observe(time.Since(publishedAt).Seconds(), time.Now())
	}

	d := delivery{mid: mid, env: env}
	select {
	case n.deliveryCh <- d:
	default:
		select {
		case <-n.deliveryCh:
		default:
		}
		select {
		case n.deliveryCh <- d:
		default:
			n.log.Warn("node: delivery dropped, subscriber fan-out saturated", "reason", "DeliveryDropped", "mid", mid.String())
		}
	}
}

func (n *Node) fanOutLoop(ctx context.Context) {
	for {
		select {
		case d := <-n.deliveryCh:
			n.subsMu.RLock()
			subs := n.subs
			n.subsMu.RUnlock()
			for _, fn := range subs {
				fn(d.mid, d.env)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Shutdown stops the engine, dispatcher, and transport, in that order, and
// waits for every goroutine this Node owns to exit.
func (n *Node) Shutdown(ctx context.Context) error {
	n.closing.Store(true)
	n.engine.Shutdown()
	n.cancel()
	n.dispatcher.Close()
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return n.transport.Close()
}
