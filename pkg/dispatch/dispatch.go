// Package dispatch implements RACER's Dispatcher (component C7): it sits
// between the wire transport and the SPDE engine, verifying every inbound
// frame before it reaches consensus state, and fanning outbound frames out
// to each peer through a bounded, drop-oldest queue so one slow or dead
// peer can never stall the lane that produced the frame.
//
// The verify-then-route split and per-peer bounded delivery queue are
// modeled on go-mcast's ReliableTransport.consume (bounded producer channel,
// timeout drop) and luxfi-consensus's networking/tracker per-peer
// bookkeeping shape, generalized from "connected/disconnected" to
// "misbehavior counters".
package dispatch

import (
	"context"
	"crypto/ed25519"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/racer-mesh/racer/pkg/crypto"
	"github.com/racer-mesh/racer/pkg/peer"
	"github.com/racer-mesh/racer/pkg/transport"
	"github.com/racer-mesh/racer/pkg/wire"
	"github.com/racer-mesh/racer/racerlog"
)

//go:generate go run go.uber.org/mock/mockgen -destination mocks/router_mock.go -package mocks github.com/racer-mesh/racer/pkg/dispatch Router

// Router is the subset of *spde.Engine the dispatcher depends on. Routing
// against an interface rather than the concrete engine type keeps spde and
// dispatch from needing to know about each other beyond this one method,
// and lets tests substitute a recording fake.
type Router interface {
	Route(from peer.ID, frame wire.ControlFrame)
}

// Config parameterizes the dispatcher.
type Config struct {
	// OutboxDepth bounds each per-peer outbound queue. Once full, the
	// oldest queued frame is dropped to make room (§4.3's "no guarantee of
	// delivery" applies here too — SPDE does not resend a dropped ECHO or
	// READY; a MID that never reaches its thresholds expires).
	OutboxDepth int
	// RecvConcurrency is how many goroutines pull inbound frames off the
	// transport concurrently. Verification is embarrassingly parallel
	// (each frame is independent), and Router.Route is itself
	// concurrency-safe (it only ever enqueues onto a lane channel).
	RecvConcurrency int
}

func (c Config) outboxDepth() int {
	if c.OutboxDepth > 0 {
		return c.OutboxDepth
	}
	return 64
}

func (c Config) recvConcurrency() int {
	if c.RecvConcurrency > 0 {
		return c.RecvConcurrency
	}
	return 1
}

// Dispatcher owns the boundary between pkg/transport and pkg/spde.
type Dispatcher struct {
	cfg       Config
	log       racerlog.Logger
	transport transport.Transport
	registry  *peer.Registry
	metrics   *metrics

	routerMu sync.RWMutex
	router   Router

	outboxesMu sync.Mutex
	outboxes   map[peer.ID]*outbox
}

// New builds a Dispatcher. router may be nil if the caller has a
// chicken-and-egg wiring dependency (the engine that implements Router
// itself needs a Send-capable Outbound, which the Dispatcher provides) —
// call SetRouter before Run in that case. It does not start receiving
// until Run is called.
func New(cfg Config, tr transport.Transport, registry *peer.Registry, router Router, log racerlog.Logger) *Dispatcher {
	if log == nil {
		log = racerlog.NoOp()
	}
	return &Dispatcher{
		cfg:       cfg,
		log:       log,
		transport: tr,
		registry:  registry,
		router:    router,
		metrics:   newMetrics(),
		outboxes:  make(map[peer.ID]*outbox),
	}
}

// SetRouter installs (or replaces) the router frames are dispatched to.
// Safe to call concurrently with Run.
func (d *Dispatcher) SetRouter(router Router) {
	d.routerMu.Lock()
	defer d.routerMu.Unlock()
	d.router = router
}

// Collectors exposes the dispatcher's prometheus vectors for registration.
func (d *Dispatcher) Collectors() []prometheus.Collector {
	return []prometheus.Collector{d.metrics.badSignature, d.metrics.midMismatch, d.metrics.queueOverflow, d.metrics.framesRouted}
}

// Run drives cfg.recvConcurrency() inbound workers until ctx is canceled or
// the transport closes.
func (d *Dispatcher) Run(ctx context.Context) {
	n := d.cfg.recvConcurrency()
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		go func() {
			d.recvLoop(ctx)
			done <- struct{}{}
		}()
	}
	for i := 0; i < n; i++ {
		<-done
	}
}

func (d *Dispatcher) recvLoop(ctx context.Context) {
	for {
		in, err := d.transport.Recv(ctx)
		if err != nil {
			return
		}
		d.handleInbound(in)
	}
}

// handleInbound decodes and verifies a single frame, recovering from any
// panic so one malformed frame can never take the worker down (mirrors
// go-mcast's per-message consume isolation).
func (d *Dispatcher) handleInbound(in transport.Inbound) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("dispatch: recovered panic handling inbound frame", "from", string(in.From), "panic", r)
		}
	}()

	frame, err := wire.DecodeFrame(in.Data)
	if err != nil {
		d.log.Debug("dispatch: dropping malformed frame", "from", string(in.From), "err", err.Error())
		return
	}

	id, ok := d.verify(frame)
	if !ok {
		return
	}

	d.registry.MarkLive(id)
	if _, known := d.registry.Lookup(id); !known {
		d.registry.Upsert(peer.Info{Identity: id, Address: string(in.From)})
	}

	d.routerMu.RLock()
	router := d.router
	d.routerMu.RUnlock()
	if router == nil {
		return
	}

	d.metrics.framesRouted.WithLabelValues(frame.Tag.String()).Inc()
	router.Route(id, frame)
}

// verify checks a frame's signature and, for PAYLOAD frames, that the
// envelope's MID is actually the hash of its own identity fields (§4.2,
// §7). It returns the signer's peer identity on success.
func (d *Dispatcher) verify(frame wire.ControlFrame) (peer.ID, bool) {
	switch frame.Tag {
	case wire.TagEcho, wire.TagReady:
		w := frame.Echo
		if frame.Tag == wire.TagReady {
			w = frame.Ready
		}
		id, ok := peer.FromPublicKey(ed25519.PublicKey(w.Signer))
		if !ok {
			d.metrics.badSignature.WithLabelValues(frame.Tag.String()).Inc()
			return peer.ID{}, false
		}
		sig := crypto.Signature(w.Signature)
		if !crypto.Verify(ed25519.PublicKey(w.Signer), w.MID[:], sig) {
			d.metrics.badSignature.WithLabelValues(frame.Tag.String()).Inc()
			return peer.ID{}, false
		}
		return id, true

	case wire.TagPayload:
		env := frame.Payload
		id, ok := peer.FromPublicKey(ed25519.PublicKey(env.SenderPublicKey))
		if !ok {
			d.metrics.badSignature.WithLabelValues(frame.Tag.String()).Inc()
			return peer.ID{}, false
		}
		encoded, err := wire.EncodeIdentity(env.Identity())
		if err != nil {
			d.metrics.midMismatch.Inc()
			return peer.ID{}, false
		}
		if crypto.Hash(encoded) != env.MID {
			d.metrics.midMismatch.Inc()
			return peer.ID{}, false
		}
		if !crypto.Verify(ed25519.PublicKey(env.SenderPublicKey), env.MID[:], crypto.Signature(env.Signature)) {
			d.metrics.badSignature.WithLabelValues(frame.Tag.String()).Inc()
			return peer.ID{}, false
		}
		return id, true

	default:
		return peer.ID{}, false
	}
}

// Send implements spde.Outbound: it encodes frame once and fans it out to
// every target's own bounded outbox.
func (d *Dispatcher) Send(targets []peer.ID, frame wire.ControlFrame) {
	encoded, err := wire.EncodeFrame(frame)
	if err != nil {
		d.log.Error("dispatch: failed to encode outbound frame", "tag", frame.Tag.String(), "err", err.Error())
		return
	}
	for _, target := range targets {
		d.outboxFor(target).enqueue(encoded)
	}
}

func (d *Dispatcher) outboxFor(id peer.ID) *outbox {
	d.outboxesMu.Lock()
	defer d.outboxesMu.Unlock()
	ob, ok := d.outboxes[id]
	if !ok {
		ob = newOutbox(d.cfg.outboxDepth(), func(frame []byte) {
			d.deliver(id, frame)
		}, d.metrics, id)
		d.outboxes[id] = ob
	}
	return ob
}

func (d *Dispatcher) deliver(id peer.ID, frame []byte) {
	info, ok := d.registry.Lookup(id)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), outboxSendTimeout)
	defer cancel()
	if err := d.transport.Send(ctx, transport.Addr(info.Address), frame); err != nil {
		d.log.Debug("dispatch: send failed", "peer", id.String(), "err", err.Error())
	}
}

// Close stops every outbox worker goroutine.
func (d *Dispatcher) Close() {
	d.outboxesMu.Lock()
	defer d.outboxesMu.Unlock()
	for _, ob := range d.outboxes {
		ob.close()
	}
}
