package spde

import (
	"context"
	"fmt"
	"time"

	"github.com/racer-mesh/racer/pkg/crypto"
	"github.com/racer-mesh/racer/pkg/peer"
	"github.com/racer-mesh/racer/pkg/wire"
	"github.com/racer-mesh/racer/pkg/wireid"
)

const laneInboxDepth = 1024

// lane owns a disjoint partition of in-flight MIDs, guaranteeing a single
// writer per message (§5) without a global lock. Everything in this file
// except run() executes exclusively on that lane's own goroutine.
type lane struct {
	e      *Engine
	in     chan event
	states map[wireid.MID]*messageState
}

func newLane(e *Engine) *lane {
	return &lane{
		e:      e,
		in:     make(chan event, laneInboxDepth),
		states: make(map[wireid.MID]*messageState),
	}
}

func (l *lane) run(ctx context.Context) {
	ticker := time.NewTicker(l.e.cfg.gcInterval())
	defer ticker.Stop()
	for {
		select {
		case ev := <-l.in:
			l.safeHandle(ev)
		case <-ticker.C:
			l.sweep(time.Now())
		case <-ctx.Done():
			return
		}
	}
}

// safeHandle recovers a panic inside a single event's handling so one bad
// MID cannot take down the lane (and every other in-flight MID it owns),
// mirroring go-mcast's defer-recover idiom around per-message processing.
func (l *lane) safeHandle(ev event) {
	defer func() {
		if r := recover(); r != nil {
			l.e.log.Error("spde: recovered panic handling event", "mid", ev.mid.String(), "panic", fmt.Sprintf("%v", r))
			delete(l.states, ev.mid)
		}
	}()
	l.handle(ev)
}

func (l *lane) handle(ev event) {
	switch ev.kind {
	case evLocalPublish:
		l.handleLocalPublish(ev)
	case evRecvPayload:
		l.handleRecvPayload(ev)
	case evRecvEcho:
		l.handleRecvEcho(ev)
	case evRecvReady:
		l.handleRecvReady(ev)
	}
}

func (l *lane) getOrCreate(mid wireid.MID, now time.Time) *messageState {
	st, ok := l.states[mid]
	if ok {
		return st
	}
	l.evictOldestIfFull()
	echoSample := l.e.sampler.Sample(l.e.cfg.EchoSampleSize, true)
	readySample := l.e.sampler.Sample(l.e.cfg.ReadySampleSize, true)
	st = newMessageState(now, l.e.cfg.ExpiryWindow, echoSample, readySample)
	l.states[mid] = st
	l.e.metrics.setPhase(PhaseInit)
	return st
}

// evictOldestIfFull enforces Config.MaxInflightPerLane (§5 resource
// bounds): when the lane is at capacity, the oldest non-DELIVERED state
// (by createdAt) is dropped to make room for the new MID. DELIVERED
// states are preferred survivors since they're already decided and only
// stuck around for dedup; a flood of fresh garbage MIDs should age out
// in-flight work, not delivered history.
func (l *lane) evictOldestIfFull() {
	if len(l.states) < l.e.cfg.maxInflightPerLane() {
		return
	}
	var oldestMID wireid.MID
	var oldestSt *messageState
	found := false
	for mid, st := range l.states {
		if st.phase == PhaseDelivered {
			continue
		}
		if !found || st.createdAt.Before(oldestSt.createdAt) {
			oldestMID, oldestSt = mid, st
			found = true
		}
	}
	if !found {
		// Every tracked MID is DELIVERED; fall back to the oldest overall.
		for mid, st := range l.states {
			if !found || st.createdAt.Before(oldestSt.createdAt) {
				oldestMID, oldestSt = mid, st
				found = true
			}
		}
	}
	if found {
		l.e.metrics.transition(oldestSt.phase, PhaseExpired)
		delete(l.states, oldestMID)
	}
}

func (l *lane) handleLocalPublish(ev event) {
	now := time.Now()
	st := l.getOrCreate(ev.mid, now)
	if st.phase != PhaseInit {
		ev.resultCh <- fmt.Errorf("spde: mid %s already in flight", ev.mid)
		return
	}

	sig := crypto.Sign(l.e.signer, ev.mid[:])
	env := wire.Envelope{
		MID:             ev.mid,
		SenderPublicKey: ev.identity.SenderPublicKey,
		SequenceNonce:   ev.identity.SequenceNonce,
		PayloadType:     ev.identity.PayloadType,
		Payload:         ev.identity.Payload,
		Signature:       [64]byte(sig),
	}
	st.envelope = &env
	st.echoWitnesses.Add(l.e.self)
	l.transitionTo(st, PhaseEchoing)

	all := l.e.registry.AllIDs()
	witness := wire.Witness{MID: ev.mid, Signer: []byte(l.e.self.PublicKey()), Signature: [64]byte(sig)}
	l.send(all, wire.NewPayloadFrame(env))
	l.send(all, wire.NewEchoFrame(witness))

	ev.resultCh <- nil
}

func (l *lane) handleRecvPayload(ev event) {
	now := time.Now()
	st := l.getOrCreate(ev.mid, now)
	if st.phase != PhaseInit {
		// Duplicate PAYLOAD for a MID already past INIT: keep a copy of
		// the envelope if we somehow didn't have one, but the table
		// defines no further transition here.
		if st.envelope == nil && st.phase != PhaseExpired {
			st.envelope = ev.envelope
		}
		return
	}

	st.envelope = ev.envelope
	l.transitionTo(st, PhaseEchoing)

	sig := crypto.Sign(l.e.signer, ev.mid[:])
	witness := wire.Witness{MID: ev.mid, Signer: []byte(l.e.self.PublicKey()), Signature: [64]byte(sig)}
	l.send(st.echoSample, wire.NewEchoFrame(witness))

	// The peer that relayed the PAYLOAD to us is itself a legitimate echo
	// witness (it necessarily has the message), so it is credited — and
	// checked against the ready_threshold — exactly like any other ECHO
	// witness rather than merely recorded (see DESIGN.md decision 5).
	l.creditEcho(ev.mid, st, ev.from)
	l.replayPendingEcho(ev.mid, st)
}

func (l *lane) handleRecvEcho(ev event) {
	now := time.Now()
	st := l.getOrCreate(ev.mid, now)

	switch st.phase {
	case PhaseInit:
		if !containsPeer(st.pendingEcho, ev.from) {
			st.pendingEcho = append(st.pendingEcho, ev.from)
		}
	case PhaseEchoing:
		l.creditEcho(ev.mid, st, ev.from)
	case PhaseReady:
		st.echoWitnesses.Add(ev.from)
	case PhaseDelivered, PhaseExpired:
		// ignore
	}
}

func (l *lane) handleRecvReady(ev event) {
	now := time.Now()
	st := l.getOrCreate(ev.mid, now)

	switch st.phase {
	case PhaseInit, PhaseEchoing:
		if !containsPeer(st.pendingReady, ev.from) {
			st.pendingReady = append(st.pendingReady, ev.from)
		}
	case PhaseReady:
		l.creditReady(ev.mid, st, ev.from)
	case PhaseDelivered, PhaseExpired:
		// ignore
	}
}

// creditEcho adds a distinct ECHO witness and checks the ready_threshold
// guard against the intersection with this node's fixed echo_sample
// (§4.6: "if ∩ with echo_sample ≥ ready_threshold").
func (l *lane) creditEcho(mid wireid.MID, st *messageState, from peer.ID) {
	if !st.echoWitnesses.Add(from) {
		return
	}
	if st.echoWitnesses.IntersectCount(st.echoSample) < l.e.cfg.ReadyThreshold {
		return
	}
	l.transitionTo(st, PhaseReady)

	targets := st.readySample
	if l.e.cfg.ReadyBroadcast {
		targets = l.e.registry.AllIDs()
	}
	sig := crypto.Sign(l.e.signer, mid[:])
	witness := wire.Witness{MID: mid, Signer: []byte(l.e.self.PublicKey()), Signature: [64]byte(sig)}
	l.send(targets, wire.NewReadyFrame(witness))

	l.replayPendingReady(mid, st)
}

func (l *lane) creditReady(mid wireid.MID, st *messageState, from peer.ID) {
	if !st.readyWitnesses.Add(from) {
		return
	}
	if st.readyWitnesses.Count() < l.e.cfg.DeliveryThreshold {
		return
	}
	l.transitionTo(st, PhaseDelivered)
	st.deliveredAt = time.Now()
	if st.envelope != nil {
		l.e.onDeliver(mid, *st.envelope)
	}
}

func (l *lane) replayPendingEcho(mid wireid.MID, st *messageState) {
	pending := st.pendingEcho
	st.pendingEcho = nil
	for _, from := range pending {
		if st.phase != PhaseEchoing {
			break
		}
		l.creditEcho(mid, st, from)
	}
}

func (l *lane) replayPendingReady(mid wireid.MID, st *messageState) {
	pending := st.pendingReady
	st.pendingReady = nil
	for _, from := range pending {
		if st.phase != PhaseReady {
			break
		}
		l.creditReady(mid, st, from)
	}
}

func (l *lane) transitionTo(st *messageState, to Phase) {
	from := st.phase
	st.phase = to
	l.e.metrics.transition(from, to)
}

func (l *lane) send(targets []peer.ID, frame wire.ControlFrame) {
	if len(targets) == 0 || l.e.outbound == nil {
		return
	}
	l.e.outbound.Send(targets, frame)
}

func containsPeer(ids []peer.ID, id peer.ID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

// sweep runs this lane's private garbage collection pass: non-delivered
// states past their expiry deadline are dropped; delivered states are kept
// only for the dedup retention window (§4.6).
func (l *lane) sweep(now time.Time) {
	for mid, st := range l.states {
		switch st.phase {
		case PhaseDelivered:
			if now.Sub(st.deliveredAt) > l.e.cfg.DedupRetention {
				delete(l.states, mid)
			}
		case PhaseExpired:
			delete(l.states, mid)
		default:
			if now.After(st.deadline) {
				l.e.metrics.transition(st.phase, PhaseExpired)
				delete(l.states, mid)
			}
		}
	}
}
