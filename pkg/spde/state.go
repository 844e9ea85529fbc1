package spde

import (
	"time"

	"github.com/racer-mesh/racer/internal/witnessset"
	"github.com/racer-mesh/racer/pkg/peer"
	"github.com/racer-mesh/racer/pkg/wire"
)

// Phase is a MID's position in the §4.6 state machine.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseEchoing
	PhaseReady
	PhaseDelivered
	PhaseExpired
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "INIT"
	case PhaseEchoing:
		return "ECHOING"
	case PhaseReady:
		return "READY"
	case PhaseDelivered:
		return "DELIVERED"
	case PhaseExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// messageState is the per-MID state machine, owned exclusively by the lane
// goroutine it lives in — no mutex needed since only that one goroutine
// ever touches it.
type messageState struct {
	phase Phase

	envelope *wire.Envelope

	echoWitnesses  *witnessset.Set[peer.ID]
	readyWitnesses *witnessset.Set[peer.ID]

	echoSample  []peer.ID
	readySample []peer.ID

	// pendingEcho/pendingReady stash witnesses that arrive before this
	// node's own state has progressed far enough to credit them: an ECHO
	// seen while still INIT (table: "stash ECHO pending payload"), or a
	// READY seen before this node itself reaches READY (not named by the
	// table, added to avoid losing a witness to a race — see DESIGN.md).
	pendingEcho  []peer.ID
	pendingReady []peer.ID

	createdAt   time.Time
	deadline    time.Time
	deliveredAt time.Time
}

func newMessageState(now time.Time, expiryWindow time.Duration, echoSample, readySample []peer.ID) *messageState {
	return &messageState{
		phase:          PhaseInit,
		echoWitnesses:  witnessset.New[peer.ID](),
		readyWitnesses: witnessset.New[peer.ID](),
		echoSample:     echoSample,
		readySample:    readySample,
		createdAt:      now,
		deadline:       now.Add(expiryWindow),
	}
}
