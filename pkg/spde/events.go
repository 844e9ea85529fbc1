package spde

import (
	"github.com/racer-mesh/racer/pkg/peer"
	"github.com/racer-mesh/racer/pkg/wire"
	"github.com/racer-mesh/racer/pkg/wireid"
)

type eventKind int

const (
	evLocalPublish eventKind = iota
	evRecvPayload
	evRecvEcho
	evRecvReady
)

// event is the single message type every lane's inbound channel carries.
type event struct {
	kind eventKind
	mid  wireid.MID
	from peer.ID

	// evLocalPublish only.
	identity wire.EnvelopeIdentity
	resultCh chan error

	// evRecvPayload only.
	envelope *wire.Envelope
}
