// Package transport implements RACER's Transport Adapter (component C3):
// address-keyed, order-preserving-per-peer send/recv of framed blobs, with
// automatic reconnection and silent drop under backpressure. No guarantee of
// delivery is surfaced upward — that is the caller's (pkg/dispatch's) job.
package transport

import (
	"context"
	"errors"
)

// Addr is an opaque transport-level peer address (e.g. "host:port" for
// TCPTransport, an arbitrary string key for FakeTransport).
type Addr string

// Inbound is a single received frame, tagged with the address it arrived
// from.
type Inbound struct {
	From Addr
	Data []byte
}

// ErrDropped is returned by Send when the frame was discarded rather than
// queued, e.g. the per-peer outbound buffer is full or the peer is
// unreachable. It is never fatal: Transport continues to operate for other
// peers.
var ErrDropped = errors.New("transport: frame dropped")

// ErrClosed is returned by Send/Recv after Close has been called.
var ErrClosed = errors.New("transport: closed")

// Transport is the contract every RACER wire adapter implements (§4.3).
// Implementations must preserve ordering of frames sent to the same peer,
// but may silently drop frames under backpressure; reconnection, if any, is
// automatic and invisible to callers.
type Transport interface {
	// Send enqueues frame_bytes for delivery to peer_addr. It returns
	// ErrDropped if the frame could not be queued (full buffer, peer
	// currently unreachable); this is not treated as a hard error by
	// callers.
	Send(ctx context.Context, to Addr, frame []byte) error

	// Recv blocks until an inbound frame is available, the context is
	// canceled, or the transport is closed (ErrClosed).
	Recv(ctx context.Context) (Inbound, error)

	// LocalAddr returns the address this transport is reachable at, if
	// any (TCPTransport's listen address; FakeTransport's registered
	// name).
	LocalAddr() Addr

	// Close releases all resources. Subsequent Send/Recv return
	// ErrClosed.
	Close() error
}

// MaxFrameSize bounds a single frame, sized for constrained mesh links
// rather than a datacenter transport's multi-megabyte budget (§4.3).
const MaxFrameSize = 1 << 20 // 1 MiB

// ErrFrameTooLarge is returned when an encoded frame exceeds MaxFrameSize.
var ErrFrameTooLarge = errors.New("transport: frame exceeds maximum size")
