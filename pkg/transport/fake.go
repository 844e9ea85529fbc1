package transport

import (
	"context"
	"sync"
)

// FakeTransport is an in-memory Transport used by tests to run several
// nodes in one process. Frames sent to a registered peer
// are delivered in order on that peer's own inbound channel; frames to an
// unregistered address are dropped (ErrDropped), matching a real
// transport's "peer unreachable" behavior.
type FakeTransport struct {
	addr Addr
	reg  *FakeNetwork

	mu     sync.Mutex
	inbox  chan Inbound
	closed bool
}

// FakeNetwork is the shared directory every FakeTransport in a test or demo
// process registers itself into, so Sends can be routed by address.
type FakeNetwork struct {
	mu    sync.Mutex
	peers map[Addr]*FakeTransport
}

// NewFakeNetwork creates a shared in-memory network. Each call to
// NewFakeTransport against the returned network can reach every other
// transport on the same network by address.
func NewFakeNetwork() *FakeNetwork {
	return &FakeNetwork{peers: make(map[Addr]*FakeTransport)}
}

// NewFakeTransport registers a new transport at addr on network net. addr
// must be unique within the network.
func NewFakeTransport(network *FakeNetwork, addr Addr) *FakeTransport {
	t := &FakeTransport{
		addr:  addr,
		reg:   network,
		inbox: make(chan Inbound, inboundQueueDepth),
	}
	network.mu.Lock()
	network.peers[addr] = t
	network.mu.Unlock()
	return t
}

func (t *FakeTransport) LocalAddr() Addr { return t.addr }

func (t *FakeTransport) Send(ctx context.Context, to Addr, frame []byte) error {
	if len(frame) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrClosed
	}

	t.reg.mu.Lock()
	peer, ok := t.reg.peers[to]
	t.reg.mu.Unlock()
	if !ok {
		return ErrDropped
	}

	cp := make([]byte, len(frame))
	copy(cp, frame)
	select {
	case peer.inbox <- Inbound{From: t.addr, Data: cp}:
		return nil
	default:
		return ErrDropped
	}
}

func (t *FakeTransport) Recv(ctx context.Context) (Inbound, error) {
	select {
	case in, ok := <-t.inbox:
		if !ok {
			return Inbound{}, ErrClosed
		}
		return in, nil
	case <-ctx.Done():
		return Inbound{}, ctx.Err()
	}
}

func (t *FakeTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.reg.mu.Lock()
	delete(t.reg.peers, t.addr)
	t.reg.mu.Unlock()

	close(t.inbox)
	return nil
}
