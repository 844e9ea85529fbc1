package dispatch

import (
	"sync"
	"time"

	"github.com/racer-mesh/racer/pkg/peer"
)

// outboxSendTimeout bounds a single underlying transport.Send call so a
// peer that is merely slow (rather than gone) cannot hold the outbox's
// worker goroutine hostage indefinitely.
const outboxSendTimeout = 5 * time.Second

// outbox is a per-peer bounded, drop-oldest delivery queue: exactly one
// goroutine ever calls deliver for a given peer, so sends to that peer stay
// ordered, and a backlog never grows without bound (§4.3, §9 QueueOverflow).
type outbox struct {
	mu      sync.Mutex
	buf     [][]byte
	depth   int
	signal  chan struct{}
	closed  bool
	closeCh chan struct{}

	deliver func(frame []byte)
	metrics *metrics
	peer    peer.ID
}

func newOutbox(depth int, deliver func([]byte), m *metrics, id peer.ID) *outbox {
	ob := &outbox{
		depth:   depth,
		signal:  make(chan struct{}, 1),
		closeCh: make(chan struct{}),
		deliver: deliver,
		metrics: m,
		peer:    id,
	}
	go ob.run()
	return ob
}

// enqueue appends frame, dropping the oldest queued frame first if the
// outbox is already at capacity.
func (o *outbox) enqueue(frame []byte) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	if len(o.buf) >= o.depth {
		o.buf = o.buf[1:]
		o.metrics.queueOverflow.WithLabelValues(o.peer.String()).Inc()
	}
	o.buf = append(o.buf, frame)
	o.mu.Unlock()

	select {
	case o.signal <- struct{}{}:
	default:
	}
}

func (o *outbox) run() {
	for {
		select {
		case <-o.signal:
			for {
				frame, ok := o.pop()
				if !ok {
					break
				}
				o.deliver(frame)
			}
		case <-o.closeCh:
			return
		}
	}
}

func (o *outbox) pop() ([]byte, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.buf) == 0 {
		return nil, false
	}
	frame := o.buf[0]
	o.buf = o.buf[1:]
	return frame, true
}

func (o *outbox) close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()
	close(o.closeCh)
}
