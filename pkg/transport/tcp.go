package transport

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	"github.com/racer-mesh/racer/racerlog"
)

// Frame format on the wire: a 4-byte big-endian length prefix followed by
// exactly that many payload bytes (§4.3; RACER uses big-endian throughout,
// unlike the little-endian framing this was modeled on).
const lengthPrefixSize = 4

const (
	defaultReadTimeout  = 10 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultDialTimeout  = 5 * time.Second

	outboundQueueDepth = 256
	inboundQueueDepth  = 256

	minBackoff = 200 * time.Millisecond
	maxBackoff = 30 * time.Second
)

// TCPTransport is a length-prefixed, auto-reconnecting TCP implementation of
// Transport, grounded on the per-peer read/send loop shape used throughout
// the BDLS agent-tcp package, generalized from a single-protocol consensus
// agent to RACER's generic framed-blob contract.
type TCPTransport struct {
	log racerlog.Logger

	ln       net.Listener
	localAddr Addr

	mu     sync.Mutex
	peers  map[Addr]*tcpPeerConn
	closed bool

	inbound chan Inbound
	done    chan struct{}
}

// NewTCPTransport binds listenAddr (e.g. "0.0.0.0:9000") and begins
// accepting inbound connections. log may be nil, in which case a no-op
// logger is used.
func NewTCPTransport(listenAddr string, log racerlog.Logger) (*TCPTransport, error) {
	if log == nil {
		log = racerlog.NoOp()
	}
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, err
	}
	t := &TCPTransport{
		log:       log,
		ln:        ln,
		localAddr: Addr(ln.Addr().String()),
		peers:     make(map[Addr]*tcpPeerConn),
		inbound:   make(chan Inbound, inboundQueueDepth),
		done:      make(chan struct{}),
	}
	go t.acceptLoop()
	return t, nil
}

func (t *TCPTransport) LocalAddr() Addr { return t.localAddr }

func (t *TCPTransport) acceptLoop() {
	for {
		conn, err := t.ln.Accept()
		if err != nil {
			select {
			case <-t.done:
				return
			default:
				t.log.Warn("transport: accept failed", "error", err)
				return
			}
		}
		peerAddr := Addr(conn.RemoteAddr().String())
		pc := t.peerFor(peerAddr)
		pc.adopt(conn)
	}
}

// peerFor returns the tcpPeerConn for addr, creating it if this is the
// first time addr is seen. It starts no goroutines: dialing starts in
// ensureDialing, and read/write loops in adopt or dialLoop.
func (t *TCPTransport) peerFor(addr Addr) *tcpPeerConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if pc, ok := t.peers[addr]; ok {
		return pc
	}
	pc := newTCPPeerConn(addr, t.inbound, t.log)
	t.peers[addr] = pc
	return pc
}

// Send enqueues frame for delivery to "to", dialing (and redialing on
// failure, with backoff) as necessary. The address format is "host:port".
func (t *TCPTransport) Send(ctx context.Context, to Addr, frame []byte) error {
	if len(frame) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrClosed
	}
	pc := t.peerFor(to)
	pc.ensureDialing()
	return pc.enqueue(frame)
}

func (t *TCPTransport) Recv(ctx context.Context) (Inbound, error) {
	select {
	case in, ok := <-t.inbound:
		if !ok {
			return Inbound{}, ErrClosed
		}
		return in, nil
	case <-t.done:
		return Inbound{}, ErrClosed
	case <-ctx.Done():
		return Inbound{}, ctx.Err()
	}
}

func (t *TCPTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	peers := make([]*tcpPeerConn, 0, len(t.peers))
	for _, pc := range t.peers {
		peers = append(peers, pc)
	}
	t.mu.Unlock()

	close(t.done)
	_ = t.ln.Close()
	for _, pc := range peers {
		pc.close()
	}
	return nil
}

// tcpPeerConn owns the dial-reconnect loop, outbound queue, and live
// connection (if any) for a single remote address.
type tcpPeerConn struct {
	addr    Addr
	inbound chan<- Inbound
	log     racerlog.Logger

	mu      sync.Mutex
	conn    net.Conn
	dialing bool
	closed  bool

	outq chan []byte
	die  chan struct{}
}

func newTCPPeerConn(addr Addr, inbound chan<- Inbound, log racerlog.Logger) *tcpPeerConn {
	return &tcpPeerConn{
		addr:    addr,
		inbound: inbound,
		log:     log,
		outq:    make(chan []byte, outboundQueueDepth),
		die:     make(chan struct{}),
	}
}

// adopt takes over an already-established inbound connection (from
// Accept), replacing any existing one and starting its read/write loops.
func (pc *tcpPeerConn) adopt(conn net.Conn) {
	pc.mu.Lock()
	if pc.closed {
		pc.mu.Unlock()
		_ = conn.Close()
		return
	}
	old := pc.conn
	pc.conn = conn
	pc.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	go pc.readLoop(conn)
	go pc.writeLoop(conn)
}

// ensureDialing starts the dial-and-retry goroutine exactly once per
// tcpPeerConn lifetime; subsequent calls are no-ops.
func (pc *tcpPeerConn) ensureDialing() {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.dialing || pc.conn != nil || pc.closed {
		return
	}
	pc.dialing = true
	go pc.dialLoop()
}

// dialLoop owns this peer's outbound connection for its entire lifetime: it
// dials, hands the connection to read/write loops, and on disconnect loops
// back to redial with backoff, until the peer is closed. There is exactly
// one dialLoop goroutine per tcpPeerConn, started once by ensureDialing.
func (pc *tcpPeerConn) dialLoop() {
	defer func() {
		pc.mu.Lock()
		pc.dialing = false
		pc.mu.Unlock()
	}()

	backoff := minBackoff
	for {
		pc.mu.Lock()
		closed := pc.closed
		pc.mu.Unlock()
		if closed {
			return
		}

		conn, err := net.DialTimeout("tcp", string(pc.addr), defaultDialTimeout)
		if err != nil {
			pc.log.Debug("transport: dial failed, backing off", "peer", string(pc.addr), "error", err, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-pc.die:
				return
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = minBackoff

		pc.mu.Lock()
		pc.conn = conn
		pc.mu.Unlock()
		go pc.readLoop(conn)
		pc.writeLoop(conn) // blocks until this conn dies, then we redial
	}
}

func (pc *tcpPeerConn) enqueue(frame []byte) error {
	select {
	case pc.outq <- frame:
		return nil
	default:
		return ErrDropped
	}
}

func (pc *tcpPeerConn) readLoop(conn net.Conn) {
	lenBuf := make([]byte, lengthPrefixSize)
	for {
		conn.SetReadDeadline(time.Now().Add(defaultReadTimeout))
		if _, err := io.ReadFull(conn, lenBuf); err != nil {
			pc.onConnLost(conn, err)
			return
		}
		n := binary.BigEndian.Uint32(lenBuf)
		if n == 0 || n > MaxFrameSize {
			pc.log.Warn("transport: rejecting frame", "peer", string(pc.addr), "length", n)
			pc.onConnLost(conn, ErrFrameTooLarge)
			return
		}
		body := make([]byte, n)
		conn.SetReadDeadline(time.Now().Add(defaultReadTimeout))
		if _, err := io.ReadFull(conn, body); err != nil {
			pc.onConnLost(conn, err)
			return
		}
		select {
		case pc.inbound <- Inbound{From: pc.addr, Data: body}:
		default:
			pc.log.Warn("transport: inbound queue full, dropping frame", "peer", string(pc.addr))
		}
	}
}

func (pc *tcpPeerConn) writeLoop(conn net.Conn) {
	lenBuf := make([]byte, lengthPrefixSize)
	for {
		select {
		case frame := <-pc.outq:
			binary.BigEndian.PutUint32(lenBuf, uint32(len(frame)))
			conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
			if _, err := conn.Write(lenBuf); err != nil {
				pc.onConnLost(conn, err)
				return
			}
			conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
			if _, err := conn.Write(frame); err != nil {
				pc.onConnLost(conn, err)
				return
			}
		case <-pc.die:
			return
		}
	}
}

// onConnLost drops the dead connection and, unless the peer is closing,
// restarts the dial loop so future Sends eventually reconnect.
func (pc *tcpPeerConn) onConnLost(conn net.Conn, err error) {
	_ = conn.Close()
	pc.mu.Lock()
	closed := pc.closed
	sameConn := pc.conn == conn
	if sameConn {
		pc.conn = nil
	}
	pc.mu.Unlock()
	if closed || !sameConn {
		return
	}
	pc.log.Debug("transport: connection lost", "peer", string(pc.addr), "error", err)
	pc.ensureDialing()
}

func (pc *tcpPeerConn) close() {
	pc.mu.Lock()
	if pc.closed {
		pc.mu.Unlock()
		return
	}
	pc.closed = true
	conn := pc.conn
	pc.conn = nil
	pc.mu.Unlock()
	close(pc.die)
	if conn != nil {
		_ = conn.Close()
	}
}
