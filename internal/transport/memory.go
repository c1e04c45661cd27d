package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/idorocodes/qight/internal/errors"
)

// memAddr is the placeholder address of the in-process transport.
type memAddr struct{}

func (memAddr) Network() string { return "mem" }
func (memAddr) String() string  { return "mem" }

// MemListener is an in-process Listener for tests. Connections are plain
// pipe pairs with no handshake, so tests exercise the relay and client
// without sockets.
type MemListener struct {
	conns chan *MemConn
	done  chan struct{}
	once  sync.Once
}

// NewMemListener creates an in-process listener.
func NewMemListener() *MemListener {
	return &MemListener{
		conns: make(chan *MemConn, 16),
		done:  make(chan struct{}),
	}
}

// Accept returns the next dialed connection.
func (l *MemListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case conn := <-l.conns:
		return conn, nil
	case <-l.done:
		return nil, errors.NewTransportError("listener closed", nil)
	case <-ctx.Done():
		return nil, errors.NewTransportError("accept canceled", ctx.Err())
	}
}

// Addr returns the in-process placeholder address.
func (l *MemListener) Addr() net.Addr { return memAddr{} }

// Close stops the listener.
func (l *MemListener) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}

// Dialer returns a Dialer whose connections arrive at this listener.
func (l *MemListener) Dialer() Dialer { return memDialer{l: l} }

type memDialer struct {
	l *MemListener
}

func (d memDialer) Dial(ctx context.Context, addr string) (Conn, error) {
	// A buffered send can win the select below even after Close.
	select {
	case <-d.l.done:
		return nil, errors.NewTransportError("listener closed", nil)
	default:
	}

	client, server := NewMemConnPair()
	select {
	case d.l.conns <- server:
		return client, nil
	case <-d.l.done:
		return nil, errors.NewTransportError("listener closed", nil)
	case <-ctx.Done():
		return nil, errors.NewTransportError("dial canceled", ctx.Err())
	}
}

// MemConn is one end of an in-process connection pair.
type MemConn struct {
	peer     *MemConn
	incoming chan Stream
	done     chan struct{}
	once     sync.Once

	mu      sync.Mutex
	streams []*memStream
	code    uint64
	reason  string
	closed  bool
}

// NewMemConnPair creates two connected MemConns. Streams opened on one end
// are accepted on the other.
func NewMemConnPair() (client, server *MemConn) {
	a := &MemConn{incoming: make(chan Stream, 16), done: make(chan struct{})}
	b := &MemConn{incoming: make(chan Stream, 16), done: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

// OpenStream opens a stream; the peer receives the other end via AcceptStream.
func (c *MemConn) OpenStream(ctx context.Context) (Stream, error) {
	local, remote := net.Pipe()
	ls := &memStream{Conn: local}
	rs := &memStream{Conn: remote}

	select {
	case c.peer.incoming <- rs:
	case <-c.done:
		return nil, c.closeErr()
	case <-c.peer.done:
		return nil, c.peer.closeErr()
	case <-ctx.Done():
		return nil, errors.NewTransportError("open stream canceled", ctx.Err())
	}

	c.track(ls)
	c.peer.track(rs)
	return ls, nil
}

// AcceptStream returns the next stream the peer opened.
func (c *MemConn) AcceptStream(ctx context.Context) (Stream, error) {
	select {
	case s := <-c.incoming:
		return s, nil
	case <-c.done:
		return nil, c.closeErr()
	case <-ctx.Done():
		return nil, errors.NewTransportError("accept stream canceled", ctx.Err())
	}
}

// RemoteAddr returns the in-process placeholder address.
func (c *MemConn) RemoteAddr() net.Addr { return memAddr{} }

// CloseWithError closes both ends of the connection and records the
// application code and reason, which the peer can observe via CloseInfo.
func (c *MemConn) CloseWithError(code uint64, reason string) error {
	c.close(code, reason)
	c.peer.close(code, reason)
	return nil
}

// CloseInfo reports the application code and reason the connection was
// closed with. closed is false while the connection is still open.
func (c *MemConn) CloseInfo() (code uint64, reason string, closed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code, c.reason, c.closed
}

func (c *MemConn) close(code uint64, reason string) {
	c.once.Do(func() {
		c.mu.Lock()
		c.code, c.reason = code, reason
		c.closed = true
		streams := make([]*memStream, len(c.streams))
		copy(streams, c.streams)
		c.mu.Unlock()

		close(c.done)
		for _, s := range streams {
			_ = s.Close()
		}
	})
}

func (c *MemConn) track(s *memStream) {
	c.mu.Lock()
	c.streams = append(c.streams, s)
	c.mu.Unlock()
}

func (c *MemConn) closeErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return errors.NewTransportError(
		fmt.Sprintf("connection closed (code %d): %s", c.code, c.reason), nil).
		WithRemote(memAddr{}.String())
}

// memStream is a pipe-backed stream. CancelRead tears down the whole pipe;
// the in-process transport has no half-close.
type memStream struct {
	net.Conn
}

func (s *memStream) CancelRead(code uint64) { _ = s.Conn.Close() }
