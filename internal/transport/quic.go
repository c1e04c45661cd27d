package transport

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/idorocodes/qight/internal/errors"
)

// ALPN is the application protocol negotiated on every qight connection.
const ALPN = "qight"

// Options tunes the QUIC layer. Zero values fall back to quic-go defaults.
type Options struct {
	// MaxStreams caps concurrent incoming streams per connection.
	MaxStreams int64
	// IdleTimeout closes connections that carry no traffic for this long.
	IdleTimeout time.Duration
	// KeepAlive sends periodic pings so NAT bindings survive quiet spells.
	KeepAlive time.Duration
}

func quicConfig(opts Options) *quic.Config {
	return &quic.Config{
		MaxIncomingStreams: opts.MaxStreams,
		MaxIdleTimeout:     opts.IdleTimeout,
		KeepAlivePeriod:    opts.KeepAlive,
	}
}

// withALPN clones conf and ensures the qight protocol is offered.
func withALPN(conf *tls.Config) *tls.Config {
	if conf == nil {
		conf = &tls.Config{}
	}
	conf = conf.Clone()
	if len(conf.NextProtos) == 0 {
		conf.NextProtos = []string{ALPN}
	}
	return conf
}

// QUICListener accepts QUIC connections for the relay.
type QUICListener struct {
	ln *quic.Listener
}

// Listen binds a QUIC listener on the given UDP address.
func Listen(addr string, tlsConf *tls.Config, opts Options) (*QUICListener, error) {
	ln, err := quic.ListenAddr(addr, withALPN(tlsConf), quicConfig(opts))
	if err != nil {
		return nil, errors.NewTransportError("listen for quic connections", err)
	}
	return &QUICListener{ln: ln}, nil
}

// Accept blocks until the next connection completes its handshake.
func (l *QUICListener) Accept(ctx context.Context) (Conn, error) {
	conn, err := l.ln.Accept(ctx)
	if err != nil {
		return nil, errors.NewTransportError("accept quic connection", err)
	}
	return &quicConn{conn: conn}, nil
}

// Addr returns the listener's UDP address.
func (l *QUICListener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close stops the listener.
func (l *QUICListener) Close() error {
	return l.ln.Close()
}

// quicConn adapts *quic.Conn to the transport Conn interface.
type quicConn struct {
	conn *quic.Conn
}

func (c *quicConn) AcceptStream(ctx context.Context) (Stream, error) {
	s, err := c.conn.AcceptStream(ctx)
	if err != nil {
		return nil, errors.NewTransportError("accept stream", err).
			WithRemote(c.conn.RemoteAddr().String())
	}
	return quicStream{s: s}, nil
}

func (c *quicConn) OpenStream(ctx context.Context) (Stream, error) {
	s, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, errors.NewTransportError("open stream", err).
			WithRemote(c.conn.RemoteAddr().String())
	}
	return quicStream{s: s}, nil
}

func (c *quicConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *quicConn) CloseWithError(code uint64, reason string) error {
	return c.conn.CloseWithError(quic.ApplicationErrorCode(code), reason)
}

// quicStream narrows *quic.Stream to the transport Stream interface.
type quicStream struct {
	s *quic.Stream
}

func (st quicStream) Read(p []byte) (int, error)  { return st.s.Read(p) }
func (st quicStream) Write(p []byte) (int, error) { return st.s.Write(p) }

// Close closes the send direction; the peer reads EOF.
func (st quicStream) Close() error { return st.s.Close() }

func (st quicStream) CancelRead(code uint64) {
	st.s.CancelRead(quic.StreamErrorCode(code))
}

// QUICDialer opens client connections over QUIC.
type QUICDialer struct {
	tlsConf *tls.Config
	opts    Options
}

// NewQUICDialer creates a dialer with the given TLS configuration.
func NewQUICDialer(tlsConf *tls.Config, opts Options) *QUICDialer {
	return &QUICDialer{tlsConf: tlsConf, opts: opts}
}

// Dial connects to a relay at the given UDP address.
func (d *QUICDialer) Dial(ctx context.Context, addr string) (Conn, error) {
	conn, err := quic.DialAddr(ctx, addr, withALPN(d.tlsConf), quicConfig(d.opts))
	if err != nil {
		return nil, errors.NewTransportError("dial relay", err).WithRemote(addr)
	}
	return &quicConn{conn: conn}, nil
}
