// Package transport abstracts the relay's connection layer.
//
// The relay and client are written against the Listener, Conn and Stream
// interfaces; the QUIC implementation carries production traffic while the
// memory implementation backs deterministic tests. A connection multiplexes
// any number of bidirectional streams, and closing a connection carries an
// application code and reason to the peer.
package transport

import (
	"context"
	"io"
	"net"
)

// Listener accepts incoming connections.
type Listener interface {
	// Accept blocks until the next connection arrives or ctx is done.
	Accept(ctx context.Context) (Conn, error)

	// Addr returns the listener's bound address.
	Addr() net.Addr

	// Close stops the listener. Pending Accept calls return an error.
	Close() error
}

// Conn is one peer connection carrying multiplexed streams.
type Conn interface {
	// AcceptStream blocks until the peer opens a stream or ctx is done.
	AcceptStream(ctx context.Context) (Stream, error)

	// OpenStream opens a new bidirectional stream to the peer.
	OpenStream(ctx context.Context) (Stream, error)

	// RemoteAddr returns the peer's address.
	RemoteAddr() net.Addr

	// CloseWithError tears down the connection, conveying an application
	// code and reason to the peer.
	CloseWithError(code uint64, reason string) error
}

// Stream is one bidirectional byte stream within a connection.
type Stream interface {
	io.Reader
	io.Writer

	// Close closes the sending side; the peer reads EOF after consuming
	// buffered data.
	Close() error

	// CancelRead abandons the receiving side, discarding buffered data.
	CancelRead(code uint64)
}

// Dialer opens client connections.
type Dialer interface {
	Dial(ctx context.Context, addr string) (Conn, error)
}
