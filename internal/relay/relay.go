// Package relay runs the accept loop that ties the transport to the
// session state machine and the mailbox store.
//
// Every connection gets one session and one handler goroutine from a
// bounded pool; every stream of the connection gets a ServeStream goroutine
// of its own. A panicking stream handler ends its session, never the relay.
package relay

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"

	"github.com/idorocodes/qight/internal/config"
	"github.com/idorocodes/qight/internal/errors"
	"github.com/idorocodes/qight/internal/event"
	"github.com/idorocodes/qight/internal/logging"
	"github.com/idorocodes/qight/internal/session"
	"github.com/idorocodes/qight/internal/store"
	"github.com/idorocodes/qight/internal/transport"
)

// Application close codes reported through CloseWithError.
const (
	// CloseCodeBye ends a connection whose session closed cleanly.
	CloseCodeBye uint64 = 0
	// CloseCodeProtocol ends a connection after a protocol violation.
	CloseCodeProtocol uint64 = 1
	// CloseCodeShutdown ends a connection because the relay is going away.
	CloseCodeShutdown uint64 = 2
)

// Relay accepts transport connections and serves the mailbox protocol on
// them.
type Relay struct {
	cfg   config.Config
	store *store.Store
	log   *logging.Logger
	bus   *event.Bus

	params           session.Params
	handshakeTimeout time.Duration
	sweepInterval    time.Duration
	maxSessions      int

	mu      sync.Mutex
	ln      transport.Listener
	conns   map[transport.Conn]struct{}
	serving bool
	closing bool

	active  atomic.Int64
	started time.Time
	done    chan struct{}
}

// New creates a relay over the given store. A nil logger logs nowhere; a
// nil bus publishes nothing.
func New(cfg config.Config, st *store.Store, log *logging.Logger, bus *event.Bus) *Relay {
	if log == nil {
		log = logging.NopLogger()
	}
	maxSessions := cfg.Relay.MaxSessions
	if maxSessions <= 0 {
		maxSessions = config.Default().Relay.MaxSessions
	}

	return &Relay{
		cfg:   cfg,
		store: st,
		log:   log.WithComponent("relay"),
		bus:   bus,
		params: session.Params{
			MaxFrameBytes:      uint32(cfg.Limits.MaxFrameBytes),
			MaxIdentifierBytes: cfg.Limits.MaxIdentifierBytes,
			EnforceSender:      cfg.Relay.EnforceSender,
			Welcome:            cfg.Relay.Welcome,
		},
		handshakeTimeout: cfg.Relay.HandshakeTimeout(),
		sweepInterval:    cfg.Store.SweepInterval(),
		maxSessions:      maxSessions,
		conns:            make(map[transport.Conn]struct{}),
		started:          time.Now(),
		done:             make(chan struct{}),
	}
}

// Addr returns the listener address, or nil before Serve.
func (r *Relay) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ln == nil {
		return nil
	}
	return r.ln.Addr()
}

// ActiveSessions returns the number of connections currently being served.
func (r *Relay) ActiveSessions() int {
	return int(r.active.Load())
}

// StartedAt returns when the relay was created.
func (r *Relay) StartedAt() time.Time {
	return r.started
}

// Serve runs the accept loop on ln until the listener closes, the context
// is canceled, or Shutdown is called. It returns after every connection
// handler has finished.
func (r *Relay) Serve(ctx context.Context, ln transport.Listener) error {
	r.mu.Lock()
	if r.serving {
		r.mu.Unlock()
		return errors.New("relay already serving")
	}
	if r.closing {
		r.mu.Unlock()
		return errors.New("relay closed")
	}
	r.serving = true
	r.ln = ln
	r.mu.Unlock()

	defer close(r.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.log.Info("relay serving",
		"addr", ln.Addr().String(),
		"max_sessions", r.maxSessions,
		"delivery", r.store.Mode().String())

	var background conc.WaitGroup
	if r.sweepInterval > 0 {
		background.Go(func() { r.sweepLoop(ctx) })
	}

	handlers := pool.New().WithMaxGoroutines(r.maxSessions)
	var serveErr error
	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() == nil && !r.isClosing() {
				serveErr = err
				r.log.Error("accept failed", "error", err)
			}
			break
		}
		handlers.Go(func() { r.handleConn(ctx, conn) })
	}

	cancel()
	handlers.Wait()
	background.Wait()
	r.log.Info("relay stopped")
	return serveErr
}

// Shutdown stops accepting, notifies live connections with the shutdown
// close code, and waits for connection handlers up to the context deadline.
func (r *Relay) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.closing {
		serving := r.serving
		r.mu.Unlock()
		if !serving {
			return nil
		}
		select {
		case <-r.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.closing = true
	ln := r.ln
	serving := r.serving
	conns := make([]transport.Conn, 0, len(r.conns))
	for c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	r.log.Info("relay shutting down", "connections", len(conns))
	if ln != nil {
		_ = ln.Close()
	}
	for _, c := range conns {
		_ = c.CloseWithError(CloseCodeShutdown, "server shutdown")
	}

	if !serving {
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Relay) isClosing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closing
}

func (r *Relay) track(conn transport.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conn] = struct{}{}
}

func (r *Relay) untrack(conn transport.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, conn)
}

// handleConn owns one connection: it creates the session, fans streams out
// to ServeStream goroutines, and reports how the session ended.
func (r *Relay) handleConn(ctx context.Context, conn transport.Conn) {
	id := uuid.NewString()
	remote := conn.RemoteAddr().String()

	sess := session.New(id, r.store, r.params,
		session.WithLogger(r.log),
		session.WithBus(r.bus),
		session.WithRemote(remote),
	)

	r.track(conn)
	defer r.untrack(conn)
	r.active.Add(1)
	defer r.active.Add(-1)

	r.log.Info("connection accepted", "session_id", id, "remote", remote)
	if r.bus != nil {
		r.bus.Publish(event.NewSessionOpenedEvent(id, remote))
	}

	sess.Begin()

	if r.handshakeTimeout > 0 {
		timer := time.AfterFunc(r.handshakeTimeout, func() {
			switch sess.State() {
			case session.StateReady, session.StateClosed:
				return
			default:
				sess.Close("handshake timeout")
				_ = conn.CloseWithError(CloseCodeProtocol, "handshake timeout")
			}
		})
		defer timer.Stop()
	}

	var streams conc.WaitGroup
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			break
		}
		streams.Go(func() { r.serveStream(ctx, sess, conn, stream) })
	}
	streams.Wait()

	// The accept loop exited: the peer hung up, a handler closed the
	// connection, or the relay is going away.
	if r.isClosing() || ctx.Err() != nil {
		sess.Close("server shutdown")
		_ = conn.CloseWithError(CloseCodeShutdown, "server shutdown")
	} else {
		sess.Close("disconnected")
		_ = conn.CloseWithError(CloseCodeBye, "bye")
	}
	r.log.Info("connection finished", "session_id", id, "client_id", sess.ClientID())
}

func (r *Relay) serveStream(ctx context.Context, sess *session.Session, conn transport.Conn, stream transport.Stream) {
	defer func() { _ = stream.Close() }()

	var catcher panics.Catcher
	var serveErr error
	catcher.Try(func() { serveErr = sess.ServeStream(ctx, stream) })

	if rec := catcher.Recovered(); rec != nil {
		r.log.Error("stream handler panicked",
			"session_id", sess.ID(), "panic", rec.Value, "stack", string(rec.Stack))
		sess.Close("internal error")
		_ = conn.CloseWithError(CloseCodeShutdown, "internal error")
		return
	}

	switch {
	case serveErr == nil:
		if sess.State() == session.StateClosed {
			_ = conn.CloseWithError(CloseCodeBye, "bye")
		}
	case errors.IsProtocol(serveErr):
		_ = conn.CloseWithError(CloseCodeProtocol, "protocol error")
	default:
		if ctx.Err() == nil {
			r.log.Debug("stream ended", "session_id", sess.ID(), "error", serveErr)
		}
	}
}

func (r *Relay) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	r.log.Debug("sweep loop running", "interval", r.sweepInterval.String())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.store.SweepExpired()
		}
	}
}
