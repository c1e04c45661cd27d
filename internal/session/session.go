// Package session implements the per-connection command state machine.
//
// The dispatcher creates one Session per transport connection; every stream
// the connection opens shares it. Each stream runs ServeStream, and dispatch
// serializes command handling under the session mutex, so commands from
// concurrent streams reach the store one at a time.
package session

import (
	"context"
	"io"
	"sync"

	"github.com/idorocodes/qight/internal/errors"
	"github.com/idorocodes/qight/internal/event"
	"github.com/idorocodes/qight/internal/logging"
	"github.com/idorocodes/qight/internal/store"
	"github.com/idorocodes/qight/internal/wire"
)

// Params carries the per-session limits and policy knobs. The dispatcher
// fills it from the relay configuration.
type Params struct {
	// MaxFrameBytes bounds the body size of a single inbound frame.
	MaxFrameBytes uint32

	// MaxIdentifierBytes bounds client_id and envelope identifier fields.
	MaxIdentifierBytes int

	// EnforceSender requires the envelope sender of every SEND to match the
	// identity declared by HELLO.
	EnforceSender bool

	// Welcome controls whether the HELLO acknowledgment carries a greeting
	// in its detail field.
	Welcome bool
}

// DefaultParams returns the params used when the configuration does not
// override them.
func DefaultParams() Params {
	return Params{
		MaxFrameBytes:      wire.DefaultMaxFrameBytes,
		MaxIdentifierBytes: wire.MaxIdentifierBytes,
		EnforceSender:      true,
		Welcome:            true,
	}
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger. The session logs through a no-op logger when
// none is provided.
func WithLogger(log *logging.Logger) Option {
	return func(s *Session) {
		s.log = log
	}
}

// WithBus sets the event bus session lifecycle events are published on.
func WithBus(bus *event.Bus) Option {
	return func(s *Session) {
		s.bus = bus
	}
}

// WithRemote records the remote address for logging.
func WithRemote(addr string) Option {
	return func(s *Session) {
		s.remote = addr
	}
}

// Session is the shared state of one transport connection. All streams of
// the connection dispatch through it; the mutex guards the state machine
// and serializes command handling.
type Session struct {
	id     string
	remote string
	store  *store.Store
	params Params
	log    *logging.Logger
	bus    *event.Bus

	mu       sync.Mutex
	state    State
	clientID string
}

// New creates a session in StateConnecting. Zero limit fields in params
// fall back to the wire defaults.
func New(id string, st *store.Store, params Params, opts ...Option) *Session {
	if params.MaxFrameBytes == 0 {
		params.MaxFrameBytes = wire.DefaultMaxFrameBytes
	}
	if params.MaxIdentifierBytes == 0 {
		params.MaxIdentifierBytes = wire.MaxIdentifierBytes
	}

	s := &Session{
		id:     id,
		store:  st,
		params: params,
		state:  StateConnecting,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.log == nil {
		s.log = logging.NopLogger()
	}
	s.log = s.log.WithComponent("session").WithSession(id)
	if s.remote != "" {
		s.log = s.log.With("remote", s.remote)
	}
	return s
}

// ID returns the session identifier assigned by the dispatcher.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ClientID returns the identity declared by HELLO, or "" before the
// handshake completes.
func (s *Session) ClientID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientID
}

// Begin moves the session from Connecting to AwaitingHello. The dispatcher
// calls it once it starts accepting streams for the connection.
func (s *Session) Begin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateConnecting {
		s.state = StateAwaitingHello
	}
}

// Close transitions the session to Closed and publishes the closed event.
// Calling Close on a closed session is a no-op, so the dispatcher and the
// CLOSE handler can both call it without double-reporting.
func (s *Session) Close(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked(reason)
}

func (s *Session) closeLocked(reason string) {
	if s.state == StateClosed {
		return
	}
	s.state = StateClosed
	s.log.Info("session closed", "client_id", s.clientID, "reason", reason)
	if s.bus != nil {
		s.bus.Publish(event.NewSessionClosedEvent(s.id, s.clientID, reason))
	}
}

// ServeStream runs the frame loop for one transport stream: read a frame,
// decode the command, dispatch it, write the response. It returns nil on a
// clean CLOSE or EOF and a ProtocolError when the peer violated the
// protocol and the connection must come down. Context cancellation is
// observed between frames; the dispatcher unblocks a pending read by
// closing the connection.
func (s *Session) ServeStream(ctx context.Context, rw io.ReadWriter) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.State() == StateClosed {
			return nil
		}

		body, err := wire.ReadFrame(rw, s.params.MaxFrameBytes)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if s.State() == StateClosed {
				// The connection came down with the session.
				return nil
			}
			perr := errors.NewProtocolError("unreadable frame", err).WithSessionID(s.id)
			s.fail(rw, perr)
			return perr
		}

		cmd, err := wire.DecodeCommand(body)
		if err != nil {
			perr := errors.NewProtocolError("malformed command", err).WithSessionID(s.id)
			s.fail(rw, perr)
			return perr
		}

		done, err := s.dispatch(cmd, rw)
		if err != nil || done {
			return err
		}
	}
}

// dispatch routes one decoded command. It returns done=true when the stream
// loop should exit and a non-nil error when the session failed. The command
// set is sealed in the wire package, so the switch covers every case;
// the default arm only fires if a command is added there without a handler
// here.
func (s *Session) dispatch(cmd wire.Command, rw io.ReadWriter) (done bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return true, nil
	}

	switch c := cmd.(type) {
	case wire.Hello:
		return s.handleHello(c, rw)
	case wire.Send:
		return s.handleSend(c, rw)
	case wire.Fetch:
		return s.handleFetch(c, rw)
	case wire.Ack:
		return s.handleAck(c, rw)
	case wire.Close:
		return s.handleClose(c, rw)
	default:
		perr := errors.NewProtocolError("unknown command", errors.ErrUnknownCommand).
			WithSessionID(s.id).WithCommand(cmd.Name())
		s.failLocked(rw, perr)
		return true, perr
	}
}

func (s *Session) handleHello(c wire.Hello, rw io.ReadWriter) (bool, error) {
	if s.state == StateReady {
		perr := errors.NewProtocolError("hello repeated", errors.ErrAlreadyIdentified).
			WithSessionID(s.id).WithCommand(c.Name())
		s.failLocked(rw, perr)
		return true, perr
	}

	if c.ClientID == "" {
		s.writeStatus(rw, wire.StatusFromError(
			errors.NewValidationError("field is required").WithField("client_id")))
		return false, nil
	}
	if len(c.ClientID) > s.params.MaxIdentifierBytes {
		s.writeStatus(rw, wire.StatusFromError(
			errors.NewValidationError("identifier exceeds length limit").
				WithField("client_id").
				WithCause(errors.ErrIdentifierTooLong)))
		return false, nil
	}

	s.clientID = c.ClientID
	s.state = StateReady
	s.log.Info("session identified", "client_id", c.ClientID)

	detail := ""
	if s.params.Welcome {
		detail = "welcome, " + c.ClientID
	}
	s.writeStatus(rw, wire.Status{Code: wire.CodeOK, Detail: detail})
	return false, nil
}

func (s *Session) handleSend(c wire.Send, rw io.ReadWriter) (bool, error) {
	if s.state != StateReady {
		return s.helloRequired(c, rw)
	}

	env := c.Envelope
	if err := env.Validate(s.params.MaxIdentifierBytes, int(s.params.MaxFrameBytes)); err != nil {
		s.writeStatus(rw, wire.StatusFromError(err))
		return false, nil
	}
	if s.params.EnforceSender && env.Sender != s.clientID {
		err := errors.NewValidationError("unauthorized sender").
			WithField("sender").
			WithCause(errors.ErrUnauthorizedSender)
		s.log.Warn("send rejected",
			"msg_id", env.MsgID, "sender", env.Sender, "recipient", env.Recipient)
		s.writeStatus(rw, wire.StatusFromError(err))
		return false, nil
	}

	if err := s.store.Enqueue(env); err != nil {
		s.log.Debug("enqueue rejected", "msg_id", env.MsgID, "error", err)
		s.writeStatus(rw, wire.StatusFromError(err))
		return false, nil
	}

	s.log.Debug("message accepted",
		"msg_id", env.MsgID, "recipient", env.Recipient, "bytes", len(env.Payload))
	s.writeStatus(rw, wire.Status{Code: wire.CodeOK})
	return false, nil
}

func (s *Session) handleFetch(c wire.Fetch, rw io.ReadWriter) (bool, error) {
	if s.state != StateReady {
		return s.helloRequired(c, rw)
	}

	msgs := s.store.Fetch(c.Recipient)
	for _, env := range msgs {
		body, err := wire.EncodeEnvelope(env)
		if err != nil {
			return false, err
		}
		if err := wire.WriteFrame(rw, body); err != nil {
			return false, err
		}
	}
	if err := wire.WriteSentinel(rw); err != nil {
		return false, err
	}

	s.log.Debug("mailbox fetched", "recipient", c.Recipient, "messages", len(msgs))
	return false, nil
}

func (s *Session) handleAck(c wire.Ack, rw io.ReadWriter) (bool, error) {
	if s.state != StateReady {
		return s.helloRequired(c, rw)
	}

	// ACK applies to the session's own mailbox and acknowledges a message
	// that may already be gone, so the answer is OK either way.
	removed := s.store.Ack(s.clientID, c.MsgID)
	s.log.Debug("message acked", "msg_id", c.MsgID, "removed", removed)
	s.writeStatus(rw, wire.Status{Code: wire.CodeOK})
	return false, nil
}

// handleClose accepts CLOSE in any pre-Closed state: a client hanging up
// before HELLO is a clean exit, not a violation.
func (s *Session) handleClose(c wire.Close, rw io.ReadWriter) (bool, error) {
	s.writeStatus(rw, wire.Status{Code: wire.CodeOK})

	reason := c.Reason
	if reason == "" {
		reason = "bye"
	}
	s.closeLocked(reason)
	return true, nil
}

// helloRequired reports the pre-handshake protocol violation and fails the
// session.
func (s *Session) helloRequired(cmd wire.Command, rw io.ReadWriter) (bool, error) {
	perr := errors.NewProtocolError("command before hello", errors.ErrHelloRequired).
		WithSessionID(s.id).WithCommand(cmd.Name())
	s.failLocked(rw, perr)
	return true, perr
}

func (s *Session) fail(rw io.ReadWriter, perr *errors.ProtocolError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failLocked(rw, perr)
}

func (s *Session) failLocked(rw io.ReadWriter, perr *errors.ProtocolError) {
	s.writeStatus(rw, wire.StatusFromError(perr))
	s.log.Warn("session failed", "error", perr)
	s.closeLocked("protocol error")
}

// writeStatus writes a status frame, swallowing write failures: if the
// stream is gone there is nobody left to tell.
func (s *Session) writeStatus(w io.Writer, st wire.Status) {
	if err := wire.WriteFrame(w, wire.EncodeStatus(st)); err != nil {
		s.log.Debug("status write failed", "code", st.Code, "error", err)
	}
}
