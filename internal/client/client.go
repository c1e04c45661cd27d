// Package client is the library half of the relay protocol: it dials a
// relay, identifies with HELLO and issues SEND, FETCH, ACK and CLOSE on
// dedicated streams.
//
// Identity lives on the connection. Hello must succeed before Send, Fetch
// or Ack; the relay drops the whole connection when an unidentified peer
// issues anything else, so the Client refuses those calls locally instead
// of burning the connection. Methods are safe for concurrent use.
package client

import (
	"context"
	"sync"
	"time"

	"github.com/idorocodes/qight/internal/envelope"
	"github.com/idorocodes/qight/internal/errors"
	"github.com/idorocodes/qight/internal/logging"
	"github.com/idorocodes/qight/internal/transport"
	"github.com/idorocodes/qight/internal/wire"
)

// closeGrace bounds the polite CLOSE exchange during Close.
const closeGrace = 3 * time.Second

// Client is one connection to a relay.
type Client struct {
	conn     transport.Conn
	log      *logging.Logger
	maxFrame uint32

	mu       sync.Mutex
	clientID string
	closed   bool
}

// Dial connects to the relay at addr. Without WithDialer the connection is
// QUIC with TLS assembled from WithTLSConfig, WithCAFile or WithInsecure.
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logging.NopLogger()
	}

	dialer := o.dialer
	if dialer == nil {
		tlsConf := o.tlsConf
		if tlsConf == nil {
			var err error
			tlsConf, err = transport.ClientTLSConfig(o.caFile, o.insecure)
			if err != nil {
				return nil, err
			}
		}
		dialer = transport.NewQUICDialer(tlsConf, o.transportOpts)
	}

	conn, err := dialer.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}

	log := o.log.WithComponent("client")
	log.Debug("connected", "addr", addr, "remote", conn.RemoteAddr().String())
	return &Client{conn: conn, log: log, maxFrame: o.maxFrameBytes}, nil
}

// ClientID returns the identity established by Hello, or "" before it.
func (c *Client) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// Hello identifies the connection as clientID. The relay treats a repeated
// HELLO as a protocol violation, so Hello refuses to run twice.
func (c *Client) Hello(ctx context.Context, clientID string) error {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return errors.ErrSessionClosed
	case c.clientID != "":
		c.mu.Unlock()
		return errors.NewProtocolError("connection already identified", errors.ErrAlreadyIdentified).
			WithCommand("HELLO")
	}
	c.mu.Unlock()

	st, err := c.roundTrip(ctx, wire.Hello{ClientID: clientID})
	if err != nil {
		return err
	}
	if err := wire.ErrorFromStatus(st); err != nil {
		return err
	}

	c.mu.Lock()
	c.clientID = clientID
	c.mu.Unlock()
	c.log.Debug("identified", "client_id", clientID, "welcome", st.Detail)
	return nil
}

// Send queues env with the relay. Unless the relay permits spoofing, the
// envelope's sender must match the identity established by Hello.
func (c *Client) Send(ctx context.Context, env envelope.Envelope) error {
	if err := c.ready("SEND"); err != nil {
		return err
	}
	st, err := c.roundTrip(ctx, wire.Send{Envelope: env})
	if err != nil {
		return err
	}
	if err := wire.ErrorFromStatus(st); err != nil {
		return err
	}
	c.log.Debug("message sent", "msg_id", env.MsgID, "recipient", env.Recipient)
	return nil
}

// Fetch drains recipient's mailbox and returns the live envelopes in
// enqueue order. An empty mailbox yields no envelopes and no error.
func (c *Client) Fetch(ctx context.Context, recipient string) ([]envelope.Envelope, error) {
	if err := c.ready("FETCH"); err != nil {
		return nil, err
	}

	body, err := wire.EncodeCommand(wire.Fetch{Recipient: recipient})
	if err != nil {
		return nil, err
	}
	stream, err := c.conn.OpenStream(ctx)
	if err != nil {
		return nil, errors.NewTransportError("open stream", err)
	}
	defer stream.Close()

	if err := wire.WriteFrame(stream, body); err != nil {
		return nil, errors.NewTransportError("write fetch", err)
	}

	// Zero or more envelope frames, ended by a zero-length sentinel. A
	// status frame replaces the sequence when the command itself failed.
	var msgs []envelope.Envelope
	for {
		frame, err := wire.ReadFrame(stream, c.maxFrame)
		if err != nil {
			return nil, errors.NewTransportError("read mailbox", err)
		}
		if len(frame) == 0 {
			break
		}
		if wire.IsStatus(frame) {
			st, err := wire.DecodeStatus(frame)
			if err != nil {
				return nil, err
			}
			return nil, wire.ErrorFromStatus(st)
		}
		env, err := wire.DecodeEnvelope(frame)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, env)
	}

	c.log.Debug("mailbox fetched", "recipient", recipient, "messages", len(msgs))
	return msgs, nil
}

// Ack removes msgID from the caller's own mailbox. Acking a message that
// was never there, or that already expired, still succeeds.
func (c *Client) Ack(ctx context.Context, msgID string) error {
	if err := c.ready("ACK"); err != nil {
		return err
	}
	st, err := c.roundTrip(ctx, wire.Ack{MsgID: msgID})
	if err != nil {
		return err
	}
	if err := wire.ErrorFromStatus(st); err != nil {
		return err
	}
	c.log.Debug("message acked", "msg_id", msgID)
	return nil
}

// Close says goodbye and tears the connection down. The CLOSE command is
// best effort; the connection closes either way. An empty reason becomes
// "done". Close is idempotent.
func (c *Client) Close(reason string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if reason == "" {
		reason = "done"
	}

	ctx, cancel := context.WithTimeout(context.Background(), closeGrace)
	defer cancel()
	if _, err := c.roundTrip(ctx, wire.Close{Reason: reason}); err != nil {
		c.log.Debug("close command failed", "error", err)
	}

	err := c.conn.CloseWithError(0, reason)
	c.log.Debug("connection closed", "reason", reason)
	return err
}

// ready refuses commands before Hello and after Close.
func (c *Client) ready(cmd string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.ErrSessionClosed
	}
	if c.clientID == "" {
		return errors.NewProtocolError("identify with hello first", errors.ErrHelloRequired).
			WithCommand(cmd)
	}
	return nil
}

// roundTrip issues cmd on a fresh stream and decodes the status reply.
func (c *Client) roundTrip(ctx context.Context, cmd wire.Command) (wire.Status, error) {
	body, err := wire.EncodeCommand(cmd)
	if err != nil {
		return wire.Status{}, err
	}

	stream, err := c.conn.OpenStream(ctx)
	if err != nil {
		return wire.Status{}, errors.NewTransportError("open stream", err)
	}
	defer stream.Close()

	if err := wire.WriteFrame(stream, body); err != nil {
		return wire.Status{}, errors.NewTransportError("write command", err)
	}
	reply, err := wire.ReadFrame(stream, c.maxFrame)
	if err != nil {
		return wire.Status{}, errors.NewTransportError("read reply", err)
	}
	return wire.DecodeStatus(reply)
}
