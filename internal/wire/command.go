package wire

import "github.com/idorocodes/qight/internal/envelope"

// Command tags. The tag space is closed; decoding any other value is a
// protocol error.
const (
	TagHello byte = 0x01
	TagSend  byte = 0x02
	TagFetch byte = 0x03
	TagAck   byte = 0x04
	TagClose byte = 0x05
)

// Command is one of the five client commands. The interface is sealed: only
// Hello, Send, Fetch, Ack, and Close implement it, so a type switch over
// commands is exhaustive.
type Command interface {
	// Name returns the command name for logging ("HELLO", "SEND", ...).
	Name() string

	tag() byte
}

// Hello declares the client's identity and opens the session.
type Hello struct {
	ClientID string
}

func (Hello) Name() string { return "HELLO" }
func (Hello) tag() byte    { return TagHello }

// Send queues an envelope into the recipient's mailbox.
type Send struct {
	Envelope envelope.Envelope
}

func (Send) Name() string { return "SEND" }
func (Send) tag() byte    { return TagSend }

// Fetch requests the live contents of a mailbox.
type Fetch struct {
	Recipient string
}

func (Fetch) Name() string { return "FETCH" }
func (Fetch) tag() byte    { return TagFetch }

// Ack acknowledges delivery of a message in the session's own mailbox.
type Ack struct {
	MsgID string
}

func (Ack) Name() string { return "ACK" }
func (Ack) tag() byte    { return TagAck }

// Close ends the session. Reason may be empty.
type Close struct {
	Reason string
}

func (Close) Name() string { return "CLOSE" }
func (Close) tag() byte    { return TagClose }

// EncodeCommand encodes a command into a frame body.
func EncodeCommand(cmd Command) ([]byte, error) {
	switch c := cmd.(type) {
	case Hello:
		if err := checkIdentifier("client_id", c.ClientID); err != nil {
			return nil, err
		}
		body := make([]byte, 0, 3+len(c.ClientID))
		body = append(body, TagHello)
		return appendStr16(body, c.ClientID), nil

	case Send:
		env, err := encodeEnvelopeFields(c.Envelope)
		if err != nil {
			return nil, err
		}
		body := make([]byte, 0, 1+len(env))
		body = append(body, TagSend)
		return append(body, env...), nil

	case Fetch:
		if err := checkIdentifier("recipient", c.Recipient); err != nil {
			return nil, err
		}
		body := make([]byte, 0, 3+len(c.Recipient))
		body = append(body, TagFetch)
		return appendStr16(body, c.Recipient), nil

	case Ack:
		if err := checkIdentifier("msg_id", c.MsgID); err != nil {
			return nil, err
		}
		body := make([]byte, 0, 3+len(c.MsgID))
		body = append(body, TagAck)
		return appendStr16(body, c.MsgID), nil

	case Close:
		if err := checkIdentifier("reason", c.Reason); err != nil {
			return nil, err
		}
		body := make([]byte, 0, 3+len(c.Reason))
		body = append(body, TagClose)
		return appendStr16(body, c.Reason), nil

	default:
		return nil, decodeErr("tag", ErrMalformed)
	}
}

// DecodeCommand decodes a frame body into a command. An empty body, an
// unknown tag, or trailing bytes after the last field fail with a
// DecodeError.
func DecodeCommand(body []byte) (Command, error) {
	if len(body) == 0 {
		return nil, decodeErr("command", ErrMalformed)
	}

	r := &reader{buf: body}
	tag, err := r.u8("tag")
	if err != nil {
		return nil, err
	}

	switch tag {
	case TagHello:
		id, err := r.identifier("client_id")
		if err != nil {
			return nil, err
		}
		if err := r.done(); err != nil {
			return nil, err
		}
		return Hello{ClientID: id}, nil

	case TagSend:
		env, err := decodeEnvelopeFields(r)
		if err != nil {
			return nil, err
		}
		if err := r.done(); err != nil {
			return nil, err
		}
		return Send{Envelope: env}, nil

	case TagFetch:
		recipient, err := r.identifier("recipient")
		if err != nil {
			return nil, err
		}
		if err := r.done(); err != nil {
			return nil, err
		}
		return Fetch{Recipient: recipient}, nil

	case TagAck:
		msgID, err := r.identifier("msg_id")
		if err != nil {
			return nil, err
		}
		if err := r.done(); err != nil {
			return nil, err
		}
		return Ack{MsgID: msgID}, nil

	case TagClose:
		reason, err := r.str("reason")
		if err != nil {
			return nil, err
		}
		if err := r.done(); err != nil {
			return nil, err
		}
		return Close{Reason: reason}, nil

	default:
		return nil, decodeErr("tag", ErrMalformed)
	}
}
