package wire

import (
	"encoding/binary"

	"github.com/idorocodes/qight/internal/envelope"
)

// EncodeEnvelope encodes an envelope into a frame body (no tag). This is the
// shape of each envelope frame in a FETCH response.
func EncodeEnvelope(env envelope.Envelope) ([]byte, error) {
	return encodeEnvelopeFields(env)
}

// DecodeEnvelope decodes an envelope frame body.
func DecodeEnvelope(body []byte) (envelope.Envelope, error) {
	r := &reader{buf: body}
	env, err := decodeEnvelopeFields(r)
	if err != nil {
		return envelope.Envelope{}, err
	}
	if err := r.done(); err != nil {
		return envelope.Envelope{}, err
	}
	return env, nil
}

func encodeEnvelopeFields(env envelope.Envelope) ([]byte, error) {
	for _, f := range []struct {
		name  string
		value string
	}{
		{"msg_id", env.MsgID},
		{"sender", env.Sender},
		{"recipient", env.Recipient},
	} {
		if err := checkIdentifier(f.name, f.value); err != nil {
			return nil, err
		}
	}

	size := 2 + len(env.MsgID) +
		2 + len(env.Sender) +
		2 + len(env.Recipient) +
		8 + 4 +
		4 + len(env.Payload)

	body := make([]byte, 0, size)
	body = appendStr16(body, env.MsgID)
	body = appendStr16(body, env.Sender)
	body = appendStr16(body, env.Recipient)
	body = binary.BigEndian.AppendUint64(body, env.Timestamp)
	body = binary.BigEndian.AppendUint32(body, env.TTL)
	body = binary.BigEndian.AppendUint32(body, uint32(len(env.Payload)))
	body = append(body, env.Payload...)
	return body, nil
}

func decodeEnvelopeFields(r *reader) (envelope.Envelope, error) {
	var env envelope.Envelope
	var err error

	if env.MsgID, err = r.identifier("msg_id"); err != nil {
		return envelope.Envelope{}, err
	}
	if env.Sender, err = r.identifier("sender"); err != nil {
		return envelope.Envelope{}, err
	}
	if env.Recipient, err = r.identifier("recipient"); err != nil {
		return envelope.Envelope{}, err
	}
	if env.Timestamp, err = r.u64("timestamp"); err != nil {
		return envelope.Envelope{}, err
	}
	if env.TTL, err = r.u32("ttl"); err != nil {
		return envelope.Envelope{}, err
	}

	payloadLen, err := r.u32("payload length")
	if err != nil {
		return envelope.Envelope{}, err
	}
	if env.Payload, err = r.bytes("payload", payloadLen); err != nil {
		return envelope.Envelope{}, err
	}
	return env, nil
}
