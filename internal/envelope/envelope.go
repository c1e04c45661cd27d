// Package envelope defines the message envelope relayed between clients.
//
// An envelope is the unit of storage and delivery: it names a sender and a
// recipient, carries an opaque payload, and records when it was created and
// how long it stays deliverable. Envelopes are small value types; functions
// that hand them across goroutine boundaries copy the payload rather than
// share it.
package envelope

import (
	"time"

	"github.com/google/uuid"

	"github.com/idorocodes/qight/internal/errors"
)

// Envelope is a single relayed message.
type Envelope struct {
	// MsgID uniquely identifies the message within the recipient's mailbox.
	MsgID string `json:"msg_id"`

	// Sender is the declared identity of the originating client.
	Sender string `json:"sender"`

	// Recipient names the mailbox the message is queued into.
	Recipient string `json:"recipient"`

	// Timestamp is the creation time in Unix seconds.
	Timestamp uint64 `json:"timestamp"`

	// TTL is the number of seconds after Timestamp that the message stays
	// deliverable. Zero means the message never expires.
	TTL uint32 `json:"ttl"`

	// Payload is the opaque message body.
	Payload []byte `json:"payload,omitempty"`
}

// New creates an envelope addressed from sender to recipient with a freshly
// generated message ID and the current time as its timestamp.
func New(sender, recipient string, payload []byte, ttl uint32) Envelope {
	return Envelope{
		MsgID:     uuid.NewString(),
		Sender:    sender,
		Recipient: recipient,
		Timestamp: uint64(time.Now().Unix()),
		TTL:       ttl,
		Payload:   payload,
	}
}

// ExpiresAt returns the instant the envelope expires. The second return
// value is false when the envelope never expires (TTL of zero).
func (e Envelope) ExpiresAt() (time.Time, bool) {
	if e.TTL == 0 {
		return time.Time{}, false
	}
	return time.Unix(int64(e.Timestamp)+int64(e.TTL), 0), true
}

// Expired reports whether the envelope is past its TTL at the given time.
// A message is deliverable while now < Timestamp+TTL.
func (e Envelope) Expired(now time.Time) bool {
	at, ok := e.ExpiresAt()
	if !ok {
		return false
	}
	return !now.Before(at)
}

// Clone returns a copy of the envelope with its own payload allocation.
func (e Envelope) Clone() Envelope {
	if e.Payload != nil {
		p := make([]byte, len(e.Payload))
		copy(p, e.Payload)
		e.Payload = p
	}
	return e
}

// Validate checks the envelope against the given field limits. Identifier
// fields must be non-empty and at most maxIdentifier bytes; the payload must
// be at most maxPayload bytes.
func (e Envelope) Validate(maxIdentifier, maxPayload int) error {
	for _, f := range []struct {
		name  string
		value string
	}{
		{"msg_id", e.MsgID},
		{"sender", e.Sender},
		{"recipient", e.Recipient},
	} {
		if f.value == "" {
			return errors.NewValidationError("field is required").WithField(f.name)
		}
		if len(f.value) > maxIdentifier {
			return errors.NewValidationError("identifier exceeds length limit").
				WithField(f.name).
				WithCause(errors.ErrIdentifierTooLong)
		}
	}
	if len(e.Payload) > maxPayload {
		return errors.NewValidationError("payload exceeds size limit").
			WithField("payload").
			WithCause(errors.ErrPayloadTooLarge)
	}
	return nil
}
