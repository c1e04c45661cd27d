package event

import "time"

// Event is the interface that all events must implement.
// It provides a common way to identify and timestamp events.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "session.opened", "message.acked")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

// newBaseEvent creates a baseEvent with the current time.
func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Session Lifecycle Events
// -----------------------------------------------------------------------------

// SessionOpenedEvent is emitted when the relay accepts a new connection.
type SessionOpenedEvent struct {
	baseEvent
	SessionID string // Unique identifier for the session
	Remote    string // Remote address of the peer
}

// NewSessionOpenedEvent creates a SessionOpenedEvent.
func NewSessionOpenedEvent(sessionID, remote string) SessionOpenedEvent {
	return SessionOpenedEvent{
		baseEvent: newBaseEvent("session.opened"),
		SessionID: sessionID,
		Remote:    remote,
	}
}

// SessionClosedEvent is emitted when a session ends.
type SessionClosedEvent struct {
	baseEvent
	SessionID string // Unique identifier for the session
	ClientID  string // HELLO identity, empty if the handshake never completed
	Reason    string // Why the session ended (e.g., "close", "protocol error", "shutdown")
}

// NewSessionClosedEvent creates a SessionClosedEvent.
func NewSessionClosedEvent(sessionID, clientID, reason string) SessionClosedEvent {
	return SessionClosedEvent{
		baseEvent: newBaseEvent("session.closed"),
		SessionID: sessionID,
		ClientID:  clientID,
		Reason:    reason,
	}
}

// -----------------------------------------------------------------------------
// Mailbox Events
// -----------------------------------------------------------------------------

// MessageEnqueuedEvent is emitted when a message lands in a mailbox.
type MessageEnqueuedEvent struct {
	baseEvent
	MsgID        string // Message identifier
	Sender       string // Sending client
	Recipient    string // Mailbox the message was queued to
	PayloadBytes int    // Size of the message payload
}

// NewMessageEnqueuedEvent creates a MessageEnqueuedEvent.
func NewMessageEnqueuedEvent(msgID, sender, recipient string, payloadBytes int) MessageEnqueuedEvent {
	return MessageEnqueuedEvent{
		baseEvent:    newBaseEvent("message.enqueued"),
		MsgID:        msgID,
		Sender:       sender,
		Recipient:    recipient,
		PayloadBytes: payloadBytes,
	}
}

// MessageAckedEvent is emitted when an acknowledgment removes a message.
// Acks for unknown message IDs are idempotent no-ops and publish nothing.
type MessageAckedEvent struct {
	baseEvent
	Recipient string // Mailbox the message was removed from
	MsgID     string // Message identifier
}

// NewMessageAckedEvent creates a MessageAckedEvent.
func NewMessageAckedEvent(recipient, msgID string) MessageAckedEvent {
	return MessageAckedEvent{
		baseEvent: newBaseEvent("message.acked"),
		Recipient: recipient,
		MsgID:     msgID,
	}
}

// MailboxSweptEvent is emitted after a sweep pass over the store.
type MailboxSweptEvent struct {
	baseEvent
	ExpiredMessages int // Messages dropped because their TTL had elapsed
	PrunedMailboxes int // Empty mailboxes removed past the retention window
}

// NewMailboxSweptEvent creates a MailboxSweptEvent.
func NewMailboxSweptEvent(expiredMessages, prunedMailboxes int) MailboxSweptEvent {
	return MailboxSweptEvent{
		baseEvent:       newBaseEvent("mailbox.swept"),
		ExpiredMessages: expiredMessages,
		PrunedMailboxes: prunedMailboxes,
	}
}
