package store

import (
	"time"

	"github.com/idorocodes/qight/internal/event"
	"github.com/idorocodes/qight/internal/logging"
)

// Option configures a Store.
type Option func(*Store)

// WithDeliveryMode selects how Fetch treats delivered messages.
// The default is AtLeastOnce, which keeps messages until acked.
func WithDeliveryMode(mode DeliveryMode) Option {
	return func(s *Store) {
		s.mode = mode
	}
}

// WithBus attaches an event bus to the Store. When set, the Store
// publishes MessageEnqueuedEvent, MessageAckedEvent and
// MailboxSweptEvent as messages move through it.
func WithBus(bus *event.Bus) Option {
	return func(s *Store) {
		s.bus = bus
	}
}

// WithLogger sets the logger used for store diagnostics. A nil logger
// is replaced with a no-op logger.
func WithLogger(log *logging.Logger) Option {
	return func(s *Store) {
		s.log = log
	}
}

// WithPersistence attaches a durable message log. Enqueued messages are
// appended to it and acked or drained messages are removed, so a relay
// restart can replay whatever was still undelivered.
func WithPersistence(p Persistence) Option {
	return func(s *Store) {
		s.persist = p
	}
}

// WithRetention sets how long an empty mailbox survives before
// SweepExpired prunes it. Zero or negative disables pruning.
func WithRetention(d time.Duration) Option {
	return func(s *Store) {
		s.retention = d
	}
}

// WithLimits overrides the identifier and payload size limits enforced
// on enqueue.
func WithLimits(l Limits) Option {
	return func(s *Store) {
		s.limits = l
	}
}
