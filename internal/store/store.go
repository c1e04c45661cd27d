package store

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/idorocodes/qight/internal/envelope"
	"github.com/idorocodes/qight/internal/errors"
	"github.com/idorocodes/qight/internal/event"
	"github.com/idorocodes/qight/internal/logging"
	"github.com/idorocodes/qight/internal/wire"
)

// DeliveryMode selects what FETCH does with the messages it returns.
type DeliveryMode int

const (
	// AtLeastOnce returns copies on FETCH; messages stay queued until acked.
	AtLeastOnce DeliveryMode = iota

	// AtMostOnce drains the mailbox on FETCH; nothing is left to ack.
	AtMostOnce
)

// String returns the configuration spelling of the mode.
func (m DeliveryMode) String() string {
	switch m {
	case AtLeastOnce:
		return "at_least_once"
	case AtMostOnce:
		return "at_most_once"
	default:
		return "unknown"
	}
}

// ParseDeliveryMode converts a configuration string to a DeliveryMode.
func ParseDeliveryMode(s string) (DeliveryMode, error) {
	switch s {
	case "at_least_once", "":
		return AtLeastOnce, nil
	case "at_most_once":
		return AtMostOnce, nil
	default:
		return AtLeastOnce, fmt.Errorf("unknown delivery mode: %q (supported: at_least_once, at_most_once)", s)
	}
}

// Limits caps what a single enqueued envelope may carry.
type Limits struct {
	MaxIdentifierBytes int
	MaxPayloadBytes    int
}

// DefaultLimits returns the protocol's wire-level caps.
func DefaultLimits() Limits {
	return Limits{
		MaxIdentifierBytes: wire.MaxIdentifierBytes,
		MaxPayloadBytes:    wire.DefaultMaxFrameBytes,
	}
}

// Stats is a point-in-time snapshot of store state and lifetime counters.
type Stats struct {
	Mailboxes int `json:"mailboxes"` // mailboxes currently held
	Messages  int `json:"messages"`  // live messages across all mailboxes

	Enqueued        uint64 `json:"enqueued"`         // messages accepted since start
	Fetched         uint64 `json:"fetched"`          // messages handed to FETCH callers
	Acked           uint64 `json:"acked"`            // messages removed by ACK
	Expired         uint64 `json:"expired"`          // messages dropped after their TTL
	Duplicates      uint64 `json:"duplicates"`       // enqueues rejected for a live duplicate ID
	PrunedMailboxes uint64 `json:"pruned_mailboxes"` // empty mailboxes removed by the sweep
	PersistFailures uint64 `json:"persist_failures"` // persistence errors absorbed
}

// mailbox is one recipient's FIFO queue.
// The store map lock is never held while a mailbox mutex is held for
// scanning; lock order is always store map first, then mailbox.
type mailbox struct {
	mu         sync.Mutex
	messages   []envelope.Envelope
	lastActive time.Time
	gone       bool // set when the sweep prunes this mailbox from the map
}

// dropExpiredLocked removes expired messages in place, preserving order.
// The caller must hold mb.mu. Returns the number of messages dropped.
func (mb *mailbox) dropExpiredLocked(now time.Time) int {
	live := mb.messages[:0]
	for _, env := range mb.messages {
		if !env.Expired(now) {
			live = append(live, env)
		}
	}
	dropped := len(mb.messages) - len(live)
	// Zero the tail so dropped payloads are collectable.
	for i := len(live); i < len(mb.messages); i++ {
		mb.messages[i] = envelope.Envelope{}
	}
	mb.messages = live
	return dropped
}

// Store holds every recipient's mailbox. Safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	mailboxes map[string]*mailbox

	mode      DeliveryMode
	limits    Limits
	retention time.Duration

	bus     *event.Bus
	log     *logging.Logger
	persist Persistence

	enqueued        atomic.Uint64
	fetched         atomic.Uint64
	acked           atomic.Uint64
	expired         atomic.Uint64
	duplicates      atomic.Uint64
	prunedMailboxes atomic.Uint64
	persistFailures atomic.Uint64
}

// DefaultRetention is how long an empty mailbox survives before the sweep
// prunes it.
const DefaultRetention = 10 * time.Minute

// New creates a Store. With no options it is memory-only, at-least-once,
// with the protocol's default limits.
//
// If a Persistence provider is configured, New replays its log into memory,
// dropping messages that expired while the relay was down, and compacts the
// log to the surviving set. Load failures are absorbed: the store starts
// empty and the failure is logged and counted.
func New(opts ...Option) *Store {
	s := &Store{
		mailboxes: make(map[string]*mailbox),
		mode:      AtLeastOnce,
		limits:    DefaultLimits(),
		retention: DefaultRetention,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logging.NopLogger()
	}
	s.log = s.log.WithComponent("store")

	if s.persist != nil {
		s.loadPersisted()
	}
	return s
}

// loadPersisted replays the persistence log into memory and compacts it.
func (s *Store) loadPersisted() {
	envs, err := s.persist.Load()
	if err != nil {
		s.persistFailures.Add(1)
		s.log.Error("failed to load persisted messages, starting empty", "error", err)
		return
	}

	now := time.Now()
	live := make([]envelope.Envelope, 0, len(envs))
	for _, env := range envs {
		if env.Expired(now) {
			s.expired.Add(1)
			continue
		}
		mb := s.getOrCreate(env.Recipient)
		mb.mu.Lock()
		mb.messages = append(mb.messages, env)
		mb.lastActive = now
		mb.mu.Unlock()
		live = append(live, env)
	}

	if err := s.persist.Compact(live); err != nil {
		s.persistFailures.Add(1)
		s.log.Warn("failed to compact persistence log", "error", err)
	}

	s.log.Info("restored persisted messages", "live", len(live), "dropped", len(envs)-len(live))
}

// getOrCreate returns the mailbox for recipient, creating it if absent.
// Two concurrent first-sends observe the same mailbox.
func (s *Store) getOrCreate(recipient string) *mailbox {
	s.mu.RLock()
	mb, ok := s.mailboxes[recipient]
	s.mu.RUnlock()
	if ok {
		return mb
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if mb, ok := s.mailboxes[recipient]; ok {
		return mb
	}
	mb = &mailbox{lastActive: time.Now()}
	s.mailboxes[recipient] = mb
	return mb
}

// lookup returns the mailbox for recipient or nil.
func (s *Store) lookup(recipient string) *mailbox {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mailboxes[recipient]
}

// Enqueue validates env and appends it to its recipient's mailbox.
//
// A zero Timestamp is stamped with the current time; nonzero timestamps are
// trusted as-is. Envelopes whose TTL has already elapsed are rejected with
// ErrAlreadyExpired rather than stored. A MsgID that collides with a live
// message in the same mailbox is rejected with ErrDuplicateMessageID; the ID
// of an expired message may be reused.
func (s *Store) Enqueue(env envelope.Envelope) error {
	if err := env.Validate(s.limits.MaxIdentifierBytes, s.limits.MaxPayloadBytes); err != nil {
		return err
	}

	now := time.Now()
	if env.Timestamp == 0 {
		env.Timestamp = uint64(now.Unix())
	}
	if env.Expired(now) {
		return errors.NewValidationError("message expired before enqueue").
			WithField("ttl").
			WithCause(errors.ErrAlreadyExpired)
	}

	env = env.Clone()

	for {
		mb := s.getOrCreate(env.Recipient)
		mb.mu.Lock()
		if mb.gone {
			// Pruned between lookup and lock; take a fresh mailbox.
			mb.mu.Unlock()
			continue
		}

		if dropped := mb.dropExpiredLocked(now); dropped > 0 {
			s.expired.Add(uint64(dropped))
		}

		for _, queued := range mb.messages {
			if queued.MsgID == env.MsgID {
				mb.mu.Unlock()
				s.duplicates.Add(1)
				return errors.NewValidationError("duplicate message id").
					WithField("msg_id").
					WithValue(env.MsgID).
					WithCause(errors.ErrDuplicateMessageID)
			}
		}

		mb.messages = append(mb.messages, env)
		mb.lastActive = now
		mb.mu.Unlock()
		break
	}

	s.enqueued.Add(1)

	if s.persist != nil {
		if err := s.persist.Append(env); err != nil {
			s.persistFailures.Add(1)
			s.log.Warn("failed to persist message", "msg_id", env.MsgID, "error", err)
		}
	}
	if s.bus != nil {
		s.bus.Publish(event.NewMessageEnqueuedEvent(env.MsgID, env.Sender, env.Recipient, len(env.Payload)))
	}

	return nil
}

// Fetch returns the live messages queued for recipient in arrival order.
// An unknown recipient returns an empty slice, indistinguishable from an
// empty mailbox. Under AtLeastOnce the returned envelopes are copies and the
// mailbox is untouched; under AtMostOnce the mailbox is drained.
func (s *Store) Fetch(recipient string) []envelope.Envelope {
	mb := s.lookup(recipient)
	if mb == nil {
		return []envelope.Envelope{}
	}

	now := time.Now()
	mb.mu.Lock()

	if dropped := mb.dropExpiredLocked(now); dropped > 0 {
		s.expired.Add(uint64(dropped))
	}

	var out []envelope.Envelope
	if s.mode == AtMostOnce {
		out = mb.messages
		mb.messages = nil
	} else {
		out = make([]envelope.Envelope, len(mb.messages))
		for i, env := range mb.messages {
			out[i] = env.Clone()
		}
	}
	mb.lastActive = now
	mb.mu.Unlock()

	if out == nil {
		out = []envelope.Envelope{}
	}
	s.fetched.Add(uint64(len(out)))

	if s.mode == AtMostOnce && s.persist != nil {
		for _, env := range out {
			if err := s.persist.Remove(recipient, env.MsgID); err != nil {
				s.persistFailures.Add(1)
				s.log.Warn("failed to persist drain", "msg_id", env.MsgID, "error", err)
			}
		}
	}

	return out
}

// Ack removes the message with msgID from recipient's mailbox.
// Unknown mailboxes and unknown or already-removed message IDs are no-ops;
// the bool reports whether a message was actually removed. Ack never errors.
func (s *Store) Ack(recipient, msgID string) bool {
	mb := s.lookup(recipient)
	if mb == nil {
		return false
	}

	now := time.Now()
	removed := false

	mb.mu.Lock()
	if dropped := mb.dropExpiredLocked(now); dropped > 0 {
		s.expired.Add(uint64(dropped))
	}
	for i, env := range mb.messages {
		if env.MsgID == msgID {
			mb.messages = append(mb.messages[:i], mb.messages[i+1:]...)
			removed = true
			break
		}
	}
	mb.lastActive = now
	mb.mu.Unlock()

	if !removed {
		return false
	}

	s.acked.Add(1)

	if s.persist != nil {
		if err := s.persist.Remove(recipient, msgID); err != nil {
			s.persistFailures.Add(1)
			s.log.Warn("failed to persist ack", "msg_id", msgID, "error", err)
		}
	}
	if s.bus != nil {
		s.bus.Publish(event.NewMessageAckedEvent(recipient, msgID))
	}

	return true
}

// SweepExpired drops expired messages in every mailbox and prunes mailboxes
// that have sat empty past the retention window. Returns how many messages
// were dropped and how many mailboxes were pruned. A retention of zero
// disables pruning.
func (s *Store) SweepExpired() (messages, mailboxes int) {
	now := time.Now()

	type entry struct {
		name string
		mb   *mailbox
	}

	s.mu.RLock()
	entries := make([]entry, 0, len(s.mailboxes))
	for name, mb := range s.mailboxes {
		entries = append(entries, entry{name, mb})
	}
	s.mu.RUnlock()

	var pruneCandidates []entry
	for _, e := range entries {
		e.mb.mu.Lock()
		messages += e.mb.dropExpiredLocked(now)
		if s.retention > 0 && len(e.mb.messages) == 0 && now.Sub(e.mb.lastActive) > s.retention {
			pruneCandidates = append(pruneCandidates, e)
		}
		e.mb.mu.Unlock()
	}

	if len(pruneCandidates) > 0 {
		s.mu.Lock()
		for _, e := range pruneCandidates {
			e.mb.mu.Lock()
			// Re-check: an enqueue may have raced in since the scan.
			if len(e.mb.messages) == 0 && now.Sub(e.mb.lastActive) > s.retention {
				e.mb.gone = true
				delete(s.mailboxes, e.name)
				mailboxes++
			}
			e.mb.mu.Unlock()
		}
		s.mu.Unlock()
	}

	if messages > 0 {
		s.expired.Add(uint64(messages))
	}
	if mailboxes > 0 {
		s.prunedMailboxes.Add(uint64(mailboxes))
	}

	if messages > 0 || mailboxes > 0 {
		s.log.Debug("sweep completed", "expired_messages", messages, "pruned_mailboxes", mailboxes)
		if s.bus != nil {
			s.bus.Publish(event.NewMailboxSweptEvent(messages, mailboxes))
		}
	}

	return messages, mailboxes
}

// Len returns the number of live messages queued for recipient.
func (s *Store) Len(recipient string) int {
	mb := s.lookup(recipient)
	if mb == nil {
		return 0
	}

	now := time.Now()
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if dropped := mb.dropExpiredLocked(now); dropped > 0 {
		s.expired.Add(uint64(dropped))
	}
	return len(mb.messages)
}

// Mode returns the store's delivery mode.
func (s *Store) Mode() DeliveryMode {
	return s.mode
}

// Stats returns a snapshot of current state and lifetime counters.
// Message counts include messages whose TTL has elapsed but which no
// operation has touched yet.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	mbs := make([]*mailbox, 0, len(s.mailboxes))
	for _, mb := range s.mailboxes {
		mbs = append(mbs, mb)
	}
	s.mu.RUnlock()

	total := 0
	for _, mb := range mbs {
		mb.mu.Lock()
		total += len(mb.messages)
		mb.mu.Unlock()
	}

	return Stats{
		Mailboxes:       len(mbs),
		Messages:        total,
		Enqueued:        s.enqueued.Load(),
		Fetched:         s.fetched.Load(),
		Acked:           s.acked.Load(),
		Expired:         s.expired.Load(),
		Duplicates:      s.duplicates.Load(),
		PrunedMailboxes: s.prunedMailboxes.Load(),
		PersistFailures: s.persistFailures.Load(),
	}
}

// Recipients returns the names of all current mailboxes, sorted.
func (s *Store) Recipients() []string {
	s.mu.RLock()
	names := make([]string, 0, len(s.mailboxes))
	for name := range s.mailboxes {
		names = append(names, name)
	}
	s.mu.RUnlock()

	sort.Strings(names)
	return names
}
