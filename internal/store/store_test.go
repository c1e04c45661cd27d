package store

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/idorocodes/qight/internal/envelope"
	"github.com/idorocodes/qight/internal/errors"
	"github.com/idorocodes/qight/internal/event"
	"github.com/idorocodes/qight/internal/wire"
)

func testEnvelope(id, sender, recipient string) envelope.Envelope {
	return envelope.Envelope{
		MsgID:     id,
		Sender:    sender,
		Recipient: recipient,
		TTL:       60,
		Payload:   []byte("hello"),
	}
}

// backdate rewrites the stored timestamp of recipient's idx-th message so
// that it is already past its TTL.
func backdate(t *testing.T, s *Store, recipient string, idx int, age time.Duration) {
	t.Helper()
	mb := s.lookup(recipient)
	if mb == nil {
		t.Fatalf("no mailbox for %q", recipient)
	}
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if idx >= len(mb.messages) {
		t.Fatalf("mailbox %q has %d messages, want index %d", recipient, len(mb.messages), idx)
	}
	mb.messages[idx].Timestamp = uint64(time.Now().Add(-age).Unix())
}

func TestStore_Enqueue(t *testing.T) {
	s := New()

	if err := s.Enqueue(testEnvelope("m1", "alice", "bob")); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	if got := s.Len("bob"); got != 1 {
		t.Errorf("Len(bob) = %d, want 1", got)
	}
}

func TestStore_Enqueue_StampsZeroTimestamp(t *testing.T) {
	s := New()

	before := uint64(time.Now().Unix())
	if err := s.Enqueue(testEnvelope("m1", "alice", "bob")); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	after := uint64(time.Now().Unix())

	msgs := s.Fetch("bob")
	if len(msgs) != 1 {
		t.Fatalf("Fetch() returned %d messages, want 1", len(msgs))
	}
	if ts := msgs[0].Timestamp; ts < before || ts > after {
		t.Errorf("Timestamp = %d, want between %d and %d", ts, before, after)
	}
}

func TestStore_Enqueue_PreservesTimestamp(t *testing.T) {
	s := New()

	env := testEnvelope("m1", "alice", "bob")
	env.Timestamp = uint64(time.Now().Unix()) - 5
	want := env.Timestamp

	if err := s.Enqueue(env); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	msgs := s.Fetch("bob")
	if msgs[0].Timestamp != want {
		t.Errorf("Timestamp = %d, want %d", msgs[0].Timestamp, want)
	}
}

func TestStore_Enqueue_ValidationErrors(t *testing.T) {
	s := New(WithLimits(Limits{MaxIdentifierBytes: 8, MaxPayloadBytes: 16}))

	tests := []struct {
		name string
		env  envelope.Envelope
		want error
	}{
		{"empty msg_id", envelope.Envelope{Sender: "a", Recipient: "b"}, nil},
		{"empty sender", envelope.Envelope{MsgID: "m1", Recipient: "b"}, nil},
		{"empty recipient", envelope.Envelope{MsgID: "m1", Sender: "a"}, nil},
		{"oversized identifier", testEnvelope("m1", "a", "very-long-recipient"), errors.ErrIdentifierTooLong},
		{"oversized payload", envelope.Envelope{
			MsgID: "m1", Sender: "a", Recipient: "b",
			Payload: make([]byte, 17),
		}, errors.ErrPayloadTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Enqueue(tt.env)
			if err == nil {
				t.Fatal("expected error for invalid envelope, got nil")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("Enqueue() error = %v, want %v", err, tt.want)
			}
		})
	}

	if got := s.Len("b"); got != 0 {
		t.Errorf("Len(b) = %d after rejected enqueues, want 0", got)
	}
}

func TestStore_Enqueue_RejectsExpired(t *testing.T) {
	s := New()

	env := testEnvelope("m1", "alice", "bob")
	env.Timestamp = uint64(time.Now().Add(-10 * time.Second).Unix())
	env.TTL = 5

	err := s.Enqueue(env)
	if err == nil {
		t.Fatal("expected error for expired envelope, got nil")
	}
	if !errors.Is(err, errors.ErrAlreadyExpired) {
		t.Errorf("Enqueue() error = %v, want ErrAlreadyExpired", err)
	}
	if got := s.Len("bob"); got != 0 {
		t.Errorf("Len(bob) = %d, want 0", got)
	}
}

func TestStore_Enqueue_DuplicateID(t *testing.T) {
	s := New()

	if err := s.Enqueue(testEnvelope("m1", "alice", "bob")); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	err := s.Enqueue(testEnvelope("m1", "carol", "bob"))
	if err == nil {
		t.Fatal("expected error for duplicate message id, got nil")
	}
	if !errors.Is(err, errors.ErrDuplicateMessageID) {
		t.Errorf("Enqueue() error = %v, want ErrDuplicateMessageID", err)
	}

	// The same ID is fine in a different mailbox.
	if err := s.Enqueue(testEnvelope("m1", "alice", "carol")); err != nil {
		t.Errorf("Enqueue() to other mailbox error = %v", err)
	}

	if got := s.Stats().Duplicates; got != 1 {
		t.Errorf("Stats().Duplicates = %d, want 1", got)
	}
}

func TestStore_Enqueue_ExpiredIDReusable(t *testing.T) {
	s := New()

	env := testEnvelope("m1", "alice", "bob")
	env.TTL = 5
	if err := s.Enqueue(env); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	backdate(t, s, "bob", 0, 10*time.Second)

	// The expired original no longer counts as a duplicate.
	fresh := testEnvelope("m1", "alice", "bob")
	fresh.Payload = []byte("second")
	if err := s.Enqueue(fresh); err != nil {
		t.Fatalf("Enqueue() with reused id error = %v", err)
	}

	msgs := s.Fetch("bob")
	if len(msgs) != 1 {
		t.Fatalf("Fetch() returned %d messages, want 1", len(msgs))
	}
	if string(msgs[0].Payload) != "second" {
		t.Errorf("Payload = %q, want %q", msgs[0].Payload, "second")
	}
	if got := s.Stats().Expired; got != 1 {
		t.Errorf("Stats().Expired = %d, want 1", got)
	}
}

func TestStore_Fetch_FIFOOrder(t *testing.T) {
	s := New()

	for i := 1; i <= 3; i++ {
		env := testEnvelope(fmt.Sprintf("m%d", i), "alice", "bob")
		if err := s.Enqueue(env); err != nil {
			t.Fatalf("Enqueue(m%d) error = %v", i, err)
		}
	}

	msgs := s.Fetch("bob")
	if len(msgs) != 3 {
		t.Fatalf("Fetch() returned %d messages, want 3", len(msgs))
	}
	for i, want := range []string{"m1", "m2", "m3"} {
		if msgs[i].MsgID != want {
			t.Errorf("msgs[%d].MsgID = %q, want %q", i, msgs[i].MsgID, want)
		}
	}
}

func TestStore_Fetch_UnknownRecipient(t *testing.T) {
	s := New()

	msgs := s.Fetch("nobody")
	if msgs == nil {
		t.Fatal("Fetch() returned nil, want empty slice")
	}
	if len(msgs) != 0 {
		t.Errorf("Fetch() returned %d messages, want 0", len(msgs))
	}
}

func TestStore_Fetch_AtLeastOnce_KeepsMessages(t *testing.T) {
	s := New()

	if err := s.Enqueue(testEnvelope("m1", "alice", "bob")); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	first := s.Fetch("bob")
	second := s.Fetch("bob")
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("Fetch() lengths = %d, %d, want 1, 1", len(first), len(second))
	}

	// Returned envelopes are copies; mutating one must not reach the store.
	first[0].Payload[0] = 'X'
	third := s.Fetch("bob")
	if string(third[0].Payload) != "hello" {
		t.Errorf("stored payload = %q after caller mutation, want %q", third[0].Payload, "hello")
	}
}

func TestStore_Fetch_AtMostOnce_Drains(t *testing.T) {
	s := New(WithDeliveryMode(AtMostOnce))

	for i := 1; i <= 2; i++ {
		if err := s.Enqueue(testEnvelope(fmt.Sprintf("m%d", i), "alice", "bob")); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	first := s.Fetch("bob")
	if len(first) != 2 {
		t.Fatalf("first Fetch() returned %d messages, want 2", len(first))
	}
	second := s.Fetch("bob")
	if len(second) != 0 {
		t.Errorf("second Fetch() returned %d messages, want 0", len(second))
	}
	if got := s.Len("bob"); got != 0 {
		t.Errorf("Len(bob) = %d after drain, want 0", got)
	}
}

func TestStore_Ack(t *testing.T) {
	s := New()

	if err := s.Enqueue(testEnvelope("m1", "alice", "bob")); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	if !s.Ack("bob", "m1") {
		t.Error("Ack() = false, want true")
	}
	if got := s.Len("bob"); got != 0 {
		t.Errorf("Len(bob) = %d after ack, want 0", got)
	}

	// Acks are idempotent: repeats and unknowns are quiet no-ops.
	if s.Ack("bob", "m1") {
		t.Error("repeated Ack() = true, want false")
	}
	if s.Ack("bob", "missing") {
		t.Error("Ack(missing) = true, want false")
	}
	if s.Ack("nobody", "m1") {
		t.Error("Ack() on unknown mailbox = true, want false")
	}

	if got := s.Stats().Acked; got != 1 {
		t.Errorf("Stats().Acked = %d, want 1", got)
	}
}

func TestStore_Ack_RemovesOnlyTarget(t *testing.T) {
	s := New()

	for i := 1; i <= 3; i++ {
		if err := s.Enqueue(testEnvelope(fmt.Sprintf("m%d", i), "alice", "bob")); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	if !s.Ack("bob", "m2") {
		t.Fatal("Ack(m2) = false, want true")
	}

	msgs := s.Fetch("bob")
	if len(msgs) != 2 {
		t.Fatalf("Fetch() returned %d messages, want 2", len(msgs))
	}
	if msgs[0].MsgID != "m1" || msgs[1].MsgID != "m3" {
		t.Errorf("remaining order = %q, %q, want m1, m3", msgs[0].MsgID, msgs[1].MsgID)
	}
}

func TestStore_SweepExpired(t *testing.T) {
	s := New()

	live := testEnvelope("live", "alice", "bob")
	if err := s.Enqueue(live); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	short := testEnvelope("short", "alice", "bob")
	short.TTL = 5
	if err := s.Enqueue(short); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	backdate(t, s, "bob", 1, 10*time.Second)

	messages, mailboxes := s.SweepExpired()
	if messages != 1 {
		t.Errorf("SweepExpired() messages = %d, want 1", messages)
	}
	if mailboxes != 0 {
		t.Errorf("SweepExpired() mailboxes = %d, want 0", mailboxes)
	}

	msgs := s.Fetch("bob")
	if len(msgs) != 1 || msgs[0].MsgID != "live" {
		t.Errorf("after sweep, mailbox holds %d messages, want just %q", len(msgs), "live")
	}
}

func TestStore_SweepExpired_PrunesIdleMailboxes(t *testing.T) {
	s := New(WithRetention(time.Minute))

	if err := s.Enqueue(testEnvelope("m1", "alice", "bob")); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if !s.Ack("bob", "m1") {
		t.Fatal("Ack() = false, want true")
	}

	// Fresh empty mailboxes survive the sweep.
	if _, mailboxes := s.SweepExpired(); mailboxes != 0 {
		t.Errorf("SweepExpired() pruned %d mailboxes, want 0", mailboxes)
	}

	mb := s.lookup("bob")
	mb.mu.Lock()
	mb.lastActive = time.Now().Add(-2 * time.Minute)
	mb.mu.Unlock()

	if _, mailboxes := s.SweepExpired(); mailboxes != 1 {
		t.Errorf("SweepExpired() pruned %d mailboxes, want 1", mailboxes)
	}
	if got := s.Recipients(); len(got) != 0 {
		t.Errorf("Recipients() = %v after prune, want none", got)
	}
	if got := s.Stats().PrunedMailboxes; got != 1 {
		t.Errorf("Stats().PrunedMailboxes = %d, want 1", got)
	}
}

func TestStore_SweepExpired_RetentionZeroKeepsMailboxes(t *testing.T) {
	s := New(WithRetention(0))

	if err := s.Enqueue(testEnvelope("m1", "alice", "bob")); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	s.Ack("bob", "m1")

	mb := s.lookup("bob")
	mb.mu.Lock()
	mb.lastActive = time.Now().Add(-24 * time.Hour)
	mb.mu.Unlock()

	if _, mailboxes := s.SweepExpired(); mailboxes != 0 {
		t.Errorf("SweepExpired() pruned %d mailboxes with retention disabled, want 0", mailboxes)
	}
}

func TestStore_SweepExpired_SkipsNonEmptyMailboxes(t *testing.T) {
	s := New(WithRetention(time.Minute))

	if err := s.Enqueue(testEnvelope("m1", "alice", "bob")); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	mb := s.lookup("bob")
	mb.mu.Lock()
	mb.lastActive = time.Now().Add(-2 * time.Minute)
	mb.mu.Unlock()

	if _, mailboxes := s.SweepExpired(); mailboxes != 0 {
		t.Errorf("SweepExpired() pruned %d non-empty mailboxes, want 0", mailboxes)
	}
	if got := s.Len("bob"); got != 1 {
		t.Errorf("Len(bob) = %d, want 1", got)
	}
}

func TestStore_EnqueueAfterPrune(t *testing.T) {
	s := New(WithRetention(time.Minute))

	if err := s.Enqueue(testEnvelope("m1", "alice", "bob")); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	s.Ack("bob", "m1")

	mb := s.lookup("bob")
	mb.mu.Lock()
	mb.lastActive = time.Now().Add(-2 * time.Minute)
	mb.mu.Unlock()
	s.SweepExpired()

	// A pruned recipient gets a fresh mailbox on the next send.
	if err := s.Enqueue(testEnvelope("m2", "alice", "bob")); err != nil {
		t.Fatalf("Enqueue() after prune error = %v", err)
	}
	if got := s.Len("bob"); got != 1 {
		t.Errorf("Len(bob) = %d, want 1", got)
	}
}

func TestStore_Len_UnknownRecipient(t *testing.T) {
	s := New()
	if got := s.Len("nobody"); got != 0 {
		t.Errorf("Len(nobody) = %d, want 0", got)
	}
}

func TestStore_Stats(t *testing.T) {
	s := New()

	if err := s.Enqueue(testEnvelope("m1", "alice", "bob")); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if err := s.Enqueue(testEnvelope("m2", "alice", "carol")); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	s.Fetch("bob")
	s.Ack("bob", "m1")

	stats := s.Stats()
	if stats.Mailboxes != 2 {
		t.Errorf("Stats().Mailboxes = %d, want 2", stats.Mailboxes)
	}
	if stats.Messages != 1 {
		t.Errorf("Stats().Messages = %d, want 1", stats.Messages)
	}
	if stats.Enqueued != 2 {
		t.Errorf("Stats().Enqueued = %d, want 2", stats.Enqueued)
	}
	if stats.Fetched != 1 {
		t.Errorf("Stats().Fetched = %d, want 1", stats.Fetched)
	}
	if stats.Acked != 1 {
		t.Errorf("Stats().Acked = %d, want 1", stats.Acked)
	}
}

func TestStore_Recipients(t *testing.T) {
	s := New()

	for _, r := range []string{"carol", "alice", "bob"} {
		if err := s.Enqueue(testEnvelope("m-"+r, "sender", r)); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	got := s.Recipients()
	want := []string{"alice", "bob", "carol"}
	if len(got) != len(want) {
		t.Fatalf("Recipients() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Recipients()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestStore_Events(t *testing.T) {
	bus := event.NewBus()
	s := New(WithBus(bus), WithRetention(time.Minute))

	var enqueued []event.MessageEnqueuedEvent
	bus.Subscribe("message.enqueued", func(e event.Event) {
		if ev, ok := e.(event.MessageEnqueuedEvent); ok {
			enqueued = append(enqueued, ev)
		}
	})
	var acked []event.MessageAckedEvent
	bus.Subscribe("message.acked", func(e event.Event) {
		if ev, ok := e.(event.MessageAckedEvent); ok {
			acked = append(acked, ev)
		}
	})
	var swept []event.MailboxSweptEvent
	bus.Subscribe("mailbox.swept", func(e event.Event) {
		if ev, ok := e.(event.MailboxSweptEvent); ok {
			swept = append(swept, ev)
		}
	})

	if err := s.Enqueue(testEnvelope("m1", "alice", "bob")); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if len(enqueued) != 1 {
		t.Fatalf("got %d enqueued events, want 1", len(enqueued))
	}
	if enqueued[0].MsgID != "m1" || enqueued[0].Sender != "alice" || enqueued[0].Recipient != "bob" {
		t.Errorf("enqueued event = %+v, want m1/alice/bob", enqueued[0])
	}
	if enqueued[0].PayloadBytes != len("hello") {
		t.Errorf("PayloadBytes = %d, want %d", enqueued[0].PayloadBytes, len("hello"))
	}

	s.Ack("bob", "m1")
	if len(acked) != 1 {
		t.Fatalf("got %d acked events, want 1", len(acked))
	}
	if acked[0].Recipient != "bob" || acked[0].MsgID != "m1" {
		t.Errorf("acked event = %+v, want bob/m1", acked[0])
	}

	// A sweep that changes nothing stays silent.
	s.SweepExpired()
	if len(swept) != 0 {
		t.Fatalf("got %d swept events for a no-op sweep, want 0", len(swept))
	}

	mb := s.lookup("bob")
	mb.mu.Lock()
	mb.lastActive = time.Now().Add(-2 * time.Minute)
	mb.mu.Unlock()
	s.SweepExpired()
	if len(swept) != 1 {
		t.Fatalf("got %d swept events, want 1", len(swept))
	}
	if swept[0].PrunedMailboxes != 1 {
		t.Errorf("swept event PrunedMailboxes = %d, want 1", swept[0].PrunedMailboxes)
	}
}

func TestStore_ConcurrentEnqueue(t *testing.T) {
	s := New()

	const (
		senders    = 8
		perSender  = 25
		totalCount = senders * perSender
	)

	var wg sync.WaitGroup
	for i := range senders {
		wg.Go(func() {
			for j := range perSender {
				env := testEnvelope(fmt.Sprintf("s%d-m%d", i, j), "alice", "bob")
				if err := s.Enqueue(env); err != nil {
					t.Errorf("Enqueue() error = %v", err)
				}
			}
		})
	}
	wg.Wait()

	if got := s.Len("bob"); got != totalCount {
		t.Errorf("Len(bob) = %d, want %d", got, totalCount)
	}
	if got := s.Stats().Enqueued; got != totalCount {
		t.Errorf("Stats().Enqueued = %d, want %d", got, totalCount)
	}
}

func TestStore_ConcurrentSweepAndEnqueue(t *testing.T) {
	s := New(WithRetention(0))

	var wg sync.WaitGroup
	for i := range 4 {
		wg.Go(func() {
			for j := range 50 {
				env := testEnvelope(fmt.Sprintf("w%d-m%d", i, j), "alice", "stress")
				if err := s.Enqueue(env); err != nil {
					t.Errorf("Enqueue() error = %v", err)
				}
			}
		})
	}
	wg.Go(func() {
		for range 100 {
			s.SweepExpired()
		}
	})
	wg.Wait()

	if got := s.Len("stress"); got != 200 {
		t.Errorf("Len(stress) = %d, want 200", got)
	}
}

func TestParseDeliveryMode(t *testing.T) {
	tests := []struct {
		input   string
		want    DeliveryMode
		wantErr bool
	}{
		{"at_least_once", AtLeastOnce, false},
		{"at_most_once", AtMostOnce, false},
		{"", AtLeastOnce, false},
		{"exactly_once", AtLeastOnce, true},
		{"AT_LEAST_ONCE", AtLeastOnce, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDeliveryMode(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDeliveryMode(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseDeliveryMode(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestDeliveryMode_String(t *testing.T) {
	if got := AtLeastOnce.String(); got != "at_least_once" {
		t.Errorf("AtLeastOnce.String() = %q, want %q", got, "at_least_once")
	}
	if got := AtMostOnce.String(); got != "at_most_once" {
		t.Errorf("AtMostOnce.String() = %q, want %q", got, "at_most_once")
	}
	if got := DeliveryMode(99).String(); got != "unknown" {
		t.Errorf("DeliveryMode(99).String() = %q, want %q", got, "unknown")
	}
}

func TestDefaultLimits(t *testing.T) {
	l := DefaultLimits()
	if l.MaxIdentifierBytes != wire.MaxIdentifierBytes {
		t.Errorf("MaxIdentifierBytes = %d, want %d", l.MaxIdentifierBytes, wire.MaxIdentifierBytes)
	}
	if l.MaxPayloadBytes != wire.DefaultMaxFrameBytes {
		t.Errorf("MaxPayloadBytes = %d, want %d", l.MaxPayloadBytes, wire.DefaultMaxFrameBytes)
	}
}
