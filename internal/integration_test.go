// Package internal contains integration tests that verify the relay,
// store, client and admin packages work together end to end: envelopes
// pushed by one client reach another through a served relay, events flow
// on the bus, and persisted mailboxes survive a restart.
package internal

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/idorocodes/qight/internal/admin"
	"github.com/idorocodes/qight/internal/client"
	"github.com/idorocodes/qight/internal/config"
	"github.com/idorocodes/qight/internal/envelope"
	qerrors "github.com/idorocodes/qight/internal/errors"
	"github.com/idorocodes/qight/internal/event"
	"github.com/idorocodes/qight/internal/relay"
	"github.com/idorocodes/qight/internal/store"
	"github.com/idorocodes/qight/internal/transport"
)

func testConfig() config.Config {
	cfg := config.Default()
	// Background sweeping stays off unless a test turns it on.
	cfg.Store.SweepIntervalSeconds = 0
	return *cfg
}

// startRelay serves r on an in-process listener. The returned stop func
// shuts the relay down and is safe to call more than once; it also runs
// at test cleanup.
func startRelay(t *testing.T, cfg config.Config, st *store.Store, bus *event.Bus) (*relay.Relay, *transport.MemListener, func()) {
	t.Helper()
	r := relay.New(cfg, st, nil, bus)
	ln := transport.NewMemListener()

	serveDone := make(chan error, 1)
	go func() { serveDone <- r.Serve(context.Background(), ln) }()
	waitFor(t, time.Second, func() bool { return r.Addr() != nil })

	var once sync.Once
	stop := func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := r.Shutdown(ctx); err != nil {
				t.Errorf("Shutdown() error = %v", err)
			}
			select {
			case err := <-serveDone:
				if err != nil {
					t.Errorf("Serve() error = %v", err)
				}
			case <-time.After(5 * time.Second):
				t.Error("Serve() did not return after Shutdown")
			}
		})
	}
	t.Cleanup(stop)
	return r, ln, stop
}

// dialIdentified connects a client through the in-process listener and
// completes the HELLO handshake as clientID.
func dialIdentified(t *testing.T, ln *transport.MemListener, clientID string) *client.Client {
	t.Helper()
	c, err := client.Dial(context.Background(), "mem", client.WithDialer(ln.Dialer()))
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close("") })
	if err := c.Hello(context.Background(), clientID); err != nil {
		t.Fatalf("Hello(%q) error = %v", clientID, err)
	}
	return c
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// eventRecorder collects every event published on a bus.
type eventRecorder struct {
	mu     sync.Mutex
	events []event.Event
}

func recordEvents(bus *event.Bus) *eventRecorder {
	rec := &eventRecorder{}
	bus.SubscribeAll(func(e event.Event) {
		rec.mu.Lock()
		rec.events = append(rec.events, e)
		rec.mu.Unlock()
	})
	return rec
}

func (r *eventRecorder) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.EventType() == eventType {
			n++
		}
	}
	return n
}

func (r *eventRecorder) first(eventType string) event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.EventType() == eventType {
			return e
		}
	}
	return nil
}

// TestRelayRoundTrip pushes messages from one client to another through a
// served relay and watches the whole exchange on the event bus.
func TestRelayRoundTrip(t *testing.T) {
	bus := event.NewBus()
	rec := recordEvents(bus)
	st := store.New(store.WithBus(bus))
	_, ln, _ := startRelay(t, testConfig(), st, bus)
	ctx := context.Background()

	alice := dialIdentified(t, ln, "alice")
	bob := dialIdentified(t, ln, "bob")
	waitFor(t, time.Second, func() bool { return rec.count("session.opened") == 2 })

	first := envelope.New("alice", "bob", []byte("first"), 60)
	second := envelope.New("alice", "bob", []byte("second"), 60)
	aside := envelope.New("alice", "carol", []byte("for carol"), 60)
	for _, env := range []envelope.Envelope{first, second, aside} {
		if err := alice.Send(ctx, env); err != nil {
			t.Fatalf("Send(%s) error = %v", env.MsgID, err)
		}
	}

	// FIFO per mailbox: bob sees his two messages in send order and
	// nothing addressed to carol.
	msgs, err := bob.Fetch(ctx, "bob")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("Fetch() returned %d messages, want 2", len(msgs))
	}
	if msgs[0].MsgID != first.MsgID || msgs[1].MsgID != second.MsgID {
		t.Errorf("Fetch() order = [%s %s], want [%s %s]",
			msgs[0].MsgID, msgs[1].MsgID, first.MsgID, second.MsgID)
	}
	if string(msgs[0].Payload) != "first" {
		t.Errorf("payload = %q, want %q", msgs[0].Payload, "first")
	}

	// At-least-once: the fetch left both queued; acking the first leaves
	// only the second.
	if err := bob.Ack(ctx, first.MsgID); err != nil {
		t.Fatalf("Ack() error = %v", err)
	}
	msgs, err = bob.Fetch(ctx, "bob")
	if err != nil {
		t.Fatalf("Fetch() after ack error = %v", err)
	}
	if len(msgs) != 1 || msgs[0].MsgID != second.MsgID {
		t.Fatalf("Fetch() after ack = %d messages, want just %s", len(msgs), second.MsgID)
	}

	// A still-queued message ID is rejected as a duplicate through the
	// whole stack, and the connection survives the rejection.
	if err := alice.Send(ctx, second); !qerrors.Is(err, qerrors.ErrDuplicateMessageID) {
		t.Errorf("Send(duplicate) error = %v, want ErrDuplicateMessageID", err)
	}
	if err := alice.Send(ctx, envelope.New("alice", "bob", []byte("after rejection"), 60)); err != nil {
		t.Errorf("Send() after rejection error = %v", err)
	}

	if got := rec.count("message.enqueued"); got != 4 {
		t.Errorf("message.enqueued events = %d, want 4", got)
	}
	if got := rec.count("message.acked"); got != 1 {
		t.Errorf("message.acked events = %d, want 1", got)
	}
	enq, ok := rec.first("message.enqueued").(event.MessageEnqueuedEvent)
	if !ok {
		t.Fatal("first message.enqueued event has the wrong concrete type")
	}
	if enq.Sender != "alice" || enq.Recipient != "bob" || enq.PayloadBytes != len("first") {
		t.Errorf("enqueued event = %+v, want alice->bob %d bytes", enq, len("first"))
	}

	// Closing a client ends its session.
	if err := bob.Close("done"); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	waitFor(t, time.Second, func() bool { return rec.count("session.closed") >= 1 })
}

// TestPersistenceAcrossRestart proves that unacked messages written to the
// persistence log come back after the relay process restarts.
func TestPersistenceAcrossRestart(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "messages.jsonl")
	ctx := context.Background()

	st1 := store.New(store.WithPersistence(store.NewFileLog(logPath)))
	_, ln1, stop1 := startRelay(t, testConfig(), st1, nil)

	alice := dialIdentified(t, ln1, "alice")
	kept := envelope.New("alice", "bob", []byte("survives restart"), 0)
	acked := envelope.New("alice", "bob", []byte("acked before restart"), 0)
	for _, env := range []envelope.Envelope{kept, acked} {
		if err := alice.Send(ctx, env); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}

	bob := dialIdentified(t, ln1, "bob")
	if _, err := bob.Fetch(ctx, "bob"); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if err := bob.Ack(ctx, acked.MsgID); err != nil {
		t.Fatalf("Ack() error = %v", err)
	}
	_ = alice.Close("")
	_ = bob.Close("")
	stop1()

	// Second relay, same log file.
	st2 := store.New(store.WithPersistence(store.NewFileLog(logPath)))
	_, ln2, _ := startRelay(t, testConfig(), st2, nil)

	bob2 := dialIdentified(t, ln2, "bob")
	msgs, err := bob2.Fetch(ctx, "bob")
	if err != nil {
		t.Fatalf("Fetch() after restart error = %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("Fetch() after restart = %d messages, want 1", len(msgs))
	}
	if msgs[0].MsgID != kept.MsgID || string(msgs[0].Payload) != "survives restart" {
		t.Errorf("surviving message = %s %q, want %s", msgs[0].MsgID, msgs[0].Payload, kept.MsgID)
	}
}

// TestDeliveryModes exercises both delivery modes through served relays.
func TestDeliveryModes(t *testing.T) {
	ctx := context.Background()

	t.Run("at_least_once redelivers until ack", func(t *testing.T) {
		st := store.New()
		_, ln, _ := startRelay(t, testConfig(), st, nil)

		alice := dialIdentified(t, ln, "alice")
		env := envelope.New("alice", "bob", []byte("redeliver me"), 60)
		if err := alice.Send(ctx, env); err != nil {
			t.Fatalf("Send() error = %v", err)
		}

		bob := dialIdentified(t, ln, "bob")
		for i := 0; i < 2; i++ {
			msgs, err := bob.Fetch(ctx, "bob")
			if err != nil {
				t.Fatalf("Fetch() #%d error = %v", i+1, err)
			}
			if len(msgs) != 1 {
				t.Fatalf("Fetch() #%d = %d messages, want 1", i+1, len(msgs))
			}
		}
		if err := bob.Ack(ctx, env.MsgID); err != nil {
			t.Fatalf("Ack() error = %v", err)
		}
		msgs, err := bob.Fetch(ctx, "bob")
		if err != nil {
			t.Fatalf("Fetch() after ack error = %v", err)
		}
		if len(msgs) != 0 {
			t.Errorf("Fetch() after ack = %d messages, want 0", len(msgs))
		}
	})

	t.Run("at_most_once drains on fetch", func(t *testing.T) {
		cfg := testConfig()
		cfg.Relay.Delivery = "at_most_once"
		st := store.New(store.WithDeliveryMode(store.AtMostOnce))
		_, ln, _ := startRelay(t, cfg, st, nil)

		alice := dialIdentified(t, ln, "alice")
		if err := alice.Send(ctx, envelope.New("alice", "bob", []byte("once"), 60)); err != nil {
			t.Fatalf("Send() error = %v", err)
		}

		bob := dialIdentified(t, ln, "bob")
		msgs, err := bob.Fetch(ctx, "bob")
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		if len(msgs) != 1 {
			t.Fatalf("Fetch() = %d messages, want 1", len(msgs))
		}
		msgs, err = bob.Fetch(ctx, "bob")
		if err != nil {
			t.Fatalf("second Fetch() error = %v", err)
		}
		if len(msgs) != 0 {
			t.Errorf("second Fetch() = %d messages, want 0", len(msgs))
		}
	})
}

// TestSweepExpiresDeliveredTTL runs the relay with a live sweep loop and
// waits for an expired message to vanish without any client action.
func TestSweepExpiresDeliveredTTL(t *testing.T) {
	cfg := testConfig()
	cfg.Store.SweepIntervalSeconds = 1

	bus := event.NewBus()
	rec := recordEvents(bus)
	st := store.New(store.WithBus(bus))
	_, ln, _ := startRelay(t, cfg, st, bus)
	ctx := context.Background()

	alice := dialIdentified(t, ln, "alice")
	if err := alice.Send(ctx, envelope.New("alice", "bob", []byte("short lived"), 1)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got := st.Len("bob"); got != 1 {
		t.Fatalf("Len(bob) = %d, want 1", got)
	}

	// Nothing reads the mailbox while waiting, so the sweep loop alone
	// must notice the expiry. Len would lazily drop the message itself.
	waitFor(t, 5*time.Second, func() bool {
		e := rec.first("mailbox.swept")
		if e == nil {
			return false
		}
		return e.(event.MailboxSweptEvent).ExpiredMessages >= 1
	})
	if got := st.Len("bob"); got != 0 {
		t.Errorf("Len(bob) after sweep = %d, want 0", got)
	}

	bob := dialIdentified(t, ln, "bob")
	msgs, err := bob.Fetch(ctx, "bob")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("Fetch() after expiry = %d messages, want 0", len(msgs))
	}
}

// TestAdminObservesRelay starts the admin HTTP server next to a served
// relay and reads live counters through it.
func TestAdminObservesRelay(t *testing.T) {
	bus := event.NewBus()
	st := store.New(store.WithBus(bus))
	r, ln, _ := startRelay(t, testConfig(), st, bus)
	ctx := context.Background()

	adm := admin.New("127.0.0.1:0", r, st, nil)
	if err := adm.Start(); err != nil {
		t.Fatalf("admin Start() error = %v", err)
	}
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = adm.Shutdown(shutdownCtx)
	})
	base := "http://" + adm.Addr().String()

	resp, err := http.Get(base + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /healthz status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	alice := dialIdentified(t, ln, "alice")
	for i := 0; i < 3; i++ {
		if err := alice.Send(ctx, envelope.New("alice", "bob", []byte("observed"), 60)); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}

	resp, err = http.Get(base + "/stats")
	if err != nil {
		t.Fatalf("GET /stats error = %v", err)
	}
	var stats admin.StatsResponse
	err = json.NewDecoder(resp.Body).Decode(&stats)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode stats: %v", err)
	}

	if stats.ActiveSessions != 1 {
		t.Errorf("active_sessions = %d, want 1", stats.ActiveSessions)
	}
	if stats.Store.Enqueued != 3 || stats.Store.Messages != 3 {
		t.Errorf("store stats = %+v, want 3 enqueued and pending", stats.Store)
	}
	if stats.Store.Mailboxes != 1 {
		t.Errorf("mailboxes = %d, want 1", stats.Store.Mailboxes)
	}
}
