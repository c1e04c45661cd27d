// Package store provides the per-recipient mailbox storage for the qight relay.
//
// Messages arrive as envelopes over SEND, wait in their recipient's mailbox in
// arrival order, and leave through FETCH and ACK. A message carries a TTL;
// once that elapses the message is undeliverable and is dropped the next time
// its mailbox is touched, or by a periodic sweep.
//
// # Architecture
//
// The store keeps a map of recipient to mailbox behind a read-write mutex.
// Each mailbox carries its own mutex, so senders to different recipients never
// contend and no operation holds the map lock while scanning a mailbox.
//
// # Main Types
//
//   - [Store]: The mailbox map with enqueue/fetch/ack/sweep operations
//   - [DeliveryMode]: AtLeastOnce (fetch copies, ack removes) or AtMostOnce (fetch drains)
//   - [Stats]: Counter snapshot for the admin surface
//   - [Persistence]: Optional append-only log for crash recovery, with a JSONL [FileLog]
//
// # Delivery Modes
//
// Under [AtLeastOnce], FETCH returns copies and messages stay queued until an
// ACK names them; a client that crashes mid-fetch sees the messages again.
// Under [AtMostOnce], FETCH hands the messages over and drops them in the same
// operation. The mode is fixed when the store is built and never mixes.
//
// # Basic Usage
//
//	st := store.New(store.WithDeliveryMode(store.AtLeastOnce))
//
//	err := st.Enqueue(envelope.New("alice", "bob", []byte("hi"), 60))
//
//	for _, env := range st.Fetch("bob") {
//	    process(env)
//	    st.Ack("bob", env.MsgID)
//	}
//
// # Thread Safety
//
// All Store methods are safe for concurrent use. Persistence failures never
// fail the in-memory operation; they are logged and counted instead.
package store
