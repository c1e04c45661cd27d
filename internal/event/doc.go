// Package event provides a pub-sub event bus for decoupled inter-component
// communication in the qight relay.
//
// The store publishes mailbox activity and the dispatcher publishes session
// lifecycle without either knowing who listens; the admin surface and tests
// subscribe without touching relay internals.
//
// # Main Types
//
//   - [Event]: Interface that all events must implement, providing EventType() and Timestamp()
//   - [Bus]: Synchronous pub-sub event dispatcher with thread-safe operations
//   - [Handler]: Function type for event handlers (func(Event))
//
// # Event Categories
//
// Session lifecycle:
//   - [SessionOpenedEvent]: Emitted when the relay accepts a connection
//   - [SessionClosedEvent]: Emitted when a session ends, with the reason
//
// Mailbox activity:
//   - [MessageEnqueuedEvent]: Emitted when SEND queues a message
//   - [MessageAckedEvent]: Emitted when ACK removes a message
//   - [MailboxSweptEvent]: Emitted after each sweep pass
//
// # Thread Safety
//
// The [Bus] type is safe for concurrent use. Multiple goroutines can publish
// and subscribe concurrently. Handlers are called synchronously and protected
// against panics - a panicking handler will not prevent other handlers from
// being called.
//
// # Basic Usage
//
//	bus := event.NewBus()
//
//	// Subscribe to specific event types
//	bus.Subscribe("message.enqueued", func(e event.Event) {
//	    enq := e.(event.MessageEnqueuedEvent)
//	    log.Printf("message %s queued for %s", enq.MsgID, enq.Recipient)
//	})
//
//	// Subscribe to all events (useful for logging)
//	bus.SubscribeAll(func(e event.Event) {
//	    log.Printf("event: %s at %v", e.EventType(), e.Timestamp())
//	})
//
//	// Publish events
//	bus.Publish(event.NewMessageAckedEvent("bob", "msg-1"))
//
//	// Unsubscribe when done
//	id := bus.Subscribe("session.closed", handler)
//	bus.Unsubscribe(id)
//
// # Event Type Naming Convention
//
// Event types follow the pattern "category.action":
//   - session.opened, session.closed
//   - message.enqueued, message.acked
//   - mailbox.swept
package event
