package session

// State tracks where a session is in its lifecycle. Transitions only move
// forward: Connecting → AwaitingHello → Ready → Closed, with Closed
// reachable from any earlier state.
type State int

const (
	// StateConnecting means the transport connection is up but the
	// dispatcher has not started serving it yet.
	StateConnecting State = iota

	// StateAwaitingHello means the session accepts exactly one command:
	// HELLO.
	StateAwaitingHello

	// StateReady means the handshake completed and SEND, FETCH, ACK, and
	// CLOSE are accepted.
	StateReady

	// StateClosed means the session is finished. Frames arriving after the
	// transition are ignored.
	StateClosed
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingHello:
		return "awaiting_hello"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
