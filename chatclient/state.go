package chatclient

import "time"

// ConnectionState represents the current state of the session's connection.
type ConnectionState int32

const (
	Disconnected ConnectionState = iota // Not connected; Connect may be called
	Connecting                          // Connection attempt in progress
	Connected                           // Connected and registered for reads
	Closed                              // Session has been closed and cannot be reused
)

// String returns a human-readable name for the connection state.
func (cs ConnectionState) String() string {
	switch cs {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// StateEvent is emitted when the connection state changes.
// It is passed to the handler registered with OnStateChange.
type StateEvent struct {
	State     ConnectionState // The new connection state
	Address   string          // The server address
	Timestamp time.Time       // When the state change occurred
	Error     error           // Non-nil if the change was caused by an error
}

// StateHandler is called on every state change.
type StateHandler func(event StateEvent)

// MessageHandler is called with the text of every read from the server.
type MessageHandler func(msg string)
