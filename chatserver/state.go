package chatserver

// State is a step of the server lifecycle.
type State int32

const (
	StateIdle     State = iota // Created, not yet started
	StateStarting              // Binding the listener and creating the multiplexer
	StateRunning               // Serving the event loop
	StateStopping              // Closing connections, multiplexer and listener
	StateStopped               // Terminal; the server cannot be restarted
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}
