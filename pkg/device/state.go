package device

// State is the lifecycle state of a Device.
type State int

const (
	// StateIdle is the state before Start.
	StateIdle State = iota

	// StateConnecting means a connection attempt is in progress, including
	// the initial status query.
	StateConnecting

	// StateConnected means the device answered and is being supervised.
	StateConnected

	// StateWaiting means the last attempt failed or the connection dropped
	// and the next attempt is scheduled.
	StateWaiting

	// StateStopped means Stop has been called.
	StateStopped
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateWaiting:
		return "Waiting"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}
