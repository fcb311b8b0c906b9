package tuya

// State is the connection state of a Client.
type State int

const (
	// StateDisconnected is the state before connecting and after the
	// connection is closed or lost.
	StateDisconnected State = iota

	// StateConnecting means the TCP connection is being established.
	StateConnecting

	// StateConnected means requests can be exchanged.
	StateConnected

	// StateNegotiatingSessionKey means a protocol 3.4 session key is being
	// agreed. The client returns to StateConnected afterwards, whether the
	// negotiation succeeded or not.
	StateNegotiatingSessionKey
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateNegotiatingSessionKey:
		return "NegotiatingSessionKey"
	default:
		return "Unknown"
	}
}

// IsConnected returns true if the transport is up.
func (s State) IsConnected() bool {
	return s == StateConnected || s == StateNegotiatingSessionKey
}
