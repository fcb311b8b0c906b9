package tuya

// Listener receives events from a Client.
//
// Calls are made from the connection's read goroutine; implementations
// must not block and must not call Client.Close from Disconnected.
type Listener interface {
	// StatusUpdated is called with a copy of the merged datapoint cache
	// after a status push.
	StatusUpdated(dps map[string]any)

	// Disconnected is called once when the connection is lost.
	Disconnected()
}

// EmptyListener ignores every event.
type EmptyListener struct{}

// StatusUpdated implements Listener.
func (EmptyListener) StatusUpdated(map[string]any) {}

// Disconnected implements Listener.
func (EmptyListener) Disconnected() {}

// ListenerFuncs adapts plain functions to Listener. Nil fields are
// ignored.
type ListenerFuncs struct {
	OnStatus       func(dps map[string]any)
	OnDisconnected func()
}

// StatusUpdated implements Listener.
func (l ListenerFuncs) StatusUpdated(dps map[string]any) {
	if l.OnStatus != nil {
		l.OnStatus(dps)
	}
}

// Disconnected implements Listener.
func (l ListenerFuncs) Disconnected() {
	if l.OnDisconnected != nil {
		l.OnDisconnected()
	}
}
