package exchange

import (
	"context"
	"time"

	"github.com/backkem/tuyalan/pkg/message"
)

// Waiter is a registration for the next frame routed to a key.
//
// Register before writing the request so a fast reply cannot arrive ahead
// of the registration.
type Waiter struct {
	key       Key
	ch        chan *message.Frame
	remaining int // guarded by d.mu
	d         *Dispatcher
	aborted   <-chan struct{}
}

// Key returns the key the waiter is registered for.
func (w *Waiter) Key() Key {
	return w.key
}

// Wait blocks until a frame is routed to the waiter, the timeout elapses,
// ctx is done, or the dispatcher is aborted. A zero timeout uses
// DefaultTimeout. On timeout or cancellation the registration is removed.
func (w *Waiter) Wait(ctx context.Context, timeout time.Duration) (*message.Frame, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	// A frame that is already there wins over abort or expiry.
	select {
	case f := <-w.ch:
		return f, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f := <-w.ch:
		return f, nil
	case <-w.aborted:
		return nil, ErrAborted
	case <-timer.C:
		w.Cancel()
		return nil, ErrTimeout
	case <-ctx.Done():
		w.Cancel()
		return nil, ctx.Err()
	}
}

// Cancel removes the registration if it is still pending.
func (w *Waiter) Cancel() {
	w.d.unregister(w)
}
