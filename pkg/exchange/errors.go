package exchange

import "errors"

// Errors returned by the exchange package.
var (
	// ErrWaiterExists is returned when a key already has a registered waiter.
	ErrWaiterExists = errors.New("exchange: waiter already registered for key")

	// ErrTimeout is returned when no frame arrived for a key in time.
	ErrTimeout = errors.New("exchange: timed out waiting for response")

	// ErrAborted is returned to waiters released by Abort, and to
	// registrations attempted after it.
	ErrAborted = errors.New("exchange: dispatcher aborted")
)
