package device

import "errors"

var (
	// ErrNotConnected is returned for commands while no connection is up.
	ErrNotConnected = errors.New("device: not connected")

	// ErrNoStatus is returned when the device answers the initial status
	// query without any datapoints.
	ErrNoStatus = errors.New("device: failed to retrieve status")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("device: already started")

	// ErrNotStarted is returned by Stop before Start.
	ErrNotStarted = errors.New("device: not started")
)
