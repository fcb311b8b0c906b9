package transport

import "errors"

// Transport errors.
var (
	// ErrClosed is returned when an operation is attempted on a closed connection.
	ErrClosed = errors.New("transport: closed")

	// ErrNoHandler is returned when Start is called without a data handler.
	ErrNoHandler = errors.New("transport: no data handler configured")

	// ErrAlreadyStarted is returned when Start is called on a running connection.
	ErrAlreadyStarted = errors.New("transport: already started")

	// ErrInvalidAddress is returned when no host is given to Dial.
	ErrInvalidAddress = errors.New("transport: invalid address")
)
