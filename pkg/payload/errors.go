package payload

import "errors"

// Errors returned by the payload package.
var (
	ErrUnknownProfile = errors.New("payload: unknown profile")
	ErrEmptyDeviceID  = errors.New("payload: device id is empty")
)
