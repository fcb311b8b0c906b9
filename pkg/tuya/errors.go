package tuya

import "errors"

// Package-level errors.
var (
	// ErrDeviceIDRequired is returned when Config.DeviceID is empty.
	ErrDeviceIDRequired = errors.New("tuya: device id is required")

	// ErrInvalidLocalKey is returned when Config.LocalKey is not 16 bytes.
	ErrInvalidLocalKey = errors.New("tuya: local key must be 16 bytes")

	// ErrHostRequired is returned by Connect when Config.Host is empty.
	ErrHostRequired = errors.New("tuya: host is required")

	// ErrUnknownVersion is returned for an unsupported protocol version.
	ErrUnknownVersion = errors.New("tuya: unknown protocol version")

	// ErrConnectFailed wraps transport errors seen while connecting.
	ErrConnectFailed = errors.New("tuya: unable to connect")

	// ErrClosed is returned once the client is closed or the connection
	// is lost.
	ErrClosed = errors.New("tuya: connection closed")

	// ErrTimeout is returned when the device does not answer in time.
	ErrTimeout = errors.New("tuya: timeout waiting for device")

	// ErrProfileUnstable is returned when the device keeps forcing
	// payload profile changes.
	ErrProfileUnstable = errors.New("tuya: device profile keeps changing")

	// ErrNegotiationFailed is returned when the protocol 3.4 session key
	// cannot be agreed.
	ErrNegotiationFailed = errors.New("tuya: session key negotiation failed")
)
