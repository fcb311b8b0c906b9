package message

import (
	"errors"
	"fmt"
)

// Message layer errors.
var (
	ErrMessageTooShort   = errors.New("message: not enough data to unpack header")
	ErrPayloadIncomplete = errors.New("message: not enough data to unpack payload")
	ErrInvalidPrefix     = errors.New("message: header prefix wrong")
	ErrPayloadTooLong    = errors.New("message: declared payload length exceeds limit")
	ErrLengthTooShort    = errors.New("message: declared payload length shorter than trailer")
)

// FrameError is returned when a buffer cannot be decoded into a frame.
// It always wraps one of the sentinel errors above.
type FrameError struct {
	Err    error
	Detail string
}

func (e *FrameError) Error() string {
	if e.Detail == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s (%s)", e.Err.Error(), e.Detail)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

func frameErrorf(err error, format string, args ...any) error {
	return &FrameError{Err: err, Detail: fmt.Sprintf(format, args...)}
}

// Wire format constants.
const (
	// Prefix is the magic value at the start of every frame.
	Prefix uint32 = 0x000055AA

	// Suffix is the magic value at the end of every frame.
	Suffix uint32 = 0x0000AA55

	// HeaderSize is prefix + seq + cmd + length.
	HeaderSize = 16

	// ReturnCodeSize is the return code carried by device frames.
	ReturnCodeSize = 4

	// CRCSize is the CRC32 trailer size.
	CRCSize = 4

	// HMACSize is the HMAC-SHA256 trailer size.
	HMACSize = 32

	// SuffixSize is the suffix magic size.
	SuffixSize = 4

	// MaxPayloadLength is the sanity ceiling for the declared length.
	// Real devices send around 300 bytes at most; anything above this is
	// most likely a corrupt stream.
	MaxPayloadLength = 1000
)
