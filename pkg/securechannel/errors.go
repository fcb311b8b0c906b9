package securechannel

import "errors"

// Errors.
var (
	ErrInvalidState       = errors.New("securechannel: invalid protocol state")
	ErrInvalidKey         = errors.New("securechannel: local key must be 16 bytes")
	ErrResponseTooShort   = errors.New("securechannel: negotiation response too short")
	ErrDecryptFailed      = errors.New("securechannel: cannot decrypt negotiation response")
	ErrConfirmationFailed = errors.New("securechannel: nonce HMAC mismatch")
	ErrInvalidNonce       = errors.New("securechannel: invalid nonce")
)
