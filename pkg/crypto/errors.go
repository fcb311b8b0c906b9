package crypto

import "errors"

// Errors for cipher operations.
var (
	ErrInvalidKeySize     = errors.New("crypto: invalid key size, must be 16 bytes")
	ErrNotBlockAligned    = errors.New("crypto: input is not a multiple of the block size")
	ErrInvalidPadding     = errors.New("crypto: invalid padding")
	ErrInvalidText        = errors.New("crypto: decrypted data is not valid UTF-8")
	ErrInvalidNonceLength = errors.New("crypto: nonces must be 16 bytes each")
)
