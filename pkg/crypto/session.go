package crypto

// NonceSize is the size of each session-key negotiation nonce.
const NonceSize = 16

// DeriveSessionKey computes the protocol 3.4 session key: the XOR of both
// nonces encrypted with the real local key, without padding.
func DeriveSessionKey(localNonce, remoteNonce, realKey []byte) ([]byte, error) {
	if len(localNonce) != NonceSize || len(remoteNonce) != NonceSize {
		return nil, ErrInvalidNonceLength
	}

	mixed := make([]byte, NonceSize)
	for i := range mixed {
		mixed[i] = localNonce[i] ^ remoteNonce[i]
	}

	c, err := NewCipher(realKey)
	if err != nil {
		return nil, err
	}
	return c.Encrypt(mixed, false, false)
}
