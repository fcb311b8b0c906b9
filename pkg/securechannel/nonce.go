package securechannel

import (
	"crypto/rand"
	"io"

	"github.com/google/uuid"
)

// uuidReader fills buffers with the bytes of random (version 4) UUIDs.
// Six bits of every 16 bytes are fixed by the UUID version and variant.
type uuidReader struct{}

func (uuidReader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		u, err := uuid.NewRandom()
		if err != nil {
			return n, err
		}
		n += copy(p[n:], u[:])
	}
	return n, nil
}

// DefaultNonceSource is the source of negotiation nonces.
var DefaultNonceSource io.Reader = rand.Reader

// UUIDNonceSource yields nonces built from random UUIDs. They carry 122
// random bits per 16 bytes, which is enough for emulated devices and
// tests but not for a client.
var UUIDNonceSource io.Reader = uuidReader{}
