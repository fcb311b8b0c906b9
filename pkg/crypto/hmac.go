package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
)

// HMACSize is the HMAC-SHA256 output length in bytes.
const HMACSize = sha256.Size

// HMACSHA256 computes the HMAC-SHA256 of message keyed with key.
// Protocol 3.4 uses it for the frame trailer and both handshake proofs.
func HMACSHA256(key, message []byte) [HMACSize]byte {
	var result [HMACSize]byte
	copy(result[:], HMACSHA256Slice(key, message))
	return result
}

// HMACSHA256Slice computes the HMAC-SHA256 and returns it as a slice.
func HMACSHA256Slice(key, message []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(message)
	return h.Sum(nil)
}

// HMACEqual compares two MACs in constant time.
func HMACEqual(mac1, mac2 []byte) bool {
	return hmac.Equal(mac1, mac2)
}
