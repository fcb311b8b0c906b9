// Package crypto provides the cryptographic primitives of the Tuya LAN protocol.
//
// Payloads are encrypted with AES-128 in ECB mode using the device local key
// (or the negotiated session key on protocol 3.4), optionally base64 encoded.
// Frames on protocol 3.4 are authenticated with HMAC-SHA256, and protocol 3.1
// signs control payloads with a truncated MD5 digest.
package crypto
