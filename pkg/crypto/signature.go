package crypto

import (
	"crypto/md5"
	"encoding/hex"
)

// SignatureSize is the length of the protocol 3.1 signature.
const SignatureSize = 16

// MD5Signature returns the protocol 3.1 control signature for a base64
// ciphertext: characters 8 to 24 of the hex MD5 digest of
// "data=<b64>||lpv=<version>||<key>".
func MD5Signature(b64Payload []byte, version string, key []byte) []byte {
	h := md5.New()
	h.Write([]byte("data="))
	h.Write(b64Payload)
	h.Write([]byte("||lpv=" + version + "||"))
	h.Write(key)

	digest := hex.EncodeToString(h.Sum(nil))
	return []byte(digest[8 : 8+SignatureSize])
}
