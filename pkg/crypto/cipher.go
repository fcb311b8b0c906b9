package crypto

import (
	"crypto/aes"
	"encoding/base64"
	"fmt"
	"unicode/utf8"
)

// Cipher constants.
const (
	// KeySize is the AES-128 key size in bytes.
	KeySize = 16

	// BlockSize is the AES block size in bytes.
	BlockSize = aes.BlockSize
)

// Cipher is AES-128-ECB with the Tuya padding scheme.
//
// Padding appends n bytes of value n where n = 16 - len%16, so a
// block-aligned input still gains a full block of padding.
type Cipher struct {
	key []byte
}

// NewCipher creates a cipher for the given 16-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	k := make([]byte, KeySize)
	copy(k, key)
	return &Cipher{key: k}, nil
}

// Key returns a copy of the cipher key.
func (c *Cipher) Key() []byte {
	k := make([]byte, len(c.key))
	copy(k, c.key)
	return k
}

// Encrypt encrypts plaintext. With pad unset the plaintext must already be
// block aligned. With useBase64 set the ciphertext is returned base64 encoded.
func (c *Cipher) Encrypt(plaintext []byte, useBase64, pad bool) ([]byte, error) {
	data := plaintext
	if pad {
		data = Pad(plaintext)
	} else if len(data)%BlockSize != 0 {
		return nil, ErrNotBlockAligned
	}

	out, err := c.ecb(data, true)
	if err != nil {
		return nil, err
	}

	if useBase64 {
		enc := make([]byte, base64.StdEncoding.EncodedLen(len(out)))
		base64.StdEncoding.Encode(enc, out)
		return enc, nil
	}
	return out, nil
}

// Decrypt decrypts ciphertext and strips the padding. With useBase64 set the
// input is base64 decoded first.
func (c *Cipher) Decrypt(ciphertext []byte, useBase64 bool) ([]byte, error) {
	data := ciphertext
	if useBase64 {
		dec := make([]byte, base64.StdEncoding.DecodedLen(len(ciphertext)))
		n, err := base64.StdEncoding.Decode(dec, ciphertext)
		if err != nil {
			return nil, fmt.Errorf("crypto: base64 decode: %w", err)
		}
		data = dec[:n]
	}

	if len(data) == 0 || len(data)%BlockSize != 0 {
		return nil, ErrNotBlockAligned
	}

	out, err := c.ecb(data, false)
	if err != nil {
		return nil, err
	}
	return Unpad(out)
}

// DecryptString decrypts like Decrypt and requires the result to be UTF-8.
func (c *Cipher) DecryptString(ciphertext []byte, useBase64 bool) (string, error) {
	out, err := c.Decrypt(ciphertext, useBase64)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(out) {
		return "", ErrInvalidText
	}
	return string(out), nil
}

// ecb runs the block cipher over every block of data independently.
func (c *Cipher) ecb(data []byte, encrypt bool) ([]byte, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(data))
	for i := 0; i < len(data); i += BlockSize {
		if encrypt {
			block.Encrypt(out[i:i+BlockSize], data[i:i+BlockSize])
		} else {
			block.Decrypt(out[i:i+BlockSize], data[i:i+BlockSize])
		}
	}
	return out, nil
}

// Pad applies the Tuya padding to data.
func Pad(data []byte) []byte {
	n := BlockSize - len(data)%BlockSize
	out := make([]byte, len(data)+n)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

// Unpad removes the padding added by Pad. Only the last byte is inspected.
func Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrInvalidPadding
	}
	n := int(data[len(data)-1])
	if n == 0 || n > BlockSize || n > len(data) {
		return nil, ErrInvalidPadding
	}
	return data[:len(data)-n], nil
}
