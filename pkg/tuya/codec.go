package tuya

import (
	"bytes"
	"encoding/json"
	"unicode/utf8"

	"github.com/backkem/tuyalan/pkg/crypto"
	"github.com/backkem/tuyalan/pkg/message"
	"github.com/backkem/tuyalan/pkg/payload"
)

// dataInvalid is the marker some devices return when they want the
// legacy DP query.
var dataInvalid = []byte("data unvalid")

// encodeLocked encrypts body for the negotiated version and frames it with
// the next sequence number. c.mu must be held.
func (c *Client) encodeLocked(cmd message.Command, body []byte) ([]byte, error) {
	ciph, err := crypto.NewCipher(c.key)
	if err != nil {
		return nil, err
	}

	mode := message.CRC32()
	switch {
	case c.version.usesHMAC():
		mode = message.HMAC(c.key)
		if cmd.HasProtocolHeader() {
			body = append(c.version.header(), body...)
		}
		if c.log != nil {
			c.log.Tracef("final payload for %s: %q", cmd, body)
		}
		if body, err = ciph.Encrypt(body, false, true); err != nil {
			return nil, err
		}

	case c.version >= Version32:
		if body, err = ciph.Encrypt(body, false, true); err != nil {
			return nil, err
		}
		if cmd.HasProtocolHeader() {
			body = append(c.version.header(), body...)
		}

	case cmd == message.CommandControl:
		b64, err := ciph.Encrypt(body, true, true)
		if err != nil {
			return nil, err
		}
		signed := make([]byte, 0, 3+crypto.SignatureSize+len(b64))
		signed = append(signed, Version31.bytes()...)
		signed = append(signed, crypto.MD5Signature(b64, Version31.String(), c.key)...)
		body = append(signed, b64...)
	}

	seq := c.seq
	c.seq++
	return message.Encode(seq, cmd, body, mode), nil
}

// decodePayload turns a response payload into a Result. It reports
// whether the payload made the client switch to the legacy profile; in
// that case the result is nil.
func (c *Client) decodePayload(data []byte) (Result, bool) {
	c.mu.Lock()
	key := c.key
	c.mu.Unlock()

	ciph, err := crypto.NewCipher(key)
	if err != nil {
		return errorResult(CodePayload, nil), false
	}

	if c.version.usesHMAC() {
		plain, err := ciph.Decrypt(data, false)
		if err != nil {
			if c.log != nil {
				c.log.Debugf("incomplete payload=%x (len:%d)", data, len(data))
			}
			return errorResult(CodePayload, nil), false
		}
		data = plain
	}

	v31 := Version31.bytes()
	switch {
	case bytes.HasPrefix(data, v31):
		// version, 16 characters of MD5 signature, base64 ciphertext
		if len(data) < len(v31)+crypto.SignatureSize {
			return errorResult(CodePayload, data), false
		}
		plain, err := ciph.Decrypt(data[len(v31)+crypto.SignatureSize:], true)
		if err != nil {
			if c.log != nil {
				c.log.Debugf("undecryptable 3.1 payload=%q", data)
			}
			return errorResult(CodePayload, nil), false
		}
		data = plain

	case c.version >= Version32:
		header := c.version.header()
		switch {
		case bytes.HasPrefix(data, c.version.bytes()):
			data = data[min(len(header), len(data)):]
		case c.Profile() == payload.ProfileLegacy && len(data)&0x0F != 0:
			data = data[min(len(header), len(data)):]
		}

		if !c.version.usesHMAC() {
			plain, err := ciph.Decrypt(data, false)
			if err != nil {
				if c.log != nil {
					c.log.Debugf("incomplete payload=%x (len:%d)", data, len(data))
				}
				return errorResult(CodePayload, nil), false
			}
			data = plain
		}

		if !utf8.Valid(data) {
			if c.log != nil {
				c.log.Debug("payload was not text and decoding failed")
			}
			return errorResult(CodeJSON, data), false
		}
		if bytes.Contains(data, dataInvalid) {
			changed := c.setProfile(payload.ProfileLegacy)
			if c.log != nil {
				c.log.Debugf("'data unvalid' error detected: switching to profile %s", payload.ProfileLegacy)
			}
			return nil, changed
		}

	case !bytes.HasPrefix(data, []byte("{")):
		if c.log != nil {
			c.log.Debugf("unexpected payload=%q", data)
		}
		return errorResult(CodePayload, data), false
	}

	if c.log != nil {
		c.log.Debugf("deciphered data = %q", data)
	}

	var res Result
	if err := json.Unmarshal(data, &res); err != nil || res == nil {
		return errorResult(CodeJSON, data), false
	}

	// 3.4 devices wrap datapoints as {"data":{"dps":{...}}}.
	if _, ok := res["dps"]; !ok {
		if inner, ok := res["data"].(map[string]any); ok {
			if dps, ok := inner["dps"]; ok {
				res["dps"] = dps
			}
		}
	}

	return res, false
}
