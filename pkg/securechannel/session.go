// Package securechannel implements the protocol 3.4 session-key negotiation.
//
// The client sends a 16-byte nonce (SESS_KEY_NEG_START). The device answers
// with its own nonce and an HMAC of the client nonce, encrypted with the
// local key (SESS_KEY_NEG_RESP). The client proves possession of the key by
// returning an HMAC of the device nonce (SESS_KEY_NEG_FINISH). Both sides
// then encrypt the XOR of the nonces with the local key to get the session
// key.
package securechannel

import (
	"io"
	"sync"

	"github.com/backkem/tuyalan/pkg/crypto"
)

// Role is the negotiation participant role.
type Role int

const (
	// RoleInitiator is the client.
	RoleInitiator Role = iota
	// RoleResponder is the device.
	RoleResponder
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "Initiator"
	case RoleResponder:
		return "Responder"
	default:
		return "Unknown"
	}
}

// State is the negotiation state.
type State int

const (
	StateInit            State = iota
	StateWaitingResponse       // Initiator: sent start
	StateWaitingFinish         // Responder: sent response
	StateComplete
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateWaitingResponse:
		return "WaitingResponse"
	case StateWaitingFinish:
		return "WaitingFinish"
	case StateComplete:
		return "Complete"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// ResponseSize is the plaintext size of the negotiation response:
// responder nonce followed by the HMAC of the initiator nonce.
const ResponseSize = crypto.NonceSize + crypto.HMACSize

// Session runs one session-key negotiation.
//
// Usage (Initiator):
//
//	s, _ := securechannel.NewInitiator(localKey, nil)
//	start, _ := s.Start()
//	// send start, receive response
//	finish, _ := s.HandleResponse(response)
//	// send finish
//	key, _ := s.SessionKey()
//
// Usage (Responder):
//
//	s, _ := securechannel.NewResponder(localKey, nil)
//	response, _ := s.HandleStart(start)
//	// send response, receive finish
//	_ = s.HandleFinish(finish)
//	key, _ := s.SessionKey()
type Session struct {
	role  Role
	state State

	realKey []byte
	cipher  *crypto.Cipher

	initiatorNonce []byte
	responderNonce []byte
	sessionKey     []byte

	rand io.Reader

	mu sync.Mutex
}

func newSession(role Role, realKey []byte, nonces io.Reader) (*Session, error) {
	c, err := crypto.NewCipher(realKey)
	if err != nil {
		return nil, ErrInvalidKey
	}
	if nonces == nil {
		nonces = DefaultNonceSource
	}
	return &Session{
		role:    role,
		state:   StateInit,
		realKey: c.Key(),
		cipher:  c,
		rand:    nonces,
	}, nil
}

// NewInitiator creates a client-side negotiation. A nil nonce source uses
// DefaultNonceSource.
func NewInitiator(realKey []byte, nonces io.Reader) (*Session, error) {
	return newSession(RoleInitiator, realKey, nonces)
}

// NewResponder creates a device-side negotiation. A nil nonce source uses
// DefaultNonceSource.
func NewResponder(realKey []byte, nonces io.Reader) (*Session, error) {
	return newSession(RoleResponder, realKey, nonces)
}

// Role returns the session role.
func (s *Session) Role() Role {
	return s.role
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start begins the negotiation (Initiator only) and returns the local
// nonce to send with SESS_KEY_NEG_START.
func (s *Session) Start() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.role != RoleInitiator || s.state != StateInit {
		return nil, ErrInvalidState
	}

	nonce := make([]byte, crypto.NonceSize)
	if _, err := io.ReadFull(s.rand, nonce); err != nil {
		s.state = StateFailed
		return nil, err
	}

	s.initiatorNonce = nonce
	s.state = StateWaitingResponse
	return copyBytes(nonce), nil
}

// HandleResponse processes the SESS_KEY_NEG_RESP payload (Initiator only)
// and returns the payload for SESS_KEY_NEG_FINISH.
func (s *Session) HandleResponse(payload []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.role != RoleInitiator || s.state != StateWaitingResponse {
		return nil, ErrInvalidState
	}

	if len(payload) < ResponseSize {
		s.state = StateFailed
		return nil, ErrResponseTooShort
	}

	plain, err := s.cipher.Decrypt(payload, false)
	if err != nil {
		s.state = StateFailed
		return nil, ErrDecryptFailed
	}
	if len(plain) < ResponseSize {
		s.state = StateFailed
		return nil, ErrResponseTooShort
	}

	remote := plain[:crypto.NonceSize]
	proof := plain[crypto.NonceSize:ResponseSize]

	expected := crypto.HMACSHA256Slice(s.realKey, s.initiatorNonce)
	if !crypto.HMACEqual(expected, proof) {
		s.state = StateFailed
		return nil, ErrConfirmationFailed
	}

	key, err := crypto.DeriveSessionKey(s.initiatorNonce, remote, s.realKey)
	if err != nil {
		s.state = StateFailed
		return nil, err
	}

	s.responderNonce = copyBytes(remote)
	s.sessionKey = key
	s.state = StateComplete

	return crypto.HMACSHA256Slice(s.realKey, s.responderNonce), nil
}

// HandleStart processes the SESS_KEY_NEG_START payload (Responder only)
// and returns the encrypted payload for SESS_KEY_NEG_RESP.
func (s *Session) HandleStart(payload []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.role != RoleResponder || s.state != StateInit {
		return nil, ErrInvalidState
	}
	if len(payload) != crypto.NonceSize {
		s.state = StateFailed
		return nil, ErrInvalidNonce
	}

	nonce := make([]byte, crypto.NonceSize)
	if _, err := io.ReadFull(s.rand, nonce); err != nil {
		s.state = StateFailed
		return nil, err
	}

	s.initiatorNonce = copyBytes(payload)
	s.responderNonce = nonce

	plain := make([]byte, 0, ResponseSize)
	plain = append(plain, nonce...)
	plain = append(plain, crypto.HMACSHA256Slice(s.realKey, s.initiatorNonce)...)

	out, err := s.cipher.Encrypt(plain, false, true)
	if err != nil {
		s.state = StateFailed
		return nil, err
	}

	s.state = StateWaitingFinish
	return out, nil
}

// HandleFinish verifies the SESS_KEY_NEG_FINISH payload (Responder only).
func (s *Session) HandleFinish(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.role != RoleResponder || s.state != StateWaitingFinish {
		return ErrInvalidState
	}

	expected := crypto.HMACSHA256Slice(s.realKey, s.responderNonce)
	if !crypto.HMACEqual(expected, payload) {
		s.state = StateFailed
		return ErrConfirmationFailed
	}

	key, err := crypto.DeriveSessionKey(s.initiatorNonce, s.responderNonce, s.realKey)
	if err != nil {
		s.state = StateFailed
		return err
	}

	s.sessionKey = key
	s.state = StateComplete
	return nil
}

// SessionKey returns the negotiated key once the session is complete.
func (s *Session) SessionKey() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateComplete {
		return nil, ErrInvalidState
	}
	return copyBytes(s.sessionKey), nil
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
