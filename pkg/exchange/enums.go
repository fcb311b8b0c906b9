package exchange

import (
	"fmt"
	"time"
)

// Key correlates a response with its waiter. Non-negative keys are frame
// sequence numbers. Negative keys are sentinels for replies whose sequence
// number cannot be predicted.
type Key int64

// Sentinel keys.
const (
	// HeartbeatKey receives heartbeat replies. Devices on protocols before
	// 3.3 answer heartbeats with sequence number 0.
	HeartbeatKey Key = -100

	// ResetKey receives update-DPS replies and, while registered, status pushes.
	ResetKey Key = -101

	// SessionKeyKey receives the session-key negotiation response.
	SessionKeyKey Key = -102
)

// SeqKey returns the key for a sequence number.
func SeqKey(seq uint32) Key {
	return Key(seq)
}

// String returns a human-readable name for the key.
func (k Key) String() string {
	switch k {
	case HeartbeatKey:
		return "Heartbeat"
	case ResetKey:
		return "Reset"
	case SessionKeyKey:
		return "SessionKey"
	default:
		return fmt.Sprintf("Seq(%d)", int64(k))
	}
}

// ChecksumPolicy decides what happens to frames with a bad checksum.
type ChecksumPolicy int

const (
	// ChecksumTolerant logs the mismatch and delivers the frame anyway.
	ChecksumTolerant ChecksumPolicy = iota

	// ChecksumStrict logs the mismatch and drops the frame.
	ChecksumStrict
)

// String returns a human-readable name for the policy.
func (p ChecksumPolicy) String() string {
	switch p {
	case ChecksumTolerant:
		return "Tolerant"
	case ChecksumStrict:
		return "Strict"
	default:
		return "Unknown"
	}
}

// DefaultTimeout is how long a waiter blocks when no timeout is given.
const DefaultTimeout = 5 * time.Second
