package tuya

import (
	"io"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/tuyalan/pkg/crypto"
	"github.com/backkem/tuyalan/pkg/exchange"
	"github.com/backkem/tuyalan/pkg/transport"
)

// Defaults.
const (
	// DefaultPort is the TCP port Tuya devices listen on.
	DefaultPort = transport.DefaultPort

	// DefaultTimeout bounds the wait for each response.
	DefaultTimeout = exchange.DefaultTimeout

	// DefaultHeartbeatInterval is the pause between heartbeats.
	DefaultHeartbeatInterval = 10 * time.Second

	// DefaultMaxProfileFlips is the number of consecutive profile changes
	// tolerated before an exchange fails with ErrProfileUnstable.
	DefaultMaxProfileFlips = 3
)

// Config configures a Client.
type Config struct {
	// Connection - Host is required for Connect.
	Host        string        // Device address
	Port        int           // TCP port (default: 6668)
	DialTimeout time.Duration // Connect timeout (default: 5s)

	// Identity - Required
	DeviceID string // Device id as provisioned in the Tuya cloud
	LocalKey string // 16-character local key

	// Protocol
	Version Version // Protocol version (default: 3.1)

	// Behaviour - Optional (uses defaults if zero)
	Timeout           time.Duration // Per-response wait (default: 5s)
	HeartbeatInterval time.Duration // Pause between heartbeats (default: 10s)
	MaxProfileFlips   int           // Consecutive profile changes tolerated (default: 3)

	// StrictChecksum drops frames whose checksum does not verify instead
	// of logging and accepting them.
	StrictChecksum bool

	// Debug enables debug output of the device logger.
	Debug bool

	// Listener receives status pushes and the disconnect notification.
	// Defaults to EmptyListener.
	Listener Listener

	// OnStateChanged is called after every state transition. Optional.
	OnStateChanged func(state State)

	// Advanced - Testing
	NonceSource io.Reader        // Session key nonces (default: random)
	Now         func() time.Time // Payload timestamps (default: time.Now)

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.DeviceID == "" {
		return ErrDeviceIDRequired
	}

	if len(c.LocalKey) != crypto.KeySize {
		return ErrInvalidLocalKey
	}

	if c.Version != VersionUnset && !c.Version.IsValid() {
		return ErrUnknownVersion
	}

	return nil
}

// applyDefaults fills in default values for unset fields.
func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}

	if c.DialTimeout == 0 {
		c.DialTimeout = transport.DefaultDialTimeout
	}

	if c.Version == VersionUnset {
		c.Version = Version31
	}

	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}

	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}

	if c.MaxProfileFlips <= 0 {
		c.MaxProfileFlips = DefaultMaxProfileFlips
	}

	if c.Listener == nil {
		c.Listener = EmptyListener{}
	}

	if c.Now == nil {
		c.Now = time.Now
	}
}
