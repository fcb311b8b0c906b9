package device

import (
	"context"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/tuyalan/pkg/tuya"
)

// Defaults.
const (
	// DefaultRetryInitialInterval is the first pause after a failed
	// connection attempt.
	DefaultRetryInitialInterval = time.Second

	// DefaultRetryMaxInterval caps the pause between attempts.
	DefaultRetryMaxInterval = time.Minute

	// DefaultCommandInterval is the window CommandRate applies to.
	DefaultCommandInterval = time.Second
)

// DialFunc opens a protocol connection.
type DialFunc func(ctx context.Context, config tuya.Config) (*tuya.Client, error)

// Config configures a Device.
type Config struct {
	// Client holds the connection settings. Listener is replaced by the
	// device.
	Client tuya.Config

	// Dial opens connections (default: tuya.Connect).
	Dial DialFunc

	// DPsToRequest are always named in legacy DP queries.
	DPsToRequest []int

	// ResetDPIDs are sent with a reset when the initial status query
	// fails. Empty disables the fallback.
	ResetDPIDs []int

	// ScanInterval asks 3.2 and 3.3 devices to refresh their datapoints
	// periodically. Zero disables it.
	ScanInterval time.Duration

	// Reconnect backoff - Optional (uses defaults if zero)
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration

	// CommandRate limits set commands to this many per CommandInterval.
	// Zero disables limiting.
	CommandRate     uint64
	CommandInterval time.Duration

	// OnStatus receives the merged datapoints after every update.
	// Optional.
	OnStatus func(dps map[string]any)

	// OnStateChanged is called after every state transition. Optional.
	OnStateChanged func(state State)

	// LoggerFactory is the factory for creating loggers. It is also
	// used for the client when Client.LoggerFactory is nil.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return c.Client.Validate()
}

func (c *Config) applyDefaults() {
	if c.Dial == nil {
		c.Dial = tuya.Connect
	}

	if c.RetryInitialInterval == 0 {
		c.RetryInitialInterval = DefaultRetryInitialInterval
	}

	if c.RetryMaxInterval == 0 {
		c.RetryMaxInterval = DefaultRetryMaxInterval
	}
	if c.RetryMaxInterval < c.RetryInitialInterval {
		c.RetryMaxInterval = c.RetryInitialInterval
	}

	if c.CommandInterval == 0 {
		c.CommandInterval = DefaultCommandInterval
	}

	if c.Client.LoggerFactory == nil {
		c.Client.LoggerFactory = c.LoggerFactory
	}
}
