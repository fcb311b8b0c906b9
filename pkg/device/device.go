// Package device keeps one Tuya device connected.
//
// A Device dials the device, fetches the initial status (falling back to a
// reset of configured DPs when the device stays silent), starts the
// heartbeat and refreshes datapoints periodically. When the connection
// drops it reconnects with exponential backoff until stopped.
//
// Usage:
//
//	d, err := device.New(device.Config{
//	    Client: tuya.Config{
//	        Host:     "192.168.1.20",
//	        DeviceID: "bf0123456789abcdef",
//	        LocalKey: "0123456789abcdef",
//	        Version:  tuya.Version33,
//	    },
//	    OnStatus: func(dps map[string]any) { fmt.Println(dps) },
//	})
//	if err != nil {
//	    return err
//	}
//	d.Start()
//	defer d.Stop()
//
//	d.SetDP(ctx, 1, true)
package device

import (
	"context"
	"errors"
	"maps"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pion/logging"

	"github.com/backkem/tuyalan/pkg/tuya"
)

// Device supervises the connection to one Tuya device.
type Device struct {
	config   Config
	log      logging.LeveledLogger
	throttle *throttle

	mu      sync.Mutex
	state   State
	client  *tuya.Client
	status  map[string]any
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a device. Call Start to connect.
func New(config Config) (*Device, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	d := &Device{
		config: config,
		state:  StateIdle,
		status: make(map[string]any),
		done:   make(chan struct{}),
	}

	if config.LoggerFactory != nil {
		d.log = config.LoggerFactory.NewLogger("device")
	}

	if config.CommandRate > 0 {
		t, err := newThrottle(config.Client.DeviceID, config.CommandRate, config.CommandInterval)
		if err != nil {
			return nil, err
		}
		d.throttle = t
	}

	return d, nil
}

// Start launches the connection loop.
func (d *Device) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return ErrAlreadyStarted
	}
	d.started = true

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	go d.run(ctx)
	return nil
}

// Stop closes the connection and ends the connection loop. It is safe to
// call more than once.
func (d *Device) Stop() error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return ErrNotStarted
	}
	cancel := d.cancel
	d.mu.Unlock()

	cancel()
	<-d.done

	if d.throttle != nil {
		return d.throttle.close()
	}
	return nil
}

// State returns the current state.
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Connected reports whether a connection is up.
func (d *Device) Connected() bool {
	return d.State() == StateConnected
}

// Status returns a copy of the last known datapoints. Values survive
// reconnects.
func (d *Device) Status() map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return maps.Clone(d.status)
}

// Client returns the current connection, or nil.
func (d *Device) Client() *tuya.Client {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.client
}

// SetDP sets one datapoint.
func (d *Device) SetDP(ctx context.Context, id int, value any) error {
	return d.SetDPs(ctx, map[string]any{strconv.Itoa(id): value})
}

// SetDPs sets several datapoints at once.
func (d *Device) SetDPs(ctx context.Context, dps map[string]any) error {
	c := d.Client()
	if c == nil {
		if d.log != nil {
			d.log.Errorf("not connected to device %s", d.config.Client.DeviceID)
		}
		return ErrNotConnected
	}

	if d.throttle != nil {
		if err := d.throttle.wait(ctx); err != nil {
			return err
		}
	}

	res, err := c.SetDPs(ctx, dps)
	if err != nil {
		if d.log != nil {
			d.log.Errorf("failed to set DPs %v: %v", dps, err)
		}
		return err
	}
	return res.Err()
}

// Refresh asks the device to report fresh datapoint values. The values
// arrive through OnStatus.
func (d *Device) Refresh(ctx context.Context) error {
	c := d.Client()
	if c == nil {
		return ErrNotConnected
	}
	return c.UpdateDPs(ctx, nil)
}

func (d *Device) setState(s State) {
	d.mu.Lock()
	if d.state == s {
		d.mu.Unlock()
		return
	}
	d.state = s
	d.mu.Unlock()

	if d.log != nil {
		d.log.Debugf("state %s", s)
	}
	if d.config.OnStateChanged != nil {
		d.config.OnStateChanged(s)
	}
}

func (d *Device) setClient(c *tuya.Client) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.client = c
}

func (d *Device) statusUpdated(dps map[string]any) {
	d.mu.Lock()
	maps.Copy(d.status, dps)
	status := maps.Clone(d.status)
	d.mu.Unlock()

	if d.config.OnStatus != nil {
		d.config.OnStatus(status)
	}
}

func (d *Device) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.config.RetryInitialInterval
	b.MaxInterval = d.config.RetryMaxInterval
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (d *Device) run(ctx context.Context) {
	defer close(d.done)
	defer d.setState(StateStopped)

	b := d.newBackoff()
	for {
		d.setState(StateConnecting)
		c, err := d.connect(ctx)
		if err == nil {
			b.Reset()
			d.setClient(c)
			d.setState(StateConnected)
			d.serve(ctx, c)
			d.setClient(nil)
		} else if d.log != nil && ctx.Err() == nil {
			d.log.Warnf("connect to %s failed: %v", d.config.Client.Host, err)
		}

		if ctx.Err() != nil {
			return
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			wait = d.config.RetryMaxInterval
		}
		d.setState(StateWaiting)
		if d.log != nil {
			d.log.Debugf("reconnecting in %v", wait)
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// connect dials and runs the initial status query.
func (d *Device) connect(ctx context.Context) (*tuya.Client, error) {
	if d.log != nil {
		d.log.Debugf("connecting to %s", d.config.Client.Host)
	}

	cfg := d.config.Client
	cfg.Listener = tuya.ListenerFuncs{OnStatus: d.statusUpdated}

	c, err := d.config.Dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c.AddDPsToRequest(d.config.DPsToRequest...)

	status, err := d.initialStatus(ctx, c)
	if err != nil {
		c.Close()
		<-c.Done()
		return nil, err
	}

	c.StartHeartbeat()
	d.statusUpdated(status)
	return c, nil
}

func (d *Device) initialStatus(ctx context.Context, c *tuya.Client) (map[string]any, error) {
	if d.log != nil {
		d.log.Debug("retrieving initial state")
	}

	status, err := c.Status(ctx)
	if err == nil && len(status) > 0 {
		return status, nil
	}
	if len(d.config.ResetDPIDs) == 0 {
		if err == nil {
			err = ErrNoStatus
		}
		return nil, err
	}

	if d.log != nil {
		d.log.Debugf("initial state update failed (%v), trying reset command for DP IDs: %v", err, d.config.ResetDPIDs)
	}
	if _, err := c.Reset(ctx, d.config.ResetDPIDs); err != nil {
		return nil, err
	}

	if d.log != nil {
		d.log.Debug("update completed, retrying initial state")
	}
	status, err = c.Status(ctx)
	if err != nil {
		return nil, err
	}
	if len(status) == 0 {
		return nil, ErrNoStatus
	}
	return status, nil
}

// serve runs until the connection ends or ctx is cancelled.
func (d *Device) serve(ctx context.Context, c *tuya.Client) {
	var scan <-chan time.Time
	if d.config.ScanInterval > 0 {
		t := time.NewTicker(d.config.ScanInterval)
		defer t.Stop()
		scan = t.C
	}

	for {
		select {
		case <-ctx.Done():
			c.Close()
			<-c.Done()
			return

		case <-c.Done():
			c.Close()
			if d.log != nil {
				d.log.Debug("disconnected")
			}
			return

		case <-scan:
			if err := c.UpdateDPs(ctx, nil); err != nil && !errors.Is(err, tuya.ErrClosed) && d.log != nil {
				d.log.Warnf("refresh failed: %v", err)
			}
		}
	}
}
