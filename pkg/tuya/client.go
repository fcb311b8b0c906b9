package tuya

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"maps"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/tuyalan/pkg/exchange"
	"github.com/backkem/tuyalan/pkg/message"
	"github.com/backkem/tuyalan/pkg/payload"
	"github.com/backkem/tuyalan/pkg/transport"
)

// detectRanges are the DP id ranges probed on legacy devices, as
// half-open intervals.
var detectRanges = [][2]int{{2, 11}, {11, 21}, {21, 31}, {100, 111}}

// Client is a connection to one Tuya device.
type Client struct {
	config  Config
	version Version
	log     logging.LeveledLogger
	builder payload.Builder

	conn       *transport.Conn
	dispatcher *exchange.Dispatcher

	// negMu serializes session key negotiation.
	negMu sync.Mutex

	mu           sync.Mutex
	state        State
	seq          uint32
	profile      payload.Profile
	key          []byte
	realKey      []byte
	dpsCache     map[string]any
	dpsToRequest map[string]struct{}
	listener     Listener
	flips        int
	closed       bool
	hbCancel     context.CancelFunc
	hbDone       chan struct{}

	disconnectOnce sync.Once
}

// Connect dials the device and returns a ready client.
func Connect(ctx context.Context, config Config) (*Client, error) {
	if config.Host == "" {
		return nil, ErrHostRequired
	}

	c, err := newClient(config)
	if err != nil {
		return nil, err
	}

	c.setState(StateConnecting)
	conn, err := transport.Dial(ctx, transport.DialConfig{
		Host:    c.config.Host,
		Port:    c.config.Port,
		Timeout: c.config.DialTimeout,
		ConnConfig: transport.ConnConfig{
			LoggerFactory: c.config.LoggerFactory,
		},
	})
	if err != nil {
		c.setState(StateDisconnected)
		return nil, fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	if err := c.attach(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// NewClient runs the protocol over an established connection.
func NewClient(nc net.Conn, config Config) (*Client, error) {
	c, err := newClient(config)
	if err != nil {
		return nil, err
	}

	c.setState(StateConnecting)
	conn := transport.NewConn(nc, transport.ConnConfig{
		LoggerFactory: c.config.LoggerFactory,
	})
	if err := c.attach(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func newClient(config Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	realKey := []byte(config.LocalKey)
	c := &Client{
		config:  config,
		version: config.Version,
		log:     newDeviceLogger(config.LoggerFactory, "tuya", config.DeviceID, config.Debug),
		builder: payload.Builder{
			DeviceID: config.DeviceID,
			Now:      config.Now,
		},
		state:        StateDisconnected,
		seq:          1,
		profile:      config.Version.defaultProfile(),
		key:          realKey,
		realKey:      realKey,
		dpsCache:     make(map[string]any),
		dpsToRequest: make(map[string]struct{}),
		listener:     config.Listener,
	}

	var hmacKey []byte
	if c.version.usesHMAC() {
		hmacKey = realKey
	}
	policy := exchange.ChecksumTolerant
	if config.StrictChecksum {
		policy = exchange.ChecksumStrict
	}
	c.dispatcher = exchange.NewDispatcher(exchange.DispatcherConfig{
		HMACKey:     hmacKey,
		Checksum:    policy,
		PushHandler: c.handlePush,
		Logger:      newDeviceLogger(config.LoggerFactory, "exchange", config.DeviceID, config.Debug),
	})

	return c, nil
}

func (c *Client) attach(conn *transport.Conn) error {
	c.conn = conn
	c.setState(StateConnected)
	if err := conn.Start(c.handleData, c.connectionLost); err != nil {
		c.setState(StateDisconnected)
		return err
	}
	if c.log != nil {
		c.log.Debugf("connected, protocol %s, profile %s", c.version, c.Profile())
	}
	return nil
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()

	if c.config.OnStateChanged != nil {
		c.config.OnStateChanged(s)
	}
}

// State returns the connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Version returns the protocol version.
func (c *Client) Version() Version {
	return c.version
}

// Profile returns the payload profile in use.
func (c *Client) Profile() payload.Profile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.profile
}

// setProfile switches profile and reports whether it changed.
func (c *Client) setProfile(p payload.Profile) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	changed := c.profile != p
	c.profile = p
	return changed
}

// DPSCache returns a copy of the last known datapoint values.
func (c *Client) DPSCache() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.dpsCache)
}

func (c *Client) mergeDPS(dps map[string]any) {
	if len(dps) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	maps.Copy(c.dpsCache, dps)
}

// SetListener replaces the listener. A nil listener is the same as
// RemoveListener.
func (c *Client) SetListener(l Listener) {
	if l == nil {
		l = EmptyListener{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = l
}

// RemoveListener stops event delivery.
func (c *Client) RemoveListener() {
	c.SetListener(nil)
}

func (c *Client) currentListener() Listener {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listener
}

// AddDPsToRequest adds DP ids to the explicit list sent with legacy DP
// queries.
func (c *Client) AddDPsToRequest(ids ...int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		c.dpsToRequest[strconv.Itoa(id)] = struct{}{}
	}
}

func (c *Client) requestedLocked() []string {
	ids := make([]string, 0, len(c.dpsToRequest))
	for id := range c.dpsToRequest {
		ids = append(ids, id)
	}
	return ids
}

// Done is closed when the connection's read loop has ended.
func (c *Client) Done() <-chan struct{} {
	return c.conn.Done()
}

// Exchange sends command with data and returns the decoded response.
//
// A nil Result with a nil error means the device only acknowledged the
// request or the wait was aborted by a disconnect. When the response
// switches the payload profile the request is sent once more with the new
// profile; ErrProfileUnstable is returned when this has happened
// MaxProfileFlips times without a clean response in between.
func (c *Client) Exchange(ctx context.Context, command message.Command, data any) (Result, error) {
	res, changed, err := c.exchangeOnce(ctx, command, data)
	if err != nil {
		return nil, err
	}
	if !changed {
		if res != nil {
			c.resetFlips()
		}
		return res, nil
	}
	if c.recordFlip() {
		return nil, ErrProfileUnstable
	}

	if c.log != nil {
		c.log.Debugf("re-send %s due to profile change (now %s)", command, c.Profile())
	}
	res, changed, err = c.exchangeOnce(ctx, command, data)
	if err != nil {
		return nil, err
	}
	if changed {
		if c.recordFlip() {
			return nil, ErrProfileUnstable
		}
		return nil, nil
	}
	if res != nil {
		c.resetFlips()
	}
	return res, nil
}

// recordFlip counts a profile change and reports whether the bound is
// reached.
func (c *Client) recordFlip() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flips++
	if c.flips >= c.config.MaxProfileFlips {
		if c.log != nil {
			c.log.Warnf("profile changed %d times in a row, giving up", c.flips)
		}
		return true
	}
	return false
}

func (c *Client) resetFlips() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flips = 0
}

func (c *Client) exchangeOnce(ctx context.Context, command message.Command, data any) (Result, bool, error) {
	if c.needsSessionKey() {
		if c.log != nil {
			c.log.Debug("3.4 device: negotiating a new session key")
		}
		if err := c.negotiateSessionKey(ctx); err != nil && c.log != nil {
			c.log.Warnf("%v", err)
		}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, false, ErrClosed
	}
	profile := c.profile
	p, err := c.builder.Build(profile, command, data, c.requestedLocked())
	if err != nil {
		c.mu.Unlock()
		return nil, false, err
	}

	key := exchange.SeqKey(c.seq)
	switch p.Command {
	case message.CommandHeartbeat:
		key = exchange.HeartbeatKey
	case message.CommandUpdateDPS:
		key = exchange.ResetKey
	}

	frame, err := c.encodeLocked(p.Command, p.Data)
	c.mu.Unlock()
	if err != nil {
		return nil, false, err
	}

	if c.log != nil {
		c.log.Debugf("sending %s as %s (profile %s): %s", command, p.Command, profile, p.Data)
	}

	w, err := c.dispatcher.Register(key)
	if errors.Is(err, exchange.ErrAborted) {
		return nil, false, ErrClosed
	}
	if err != nil {
		return nil, false, err
	}

	if err := c.write(frame); err != nil {
		w.Cancel()
		return nil, false, err
	}

	f, err := w.Wait(ctx, c.config.Timeout)
	switch {
	case errors.Is(err, exchange.ErrAborted):
		if c.log != nil {
			c.log.Debugf("wait was aborted for %s", key)
		}
		return nil, false, nil
	case errors.Is(err, exchange.ErrTimeout):
		return nil, false, fmt.Errorf("%w: %s (%s)", ErrTimeout, command, key)
	case err != nil:
		return nil, false, err
	}

	if len(f.Payload) == 0 {
		switch p.Command {
		case message.CommandHeartbeat, message.CommandControl, message.CommandControlNew:
			if c.log != nil {
				c.log.Debugf("ACK received for %s: ignoring it", p.Command)
			}
			return nil, false, nil
		}
	}

	res, changed := c.decodePayload(f.Payload)
	return res, changed, nil
}

func (c *Client) write(frame []byte) error {
	err := c.conn.Write(frame)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, transport.ErrClosed):
		return ErrClosed
	default:
		return fmt.Errorf("tuya: write: %w", err)
	}
}

// Status queries the device and returns the merged datapoint cache.
func (c *Client) Status(ctx context.Context) (map[string]any, error) {
	res, err := c.Exchange(ctx, message.CommandDPQuery, nil)
	if err != nil {
		return nil, err
	}
	if rerr := res.Err(); rerr != nil && c.log != nil {
		c.log.Debugf("status: %v", rerr)
	}
	c.mergeDPS(res.DPS())
	return c.DPSCache(), nil
}

// Heartbeat sends one heartbeat.
func (c *Client) Heartbeat(ctx context.Context) error {
	_, err := c.Exchange(ctx, message.CommandHeartbeat, nil)
	return err
}

// SetDP sets one datapoint.
func (c *Client) SetDP(ctx context.Context, id int, value any) (Result, error) {
	return c.Exchange(ctx, message.CommandControl, map[string]any{strconv.Itoa(id): value})
}

// SetDPs sets several datapoints at once.
func (c *Client) SetDPs(ctx context.Context, dps map[string]any) (Result, error) {
	return c.Exchange(ctx, message.CommandControl, dps)
}

// DetectAvailableDPs finds the datapoints a device supports. Legacy
// devices only report the DPs they are asked for, so ranges of ids are
// probed in turn. The probe stops as soon as the device turns out to
// answer unrestricted queries.
func (c *Client) DetectAvailableDPs(ctx context.Context) (map[string]any, error) {
	c.mu.Lock()
	c.dpsCache = make(map[string]any)
	c.mu.Unlock()

	for _, r := range detectRanges {
		// DP 1 is always requested, otherwise an empty range can fail.
		c.mu.Lock()
		c.dpsToRequest = map[string]struct{}{"1": {}}
		for id := r[0]; id < r[1]; id++ {
			c.dpsToRequest[strconv.Itoa(id)] = struct{}{}
		}
		c.mu.Unlock()

		if _, err := c.Status(ctx); err != nil {
			if c.log != nil {
				c.log.Errorf("failed to get status: %v", err)
			}
			return nil, err
		}

		if c.Profile() == payload.ProfileDefault {
			return c.DPSCache(), nil
		}
	}

	cache := c.DPSCache()
	if c.log != nil {
		c.log.Debugf("detected dps: %v", cache)
	}
	return cache, nil
}

// UpdateDPs asks a 3.2 or 3.3 device to refresh dps without waiting for
// an answer; the new values arrive as status pushes. A nil dps selects the
// known DPs that support refreshing, running detection first when nothing
// is known yet. Other versions ignore the call.
func (c *Client) UpdateDPs(ctx context.Context, dps []int) error {
	if c.version != Version32 && c.version != Version33 {
		return nil
	}

	var data any
	if dps != nil {
		data = dps
	} else {
		if len(c.DPSCache()) == 0 {
			if _, err := c.DetectAvailableDPs(ctx); err != nil {
				return err
			}
		}
		if cache := c.DPSCache(); len(cache) > 0 {
			data = refreshable(cache)
		}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	p, err := c.builder.Build(c.profile, message.CommandUpdateDPS, data, c.requestedLocked())
	if err != nil {
		c.mu.Unlock()
		return err
	}
	frame, err := c.encodeLocked(p.Command, p.Data)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	if c.log != nil {
		c.log.Debugf("update dps: %s", p.Data)
	}
	return c.write(frame)
}

// refreshable returns the ids in cache that are on the update whitelist.
func refreshable(cache map[string]any) []int {
	ids := []int{}
	for _, id := range payload.UpdateDPSWhitelist() {
		if _, ok := cache[strconv.Itoa(id)]; ok {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

// Reset switches a 3.3 device back to the default profile and sends an
// update-DPS request for dpIDs. Other versions ignore the call.
func (c *Client) Reset(ctx context.Context, dpIDs []int) (Result, error) {
	if c.version != Version33 {
		return nil, nil
	}

	c.setProfile(payload.ProfileDefault)
	if c.log != nil {
		c.log.Debugf("reset switching to profile %s", payload.ProfileDefault)
	}

	var data any
	if dpIDs != nil {
		data = dpIDs
	}
	return c.Exchange(ctx, message.CommandUpdateDPS, data)
}

// StartHeartbeat sends a heartbeat every HeartbeatInterval until the
// client is closed. A failed heartbeat closes the connection.
func (c *Client) StartHeartbeat() {
	c.mu.Lock()
	if c.closed || c.hbCancel != nil {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.hbCancel, c.hbDone = cancel, done
	c.mu.Unlock()

	go c.heartbeatLoop(ctx, done)
}

func (c *Client) heartbeatLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	if c.log != nil {
		c.log.Debug("started heartbeat loop")
	}

	for {
		if err := c.Heartbeat(ctx); err != nil {
			if ctx.Err() != nil {
				if c.log != nil {
					c.log.Debug("stopped heartbeat loop")
				}
				return
			}
			if c.log != nil {
				if errors.Is(err, ErrTimeout) {
					c.log.Debug("heartbeat failed due to timeout, disconnecting")
				} else {
					c.log.Errorf("heartbeat failed (%v), disconnecting", err)
				}
			}
			break
		}

		t := time.NewTimer(c.config.HeartbeatInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			if c.log != nil {
				c.log.Debug("stopped heartbeat loop")
			}
			return
		case <-t.C:
		}
	}

	c.conn.Close()
}

// handleData feeds bytes from the connection to the dispatcher. A framing
// error leaves the stream unusable, so the connection is dropped.
func (c *Client) handleData(data []byte) {
	if err := c.dispatcher.AddData(data); err != nil {
		if c.log != nil {
			c.log.Errorf("dropping connection: %v", err)
		}
		c.conn.Close()
	}
}

// handlePush merges an unsolicited status frame into the cache.
func (c *Client) handlePush(f *message.Frame) {
	if f.Seq > 0 {
		c.mu.Lock()
		c.seq = f.Seq + 1
		c.mu.Unlock()
	}

	res, _ := c.decodePayload(f.Payload)
	c.mergeDPS(res.DPS())
	c.currentListener().StatusUpdated(c.DPSCache())
}

// connectionLost runs once when the read loop ends.
func (c *Client) connectionLost(err error) {
	if c.log != nil {
		c.log.Debugf("connection lost: %v", err)
	}

	c.mu.Lock()
	c.key = c.realKey
	cancel := c.hbCancel
	c.mu.Unlock()

	if c.version.usesHMAC() {
		c.dispatcher.SetHMACKey(c.realKey)
	}
	c.dispatcher.Abort()
	if cancel != nil {
		cancel()
	}
	c.setState(StateDisconnected)

	c.disconnectOnce.Do(func() {
		c.currentListener().Disconnected()
	})
}

// Close stops the heartbeat, releases every pending request and closes
// the connection. The listener's Disconnected runs once the read loop has
// ended; wait on Done for that.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.key = c.realKey
	cancel, done := c.hbCancel, c.hbDone
	c.mu.Unlock()

	if c.log != nil {
		c.log.Debug("closing connection")
	}

	if cancel != nil {
		cancel()
		<-done
	}
	c.dispatcher.Abort()
	return c.conn.Close()
}

// needsSessionKey reports whether a 3.4 session key must be negotiated
// before the next request.
func (c *Client) needsSessionKey() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.needsSessionKeyLocked()
}

func (c *Client) needsSessionKeyLocked() bool {
	return c.version.usesHMAC() && !c.closed && bytes.Equal(c.key, c.realKey)
}
