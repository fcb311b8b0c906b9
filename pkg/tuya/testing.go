package tuya

import (
	"bytes"
	"encoding/json"
	"io"
	"maps"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/tuyalan/pkg/crypto"
	"github.com/backkem/tuyalan/pkg/message"
	"github.com/backkem/tuyalan/pkg/securechannel"
	"github.com/backkem/tuyalan/pkg/transport"
)

// FakeDeviceConfig configures a FakeDevice.
type FakeDeviceConfig struct {
	// Identity - Required
	DeviceID string
	LocalKey string
	Version  Version

	// DPS is the initial datapoint state.
	DPS map[string]any

	// Legacy answers plain DP queries with "data unvalid" and reports
	// only the DPs a query asks for.
	Legacy bool

	// AlwaysInvalid answers every JSON request with "data unvalid".
	AlwaysInvalid bool

	// CorruptChecksum sends every frame with a damaged checksum.
	CorruptChecksum bool

	// PushOnControl follows each control acknowledgement with a status
	// push of the changed DPs.
	PushOnControl bool

	// QuietUntilUpdate leaves DP queries unanswered until the first
	// update-DPS request, like devices that need a reset after power-up.
	QuietUntilUpdate bool

	// EmptyNegotiationResponses is the number of empty negotiation
	// responses sent in the same write ahead of the real one.
	EmptyNegotiationResponses int

	// NonceSource feeds the session key negotiation (default:
	// securechannel.UUIDNonceSource).
	NonceSource io.Reader

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// FakeRequest is a request received by a FakeDevice, after decryption.
type FakeRequest struct {
	Seq     uint32
	Command message.Command
	Payload []byte
}

// JSON decodes the request payload.
func (r FakeRequest) JSON() (map[string]any, error) {
	var m map[string]any
	err := json.Unmarshal(r.Payload, &m)
	return m, err
}

// FakeDevice answers the Tuya LAN protocol from the device side. It is
// meant for tests and demos.
type FakeDevice struct {
	config   FakeDeviceConfig
	localKey []byte
	log      logging.LeveledLogger

	mu         sync.Mutex
	conn       *transport.Conn
	server     *transport.Server
	buf        []byte
	key        []byte
	sess       *securechannel.Session
	dps        map[string]any
	requests   []FakeRequest
	muted      bool
	updated    bool
	sessionKey []byte
}

// NewFakeDevice creates a device. Call Serve or Listen to accept a
// client.
func NewFakeDevice(config FakeDeviceConfig) (*FakeDevice, error) {
	cfg := Config{DeviceID: config.DeviceID, LocalKey: config.LocalKey, Version: config.Version}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if config.Version == VersionUnset {
		config.Version = Version31
	}

	d := &FakeDevice{
		config:   config,
		localKey: []byte(config.LocalKey),
		key:      []byte(config.LocalKey),
		dps:      maps.Clone(config.DPS),
	}
	if d.dps == nil {
		d.dps = make(map[string]any)
	}
	if config.LoggerFactory != nil {
		d.log = config.LoggerFactory.NewLogger("fakedevice")
	}
	return d, nil
}

// Serve runs the device on an established connection, replacing any
// previous one.
func (d *FakeDevice) Serve(nc net.Conn) error {
	return d.attach(transport.NewConn(nc, transport.ConnConfig{
		LoggerFactory: d.config.LoggerFactory,
	}))
}

// Listen accepts clients on addr (e.g. "127.0.0.1:0") and returns the
// bound address. Each new client replaces the previous one.
func (d *FakeDevice) Listen(addr string) (net.Addr, error) {
	srv, err := transport.NewServer(transport.ServerConfig{
		ListenAddr:    addr,
		Handler:       func(c *transport.Conn) { d.attach(c) },
		LoggerFactory: d.config.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}
	if err := srv.Start(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.server = srv
	d.mu.Unlock()
	return srv.Addr(), nil
}

func (d *FakeDevice) attach(c *transport.Conn) error {
	d.mu.Lock()
	old := d.conn
	d.conn = c
	d.buf = nil
	d.key = d.localKey
	d.sess = nil
	d.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return c.Start(func(b []byte) { d.handleData(c, b) }, nil)
}

// Close drops the client connection and stops listening.
func (d *FakeDevice) Close() error {
	d.mu.Lock()
	conn, srv := d.conn, d.server
	d.conn, d.server = nil, nil
	d.mu.Unlock()

	if conn != nil {
		conn.Close()
		<-conn.Done()
	}
	if srv != nil {
		return srv.Close()
	}
	return nil
}

// Disconnect drops the current client connection but keeps listening.
func (d *FakeDevice) Disconnect() {
	d.mu.Lock()
	conn := d.conn
	d.conn = nil
	d.mu.Unlock()

	if conn != nil {
		conn.Close()
		<-conn.Done()
	}
}

// SetMuted makes the device record requests without answering them.
func (d *FakeDevice) SetMuted(muted bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.muted = muted
}

// DPS returns a copy of the device datapoints.
func (d *FakeDevice) DPS() map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return maps.Clone(d.dps)
}

// SessionKey returns the negotiated session key, or nil.
func (d *FakeDevice) SessionKey() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessionKey
}

// Requests returns every request received so far.
func (d *FakeDevice) Requests() []FakeRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]FakeRequest(nil), d.requests...)
}

// WaitForRequest waits until a request with cmd has been received.
func (d *FakeDevice) WaitForRequest(cmd message.Command, timeout time.Duration) (FakeRequest, bool) {
	deadline := time.Now().Add(timeout)
	for {
		for _, r := range d.Requests() {
			if r.Command == cmd {
				return r, true
			}
		}
		if time.Now().After(deadline) {
			return FakeRequest{}, false
		}
		time.Sleep(time.Millisecond)
	}
}

// Push updates datapoints and sends them as an unsolicited status frame
// with sequence number seq.
func (d *FakeDevice) Push(seq uint32, dps map[string]any) error {
	d.mu.Lock()
	maps.Copy(d.dps, dps)
	conn := d.conn
	d.mu.Unlock()

	if conn == nil {
		return transport.ErrClosed
	}
	return conn.Write(d.frame(seq, message.CommandStatus, d.statusBody(dps)))
}

func (d *FakeDevice) handleData(c *transport.Conn, data []byte) {
	d.mu.Lock()
	if d.conn != c {
		d.mu.Unlock()
		return
	}
	d.buf = append(d.buf, data...)

	var frames []*message.Frame
	for len(d.buf) >= message.HeaderSize {
		h, err := message.ParseHeader(d.buf)
		if err != nil {
			d.buf = nil
			break
		}
		size := h.FrameSize()
		if len(d.buf) < size {
			break
		}
		mode := message.CRC32()
		if d.config.Version.usesHMAC() {
			mode = message.HMAC(d.key)
		}
		f, err := message.Decode(d.buf[:size], mode, true)
		d.buf = d.buf[size:]
		if err != nil {
			continue
		}
		frames = append(frames, f)
	}
	d.mu.Unlock()

	for _, f := range frames {
		d.handleFrame(c, f)
	}
}

func (d *FakeDevice) handleFrame(c *transport.Conn, f *message.Frame) {
	plain, ok := d.open(f.Command, f.Payload)
	if !ok {
		if d.log != nil {
			d.log.Warnf("cannot open %s request seq=%d", f.Command, f.Seq)
		}
		return
	}

	d.mu.Lock()
	d.requests = append(d.requests, FakeRequest{Seq: f.Seq, Command: f.Command, Payload: plain})
	muted := d.muted
	d.mu.Unlock()

	if d.log != nil {
		d.log.Debugf("request seq=%d cmd=%s: %q", f.Seq, f.Command, plain)
	}
	if muted {
		return
	}

	switch f.Command {
	case message.CommandSessKeyNegStart:
		d.handleNegStart(c, f.Seq, plain)
		return
	case message.CommandSessKeyNegFinish:
		d.handleNegFinish(plain)
		return
	case message.CommandHeartbeat:
		c.Write(d.frame(f.Seq, message.CommandHeartbeat, nil))
		return
	}

	if d.config.AlwaysInvalid {
		c.Write(d.frame(f.Seq, f.Command, []byte("json obj data unvalid")))
		return
	}

	var req map[string]any
	if err := json.Unmarshal(plain, &req); err != nil {
		return
	}

	switch f.Command {
	case message.CommandDPQuery, message.CommandDPQueryNew:
		d.mu.Lock()
		quiet := d.config.QuietUntilUpdate && !d.updated
		d.mu.Unlock()
		if quiet {
			return
		}
		if d.config.Legacy {
			c.Write(d.frame(f.Seq, f.Command, []byte("json obj data unvalid")))
			return
		}
		c.Write(d.frame(f.Seq, f.Command, d.statusBody(d.DPS())))

	case message.CommandControl, message.CommandControlNew:
		dps := requestDPS(req)
		if isQuery(dps) {
			c.Write(d.frame(f.Seq, f.Command, d.statusBody(d.selectDPS(dps))))
			return
		}
		d.mu.Lock()
		maps.Copy(d.dps, dps)
		d.mu.Unlock()
		c.Write(d.frame(f.Seq, f.Command, nil))
		if d.config.PushOnControl {
			c.Write(d.frame(0, message.CommandStatus, d.statusBody(dps)))
		}

	case message.CommandUpdateDPS:
		d.mu.Lock()
		d.updated = true
		d.mu.Unlock()
		ids, _ := req["dpId"].([]any)
		wanted := make(map[string]any, len(ids))
		for _, id := range ids {
			if n, ok := id.(float64); ok {
				wanted[strconv.Itoa(int(n))] = nil
			}
		}
		c.Write(d.frame(f.Seq, message.CommandStatus, d.statusBody(d.selectDPS(wanted))))
	}
}

func (d *FakeDevice) handleNegStart(c *transport.Conn, seq uint32, nonce []byte) {
	nonces := d.config.NonceSource
	if nonces == nil {
		nonces = securechannel.UUIDNonceSource
	}
	sess, err := securechannel.NewResponder(d.localKey, nonces)
	if err != nil {
		return
	}
	resp, err := sess.HandleStart(nonce)
	if err != nil {
		if d.log != nil {
			d.log.Warnf("negotiation start: %v", err)
		}
		return
	}

	d.mu.Lock()
	d.sess = sess
	d.mu.Unlock()

	var out []byte
	for i := 0; i < d.config.EmptyNegotiationResponses; i++ {
		empty := message.EncodeWithReturnCode(seq, message.CommandSessKeyNegResp, 0, nil, message.HMAC(d.localKey))
		out = append(out, d.damage(empty)...)
		seq++
	}
	frame := message.EncodeWithReturnCode(seq, message.CommandSessKeyNegResp, 0, resp, message.HMAC(d.localKey))
	c.Write(append(out, d.damage(frame)...))
}

func (d *FakeDevice) handleNegFinish(proof []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sess == nil {
		return
	}
	if err := d.sess.HandleFinish(proof); err != nil {
		if d.log != nil {
			d.log.Warnf("negotiation finish: %v", err)
		}
		return
	}
	key, _ := d.sess.SessionKey()
	d.key = key
	d.sessionKey = key
}

// open decrypts a request payload.
func (d *FakeDevice) open(cmd message.Command, body []byte) ([]byte, bool) {
	d.mu.Lock()
	key := d.key
	d.mu.Unlock()

	ciph, err := crypto.NewCipher(key)
	if err != nil {
		return nil, false
	}
	v := d.config.Version

	switch {
	case v.usesHMAC():
		plain, err := ciph.Decrypt(body, false)
		if err != nil {
			return nil, false
		}
		if bytes.HasPrefix(plain, v.bytes()) {
			plain = plain[len(v.header()):]
		}
		return plain, true

	case v >= Version32:
		if bytes.HasPrefix(body, v.bytes()) {
			body = body[len(v.header()):]
		}
		plain, err := ciph.Decrypt(body, false)
		return plain, err == nil

	case bytes.HasPrefix(body, Version31.bytes()):
		rest := body[len(Version31.bytes()):]
		if len(rest) < crypto.SignatureSize {
			return nil, false
		}
		sig, b64 := rest[:crypto.SignatureSize], rest[crypto.SignatureSize:]
		if !bytes.Equal(sig, crypto.MD5Signature(b64, Version31.String(), key)) {
			return nil, false
		}
		plain, err := ciph.Decrypt(b64, true)
		return plain, err == nil

	default:
		return body, true
	}
}

// frame seals plain for the client and wraps it in a frame.
func (d *FakeDevice) frame(seq uint32, cmd message.Command, plain []byte) []byte {
	d.mu.Lock()
	key := d.key
	d.mu.Unlock()

	ciph, _ := crypto.NewCipher(key)
	v := d.config.Version
	mode := message.CRC32()
	body := plain

	switch {
	case len(plain) == 0:
		if v.usesHMAC() {
			mode = message.HMAC(key)
		}
	case v.usesHMAC():
		mode = message.HMAC(key)
		if cmd.HasProtocolHeader() {
			body = append(v.header(), body...)
		}
		body, _ = ciph.Encrypt(body, false, true)
	case v >= Version32:
		body, _ = ciph.Encrypt(body, false, true)
		if cmd.HasProtocolHeader() {
			body = append(v.header(), body...)
		}
	case cmd == message.CommandStatus:
		b64, _ := ciph.Encrypt(body, true, true)
		body = append(Version31.bytes(), crypto.MD5Signature(b64, Version31.String(), key)...)
		body = append(body, b64...)
	}

	return d.damage(message.EncodeWithReturnCode(seq, cmd, 0, body, mode))
}

// damage flips the first checksum byte when configured to.
func (d *FakeDevice) damage(frame []byte) []byte {
	if !d.config.CorruptChecksum {
		return frame
	}
	size := message.CRCSize
	if d.config.Version.usesHMAC() {
		size = message.HMACSize
	}
	frame[len(frame)-message.SuffixSize-size] ^= 0xFF
	return frame
}

// statusBody renders a status response for dps.
func (d *FakeDevice) statusBody(dps map[string]any) []byte {
	var body map[string]any
	if d.config.Version.usesHMAC() {
		body = map[string]any{
			"protocol": 4,
			"t":        time.Now().Unix(),
			"data":     map[string]any{"dps": dps},
		}
	} else {
		body = map[string]any{
			"devId": d.config.DeviceID,
			"dps":   dps,
		}
	}
	b, _ := json.Marshal(body)
	return b
}

// selectDPS returns the device datapoints named in wanted.
func (d *FakeDevice) selectDPS(wanted map[string]any) map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[string]any)
	for id := range wanted {
		if v, ok := d.dps[id]; ok {
			out[id] = v
		}
	}
	return out
}

// requestDPS extracts the datapoint map of a control request, including
// the 3.4 data envelope.
func requestDPS(req map[string]any) map[string]any {
	if dps, ok := req["dps"].(map[string]any); ok {
		return dps
	}
	if data, ok := req["data"].(map[string]any); ok {
		if dps, ok := data["dps"].(map[string]any); ok {
			return dps
		}
	}
	return nil
}

// isQuery reports whether every requested value is null, which is how
// legacy devices are asked for DPs.
func isQuery(dps map[string]any) bool {
	if len(dps) == 0 {
		return false
	}
	for _, v := range dps {
		if v != nil {
			return false
		}
	}
	return true
}
