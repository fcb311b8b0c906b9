package tuya

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"net"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v3/test"

	"github.com/backkem/tuyalan/pkg/crypto"
	"github.com/backkem/tuyalan/pkg/message"
	"github.com/backkem/tuyalan/pkg/payload"
	"github.com/backkem/tuyalan/pkg/transport"
)

const (
	testDeviceID = "bf0123456789abcdef"
	testLocalKey = "0123456789abcdef"
)

func testConfig(v Version) Config {
	return Config{
		DeviceID: testDeviceID,
		LocalKey: testLocalKey,
		Version:  v,
		Timeout:  2 * time.Second,
		Debug:    true,
		Now:      func() time.Time { return time.Unix(1700000000, 0) },
	}
}

func testDeviceConfig(v Version, dps map[string]any) FakeDeviceConfig {
	return FakeDeviceConfig{
		DeviceID: testDeviceID,
		LocalKey: testLocalKey,
		Version:  v,
		DPS:      dps,
	}
}

// recordingListener collects listener events.
type recordingListener struct {
	mu            sync.Mutex
	updates       chan map[string]any
	disconnects   int
	disconnectedC chan struct{}
}

func newRecordingListener() *recordingListener {
	return &recordingListener{
		updates:       make(chan map[string]any, 16),
		disconnectedC: make(chan struct{}, 4),
	}
}

func (l *recordingListener) StatusUpdated(dps map[string]any) {
	l.updates <- dps
}

func (l *recordingListener) Disconnected() {
	l.mu.Lock()
	l.disconnects++
	l.mu.Unlock()
	l.disconnectedC <- struct{}{}
}

func (l *recordingListener) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.disconnects
}

// newPipePair connects a client and a fake device through an in-memory
// pipe. The returned function closes everything and waits for the
// goroutines to end.
func newPipePair(t *testing.T, cfg Config, devCfg FakeDeviceConfig) (*Client, *FakeDevice, func()) {
	t.Helper()

	pipe := transport.NewPipe()

	dev, err := NewFakeDevice(devCfg)
	if err != nil {
		t.Fatalf("NewFakeDevice() error = %v", err)
	}
	if err := dev.Serve(pipe.DeviceConn()); err != nil {
		t.Fatalf("Serve() error = %v", err)
	}

	client, err := NewClient(pipe.ClientConn(), cfg)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	return client, dev, func() {
		client.Close()
		dev.Close()
		<-client.Done()
		pipe.Close()
	}
}

func TestStatus(t *testing.T) {
	for _, v := range []Version{Version31, Version33, Version34} {
		t.Run(v.String(), func(t *testing.T) {
			want := map[string]any{"1": true, "2": float64(25), "3": "white"}
			client, dev, done := newPipePair(t, testConfig(v), testDeviceConfig(v, want))
			defer done()

			got, err := client.Status(context.Background())
			if err != nil {
				t.Fatalf("Status() error = %v", err)
			}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("Status() = %v, want %v", got, want)
			}

			wantCmd := message.CommandDPQuery
			if v == Version34 {
				wantCmd = message.CommandDPQueryNew
			}
			if _, ok := dev.WaitForRequest(wantCmd, time.Second); !ok {
				t.Errorf("device did not receive %s", wantCmd)
			}
		})
	}
}

func TestStatusMergesCache(t *testing.T) {
	dps := map[string]any{"1": true, "2": float64(10)}
	client, dev, done := newPipePair(t, testConfig(Version33), testDeviceConfig(Version33, dps))
	defer done()

	client.mergeDPS(map[string]any{"9": "kept", "1": false})

	got, err := client.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	want := map[string]any{"1": true, "2": float64(10), "9": "kept"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Status() = %v, want %v", got, want)
	}

	// Requests carry the first sequence number.
	reqs := dev.Requests()
	if len(reqs) != 1 || reqs[0].Seq != 1 {
		t.Errorf("requests = %+v, want one request with seq 1", reqs)
	}
}

func TestSetDP(t *testing.T) {
	client, dev, done := newPipePair(t, testConfig(Version33), testDeviceConfig(Version33, map[string]any{"1": false}))
	defer done()

	res, err := client.SetDP(context.Background(), 1, true)
	if err != nil {
		t.Fatalf("SetDP() error = %v", err)
	}
	if res != nil {
		t.Errorf("SetDP() = %v, want nil for an acknowledgement", res)
	}

	req, ok := dev.WaitForRequest(message.CommandControl, time.Second)
	if !ok {
		t.Fatal("device did not receive a control request")
	}
	body, err := req.JSON()
	if err != nil {
		t.Fatalf("request JSON: %v", err)
	}
	if !reflect.DeepEqual(body["dps"], map[string]any{"1": true}) {
		t.Errorf("dps = %v, want {1: true}", body["dps"])
	}
	if body["devId"] != testDeviceID || body["t"] != "1700000000" {
		t.Errorf("request = %v, want devId and string time", body)
	}
	if bytes.Contains(req.Payload, []byte(" ")) {
		t.Errorf("payload %q contains spaces", req.Payload)
	}

	if got := dev.DPS()["1"]; got != true {
		t.Errorf("device DP 1 = %v, want true", got)
	}
}

func TestSetDPsWithPush(t *testing.T) {
	listener := newRecordingListener()
	cfg := testConfig(Version33)
	cfg.Listener = listener

	devCfg := testDeviceConfig(Version33, map[string]any{"1": false, "2": float64(0)})
	devCfg.PushOnControl = true

	client, _, done := newPipePair(t, cfg, devCfg)
	defer done()

	if _, err := client.SetDPs(context.Background(), map[string]any{"1": true, "2": float64(50)}); err != nil {
		t.Fatalf("SetDPs() error = %v", err)
	}

	select {
	case dps := <-listener.updates:
		want := map[string]any{"1": true, "2": float64(50)}
		if !reflect.DeepEqual(dps, want) {
			t.Errorf("StatusUpdated(%v), want %v", dps, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no status push delivered")
	}
}

func TestStatusPushAdoptsSequence(t *testing.T) {
	listener := newRecordingListener()
	cfg := testConfig(Version33)
	cfg.Listener = listener

	client, dev, done := newPipePair(t, cfg, testDeviceConfig(Version33, map[string]any{"1": true}))
	defer done()

	if err := dev.Push(41, map[string]any{"7": "on"}); err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	select {
	case dps := <-listener.updates:
		if dps["7"] != "on" {
			t.Errorf("StatusUpdated(%v), want DP 7", dps)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no status push delivered")
	}

	if _, err := client.Status(context.Background()); err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	req, ok := dev.WaitForRequest(message.CommandDPQuery, time.Second)
	if !ok {
		t.Fatal("device did not receive a DP query")
	}
	if req.Seq != 42 {
		t.Errorf("query seq = %d, want 42", req.Seq)
	}
}

func TestRemoveListener(t *testing.T) {
	listener := newRecordingListener()
	cfg := testConfig(Version33)
	cfg.Listener = listener

	client, dev, done := newPipePair(t, cfg, testDeviceConfig(Version33, nil))
	defer done()

	client.RemoveListener()
	dev.Push(0, map[string]any{"1": true})

	// The push still updates the cache.
	deadline := time.After(2 * time.Second)
	for client.DPSCache()["1"] != true {
		select {
		case <-deadline:
			t.Fatal("push not merged into the cache")
		case <-time.After(time.Millisecond):
		}
	}

	select {
	case dps := <-listener.updates:
		t.Errorf("removed listener got %v", dps)
	default:
	}
}

func TestHeartbeat(t *testing.T) {
	client, dev, done := newPipePair(t, testConfig(Version33), testDeviceConfig(Version33, nil))
	defer done()

	if err := client.Heartbeat(context.Background()); err != nil {
		t.Fatalf("Heartbeat() error = %v", err)
	}
	if _, ok := dev.WaitForRequest(message.CommandHeartbeat, time.Second); !ok {
		t.Error("device did not receive a heartbeat")
	}
}

func TestDetectAvailableDPsLegacy(t *testing.T) {
	devCfg := testDeviceConfig(Version33, map[string]any{"5": true, "105": float64(3)})
	devCfg.Legacy = true

	client, dev, done := newPipePair(t, testConfig(Version33), devCfg)
	defer done()

	got, err := client.DetectAvailableDPs(context.Background())
	if err != nil {
		t.Fatalf("DetectAvailableDPs() error = %v", err)
	}
	want := map[string]any{"5": true, "105": float64(3)}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DetectAvailableDPs() = %v, want %v", got, want)
	}
	if p := client.Profile(); p != payload.ProfileLegacy {
		t.Errorf("Profile() = %s, want %s", p, payload.ProfileLegacy)
	}

	var queries int
	for _, r := range dev.Requests() {
		if r.Command == message.CommandControlNew {
			queries++
		}
	}
	if queries != len(detectRanges) {
		t.Errorf("legacy queries = %d, want %d", queries, len(detectRanges))
	}
}

func TestDetectAvailableDPsDefaultStopsEarly(t *testing.T) {
	dps := map[string]any{"1": true, "20": "x"}
	client, dev, done := newPipePair(t, testConfig(Version33), testDeviceConfig(Version33, dps))
	defer done()

	got, err := client.DetectAvailableDPs(context.Background())
	if err != nil {
		t.Fatalf("DetectAvailableDPs() error = %v", err)
	}
	if !reflect.DeepEqual(got, dps) {
		t.Errorf("DetectAvailableDPs() = %v, want %v", got, dps)
	}
	if n := len(dev.Requests()); n != 1 {
		t.Errorf("device got %d requests, want 1", n)
	}
}

func TestVersion32StartsLegacy(t *testing.T) {
	devCfg := testDeviceConfig(Version32, map[string]any{"1": true, "3": float64(7)})
	devCfg.Legacy = true

	client, dev, done := newPipePair(t, testConfig(Version32), devCfg)
	defer done()

	client.AddDPsToRequest(1, 3)
	got, err := client.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if !reflect.DeepEqual(got, map[string]any{"1": true, "3": float64(7)}) {
		t.Errorf("Status() = %v", got)
	}

	req, ok := dev.WaitForRequest(message.CommandControlNew, time.Second)
	if !ok {
		t.Fatal("legacy query not sent as control-new")
	}
	body, _ := req.JSON()
	if !reflect.DeepEqual(body["dps"], map[string]any{"1": nil, "3": nil}) {
		t.Errorf("requested dps = %v", body["dps"])
	}
}

func TestSessionKeyNegotiation(t *testing.T) {
	remote := make([]byte, crypto.NonceSize)
	for i := range remote {
		remote[i] = byte(i)
	}

	var states []State
	var statesMu sync.Mutex

	cfg := testConfig(Version34)
	cfg.NonceSource = bytes.NewReader([]byte("0123456789abcdef"))
	cfg.OnStateChanged = func(s State) {
		statesMu.Lock()
		states = append(states, s)
		statesMu.Unlock()
	}

	devCfg := testDeviceConfig(Version34, map[string]any{"1": true, "2": float64(4)})
	devCfg.NonceSource = bytes.NewReader(remote)

	client, dev, done := newPipePair(t, cfg, devCfg)
	defer done()

	got, err := client.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if !reflect.DeepEqual(got, map[string]any{"1": true, "2": float64(4)}) {
		t.Errorf("Status() = %v", got)
	}

	want, _ := hex.DecodeString("59b24fcf01976acae963981ba6573d33")
	if key := dev.SessionKey(); !bytes.Equal(key, want) {
		t.Errorf("device session key = %x, want %x", key, want)
	}

	var cmds []message.Command
	for _, r := range dev.Requests() {
		cmds = append(cmds, r.Command)
	}
	wantCmds := []message.Command{
		message.CommandSessKeyNegStart,
		message.CommandSessKeyNegFinish,
		message.CommandDPQueryNew,
	}
	if !reflect.DeepEqual(cmds, wantCmds) {
		t.Errorf("device requests = %v, want %v", cmds, wantCmds)
	}

	// The key is negotiated once per connection.
	if _, err := client.SetDP(context.Background(), 1, false); err != nil {
		t.Fatalf("SetDP() error = %v", err)
	}
	req, ok := dev.WaitForRequest(message.CommandControlNew, time.Second)
	if !ok {
		t.Fatal("control-new not received")
	}
	body, _ := req.JSON()
	if body["protocol"] != float64(5) {
		t.Errorf("protocol = %v, want 5", body["protocol"])
	}
	data, _ := body["data"].(map[string]any)
	if !reflect.DeepEqual(data["dps"], map[string]any{"1": false}) {
		t.Errorf("data = %v, want dps {1: false}", body["data"])
	}

	statesMu.Lock()
	defer statesMu.Unlock()
	wantStates := []State{StateConnecting, StateConnected, StateNegotiatingSessionKey, StateConnected}
	if !reflect.DeepEqual(states, wantStates) {
		t.Errorf("states = %v, want %v", states, wantStates)
	}
}

func TestSessionKeyNegotiationSkipsEmptyResponse(t *testing.T) {
	cfg := testConfig(Version34)
	cfg.NonceSource = bytes.NewReader([]byte("0123456789abcdef"))

	remote := make([]byte, crypto.NonceSize)
	for i := range remote {
		remote[i] = byte(i)
	}
	devCfg := testDeviceConfig(Version34, map[string]any{"1": true})
	devCfg.NonceSource = bytes.NewReader(remote)
	devCfg.EmptyNegotiationResponses = 1

	client, dev, done := newPipePair(t, cfg, devCfg)
	defer done()

	got, err := client.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if !reflect.DeepEqual(got, map[string]any{"1": true}) {
		t.Errorf("Status() = %v", got)
	}

	want, _ := hex.DecodeString("59b24fcf01976acae963981ba6573d33")
	if key := dev.SessionKey(); !bytes.Equal(key, want) {
		t.Errorf("device session key = %x, want %x", key, want)
	}

	var cmds []message.Command
	for _, r := range dev.Requests() {
		cmds = append(cmds, r.Command)
	}
	wantCmds := []message.Command{
		message.CommandSessKeyNegStart,
		message.CommandSessKeyNegFinish,
		message.CommandDPQueryNew,
	}
	if !reflect.DeepEqual(cmds, wantCmds) {
		t.Errorf("device requests = %v, want %v", cmds, wantCmds)
	}
}

func TestSessionKeyNegotiationOutOfRetries(t *testing.T) {
	cfg := testConfig(Version34)
	cfg.Timeout = 100 * time.Millisecond

	devCfg := testDeviceConfig(Version34, map[string]any{"1": true})
	devCfg.EmptyNegotiationResponses = negotiateRecvRetries

	client, dev, done := newPipePair(t, cfg, devCfg)
	defer done()

	// The fake device still answers queries under the local key, so only
	// the handshake outcome matters here.
	client.Status(context.Background())

	if !client.needsSessionKey() {
		t.Error("real key not active after giving up on the negotiation")
	}
	reqs := dev.Requests()
	if len(reqs) == 0 || reqs[0].Command != message.CommandSessKeyNegStart {
		t.Fatalf("device requests = %v, want a negotiation start first", reqs)
	}
	for _, r := range reqs {
		if r.Command == message.CommandSessKeyNegFinish {
			t.Error("negotiation finished after only empty responses")
		}
	}
}

func TestSessionKeyNegotiationFailureIsRetried(t *testing.T) {
	cfg := testConfig(Version34)
	cfg.Timeout = 50 * time.Millisecond

	devCfg := testDeviceConfig(Version34, map[string]any{"1": true})
	devCfg.LocalKey = "fedcba9876543210"

	client, _, done := newPipePair(t, cfg, devCfg)
	defer done()

	// The device cannot read the handshake, so nothing gets answered.
	if _, err := client.Status(context.Background()); !errors.Is(err, ErrTimeout) {
		t.Errorf("Status() error = %v, want ErrTimeout", err)
	}
	if !client.needsSessionKey() {
		t.Error("real key not active after a failed negotiation")
	}
}

func TestProfileFlipBound(t *testing.T) {
	devCfg := testDeviceConfig(Version33, nil)
	devCfg.AlwaysInvalid = true

	client, _, done := newPipePair(t, testConfig(Version33), devCfg)
	defer done()

	ctx := context.Background()
	for i := 0; i < DefaultMaxProfileFlips-1; i++ {
		res, err := client.Reset(ctx, nil)
		if err != nil || res != nil {
			t.Fatalf("Reset() #%d = %v, %v, want nil, nil", i+1, res, err)
		}
		if p := client.Profile(); p != payload.ProfileLegacy {
			t.Fatalf("Profile() = %s after Reset, want legacy", p)
		}
	}

	if _, err := client.Reset(ctx, nil); !errors.Is(err, ErrProfileUnstable) {
		t.Errorf("Reset() error = %v, want ErrProfileUnstable", err)
	}
}

func TestResetOnlyForVersion33(t *testing.T) {
	client, dev, done := newPipePair(t, testConfig(Version31), testDeviceConfig(Version31, nil))
	defer done()

	res, err := client.Reset(context.Background(), []int{1})
	if res != nil || err != nil {
		t.Errorf("Reset() = %v, %v, want nil, nil", res, err)
	}
	if n := len(dev.Requests()); n != 0 {
		t.Errorf("device got %d requests, want 0", n)
	}
}

func TestReset(t *testing.T) {
	dps := map[string]any{"18": float64(1), "19": float64(2), "20": float64(3)}
	client, dev, done := newPipePair(t, testConfig(Version33), testDeviceConfig(Version33, dps))
	defer done()

	client.setProfile(payload.ProfileLegacy)
	res, err := client.Reset(context.Background(), []int{18, 19})
	if err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if !reflect.DeepEqual(res.DPS(), map[string]any{"18": float64(1), "19": float64(2)}) {
		t.Errorf("Reset() dps = %v", res.DPS())
	}
	if p := client.Profile(); p != payload.ProfileDefault {
		t.Errorf("Profile() = %s, want default", p)
	}

	req, _ := dev.WaitForRequest(message.CommandUpdateDPS, time.Second)
	body, _ := req.JSON()
	if !reflect.DeepEqual(body["dpId"], []any{float64(18), float64(19)}) {
		t.Errorf("dpId = %v", body["dpId"])
	}
}

func TestUpdateDPs(t *testing.T) {
	listener := newRecordingListener()
	cfg := testConfig(Version33)
	cfg.Listener = listener

	dps := map[string]any{"1": true, "18": float64(100), "20": float64(230)}
	client, dev, done := newPipePair(t, cfg, testDeviceConfig(Version33, dps))
	defer done()

	// Runs detection first because nothing is known yet.
	if err := client.UpdateDPs(context.Background(), nil); err != nil {
		t.Fatalf("UpdateDPs() error = %v", err)
	}

	req, ok := dev.WaitForRequest(message.CommandUpdateDPS, time.Second)
	if !ok {
		t.Fatal("device did not receive update-dps")
	}
	body, _ := req.JSON()
	if !reflect.DeepEqual(body["dpId"], []any{float64(18), float64(20)}) {
		t.Errorf("dpId = %v, want [18 20]", body["dpId"])
	}

	// The answer arrives as a push.
	select {
	case got := <-listener.updates:
		if got["18"] != float64(100) {
			t.Errorf("StatusUpdated(%v)", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no push after update-dps")
	}
}

func TestUpdateDPsIgnoredOnOtherVersions(t *testing.T) {
	client, dev, done := newPipePair(t, testConfig(Version34), testDeviceConfig(Version34, nil))
	defer done()

	if err := client.UpdateDPs(context.Background(), []int{18}); err != nil {
		t.Fatalf("UpdateDPs() error = %v", err)
	}
	if n := len(dev.Requests()); n != 0 {
		t.Errorf("device got %d requests, want 0", n)
	}
}

func TestVersion31Control(t *testing.T) {
	client, dev, done := newPipePair(t, testConfig(Version31), testDeviceConfig(Version31, map[string]any{"1": false}))
	defer done()

	if _, err := client.SetDP(context.Background(), 1, true); err != nil {
		t.Fatalf("SetDP() error = %v", err)
	}
	// The device only records control requests with a valid signature.
	if _, ok := dev.WaitForRequest(message.CommandControl, time.Second); !ok {
		t.Fatal("signed control request not accepted")
	}
	if dev.DPS()["1"] != true {
		t.Error("device DP 1 not set")
	}
}

func TestVersion31Push(t *testing.T) {
	listener := newRecordingListener()
	cfg := testConfig(Version31)
	cfg.Listener = listener

	_, dev, done := newPipePair(t, cfg, testDeviceConfig(Version31, nil))
	defer done()

	dev.Push(0, map[string]any{"4": "auto"})
	select {
	case dps := <-listener.updates:
		if dps["4"] != "auto" {
			t.Errorf("StatusUpdated(%v)", dps)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no status push delivered")
	}
}

func TestChecksumPolicy(t *testing.T) {
	devCfg := testDeviceConfig(Version33, map[string]any{"1": true})
	devCfg.CorruptChecksum = true

	t.Run("tolerant", func(t *testing.T) {
		client, _, done := newPipePair(t, testConfig(Version33), devCfg)
		defer done()

		got, err := client.Status(context.Background())
		if err != nil {
			t.Fatalf("Status() error = %v", err)
		}
		if got["1"] != true {
			t.Errorf("Status() = %v", got)
		}
	})

	t.Run("strict", func(t *testing.T) {
		cfg := testConfig(Version33)
		cfg.StrictChecksum = true
		cfg.Timeout = 100 * time.Millisecond

		client, _, done := newPipePair(t, cfg, devCfg)
		defer done()

		if _, err := client.Status(context.Background()); !errors.Is(err, ErrTimeout) {
			t.Errorf("Status() error = %v, want ErrTimeout", err)
		}
	})
}

func TestCloseAbortsPendingExchange(t *testing.T) {
	report := test.CheckRoutines(t)
	defer report()

	listener := newRecordingListener()
	cfg := testConfig(Version33)
	cfg.Listener = listener

	client, dev, done := newPipePair(t, cfg, testDeviceConfig(Version33, nil))
	defer done()
	dev.SetMuted(true)

	type outcome struct {
		res Result
		err error
	}
	out := make(chan outcome, 1)
	go func() {
		res, err := client.Exchange(context.Background(), message.CommandDPQuery, nil)
		out <- outcome{res, err}
	}()

	if _, ok := dev.WaitForRequest(message.CommandDPQuery, time.Second); !ok {
		t.Fatal("request not sent")
	}
	client.Close()

	select {
	case o := <-out:
		if o.res != nil || o.err != nil {
			t.Errorf("Exchange() = %v, %v, want nil, nil", o.res, o.err)
		}
	case <-time.After(time.Second):
		t.Fatal("Exchange() still blocked after Close")
	}

	<-client.Done()
	if n := listener.count(); n != 1 {
		t.Errorf("Disconnected called %d times, want 1", n)
	}

	if _, err := client.Status(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Status() after Close error = %v, want ErrClosed", err)
	}
	if s := client.State(); s != StateDisconnected {
		t.Errorf("State() = %s, want Disconnected", s)
	}
}

func TestDisconnectDuringExchange(t *testing.T) {
	dev, err := NewFakeDevice(testDeviceConfig(Version33, map[string]any{"1": true}))
	if err != nil {
		t.Fatalf("NewFakeDevice() error = %v", err)
	}
	addr, err := dev.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer dev.Close()

	listener := newRecordingListener()
	cfg := testConfig(Version33)
	cfg.Host = "127.0.0.1"
	cfg.Port = addr.(*net.TCPAddr).Port
	cfg.Listener = listener

	client, err := Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	// A normal round trip over TCP first.
	if _, err := client.Status(context.Background()); err != nil {
		t.Fatalf("Status() error = %v", err)
	}

	dev.SetMuted(true)
	out := make(chan error, 1)
	go func() {
		res, err := client.Exchange(context.Background(), message.CommandDPQuery, nil)
		if res != nil {
			err = errors.New("unexpected result")
		}
		out <- err
	}()

	deadline := time.Now().Add(time.Second)
	for len(dev.Requests()) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("second request not received")
		}
		time.Sleep(time.Millisecond)
	}
	dev.Close()

	select {
	case err := <-out:
		if err != nil {
			t.Errorf("Exchange() error = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Exchange() still blocked after the connection dropped")
	}

	select {
	case <-listener.disconnectedC:
	case <-time.After(time.Second):
		t.Fatal("Disconnected not called")
	}
	client.Close()
	<-client.Done()
	if n := listener.count(); n != 1 {
		t.Errorf("Disconnected called %d times, want 1", n)
	}
}

func TestHeartbeatLoopClosesOnFailure(t *testing.T) {
	listener := newRecordingListener()
	cfg := testConfig(Version33)
	cfg.Listener = listener
	cfg.Timeout = 50 * time.Millisecond
	cfg.HeartbeatInterval = 10 * time.Millisecond

	client, dev, done := newPipePair(t, cfg, testDeviceConfig(Version33, nil))
	defer done()

	client.StartHeartbeat()
	client.StartHeartbeat()

	if _, ok := dev.WaitForRequest(message.CommandHeartbeat, time.Second); !ok {
		t.Fatal("no heartbeat sent")
	}
	dev.SetMuted(true)

	select {
	case <-listener.disconnectedC:
	case <-time.After(2 * time.Second):
		t.Fatal("connection not closed after missed heartbeat")
	}
}

func TestConnectErrors(t *testing.T) {
	base := testConfig(Version33)

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"no host", func(c *Config) {}, ErrHostRequired},
		{"no device id", func(c *Config) { c.Host = "127.0.0.1"; c.DeviceID = "" }, ErrDeviceIDRequired},
		{"short key", func(c *Config) { c.Host = "127.0.0.1"; c.LocalKey = "short" }, ErrInvalidLocalKey},
		{"bad version", func(c *Config) { c.Host = "127.0.0.1"; c.Version = Version(9) }, ErrUnknownVersion},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			if _, err := Connect(context.Background(), cfg); !errors.Is(err, tc.wantErr) {
				t.Errorf("Connect() error = %v, want %v", err, tc.wantErr)
			}
		})
	}

	t.Run("refused", func(t *testing.T) {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("listen: %v", err)
		}
		port := l.Addr().(*net.TCPAddr).Port
		l.Close()

		cfg := base
		cfg.Host = "127.0.0.1"
		cfg.Port = port
		if _, err := Connect(context.Background(), cfg); !errors.Is(err, ErrConnectFailed) {
			t.Errorf("Connect() error = %v, want ErrConnectFailed", err)
		}
	})
}

func TestClientLogging(t *testing.T) {
	cfg := testConfig(Version33)
	cfg.LoggerFactory = logging.NewDefaultLoggerFactory()

	client, _, done := newPipePair(t, cfg, testDeviceConfig(Version33, map[string]any{"1": true}))
	defer done()

	if _, err := client.Status(context.Background()); err != nil {
		t.Fatalf("Status() error = %v", err)
	}
}
