// Package exchange correlates frames received from a device with the
// requests waiting for them.
//
// Bytes read from the connection are fed to a Dispatcher, which buffers
// them until whole frames are available, decodes each frame and routes it:
// to the waiter registered for its sequence number, to one of the sentinel
// waiters, or to the push handler for unsolicited status updates.
package exchange

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/tuyalan/pkg/message"
)

// PushHandler receives status frames nobody is waiting for.
type PushHandler func(f *message.Frame)

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	// HMACKey enables HMAC-SHA256 trailers (protocol 3.4).
	// If nil, CRC32 trailers are expected.
	HMACKey []byte

	// Checksum selects how frames with a bad checksum are handled.
	Checksum ChecksumPolicy

	// PushHandler receives unsolicited status frames.
	// Optional.
	PushHandler PushHandler

	// Logger is used as is when set. Otherwise one is created from
	// LoggerFactory. If both are nil, logging is disabled.
	Logger        logging.LeveledLogger
	LoggerFactory logging.LoggerFactory
}

// Dispatcher buffers received bytes and routes decoded frames.
// It is safe for concurrent use.
type Dispatcher struct {
	bufMu  sync.Mutex
	buffer []byte

	mu      sync.Mutex
	waiters map[Key]*Waiter
	hmacKey []byte
	policy  ChecksumPolicy
	push    PushHandler
	aborted bool
	abortCh chan struct{}
	log     logging.LeveledLogger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(config DispatcherConfig) *Dispatcher {
	d := &Dispatcher{
		waiters: make(map[Key]*Waiter),
		hmacKey: config.HMACKey,
		policy:  config.Checksum,
		push:    config.PushHandler,
		abortCh: make(chan struct{}),
		log:     config.Logger,
	}

	if d.log == nil && config.LoggerFactory != nil {
		d.log = config.LoggerFactory.NewLogger("exchange")
	}

	return d
}

// SetHMACKey replaces the key used to verify HMAC trailers. A nil key
// switches back to CRC32 trailers.
func (d *Dispatcher) SetHMACKey(key []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hmacKey = key
}

// SetPushHandler replaces the push handler.
func (d *Dispatcher) SetPushHandler(h PushHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.push = h
}

func (d *Dispatcher) checksumMode() message.ChecksumMode {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.hmacKey != nil {
		return message.HMAC(d.hmacKey)
	}
	return message.CRC32()
}

// AddData appends received bytes to the buffer and dispatches every frame
// that is now complete. Incomplete trailing data stays buffered.
//
// A framing error (bad prefix, absurd length) discards the buffer and is
// returned to the caller; the stream cannot be resynchronised.
func (d *Dispatcher) AddData(data []byte) error {
	frames, err := d.consume(data)
	for _, f := range frames {
		d.Dispatch(f)
	}
	return err
}

func (d *Dispatcher) consume(data []byte) ([]*message.Frame, error) {
	d.bufMu.Lock()
	defer d.bufMu.Unlock()

	d.buffer = append(d.buffer, data...)

	var frames []*message.Frame
	for len(d.buffer) >= message.HeaderSize {
		h, err := message.ParseHeader(d.buffer)
		if err != nil {
			d.buffer = nil
			return frames, err
		}

		size := h.FrameSize()
		if len(d.buffer) < size || len(d.buffer) < message.HeaderSize+message.ReturnCodeSize {
			break
		}

		f, err := message.Decode(d.buffer[:size], d.checksumMode(), false)
		if err != nil {
			d.buffer = nil
			return frames, err
		}
		d.buffer = d.buffer[size:]

		if !f.SuffixValid && d.log != nil {
			d.log.Debugf("suffix wrong on frame seq=%d cmd=%s", f.Seq, f.Command)
		}
		if !f.ChecksumValid {
			if d.log != nil {
				d.log.Debugf("checksum wrong on frame seq=%d cmd=%s: got %s",
					f.Seq, f.Command, hex.EncodeToString(f.Checksum))
			}
			if d.policy == ChecksumStrict {
				if d.log != nil {
					d.log.Warnf("dropping frame seq=%d cmd=%s with bad checksum", f.Seq, f.Command)
				}
				continue
			}
		}

		frames = append(frames, f)
	}

	if len(d.buffer) == 0 {
		d.buffer = nil
	}
	return frames, nil
}

// Buffered returns the number of bytes waiting for the rest of a frame.
func (d *Dispatcher) Buffered() int {
	d.bufMu.Lock()
	defer d.bufMu.Unlock()
	return len(d.buffer)
}

// Dispatch routes a decoded frame.
//
// A waiter registered for the frame's sequence number always wins. After
// that heartbeat, update-DPS and session-key replies go to their sentinel
// waiters. Status frames go to the reset waiter when one is registered and
// to the push handler otherwise. Control-new acknowledgements are dropped
// and anything else is logged as orphaned.
func (d *Dispatcher) Dispatch(f *message.Frame) {
	if d.log != nil {
		d.log.Tracef("dispatching frame seq=%d cmd=%s len=%d", f.Seq, f.Command, len(f.Payload))
	}

	if d.deliver(SeqKey(f.Seq), f) {
		return
	}

	switch f.Command {
	case message.CommandHeartbeat:
		if d.log != nil {
			d.log.Debug("got heartbeat response")
		}
		d.deliver(HeartbeatKey, f)

	case message.CommandUpdateDPS:
		if d.log != nil {
			d.log.Debug("got update-dps response")
		}
		d.deliver(ResetKey, f)

	case message.CommandSessKeyNegResp:
		if d.log != nil {
			d.log.Debug("got key negotiation response")
		}
		d.deliver(SessionKeyKey, f)

	case message.CommandStatus:
		if d.deliver(ResetKey, f) {
			if d.log != nil {
				d.log.Debug("got reset status update")
			}
			return
		}
		d.mu.Lock()
		push := d.push
		d.mu.Unlock()
		if d.log != nil {
			d.log.Debug("got status update")
		}
		if push != nil {
			push(f)
		}

	case message.CommandControlNew:
		if d.log != nil {
			d.log.Debugf("got ACK for command %s, ignoring", f.Command)
		}

	default:
		if d.log != nil {
			d.log.Errorf("got %s frame for unknown waiter seq=%d: %x", f.Command, f.Seq, f.Payload)
		}
	}
}

// deliver hands f to the waiter for key and reports whether one existed.
func (d *Dispatcher) deliver(key Key, f *message.Frame) bool {
	d.mu.Lock()
	w, ok := d.waiters[key]
	if ok {
		w.remaining--
		if w.remaining == 0 {
			delete(d.waiters, key)
		}
	}
	d.mu.Unlock()

	if !ok {
		return false
	}
	w.ch <- f
	return true
}

// Register reserves key for the next frame routed to it.
func (d *Dispatcher) Register(key Key) (*Waiter, error) {
	return d.RegisterMany(key, 1)
}

// RegisterMany reserves key for the next n frames routed to it. The
// registration stays in place until n frames have arrived or it is
// cancelled, so frames arriving back to back are all kept.
func (d *Dispatcher) RegisterMany(key Key, n int) (*Waiter, error) {
	if n < 1 {
		n = 1
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.aborted {
		return nil, ErrAborted
	}
	if _, exists := d.waiters[key]; exists {
		return nil, ErrWaiterExists
	}

	w := &Waiter{
		key:       key,
		ch:        make(chan *message.Frame, n),
		remaining: n,
		d:         d,
		aborted:   d.abortCh,
	}
	d.waiters[key] = w

	if d.log != nil {
		d.log.Tracef("waiting for %s", key)
	}
	return w, nil
}

func (d *Dispatcher) unregister(w *Waiter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.waiters[w.key] == w {
		delete(d.waiters, w.key)
	}
}

// Pending reports whether a waiter is registered for key.
func (d *Dispatcher) Pending(key Key) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.waiters[key]
	return ok
}

// Abort releases every waiter with ErrAborted and refuses new
// registrations. It is safe to call more than once.
func (d *Dispatcher) Abort() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.aborted {
		return
	}
	d.aborted = true
	close(d.abortCh)
	d.waiters = make(map[Key]*Waiter)
}

// Aborted reports whether Abort has been called.
func (d *Dispatcher) Aborted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.aborted
}

// WaitFor registers for key and waits for its frame. Use Register and
// Waiter.Wait instead when the frame is the reply to a request, so the
// registration is in place before the request is written.
func (d *Dispatcher) WaitFor(ctx context.Context, key Key, timeout time.Duration) (*message.Frame, error) {
	w, err := d.Register(key)
	if err != nil {
		return nil, err
	}
	return w.Wait(ctx, timeout)
}
