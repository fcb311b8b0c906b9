// Package transport provides the TCP link to a Tuya device.
//
// A Conn owns one net.Conn. Once started, a read loop goroutine delivers
// every chunk of received bytes to a handler and reports the end of the
// connection exactly once. Framing is left to the caller.
package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/pion/logging"
)

// Defaults.
const (
	// DefaultPort is the TCP port Tuya devices listen on.
	DefaultPort = 6668

	// DefaultDialTimeout bounds connection establishment.
	DefaultDialTimeout = 5 * time.Second

	// DefaultReadBufferSize is large enough for any single frame.
	DefaultReadBufferSize = 4096
)

// DataHandler receives raw bytes read from the connection. The slice is
// owned by the handler.
type DataHandler func(data []byte)

// CloseHandler is called once when the read loop ends. err is nil when
// the connection was closed locally or by the peer (EOF).
type CloseHandler func(err error)

// ConnConfig configures a Conn.
type ConnConfig struct {
	// ReadBufferSize is the size of the read buffer.
	// Defaults to DefaultReadBufferSize if 0.
	ReadBufferSize int

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// DialConfig configures Dial.
type DialConfig struct {
	// Host is the device address. Required.
	Host string

	// Port defaults to DefaultPort if 0.
	Port int

	// Timeout defaults to DefaultDialTimeout if 0.
	Timeout time.Duration

	ConnConfig
}

// Conn is a persistent stream connection to a device.
type Conn struct {
	conn    net.Conn
	bufSize int
	log     logging.LeveledLogger

	writeMu sync.Mutex

	mu      sync.Mutex
	started bool
	closed  bool
	done    chan struct{}
}

// Dial connects to a device over TCP.
func Dial(ctx context.Context, config DialConfig) (*Conn, error) {
	if config.Host == "" {
		return nil, ErrInvalidAddress
	}
	port := config.Port
	if port == 0 {
		port = DefaultPort
	}
	timeout := config.Timeout
	if timeout == 0 {
		timeout = DefaultDialTimeout
	}

	d := net.Dialer{Timeout: timeout}
	nc, err := d.DialContext(ctx, "tcp", net.JoinHostPort(config.Host, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}

	return NewConn(nc, config.ConnConfig), nil
}

// NewConn wraps an established connection. This is also how tests inject
// in-memory connections.
func NewConn(nc net.Conn, config ConnConfig) *Conn {
	c := &Conn{
		conn:    nc,
		bufSize: config.ReadBufferSize,
		done:    make(chan struct{}),
	}
	if c.bufSize <= 0 {
		c.bufSize = DefaultReadBufferSize
	}

	if config.LoggerFactory != nil {
		c.log = config.LoggerFactory.NewLogger("transport")
	}

	return c
}

// Start launches the read loop. onClose may be nil.
func (c *Conn) Start(handler DataHandler, onClose CloseHandler) error {
	if handler == nil {
		return ErrNoHandler
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.mu.Unlock()

	if c.log != nil {
		c.log.Debugf("starting read loop on %v", c.conn.RemoteAddr())
	}

	go c.readLoop(handler, onClose)
	return nil
}

func (c *Conn) readLoop(handler DataHandler, onClose CloseHandler) {
	defer close(c.done)

	buf := make([]byte, c.bufSize)
	var readErr error
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if c.log != nil {
				c.log.Tracef("received %d bytes", n)
			}
			handler(data)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !c.isClosed() {
				readErr = err
			}
			break
		}
	}

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.conn.Close()

	if c.log != nil {
		if readErr != nil {
			c.log.Warnf("read loop ended: %v", readErr)
		} else {
			c.log.Debug("connection closed")
		}
	}

	if onClose != nil {
		onClose(readErr)
	}
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Write sends b in full. Concurrent writes are serialized.
func (c *Conn) Write(b []byte) error {
	if c.isClosed() {
		return ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.log != nil {
		c.log.Tracef("sending %d bytes", len(b))
	}
	_, err := c.conn.Write(b)
	return err
}

// Close closes the connection. It is safe to call more than once and
// does not wait for the read loop; use Done for that.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	started := c.started
	c.mu.Unlock()

	err := c.conn.Close()
	if !started {
		close(c.done)
	}
	return err
}

// Done is closed when the read loop has finished, or on Close when the
// loop was never started.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
