package transport

import (
	"net"
	"sync"

	"github.com/pion/logging"
)

// AcceptHandler is called in its own goroutine for every accepted
// connection.
type AcceptHandler func(c *Conn)

// ServerConfig configures a Server.
type ServerConfig struct {
	// Listener is an optional pre-existing listener.
	// If nil, a new one is created on ListenAddr.
	Listener net.Listener

	// ListenAddr is the address to listen on (e.g. ":6668").
	// Ignored if Listener is provided.
	ListenAddr string

	// Handler receives accepted connections. Required.
	Handler AcceptHandler

	// Conn configures accepted connections.
	Conn ConnConfig

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Server accepts device-side connections. It backs the device emulator
// used in tests and demos.
type Server struct {
	listener net.Listener
	handler  AcceptHandler
	connCfg  ConnConfig
	closeCh  chan struct{}
	wg       sync.WaitGroup
	log      logging.LeveledLogger

	connsMu sync.Mutex
	conns   map[*Conn]struct{}

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewServer creates a server. Call Start to begin accepting.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Handler == nil {
		return nil, ErrNoHandler
	}

	s := &Server{
		listener: config.Listener,
		handler:  config.Handler,
		connCfg:  config.Conn,
		closeCh:  make(chan struct{}),
		conns:    make(map[*Conn]struct{}),
	}

	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("transport-server")
		if s.connCfg.LoggerFactory == nil {
			s.connCfg.LoggerFactory = config.LoggerFactory
		}
	}

	if s.listener == nil {
		addr := config.ListenAddr
		if addr == "" {
			addr = "127.0.0.1:0"
		}
		l, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, err
		}
		s.listener = l
	}

	return s, nil
}

// Start begins accepting connections.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	if s.log != nil {
		s.log.Infof("listening on %s", s.listener.Addr())
	}

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Close stops accepting and closes every accepted connection.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.log != nil {
		s.log.Info("stopping server")
	}

	close(s.closeCh)
	err := s.listener.Close()

	s.connsMu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.connsMu.Unlock()

	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		nc, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closeCh:
				return
			default:
				if s.log != nil {
					s.log.Warnf("accept failed: %v", err)
				}
				continue
			}
		}

		c := NewConn(nc, s.connCfg)

		s.connsMu.Lock()
		s.conns[c] = struct{}{}
		s.connsMu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handler(c)
			<-c.Done()
			s.connsMu.Lock()
			delete(s.conns, c)
			s.connsMu.Unlock()
		}()
	}
}
