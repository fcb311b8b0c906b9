package transport

import (
	"math"
	"net"
	"sync"
	"time"

	"github.com/pion/transport/v3/test"
)

// Side selects one end of a Pipe.
type Side int

const (
	// SideClient is the end handed to the protocol client.
	SideClient Side = 0
	// SideDevice is the end handed to the device emulator.
	SideDevice Side = 1
)

// PipeConfig configures a Pipe.
type PipeConfig struct {
	// AutoProcess enables automatic delivery in a background goroutine.
	// Default: true
	AutoProcess bool

	// ProcessInterval is how often the auto-processor delivers.
	// Default: 1ms
	ProcessInterval time.Duration
}

// DefaultPipeConfig returns the default pipe configuration.
func DefaultPipeConfig() PipeConfig {
	return PipeConfig{
		AutoProcess:     true,
		ProcessInterval: 1 * time.Millisecond,
	}
}

// Pipe is an in-memory link between a client and a device built on pion's
// test.Bridge. Each Write arrives as one Read on the other end.
type Pipe struct {
	bridge *test.Bridge

	mu              sync.Mutex
	closed          bool
	autoProcess     bool
	processInterval time.Duration
	stopCh          chan struct{}
	wg              sync.WaitGroup
}

// NewPipe creates a pipe with auto-processing enabled.
func NewPipe() *Pipe {
	return NewPipeWithConfig(DefaultPipeConfig())
}

// NewPipeWithConfig creates a pipe with the given configuration.
func NewPipeWithConfig(config PipeConfig) *Pipe {
	p := &Pipe{
		bridge:          test.NewBridge(),
		autoProcess:     config.AutoProcess,
		processInterval: config.ProcessInterval,
		stopCh:          make(chan struct{}),
	}

	if p.processInterval == 0 {
		p.processInterval = 1 * time.Millisecond
	}

	if p.autoProcess {
		p.startAutoProcess()
	}

	return p
}

func (p *Pipe) startAutoProcess() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.processInterval)
		defer ticker.Stop()

		for {
			select {
			case <-p.stopCh:
				return
			case <-ticker.C:
				for p.bridge.Tick() > 0 {
				}
			}
		}
	}()
}

// Conn returns the net.Conn for one side.
func (p *Pipe) Conn(side Side) net.Conn {
	if side == SideDevice {
		return p.bridge.GetConn1()
	}
	return p.bridge.GetConn0()
}

// ClientConn returns the client end.
func (p *Pipe) ClientConn() net.Conn {
	return p.Conn(SideClient)
}

// DeviceConn returns the device end.
func (p *Pipe) DeviceConn() net.Conn {
	return p.Conn(SideDevice)
}

// Tick delivers at most one pending write in each direction.
func (p *Pipe) Tick() int {
	return p.bridge.Tick()
}

// Process delivers pending writes until none are left.
func (p *Pipe) Process() int {
	count := 0
	for {
		n := p.Tick()
		if n == 0 {
			break
		}
		count += n
	}
	return count
}

// DropNextWrites silently discards the next n writes from side.
func (p *Pipe) DropNextWrites(from Side, n int) {
	p.bridge.DropNextNWrites(int(from), n)
}

// Filter installs a callback deciding which writes from side are
// delivered. A nil callback delivers everything.
func (p *Pipe) Filter(from Side, keep func([]byte) bool) {
	p.bridge.Filter(int(from), keep)
}

// SetLossChance drops writes in both directions with the given
// probability in percent.
func (p *Pipe) SetLossChance(percent int) error {
	return p.bridge.SetLossChance(percent)
}

// Close closes both ends. Pending writes are discarded and readers on
// either end see io.EOF.
func (p *Pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	auto := p.autoProcess
	p.mu.Unlock()

	// Closing only marks the ends; the next tick closes their read channels.
	p.bridge.GetConn0().Close()
	p.bridge.GetConn1().Close()
	p.bridge.Drop(int(SideClient), 0, math.MaxInt32)
	p.bridge.Drop(int(SideDevice), 0, math.MaxInt32)
	p.bridge.Tick()

	if auto {
		close(p.stopCh)
	}
	p.wg.Wait()
	return nil
}
