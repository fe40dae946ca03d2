package bearer

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/pion/transport/v3/test"
)

// processWait is how long Process waits for a reader between ticks.
const processWait = time.Millisecond

// PipeConfig configures a Pipe.
type PipeConfig struct {
	// MTU is the per-write limit of both endpoints. AdvertisingMTU if zero.
	MTU int

	// AutoProcess delivers queued PDUs from a background goroutine.
	// When false, call Tick or Process.
	AutoProcess bool

	// ProcessInterval is how often the auto-processor delivers.
	// Default: 1ms
	ProcessInterval time.Duration

	// Seed makes DropRate decisions reproducible.
	Seed int64
}

// DefaultPipeConfig returns an auto-processing advertising-sized pipe.
func DefaultPipeConfig() PipeConfig {
	return PipeConfig{
		MTU:             AdvertisingMTU,
		AutoProcess:     true,
		ProcessInterval: time.Millisecond,
	}
}

// Pipe connects two in-memory bearer endpoints through pion's test.Bridge.
// Queued PDUs can be dropped or reordered before delivery to exercise
// segmentation and retransmission.
type Pipe struct {
	bridge    *test.Bridge
	endpoints [2]*PipeEndpoint

	mu       sync.Mutex
	rng      *rand.Rand
	dropRate float64
	closed   bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewPipe creates a pipe.
func NewPipe(config PipeConfig) *Pipe {
	if config.MTU == 0 {
		config.MTU = AdvertisingMTU
	}
	if config.ProcessInterval == 0 {
		config.ProcessInterval = time.Millisecond
	}
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	p := &Pipe{
		bridge: test.NewBridge(),
		rng:    rand.New(rand.NewSource(seed)),
		stopCh: make(chan struct{}),
	}
	p.endpoints[0] = &PipeEndpoint{pipe: p, conn: p.bridge.GetConn0(), mtu: config.MTU}
	p.endpoints[1] = &PipeEndpoint{pipe: p, conn: p.bridge.GetConn1(), mtu: config.MTU}

	if config.AutoProcess {
		p.wg.Add(1)
		go p.autoProcess(config.ProcessInterval)
	}
	return p
}

func (p *Pipe) autoProcess(interval time.Duration) {
	defer p.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.bridge.Tick()
		}
	}
}

// Endpoint returns endpoint 0 or 1.
func (p *Pipe) Endpoint(id int) *PipeEndpoint {
	return p.endpoints[id]
}

// SetDropRate drops each written PDU with probability rate.
func (p *Pipe) SetDropRate(rate float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dropRate = rate
}

func (p *Pipe) shouldDrop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropRate > 0 && p.rng.Float64() < p.dropRate
}

// Len returns the number of PDUs queued from endpoint fromID.
func (p *Pipe) Len(fromID int) int {
	return p.bridge.Len(fromID)
}

// Drop discards n queued PDUs from endpoint fromID starting at offset.
func (p *Pipe) Drop(fromID, offset, n int) {
	p.bridge.Drop(fromID, offset, n)
}

// Reorder shuffles the PDUs queued from endpoint fromID.
func (p *Pipe) Reorder(fromID int) error {
	return p.bridge.Reorder(fromID)
}

// Tick delivers at most one PDU in each direction.
func (p *Pipe) Tick() int {
	return p.bridge.Tick()
}

// Process delivers everything queued, waiting for each endpoint's reader
// to take its PDUs. It returns the number delivered, early if the pipe is
// closed.
func (p *Pipe) Process() int {
	count := 0
	for p.Len(0)+p.Len(1) > 0 {
		n := p.Tick()
		count += n
		if n > 0 {
			continue
		}
		select {
		case <-p.stopCh:
			return count
		case <-time.After(processWait):
		}
	}
	return count
}

// Close stops delivery and closes both endpoints. Serve returns.
func (p *Pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.stopCh)
	p.mu.Unlock()
	p.wg.Wait()

	err0 := p.endpoints[0].conn.Close()
	err1 := p.endpoints[1].conn.Close()
	if err0 != nil {
		return err0
	}
	return err1
}

// PipeEndpoint is one side of a Pipe. It implements Bearer.
type PipeEndpoint struct {
	pipe *Pipe
	conn net.Conn
	mtu  int
}

// Send implements Bearer.
func (e *PipeEndpoint) Send(ctx context.Context, pdu []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(pdu) > e.mtu {
		return ErrPduTooLarge
	}
	if e.pipe.shouldDrop() {
		return nil
	}
	if _, err := e.conn.Write(pdu); err != nil {
		if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
			return ErrClosed
		}
		return err
	}
	return nil
}

// MTU implements Bearer.
func (e *PipeEndpoint) MTU() int {
	return e.mtu
}

// Serve reads PDUs and passes each to h until the pipe closes.
func (e *PipeEndpoint) Serve(h Handler) error {
	buf := make([]byte, 1024)
	for {
		n, err := e.conn.Read(buf)
		if err != nil {
			return ErrClosed
		}
		h(append([]byte(nil), buf[:n]...))
	}
}

var _ Bearer = (*PipeEndpoint)(nil)
