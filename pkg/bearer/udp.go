package bearer

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pion/logging"
)

// UDP tunnels network PDUs over UDP, one PDU per datagram. Every Send goes
// to all peers, the way an advertisement reaches every node in range; it
// links simulated nodes or a gateway to a remote mesh segment.
//
// Thread-safe for concurrent access.
type UDP struct {
	conn    net.PacketConn
	handler Handler
	mtu     int
	closeCh chan struct{}
	wg      sync.WaitGroup
	log     logging.LeveledLogger

	mu      sync.RWMutex
	peers   []net.Addr
	started bool
	closed  bool
}

// UDPConfig configures a UDP bearer.
type UDPConfig struct {
	// Conn is an optional pre-existing PacketConn to use.
	// If nil, a new connection will be created using ListenAddr.
	Conn net.PacketConn

	// ListenAddr is the address to listen on (e.g., "127.0.0.1:0").
	// Ignored if Conn is provided.
	ListenAddr string

	// Peers receive every sent PDU.
	Peers []net.Addr

	// Handler is called for each received PDU.
	// Required.
	Handler Handler

	// MTU bounds PDUs in both directions. AdvertisingMTU if zero.
	MTU int

	// LoggerFactory is used to create loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// NewUDP creates a UDP bearer. Call Start to begin reading.
func NewUDP(config UDPConfig) (*UDP, error) {
	if config.Handler == nil {
		return nil, ErrNoHandler
	}
	u := &UDP{
		conn:    config.Conn,
		handler: config.Handler,
		mtu:     config.MTU,
		peers:   append([]net.Addr(nil), config.Peers...),
		closeCh: make(chan struct{}),
	}
	if u.mtu == 0 {
		u.mtu = AdvertisingMTU
	}
	if u.mtu < MinGATTMTU {
		return nil, ErrInvalidMTU
	}
	if config.LoggerFactory != nil {
		u.log = config.LoggerFactory.NewLogger("bearer-udp")
	}

	if u.conn == nil {
		addr := config.ListenAddr
		if addr == "" {
			addr = ":0"
		}
		conn, err := net.ListenPacket("udp", addr)
		if err != nil {
			return nil, err
		}
		u.conn = conn
	}
	return u, nil
}

// AddPeer adds a destination for sent PDUs.
func (u *UDP) AddPeer(addr net.Addr) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.peers = append(u.peers, addr)
}

// Start begins the read loop.
func (u *UDP) Start() error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return ErrClosed
	}
	if u.started {
		u.mu.Unlock()
		return ErrStarted
	}
	u.started = true
	u.mu.Unlock()

	if u.log != nil {
		u.log.Infof("UDP bearer on %s", u.conn.LocalAddr())
	}
	u.wg.Add(1)
	go u.readLoop()
	return nil
}

// Close stops the read loop and closes the connection.
func (u *UDP) Close() error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return ErrClosed
	}
	u.closed = true
	u.mu.Unlock()

	close(u.closeCh)
	_ = u.conn.SetReadDeadline(time.Now())
	err := u.conn.Close()
	u.wg.Wait()
	return err
}

// Send implements Bearer.
func (u *UDP) Send(ctx context.Context, pdu []byte) error {
	if len(pdu) > u.mtu {
		return ErrPduTooLarge
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	u.mu.RLock()
	if u.closed {
		u.mu.RUnlock()
		return ErrClosed
	}
	peers := u.peers
	u.mu.RUnlock()
	if len(peers) == 0 {
		return ErrNoPeers
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = u.conn.SetWriteDeadline(deadline)
	}
	for _, addr := range peers {
		if _, err := u.conn.WriteTo(pdu, addr); err != nil {
			if u.log != nil {
				u.log.Warnf("send to %s failed: %v", addr, err)
			}
			return err
		}
	}
	return nil
}

// MTU implements Bearer.
func (u *UDP) MTU() int {
	return u.mtu
}

// LocalAddr returns the address the bearer reads from.
func (u *UDP) LocalAddr() net.Addr {
	return u.conn.LocalAddr()
}

func (u *UDP) readLoop() {
	defer u.wg.Done()

	buf := make([]byte, u.mtu+1)
	for {
		n, addr, err := u.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-u.closeCh:
				return
			default:
			}
			if u.log != nil {
				u.log.Warnf("UDP read error: %v", err)
			}
			continue
		}
		if n == 0 || n > u.mtu {
			if u.log != nil {
				u.log.Debugf("dropped %d byte datagram from %s", n, addr)
			}
			continue
		}
		u.handler(append([]byte(nil), buf[:n]...))
	}
}
