package bearer

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/logging"

	"github.com/backkem/btmesh/pkg/network"
)

// MaxProxyMessage bounds a reassembled proxy message. The largest payload is
// a provisioning PDU of 65 octets; the bound leaves room for network PDUs
// and proxy configuration lists.
const MaxProxyMessage = 512

// SegmentProxy splits data into proxy PDUs of at most mtu bytes each.
func SegmentProxy(t network.ProxyType, data []byte, mtu int) ([][]byte, error) {
	if mtu < 2 {
		return nil, ErrInvalidMTU
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty message", ErrProxySAR)
	}
	chunk := mtu - 1
	if len(data) <= chunk {
		return [][]byte{network.Wrap(t, data)}, nil
	}

	var out [][]byte
	for off := 0; off < len(data); off += chunk {
		end := off + chunk
		sar := network.SARContinuation
		switch {
		case off == 0:
			sar = network.SARFirst
		case end >= len(data):
			sar = network.SARLast
		}
		if end > len(data) {
			end = len(data)
		}
		out = append(out, network.ProxyPDU{SAR: sar, Type: t, Data: data[off:end]}.Encode())
	}
	return out, nil
}

// ProxyReassembler rebuilds proxy messages from SAR fragments. Not
// thread-safe; one per link.
type ProxyReassembler struct {
	active bool
	typ    network.ProxyType
	buf    []byte
}

// Push adds one received proxy PDU. It returns the message type and
// payload once a message is complete. A protocol violation discards the
// message in progress.
func (r *ProxyReassembler) Push(pdu []byte) (network.ProxyType, []byte, bool, error) {
	p, err := network.DecodeProxyPDU(pdu)
	if err != nil {
		r.reset()
		return 0, nil, false, err
	}

	switch p.SAR {
	case network.SARComplete:
		if r.active {
			r.reset()
			return 0, nil, false, fmt.Errorf("%w: complete PDU inside segmented message", ErrProxySAR)
		}
		return p.Type, append([]byte(nil), p.Data...), true, nil
	case network.SARFirst:
		if r.active {
			r.reset()
			return 0, nil, false, fmt.Errorf("%w: first segment while reassembling", ErrProxySAR)
		}
		r.active = true
		r.typ = p.Type
		r.buf = append(r.buf[:0], p.Data...)
		return 0, nil, false, nil
	}

	if !r.active || p.Type != r.typ {
		r.reset()
		return 0, nil, false, fmt.Errorf("%w: %d without first segment", ErrProxySAR, p.SAR)
	}
	if len(r.buf)+len(p.Data) > MaxProxyMessage {
		r.reset()
		return 0, nil, false, ErrProxyTooLong
	}
	r.buf = append(r.buf, p.Data...)
	if p.SAR == network.SARContinuation {
		return 0, nil, false, nil
	}
	msg := append([]byte(nil), r.buf...)
	r.reset()
	return p.Type, msg, true, nil
}

func (r *ProxyReassembler) reset() {
	r.active = false
	r.buf = r.buf[:0]
}

// ProxyHandlers receive reassembled proxy messages by type. Nil handlers
// drop their type.
type ProxyHandlers struct {
	Network       Handler
	Beacon        Handler
	Configuration Handler
	Provisioning  Handler
}

// ProxyConfig configures a Proxy.
type ProxyConfig struct {
	// Link is the GATT connection. Its MTU is the ATT MTU minus 3.
	Link Bearer

	// Handlers receive reassembled messages.
	Handlers ProxyHandlers

	// LoggerFactory is used to create loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Proxy carries mesh messages over a GATT connection using proxy PDUs.
// As a Bearer it sends network PDUs; SendType sends the other types.
//
// Thread-safe for concurrent access.
type Proxy struct {
	link     Bearer
	handlers ProxyHandlers
	log      logging.LeveledLogger

	sendMu sync.Mutex
	recvMu sync.Mutex
	reasm  ProxyReassembler
}

// NewProxy creates a proxy bearer.
func NewProxy(config ProxyConfig) (*Proxy, error) {
	if config.Link == nil || config.Link.MTU() < 2 {
		return nil, ErrInvalidMTU
	}
	p := &Proxy{link: config.Link, handlers: config.Handlers}
	if config.LoggerFactory != nil {
		p.log = config.LoggerFactory.NewLogger("bearer")
	}
	return p, nil
}

// Send implements Bearer for network PDUs.
func (p *Proxy) Send(ctx context.Context, pdu []byte) error {
	return p.SendType(ctx, network.ProxyTypeNetwork, pdu)
}

// SendType segments data as the given proxy type and writes every
// fragment. Fragments of one message are never interleaved with another.
func (p *Proxy) SendType(ctx context.Context, t network.ProxyType, data []byte) error {
	frags, err := SegmentProxy(t, data, p.link.MTU())
	if err != nil {
		return err
	}
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	for _, f := range frags {
		if err := p.link.Send(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

// MTU implements Bearer. Network PDUs are segmented, so the limit is the
// largest network PDU.
func (p *Proxy) MTU() int {
	return network.MaxPduSize
}

// Deliver feeds one PDU read from the GATT link.
func (p *Proxy) Deliver(pdu []byte) {
	p.recvMu.Lock()
	t, msg, ok, err := p.reasm.Push(pdu)
	p.recvMu.Unlock()
	if err != nil {
		if p.log != nil {
			p.log.Debugf("dropping proxy PDU: %v", err)
		}
		return
	}
	if !ok {
		return
	}

	var h Handler
	switch t {
	case network.ProxyTypeNetwork:
		h = p.handlers.Network
	case network.ProxyTypeBeacon:
		h = p.handlers.Beacon
	case network.ProxyTypeConfiguration:
		h = p.handlers.Configuration
	case network.ProxyTypeProvisioning:
		h = p.handlers.Provisioning
	}
	if h == nil {
		if p.log != nil {
			p.log.Debugf("no handler for %s message", t)
		}
		return
	}
	h(msg)
}

var _ Bearer = (*Proxy)(nil)
