// Package mesh ties the mesh layers into a node stack: outgoing messages go
// through upper transport encryption, lower transport segmentation and
// network encryption onto a bearer; incoming network PDUs take the reverse
// path and end up at Config.OnMessage.
//
// The layer packages are synchronous and keep no timers. The Stack owns
// every timer: segment retransmission on the sending side, acknowledgment
// and incomplete timers on the receiving side.
package mesh

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/btmesh/pkg/access"
	"github.com/backkem/btmesh/pkg/bearer"
	"github.com/backkem/btmesh/pkg/ivindex"
	"github.com/backkem/btmesh/pkg/keys"
	"github.com/backkem/btmesh/pkg/network"
	"github.com/backkem/btmesh/pkg/seq"
	"github.com/backkem/btmesh/pkg/transport/lower"
)

// Stack is a mesh node's transport stack.
//
// Thread-safe for concurrent access.
type Stack struct {
	config Config
	bearer bearer.Bearer
	iv     *ivindex.State
	seq    *seq.Allocator
	cache  *keys.DerivationCache
	sar    lower.Params
	replay *network.ReplayCache
	relay  *network.MessageCache
	table  *lower.Table
	log    logging.LeveledLogger

	mu             sync.RWMutex
	netKeys        []keys.NetworkKey
	appKeys        []keys.ApplicationKey
	peerDeviceKeys map[access.Address]keys.DeviceKey

	// outgoing holds segmented messages waiting for acknowledgment.
	outMu    sync.Mutex
	outgoing map[outKey]*pendingSend
	dstLocks map[access.Address]chan struct{}

	// incoming holds the timers of reassemblies in progress.
	inMu     sync.Mutex
	incoming map[lower.Key]*rxTimers

	closeOnce sync.Once
	closed    chan struct{}
}

type outKey struct {
	dst     access.Address
	seqZero uint16
}

type pendingSend struct {
	acks chan lower.SegmentAck
}

type rxTimers struct {
	ack        *time.Timer
	incomplete *time.Timer
}

// New creates a stack.
func New(config Config) (*Stack, error) {
	config = config.WithDefaults()
	if !config.Address.IsUnicast() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAddress, config.Address)
	}
	for _, nk := range config.NetKeys {
		if err := nk.Validate(); err != nil {
			return nil, err
		}
	}

	s := &Stack{
		config:         config,
		bearer:         config.Bearer,
		iv:             config.IVIndex,
		seq:            config.Seq,
		cache:          config.Cache,
		sar:            config.SAR,
		replay:         network.NewReplayCache(config.ReplayCacheSize),
		relay:          network.NewMessageCache(config.MessageCacheSize),
		table:          lower.NewTable(),
		netKeys:        append([]keys.NetworkKey(nil), config.NetKeys...),
		appKeys:        append([]keys.ApplicationKey(nil), config.AppKeys...),
		peerDeviceKeys: make(map[access.Address]keys.DeviceKey),
		outgoing:       make(map[outKey]*pendingSend),
		dstLocks:       make(map[access.Address]chan struct{}),
		incoming:       make(map[lower.Key]*rxTimers),
		closed:         make(chan struct{}),
	}
	for addr, k := range config.PeerDeviceKeys {
		s.peerDeviceKeys[addr] = k
	}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("mesh")
	}
	return s, nil
}

// Address returns the primary element address.
func (s *Stack) Address() access.Address {
	return s.config.Address
}

// IVIndex returns the IV index state.
func (s *Stack) IVIndex() *ivindex.State {
	return s.iv
}

// SetBearer replaces the outgoing bearer.
func (s *Stack) SetBearer(b bearer.Bearer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bearer = b
}

// AddNetKey adds or replaces a network key.
func (s *Stack) AddNetKey(k keys.NetworkKey) error {
	if err := k.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.netKeys {
		if s.netKeys[i].Index == k.Index {
			s.netKeys[i] = k
			return nil
		}
	}
	s.netKeys = append(s.netKeys, k)
	return nil
}

// NetKey returns the network key with the given index.
func (s *Stack) NetKey(index uint16) (keys.NetworkKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.netKeyLocked(index)
}

func (s *Stack) netKeyLocked(index uint16) (keys.NetworkKey, bool) {
	for _, k := range s.netKeys {
		if k.Index == index {
			return k, true
		}
	}
	return keys.NetworkKey{}, false
}

// AddAppKey adds or replaces an application key.
func (s *Stack) AddAppKey(k keys.ApplicationKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.netKeyLocked(k.BoundNetKeyIndex); !ok {
		return fmt.Errorf("%w: %#x", ErrUnknownNetKey, k.BoundNetKeyIndex)
	}
	for i := range s.appKeys {
		if s.appKeys[i].Index == k.Index {
			s.appKeys[i] = k
			return nil
		}
	}
	s.appKeys = append(s.appKeys, k)
	return nil
}

// AddPeerDeviceKey records the device key of another node.
func (s *Stack) AddPeerDeviceKey(addr access.Address, k keys.DeviceKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peerDeviceKeys[addr] = k
}

// Close stops all timers. Pending sends return ErrClosed.
func (s *Stack) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.inMu.Lock()
		for k, t := range s.incoming {
			t.stop()
			delete(s.incoming, k)
		}
		s.inMu.Unlock()
	})
	return nil
}

func (s *Stack) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *Stack) reportError(err error) {
	if s.log != nil {
		s.log.Warnf("%v", err)
	}
	if s.config.OnError != nil {
		s.config.OnError(err)
	}
}

func (t *rxTimers) stop() {
	if t.ack != nil {
		t.ack.Stop()
		t.ack = nil
	}
	if t.incomplete != nil {
		t.incomplete.Stop()
		t.incomplete = nil
	}
}
