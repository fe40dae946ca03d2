package mesh

import (
	"errors"
	"fmt"
	"time"

	"github.com/backkem/btmesh/pkg/bearer"
	"github.com/backkem/btmesh/pkg/ivindex"
	"github.com/backkem/btmesh/pkg/keys"
	"github.com/backkem/btmesh/pkg/network"
)

// OnBeaconReceived processes a Secure Network Beacon. An authenticated
// beacon drives the key refresh phase of its network key and, when the IV
// index rules allow it, moves the IV index. A beacon whose IV index is not
// accepted returns ivindex.ErrIvIndexRejected after the key refresh flag
// has been applied.
func (s *Stack) OnBeaconReceived(data []byte) error {
	b, err := ivindex.DecodeSecureNetworkBeacon(data)
	if err != nil {
		return err
	}
	now := time.Now()

	s.mu.Lock()
	var (
		changed bool
		matched bool
	)
	for i := range s.netKeys {
		nk := &s.netKeys[i]
		for _, k := range nk.ReceiveKeys() {
			m, derr := s.cache.Network(k)
			if derr != nil {
				s.mu.Unlock()
				return derr
			}
			if m.NetworkID != b.NetworkID {
				continue
			}
			matched = true
			changed, err = s.iv.ApplyBeacon(b, m.NetworkID, m.BeaconKey, now)
			if errors.Is(err, ivindex.ErrBeaconAuth) {
				s.mu.Unlock()
				return err
			}
			if k == nk.Key {
				s.applyKeyRefreshLocked(nk, b.KeyRefresh)
			}
			break
		}
		if matched {
			break
		}
	}
	s.mu.Unlock()

	if !matched {
		return ivindex.ErrNetworkMismatch
	}
	if changed {
		cur := s.iv.Current()
		s.replay.Prune(cur.Index)
		// Entering Normal raises the transmit IV index, so sequence
		// numbers start over.
		if !cur.UpdateActive {
			s.seq.Reset()
			if s.log != nil {
				s.log.Infof("IV index %s: sequence number reset", cur)
			}
		}
		if s.config.OnIvIndexChanged != nil {
			s.config.OnIvIndexChanged(cur)
		}
	}
	return err
}

// applyKeyRefreshLocked follows the Key Refresh flag of a beacon secured
// with the new key: set moves phase 1 to phase 2, clear completes phase 2.
func (s *Stack) applyKeyRefreshLocked(nk *keys.NetworkKey, keyRefresh bool) {
	switch {
	case keyRefresh && nk.Phase == keys.PhaseKeyDistribution:
		if err := nk.UseNewKeys(); err == nil && s.log != nil {
			s.log.Infof("network key %#x: using new keys", nk.Index)
		}
	case !keyRefresh && nk.Phase == keys.PhaseUsingNewKeys:
		old := nk.OldKey
		nk.CompleteRefresh()
		if old != nil {
			s.cache.Forget(*old)
		}
		if s.log != nil {
			s.log.Infof("network key %#x: key refresh complete", nk.Index)
		}
	}
}

// Beacon returns the encoded Secure Network Beacon for a network key.
func (s *Stack) Beacon(netKeyIndex uint16) ([]byte, error) {
	nk, ok := s.NetKey(netKeyIndex)
	if !ok {
		return nil, fmt.Errorf("%w: %#x", ErrUnknownNetKey, netKeyIndex)
	}
	m, err := s.cache.Network(nk.TransmitKey())
	if err != nil {
		return nil, err
	}
	b, err := s.iv.Beacon(m.NetworkID, m.BeaconKey, nk.Phase == keys.PhaseUsingNewKeys)
	if err != nil {
		return nil, err
	}
	return b.Encode(), nil
}

// ProxyConfig encrypts a proxy configuration message for a proxy server.
// The result is the payload of a configuration proxy PDU.
func (s *Stack) ProxyConfig(netKeyIndex uint16, msg network.ProxyConfigMessage) ([]byte, error) {
	m, err := s.transmitMaterial(netKeyIndex)
	if err != nil {
		return nil, err
	}
	sn, err := s.nextSeq()
	if err != nil {
		return nil, err
	}
	return network.EncodeProxyConfig(sn, s.config.Address, s.iv.Current().TransmitIndex(), msg, m)
}

// OnProxyConfigReceived authenticates a proxy configuration message.
func (s *Stack) OnProxyConfigReceived(data []byte) (*network.Header, network.ProxyConfigMessage, error) {
	nid, err := network.NID(data)
	if err != nil {
		return nil, nil, err
	}
	s.mu.RLock()
	netKeys := append([]keys.NetworkKey(nil), s.netKeys...)
	s.mu.RUnlock()
	cands, err := s.cache.Candidates(nid, netKeys)
	if err != nil {
		return nil, nil, err
	}
	hdr, msg, err := network.DecodeProxyConfig(data, s.iv.Current().Index, cands, bearer.MaxProxyMessage)
	if err != nil {
		return nil, nil, err
	}
	if err := s.replay.CheckAndAccept(hdr.Src, hdr.IVIndex, hdr.Seq); err != nil {
		return nil, nil, err
	}
	return hdr, msg, nil
}
