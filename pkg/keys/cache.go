package keys

import (
	"sync"

	"github.com/backkem/btmesh/pkg/crypto"
)

// NetworkMaterial is everything derived from one network key.
type NetworkMaterial struct {
	// Key is the network key the values were derived from.
	Key [KeySize]byte

	// Credentials are the k2 master credentials (NID, encryption and privacy keys).
	Credentials crypto.K2Output

	// NetworkID is k3(Key).
	NetworkID [8]byte

	// IdentityKey is used for Node Identity advertising.
	IdentityKey [KeySize]byte

	// BeaconKey authenticates Secure Network Beacons.
	BeaconKey [KeySize]byte
}

// Candidate is a network key whose NID matches an incoming PDU.
type Candidate struct {
	NetKeyIndex uint16
	Material    *NetworkMaterial
}

// DerivationCache memoises derivations keyed by key bytes, so two nodes that
// share a network key share one entry instead of each holding its own copy.
// It is safe for concurrent use.
type DerivationCache struct {
	networks map[[KeySize]byte]*NetworkMaterial
	aids     map[[KeySize]byte]uint8
	mu       sync.RWMutex
}

// NewDerivationCache creates an empty cache.
func NewDerivationCache() *DerivationCache {
	return &DerivationCache{
		networks: make(map[[KeySize]byte]*NetworkMaterial),
		aids:     make(map[[KeySize]byte]uint8),
	}
}

// Network returns the derived material for a network key, deriving and
// caching it on first use. The returned value must not be modified.
func (c *DerivationCache) Network(key [KeySize]byte) (*NetworkMaterial, error) {
	c.mu.RLock()
	m, ok := c.networks[key]
	c.mu.RUnlock()
	if ok {
		return m, nil
	}

	m, err := deriveNetwork(key)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.networks[key]; ok {
		return existing, nil
	}
	c.networks[key] = m
	return m, nil
}

// AID returns k4(key), cached.
func (c *DerivationCache) AID(key [KeySize]byte) (uint8, error) {
	c.mu.RLock()
	aid, ok := c.aids[key]
	c.mu.RUnlock()
	if ok {
		return aid, nil
	}

	aid, err := crypto.K4(key[:])
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.aids[key] = aid
	c.mu.Unlock()
	return aid, nil
}

// Candidates returns the receive keys among netKeys whose NID equals nid.
// More than one candidate is possible since NID is only 7 bits.
func (c *DerivationCache) Candidates(nid uint8, netKeys []NetworkKey) ([]Candidate, error) {
	var out []Candidate
	for _, nk := range netKeys {
		for _, k := range nk.ReceiveKeys() {
			m, err := c.Network(k)
			if err != nil {
				return nil, err
			}
			if m.Credentials.NID == nid {
				out = append(out, Candidate{NetKeyIndex: nk.Index, Material: m})
			}
		}
	}
	return out, nil
}

// Forget drops cached material for a key, e.g. once key refresh revoked it.
func (c *DerivationCache) Forget(key [KeySize]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.networks, key)
	delete(c.aids, key)
}

// Len returns the number of cached network keys.
func (c *DerivationCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.networks)
}

func deriveNetwork(key [KeySize]byte) (*NetworkMaterial, error) {
	k2, err := crypto.K2(key[:], []byte{0x00})
	if err != nil {
		return nil, err
	}
	netID, err := crypto.K3(key[:])
	if err != nil {
		return nil, err
	}
	ik, err := crypto.IdentityKey(key[:])
	if err != nil {
		return nil, err
	}
	bk, err := crypto.BeaconKey(key[:])
	if err != nil {
		return nil, err
	}
	return &NetworkMaterial{
		Key:         key,
		Credentials: k2,
		NetworkID:   netID,
		IdentityKey: ik,
		BeaconKey:   bk,
	}, nil
}
