package network

import (
	"sync"

	"github.com/backkem/btmesh/pkg/access"
)

// ReplayCache is the replay protection list: for each source it keeps the
// highest (IV index, SEQ) pair seen. A PDU is new only if its pair is
// strictly greater.
//
// Thread-safe for concurrent access.
type ReplayCache struct {
	entries  map[access.Address]replayEntry
	capacity int
	mu       sync.Mutex
}

type replayEntry struct {
	ivIndex uint32
	seq     uint32
}

// NewReplayCache creates a cache holding at most capacity sources. Zero means
// unbounded.
func NewReplayCache(capacity int) *ReplayCache {
	return &ReplayCache{
		entries:  make(map[access.Address]replayEntry),
		capacity: capacity,
	}
}

// Check reports whether a PDU would be accepted, without recording it.
func (c *ReplayCache) Check(src access.Address, ivIndex, seq uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.check(src, ivIndex, seq)
}

// CheckAndAccept checks a PDU and records it when accepted. It returns
// ErrReplay for an old or duplicate PDU and ErrReplayCacheFull when a new
// source cannot be tracked.
func (c *ReplayCache) CheckAndAccept(src access.Address, ivIndex, seq uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.check(src, ivIndex, seq); err != nil {
		return err
	}
	c.entries[src] = replayEntry{ivIndex: ivIndex, seq: seq}
	return nil
}

func (c *ReplayCache) check(src access.Address, ivIndex, seq uint32) error {
	e, ok := c.entries[src]
	if !ok {
		if c.capacity > 0 && len(c.entries) >= c.capacity {
			return ErrReplayCacheFull
		}
		return nil
	}
	if ivIndex > e.ivIndex || (ivIndex == e.ivIndex && seq > e.seq) {
		return nil
	}
	return ErrReplay
}

// Forget removes a source, e.g. when the node is removed from the network.
func (c *ReplayCache) Forget(src access.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, src)
}

// Prune drops entries from IV indexes older than ivIndex-1. Those sources
// can no longer send with a nonce the node accepts.
func (c *ReplayCache) Prune(ivIndex uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for src, e := range c.entries {
		if e.ivIndex+1 < ivIndex {
			delete(c.entries, src)
		}
	}
}

// Len returns the number of tracked sources.
func (c *ReplayCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
