package network

import (
	"sync"

	"github.com/backkem/btmesh/pkg/access"
)

// MessageCache remembers recently seen network PDUs by (SRC, IV index, SEQ)
// so a relay forwards each PDU once. Unlike ReplayCache it accepts PDUs from
// one source in any order. The oldest entry is evicted when full.
//
// Thread-safe for concurrent access.
type MessageCache struct {
	seen  map[messageID]struct{}
	order []messageID
	next  int
	mu    sync.Mutex
}

type messageID struct {
	src     access.Address
	ivIndex uint32
	seq     uint32
}

// NewMessageCache creates a cache holding up to capacity PDUs.
func NewMessageCache(capacity int) *MessageCache {
	if capacity < 1 {
		capacity = 1
	}
	return &MessageCache{
		seen:  make(map[messageID]struct{}, capacity),
		order: make([]messageID, 0, capacity),
	}
}

// Add records a PDU and reports whether it was new.
func (c *MessageCache) Add(src access.Address, ivIndex, seq uint32) bool {
	id := messageID{src: src, ivIndex: ivIndex, seq: seq}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.seen[id]; ok {
		return false
	}
	if len(c.order) < cap(c.order) {
		c.order = append(c.order, id)
	} else {
		delete(c.seen, c.order[c.next])
		c.order[c.next] = id
		c.next = (c.next + 1) % len(c.order)
	}
	c.seen[id] = struct{}{}
	return true
}

// Len returns the number of cached PDUs.
func (c *MessageCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}
