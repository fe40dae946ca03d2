// Package seq allocates 24-bit network sequence numbers.
package seq

import (
	"errors"
	"sync"
)

// MaxSeq is the largest sequence number.
const MaxSeq = 0xFFFFFF

// ErrSequenceExhausted is returned once every sequence number of the current
// IV index has been used. The node must wait for an IV Update; reusing a
// number would reuse a nonce.
var ErrSequenceExhausted = errors.New("seq: sequence numbers exhausted")

// Allocator hands out increasing sequence numbers for one element.
// It is safe for concurrent use.
type Allocator struct {
	next      uint32
	exhausted bool
	mu        sync.Mutex
}

// NewAllocator creates an allocator starting at next, e.g. restored from
// storage.
func NewAllocator(next uint32) *Allocator {
	return &Allocator{next: next, exhausted: next > MaxSeq}
}

// Next returns the next sequence number.
func (a *Allocator) Next() (uint32, error) {
	return a.Reserve(1)
}

// Reserve allocates n consecutive numbers and returns the first. A segmented
// message reserves one per segment.
func (a *Allocator) Reserve(n int) (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.exhausted || n <= 0 || uint64(a.next)+uint64(n)-1 > MaxSeq {
		return 0, ErrSequenceExhausted
	}
	first := a.next
	a.next += uint32(n)
	if a.next > MaxSeq {
		a.exhausted = true
	}
	return first, nil
}

// Current returns the next number that would be allocated.
func (a *Allocator) Current() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.next
}

// Remaining returns how many numbers are left.
func (a *Allocator) Remaining() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.exhausted {
		return 0
	}
	return MaxSeq + 1 - a.next
}

// Reset restarts at zero. Called after the IV index advanced.
func (a *Allocator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.next = 0
	a.exhausted = false
}
