package lower

import (
	"fmt"
	"sync"
	"time"

	"github.com/backkem/btmesh/pkg/access"
)

// Key identifies a reassembly.
type Key struct {
	Src     access.Address
	SeqZero uint16
}

// Reassembly is a segmented message being collected.
type Reassembly struct {
	Header   SegmentHeader
	Src      access.Address
	SeqAuth  uint32
	BlockAck BlockAck

	segments     [][]byte
	started      time.Time
	lastActivity time.Time
}

// Result reports what a received segment did to the table.
type Result struct {
	// Complete is set when the segment finished the message. PDU then holds
	// the concatenated upper transport PDU.
	Complete bool
	PDU      []byte

	// Duplicate is set for segments of a message that already completed.
	// The sender missed the ack; BlockAck is the full block to resend.
	Duplicate bool

	Header   SegmentHeader
	SeqAuth  uint32
	BlockAck BlockAck
}

// Table holds reassemblies keyed by (SRC, SeqZero). It remembers completed
// messages for one incomplete-timeout period so late duplicates are
// re-acknowledged instead of reassembled twice.
//
// Thread-safe for concurrent access.
type Table struct {
	entries   map[Key]*Reassembly
	completed map[Key]completedEntry
	mu        sync.Mutex
}

type completedEntry struct {
	header   SegmentHeader
	seqAuth  uint32
	blockAck BlockAck
	at       time.Time
}

// NewTable creates an empty reassembly table.
func NewTable() *Table {
	return &Table{
		entries:   make(map[Key]*Reassembly),
		completed: make(map[Key]completedEntry),
	}
}

// Add stores one segment. src and seq come from the network header; hdr and
// payload from ParseHeader. Writes are idempotent per SegO.
func (t *Table) Add(src access.Address, seq uint32, hdr SegmentHeader, payload []byte, now time.Time) (Result, error) {
	if err := CheckSegment(hdr, payload); err != nil {
		return Result{}, err
	}

	key := Key{Src: src, SeqZero: hdr.SeqZero}
	seqAuth := SeqAuth(seq, hdr.SeqZero)

	t.mu.Lock()
	defer t.mu.Unlock()

	if done, ok := t.completed[key]; ok && done.seqAuth == seqAuth {
		return Result{Duplicate: true, Header: done.header, SeqAuth: done.seqAuth, BlockAck: done.blockAck}, nil
	}

	r, ok := t.entries[key]
	if ok && r.SeqAuth != seqAuth {
		// SeqZero wrapped onto an old, abandoned message.
		delete(t.entries, key)
		ok = false
	}
	if !ok {
		r = &Reassembly{
			Header:   hdr,
			Src:      src,
			SeqAuth:  seqAuth,
			segments: make([][]byte, int(hdr.SegN)+1),
			started:  now,
		}
		t.entries[key] = r
	} else if r.Header.SegN != hdr.SegN || r.Header.CTL != hdr.CTL || r.Header.AKF != hdr.AKF ||
		r.Header.AID != hdr.AID || r.Header.Opcode != hdr.Opcode || r.Header.SZMIC != hdr.SZMIC {
		return Result{}, ErrSegmentMismatch
	}

	r.lastActivity = now
	if !r.BlockAck.Has(hdr.SegO) {
		r.segments[hdr.SegO] = append([]byte(nil), payload...)
		r.BlockAck.Set(hdr.SegO)
	}

	res := Result{Header: r.Header, SeqAuth: r.SeqAuth, BlockAck: r.BlockAck}
	if !r.BlockAck.Complete(r.Header.SegN) {
		return res, nil
	}

	size := 0
	for _, s := range r.segments {
		size += len(s)
	}
	pdu := make([]byte, 0, size)
	for _, s := range r.segments {
		pdu = append(pdu, s...)
	}
	delete(t.entries, key)
	t.completed[key] = completedEntry{header: r.Header, seqAuth: r.SeqAuth, blockAck: r.BlockAck, at: now}

	res.Complete = true
	res.PDU = pdu
	return res, nil
}

// CheckSegment validates one segment on its own: SegO within SegN, a
// non-empty payload, and full size for every segment but the last.
func CheckSegment(hdr SegmentHeader, payload []byte) error {
	if !hdr.Segmented {
		return fmt.Errorf("%w: not a segment", ErrMalformedPdu)
	}
	if hdr.SegO > hdr.SegN || len(payload) == 0 || len(payload) > hdr.SegmentSize() {
		return ErrMalformedPdu
	}
	if hdr.SegO < hdr.SegN && len(payload) != hdr.SegmentSize() {
		return fmt.Errorf("%w: short segment %d of %d", ErrMalformedPdu, hdr.SegO, hdr.SegN)
	}
	return nil
}

// Get returns a copy of the reassembly state for key.
func (t *Table) Get(src access.Address, seqZero uint16) (Reassembly, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.entries[Key{Src: src, SeqZero: seqZero}]
	if !ok {
		return Reassembly{}, false
	}
	return *r, true
}

// Known reports whether seqAuth from src belongs to a message in progress or
// recently completed. Segments of a known message bypass the replay list,
// which only records the first segment seen.
func (t *Table) Known(src access.Address, seqZero uint16, seqAuth uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := Key{Src: src, SeqZero: seqZero}
	if r, ok := t.entries[key]; ok && r.SeqAuth == seqAuth {
		return true
	}
	c, ok := t.completed[key]
	return ok && c.seqAuth == seqAuth
}

// Cancel drops an in-progress reassembly.
func (t *Table) Cancel(src access.Address, seqZero uint16) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := Key{Src: src, SeqZero: seqZero}
	_, ok := t.entries[key]
	delete(t.entries, key)
	return ok
}

// Expire abandons reassemblies without activity for timeout and forgets
// completed messages older than timeout. It returns the abandoned keys.
func (t *Table) Expire(now time.Time, timeout time.Duration) []Key {
	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []Key
	for k, r := range t.entries {
		if now.Sub(r.lastActivity) >= timeout {
			expired = append(expired, k)
			delete(t.entries, k)
		}
	}
	for k, c := range t.completed {
		if now.Sub(c.at) >= timeout {
			delete(t.completed, k)
		}
	}
	return expired
}

// Len returns the number of reassemblies in progress.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
