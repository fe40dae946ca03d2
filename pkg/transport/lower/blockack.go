package lower

import "math/bits"

// BlockAck is the 32-bit map of received segments; bit n is set once segment
// n has been received.
type BlockAck uint32

// Set marks segment segO as received.
func (b *BlockAck) Set(segO uint8) {
	*b |= 1 << (segO & 0x1F)
}

// Has reports whether segment segO has been received.
func (b BlockAck) Has(segO uint8) bool {
	return b&(1<<(segO&0x1F)) != 0
}

// Count returns the number of received segments.
func (b BlockAck) Count() int {
	return bits.OnesCount32(uint32(b))
}

// Complete reports whether segN+1 segments have been received. Callers set
// only bits 0..segN, so the count is enough.
func (b BlockAck) Complete(segN uint8) bool {
	return b.Count() == int(segN&0x1F)+1
}

// Missing lists the segments in 0..segN not yet received.
func (b BlockAck) Missing(segN uint8) []uint8 {
	var out []uint8
	for i := uint8(0); i <= segN&0x1F; i++ {
		if !b.Has(i) {
			out = append(out, i)
		}
	}
	return out
}

// FullBlockAck returns the block ack with segments 0..segN set.
func FullBlockAck(segN uint8) BlockAck {
	n := uint(segN&0x1F) + 1
	if n == 32 {
		return 0xFFFFFFFF
	}
	return BlockAck(1<<n - 1)
}
