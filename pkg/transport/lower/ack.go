package lower

import "golang.org/x/crypto/cryptobyte"

// SegmentAckSize is the parameter length of a Segment Acknowledgment message.
const SegmentAckSize = 6

// SegmentAck is the Segment Acknowledgment transport control message
// (opcode 0x00).
type SegmentAck struct {
	// OBO is set when a friend acknowledges on behalf of a low power node.
	OBO bool

	SeqZero  uint16
	BlockAck BlockAck
}

// Encode returns the message parameters: OBO|SeqZero|RFU (2) || BlockAck (4).
func (a SegmentAck) Encode() []byte {
	var b cryptobyte.Builder
	v := (a.SeqZero & SeqZeroMask) << 2
	if a.OBO {
		v |= 0x8000
	}
	b.AddUint16(v)
	b.AddUint32(uint32(a.BlockAck))
	return b.BytesOrPanic()
}

// DecodeSegmentAck parses Segment Acknowledgment parameters.
func DecodeSegmentAck(params []byte) (SegmentAck, error) {
	var a SegmentAck
	s := cryptobyte.String(params)
	var v uint16
	var block uint32
	if !s.ReadUint16(&v) || !s.ReadUint32(&block) || !s.Empty() {
		return a, ErrMalformedPdu
	}
	a.OBO = v&0x8000 != 0
	a.SeqZero = (v >> 2) & SeqZeroMask
	a.BlockAck = BlockAck(block)
	return a, nil
}

// Cancels reports whether the ack tells the sender to give up: a receiver
// that cannot accept the message acknowledges with an empty block.
func (a SegmentAck) Cancels() bool {
	return a.BlockAck == 0
}
