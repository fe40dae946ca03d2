// Package lower implements the lower transport layer: segmentation of upper
// transport PDUs into network-sized pieces, reassembly with block
// acknowledgement, and the Segment Acknowledgment control message.
package lower

import (
	"fmt"

	"golang.org/x/crypto/cryptobyte"
)

// Segment sizes (Mesh Profile Section 3.5.2).
const (
	// MaxUnsegmentedAccess is the largest upper transport access PDU
	// (payload + 32-bit TransMIC) sent unsegmented.
	MaxUnsegmentedAccess = 15

	// MaxUnsegmentedControl is the largest control PDU sent unsegmented.
	MaxUnsegmentedControl = 11

	// AccessSegmentSize is the payload of one segmented access PDU.
	AccessSegmentSize = 12

	// ControlSegmentSize is the payload of one segmented control PDU.
	ControlSegmentSize = 8

	// MaxSegments is the largest number of segments (SegN is 5 bits).
	MaxSegments = 32

	// SeqZeroMask keeps the 13 low bits of a sequence number.
	SeqZeroMask = 0x1FFF
)

// SegmentHeader is the decoded lower transport header.
type SegmentHeader struct {
	// CTL mirrors the network layer CTL bit; it decides how the first octet
	// is interpreted.
	CTL bool

	// Segmented is the SEG bit.
	Segmented bool

	// AKF and AID identify the application key (access PDUs only).
	AKF bool
	AID uint8

	// Opcode is the transport control opcode (control PDUs only).
	Opcode uint8

	// SZMIC selects a 64-bit TransMIC (segmented access PDUs only).
	SZMIC bool

	// SeqZero, SegO and SegN are set for segmented PDUs.
	SeqZero uint16
	SegO    uint8
	SegN    uint8
}

// HeaderSize returns the encoded header length.
func (h SegmentHeader) HeaderSize() int {
	if h.Segmented {
		return 4
	}
	return 1
}

// SegmentSize returns the maximum payload per segment for this PDU kind.
func (h SegmentHeader) SegmentSize() int {
	if h.CTL {
		return ControlSegmentSize
	}
	return AccessSegmentSize
}

func (h SegmentHeader) firstOctet() uint8 {
	var b uint8
	if h.Segmented {
		b = 0x80
	}
	if h.CTL {
		return b | h.Opcode&0x7F
	}
	if h.AKF {
		b |= 0x40
	}
	return b | h.AID&0x3F
}

// encode appends the header and payload to b.
func (h SegmentHeader) encode(b *cryptobyte.Builder, payload []byte) {
	b.AddUint8(h.firstOctet())
	if h.Segmented {
		var v uint32
		if h.SZMIC && !h.CTL {
			v = 1 << 23
		}
		v |= uint32(h.SeqZero&SeqZeroMask)<<10 | uint32(h.SegO&0x1F)<<5 | uint32(h.SegN&0x1F)
		b.AddUint24(v)
	}
	b.AddBytes(payload)
}

// Encode returns header || payload.
func (h SegmentHeader) Encode(payload []byte) ([]byte, error) {
	var b cryptobyte.Builder
	h.encode(&b, payload)
	return b.Bytes()
}

// ParseHeader decodes a lower transport PDU. ctl is the CTL bit of the
// network PDU that carried it. The returned payload aliases pdu.
func ParseHeader(pdu []byte, ctl bool) (SegmentHeader, []byte, error) {
	s := cryptobyte.String(pdu)
	h := SegmentHeader{CTL: ctl}

	var first uint8
	if !s.ReadUint8(&first) {
		return h, nil, ErrMalformedPdu
	}
	h.Segmented = first&0x80 != 0
	if ctl {
		h.Opcode = first & 0x7F
	} else {
		h.AKF = first&0x40 != 0
		h.AID = first & 0x3F
	}

	if h.Segmented {
		var v uint32
		if !s.ReadUint24(&v) {
			return h, nil, ErrMalformedPdu
		}
		h.SZMIC = !ctl && v&(1<<23) != 0
		h.SeqZero = uint16(v>>10) & SeqZeroMask
		h.SegO = uint8(v>>5) & 0x1F
		h.SegN = uint8(v) & 0x1F
		if h.SegO > h.SegN {
			return h, nil, fmt.Errorf("%w: SegO %d > SegN %d", ErrMalformedPdu, h.SegO, h.SegN)
		}
	}

	payload := []byte(s)
	if h.Segmented && len(payload) == 0 {
		return h, nil, fmt.Errorf("%w: empty segment", ErrMalformedPdu)
	}
	if h.Segmented && len(payload) > h.SegmentSize() {
		return h, nil, fmt.Errorf("%w: segment of %d bytes", ErrMalformedPdu, len(payload))
	}
	if !h.Segmented && !ctl && len(payload) > MaxUnsegmentedAccess {
		return h, nil, fmt.Errorf("%w: unsegmented access PDU of %d bytes", ErrMalformedPdu, len(payload))
	}
	if !h.Segmented && ctl && len(payload) > MaxUnsegmentedControl {
		return h, nil, fmt.Errorf("%w: unsegmented control PDU of %d bytes", ErrMalformedPdu, len(payload))
	}
	return h, payload, nil
}

// SeqZero returns the 13 low bits of seq.
func SeqZero(seq uint32) uint16 {
	return uint16(seq & SeqZeroMask)
}

// SeqAuth recovers the sequence number of the first segment from the
// sequence number of any segment and the SeqZero it carries.
func SeqAuth(seq uint32, seqZero uint16) uint32 {
	delta := (seq - uint32(seqZero)) & SeqZeroMask
	return seq - delta
}
