package network

import (
	"fmt"

	"golang.org/x/crypto/cryptobyte"

	"github.com/backkem/btmesh/pkg/access"
	"github.com/backkem/btmesh/pkg/crypto"
	"github.com/backkem/btmesh/pkg/keys"
)

// SAR is the segmentation field of a proxy PDU.
type SAR uint8

// Proxy PDU SAR values (Mesh Profile Table 6.2).
const (
	SARComplete     SAR = 0b00
	SARFirst        SAR = 0b01
	SARContinuation SAR = 0b10
	SARLast         SAR = 0b11
)

// ProxyType is the message type carried by a proxy PDU.
type ProxyType uint8

// Proxy PDU message types (Mesh Profile Table 6.3).
const (
	ProxyTypeNetwork       ProxyType = 0x00
	ProxyTypeBeacon        ProxyType = 0x01
	ProxyTypeConfiguration ProxyType = 0x02
	ProxyTypeProvisioning  ProxyType = 0x03
)

// String returns a human readable name.
func (t ProxyType) String() string {
	switch t {
	case ProxyTypeNetwork:
		return "Network"
	case ProxyTypeBeacon:
		return "Beacon"
	case ProxyTypeConfiguration:
		return "Configuration"
	case ProxyTypeProvisioning:
		return "Provisioning"
	default:
		return fmt.Sprintf("ProxyType(%d)", uint8(t))
	}
}

// ProxyPDU is one GATT proxy PDU: SAR (2 bits) | type (6 bits) || data.
type ProxyPDU struct {
	SAR  SAR
	Type ProxyType
	Data []byte
}

// Encode returns the PDU bytes.
func (p ProxyPDU) Encode() []byte {
	out := make([]byte, 1+len(p.Data))
	out[0] = uint8(p.SAR&0b11)<<6 | uint8(p.Type)&0x3F
	copy(out[1:], p.Data)
	return out
}

// DecodeProxyPDU parses a proxy PDU. Data aliases b.
func DecodeProxyPDU(b []byte) (ProxyPDU, error) {
	if len(b) < 2 {
		return ProxyPDU{}, ErrProxyPdu
	}
	p := ProxyPDU{SAR: SAR(b[0] >> 6), Type: ProxyType(b[0] & 0x3F), Data: b[1:]}
	if p.Type > ProxyTypeProvisioning {
		return ProxyPDU{}, fmt.Errorf("%w: type %#x", ErrProxyPdu, uint8(p.Type))
	}
	return p, nil
}

// Wrap returns data framed as a single complete proxy PDU.
func Wrap(t ProxyType, data []byte) []byte {
	return ProxyPDU{SAR: SARComplete, Type: t, Data: data}.Encode()
}

// FilterType selects how a proxy server filters outgoing messages.
type FilterType uint8

// Proxy filter types.
const (
	// FilterAccept forwards only addresses in the filter list.
	FilterAccept FilterType = 0x00

	// FilterReject forwards everything except addresses in the list.
	FilterReject FilterType = 0x01
)

// Proxy configuration opcodes (Mesh Profile Table 6.4).
const (
	OpSetFilterType   uint8 = 0x00
	OpAddAddresses    uint8 = 0x01
	OpRemoveAddresses uint8 = 0x02
	OpFilterStatus    uint8 = 0x03
)

// ProxyConfigMessage is one of *SetFilterType, *AddAddresses,
// *RemoveAddresses or *FilterStatus.
type ProxyConfigMessage interface {
	Opcode() uint8
	encodeParams(b *cryptobyte.Builder)
}

// SetFilterType resets the filter list and sets its type.
type SetFilterType struct {
	Type FilterType
}

// AddAddresses adds addresses to the filter list.
type AddAddresses struct {
	Addresses []access.Address
}

// RemoveAddresses removes addresses from the filter list.
type RemoveAddresses struct {
	Addresses []access.Address
}

// FilterStatus reports the filter type and list size.
type FilterStatus struct {
	Type     FilterType
	ListSize uint16
}

func (*SetFilterType) Opcode() uint8   { return OpSetFilterType }
func (*AddAddresses) Opcode() uint8    { return OpAddAddresses }
func (*RemoveAddresses) Opcode() uint8 { return OpRemoveAddresses }
func (*FilterStatus) Opcode() uint8    { return OpFilterStatus }

func (m *SetFilterType) encodeParams(b *cryptobyte.Builder) { b.AddUint8(uint8(m.Type)) }

func (m *AddAddresses) encodeParams(b *cryptobyte.Builder) { addAddresses(b, m.Addresses) }

func (m *RemoveAddresses) encodeParams(b *cryptobyte.Builder) { addAddresses(b, m.Addresses) }

func (m *FilterStatus) encodeParams(b *cryptobyte.Builder) {
	b.AddUint8(uint8(m.Type))
	b.AddUint16(m.ListSize)
}

func addAddresses(b *cryptobyte.Builder, addrs []access.Address) {
	for _, a := range addrs {
		b.AddUint16(uint16(a))
	}
}

// EncodeProxyConfig builds the network PDU of a proxy configuration message:
// CTL=1, TTL=0, DST=unassigned, encrypted with the proxy nonce.
func EncodeProxyConfig(seq uint32, src access.Address, ivIndex uint32, msg ProxyConfigMessage, m *keys.NetworkMaterial) ([]byte, error) {
	if !src.IsUnicast() {
		return nil, ErrInvalidSource
	}
	var b cryptobyte.Builder
	b.AddUint8(msg.Opcode())
	msg.encodeParams(&b)
	transport, err := b.Bytes()
	if err != nil {
		return nil, err
	}

	hdr := Header{CTL: true, TTL: 0, Seq: seq, Src: src, Dst: access.UnassignedAddress, IVIndex: ivIndex}
	return seal(hdr, crypto.ProxyNonce(seq, uint16(src), ivIndex), transport, m)
}

// DecodeProxyConfig authenticates and parses a proxy configuration message.
// maxSize bounds the PDU, normally the proxy connection MTU.
func DecodeProxyConfig(pdu []byte, current uint32, candidates []keys.Candidate, maxSize int) (*Header, ProxyConfigMessage, error) {
	hdr, transport, err := open(pdu, current, candidates, maxSize, func(h *Header) []byte {
		return crypto.ProxyNonce(h.Seq, uint16(h.Src), h.IVIndex)
	})
	if err != nil {
		return nil, nil, err
	}
	if !hdr.CTL || hdr.TTL != 0 || hdr.Dst != access.UnassignedAddress {
		return nil, nil, fmt.Errorf("%w: not a proxy configuration message", ErrMalformedPdu)
	}
	msg, err := decodeProxyConfigParams(transport)
	if err != nil {
		return nil, nil, err
	}
	return hdr, msg, nil
}

func decodeProxyConfigParams(transport []byte) (ProxyConfigMessage, error) {
	s := cryptobyte.String(transport)
	var op uint8
	if !s.ReadUint8(&op) {
		return nil, ErrMalformedPdu
	}
	switch op {
	case OpSetFilterType:
		var t uint8
		if !s.ReadUint8(&t) || !s.Empty() {
			return nil, ErrMalformedPdu
		}
		return &SetFilterType{Type: FilterType(t)}, nil
	case OpAddAddresses, OpRemoveAddresses:
		if len(s)%2 != 0 {
			return nil, ErrMalformedPdu
		}
		var addrs []access.Address
		for !s.Empty() {
			var a uint16
			s.ReadUint16(&a)
			addrs = append(addrs, access.Address(a))
		}
		if op == OpAddAddresses {
			return &AddAddresses{Addresses: addrs}, nil
		}
		return &RemoveAddresses{Addresses: addrs}, nil
	case OpFilterStatus:
		var t uint8
		var n uint16
		if !s.ReadUint8(&t) || !s.ReadUint16(&n) || !s.Empty() {
			return nil, ErrMalformedPdu
		}
		return &FilterStatus{Type: FilterType(t), ListSize: n}, nil
	default:
		return nil, fmt.Errorf("%w: %#x", ErrUnknownProxyOp, op)
	}
}
