// Package access defines mesh addresses, access layer opcodes and the message
// types carried through the transport pipeline.
//
// A Message is either an *AccessMessage (opcode + parameters, encrypted at the
// upper transport layer with an application or device key) or a
// *ControlMessage (7-bit transport control opcode + parameters, authenticated
// by the network layer only). Code handling both uses a type switch.
package access

import "fmt"

// Payload size limits (Mesh Profile Section 3.6).
const (
	// MaxUnsegmentedAccessPayload is the largest access payload that fits an
	// unsegmented PDU together with a 32-bit TransMIC.
	MaxUnsegmentedAccessPayload = 11

	// MaxAccessPayload is the largest access payload (32 segments of 12
	// octets minus a 32-bit TransMIC).
	MaxAccessPayload = 380

	// MaxTTL is the largest TTL value.
	MaxTTL = 0x7F

	// DefaultTTL is used when a message does not set one.
	DefaultTTL = 5
)

// Header carries the fields shared by every message kind.
type Header struct {
	Src Address
	Dst Address

	// TTL is 0 (not relayed) or 2-127.
	TTL uint8

	// Seq is the 24-bit sequence number of the first (or only) PDU.
	Seq uint32

	// IVIndex is the IV index used for nonces.
	IVIndex uint32

	// NetKeyIndex selects the network key.
	NetKeyIndex uint16
}

// ValidateTTL checks that TTL is 0 or in 2-127.
func (h *Header) ValidateTTL() error {
	if h.TTL == 1 || h.TTL > MaxTTL {
		return fmt.Errorf("%w: %d", ErrInvalidTTL, h.TTL)
	}
	return nil
}

// Message is implemented by *AccessMessage and *ControlMessage only.
type Message interface {
	// MessageHeader returns the shared header.
	MessageHeader() *Header

	// CTL reports the value of the network CTL bit for this message kind.
	CTL() bool

	sealed()
}

// AccessMessage is an application or foundation model message.
type AccessMessage struct {
	Header

	// AKF selects the application key (true) or the device key (false).
	AKF bool

	// AID is the 6-bit application key identifier (zero when AKF is false).
	AID uint8

	// AppKeyIndex is the application key that encrypted or decrypted the
	// message. Meaningful only when AKF is true.
	AppKeyIndex uint16

	// ASZMIC selects a 64-bit TransMIC. Only valid for segmented messages.
	ASZMIC bool

	// LabelUUID is the 16-byte label when Dst is a virtual address.
	LabelUUID []byte

	Opcode     Opcode
	Parameters []byte
}

// MessageHeader implements Message.
func (m *AccessMessage) MessageHeader() *Header { return &m.Header }

// CTL implements Message.
func (m *AccessMessage) CTL() bool { return false }

func (m *AccessMessage) sealed() {}

// AccessPDU returns opcode || parameters.
func (m *AccessMessage) AccessPDU() ([]byte, error) {
	return AssemblePDU(m.Opcode, m.Parameters)
}

// TransMICSize returns the TransMIC size selected by ASZMIC.
func (m *AccessMessage) TransMICSize() int {
	if m.ASZMIC {
		return 8
	}
	return 4
}

// ControlMessage is a transport control message (Segment Acknowledgment,
// Friend Poll, Heartbeat, ...).
type ControlMessage struct {
	Header

	// Opcode is the 7-bit transport control opcode.
	Opcode uint8

	Parameters []byte
}

// MessageHeader implements Message.
func (m *ControlMessage) MessageHeader() *Header { return &m.Header }

// CTL implements Message.
func (m *ControlMessage) CTL() bool { return true }

func (m *ControlMessage) sealed() {}

// Validate checks the opcode range.
func (m *ControlMessage) Validate() error {
	if m.Opcode > 0x7F {
		return ErrInvalidControlOp
	}
	return m.ValidateTTL()
}

// Transport control opcodes (Mesh Profile Table 3.43).
const (
	ControlSegmentAck    uint8 = 0x00
	ControlFriendPoll    uint8 = 0x01
	ControlFriendUpdate  uint8 = 0x02
	ControlFriendRequest uint8 = 0x03
	ControlFriendOffer   uint8 = 0x04
	ControlHeartbeat     uint8 = 0x0A
)

// AssemblePDU builds an access PDU from an opcode and its parameters.
func AssemblePDU(op Opcode, params []byte) ([]byte, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}
	pdu := append(op.Bytes(), params...)
	if len(pdu) > MaxAccessPayload {
		return nil, ErrPayloadTooLong
	}
	return pdu, nil
}

// ParsePDU splits an access PDU into opcode and parameters. The parameters
// alias pdu.
func ParsePDU(pdu []byte) (Opcode, []byte, error) {
	op, n, err := ParseOpcode(pdu)
	if err != nil {
		return 0, nil, err
	}
	return op, pdu[n:], nil
}
