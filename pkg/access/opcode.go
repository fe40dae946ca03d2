package access

import (
	"encoding/binary"
	"fmt"
)

// Opcode is an access layer opcode in its on-air byte order, right aligned:
// 1-octet SIG opcodes are 0x00-0x7E, 2-octet SIG opcodes 0x8000-0xBFFF and
// 3-octet vendor opcodes 0xC00000-0xFFFFFF (opcode byte, company ID LE).
type Opcode uint32

// VendorOpcode builds a 3-octet opcode from a 6-bit vendor opcode and a
// company identifier.
func VendorOpcode(op uint8, companyID uint16) Opcode {
	var cid [2]byte
	binary.LittleEndian.PutUint16(cid[:], companyID)
	return Opcode(uint32(0xC0|op&0x3F)<<16 | uint32(cid[0])<<8 | uint32(cid[1]))
}

// Size returns the encoded length in octets.
func (o Opcode) Size() int {
	switch {
	case o <= 0xFF:
		return 1
	case o <= 0xFFFF:
		return 2
	default:
		return 3
	}
}

// IsVendor reports whether o is a 3-octet vendor opcode.
func (o Opcode) IsVendor() bool {
	return o.Size() == 3
}

// CompanyID returns the company identifier of a vendor opcode.
func (o Opcode) CompanyID() uint16 {
	if !o.IsVendor() {
		return 0
	}
	return uint16(o&0xFF)<<8 | uint16(o>>8&0xFF)
}

// Validate checks that the leading bits agree with the opcode length.
func (o Opcode) Validate() error {
	switch o.Size() {
	case 1:
		if o == 0x7F {
			return ErrReservedOpcode
		}
		if o&0x80 != 0 {
			return fmt.Errorf("%w: %#x", ErrInvalidOpcode, uint32(o))
		}
	case 2:
		if o>>14 != 0b10 {
			return fmt.Errorf("%w: %#x", ErrInvalidOpcode, uint32(o))
		}
	case 3:
		if o>>22 != 0b11 || o > 0xFFFFFF {
			return fmt.Errorf("%w: %#x", ErrInvalidOpcode, uint32(o))
		}
	}
	return nil
}

// Bytes returns the on-air encoding.
func (o Opcode) Bytes() []byte {
	switch o.Size() {
	case 1:
		return []byte{byte(o)}
	case 2:
		return []byte{byte(o >> 8), byte(o)}
	default:
		return []byte{byte(o >> 16), byte(o >> 8), byte(o)}
	}
}

// String formats the opcode as hex.
func (o Opcode) String() string {
	return fmt.Sprintf("%0*X", o.Size()*2, uint32(o))
}

// OpcodeSize infers the opcode length from the first octet of an access PDU:
// 0b0xxxxxxx is 1 octet, 0b10xxxxxx 2 octets and 0b11xxxxxx 3 octets.
func OpcodeSize(first byte) int {
	switch first >> 6 {
	case 0b10:
		return 2
	case 0b11:
		return 3
	default:
		return 1
	}
}

// ParseOpcode reads the opcode at the start of an access PDU and returns it
// with its length.
func ParseOpcode(pdu []byte) (Opcode, int, error) {
	if len(pdu) == 0 {
		return 0, 0, ErrEmptyPdu
	}
	if pdu[0] == 0x7F {
		return 0, 0, ErrReservedOpcode
	}
	n := OpcodeSize(pdu[0])
	if len(pdu) < n {
		return 0, 0, ErrTruncatedOpcode
	}
	var o Opcode
	for _, b := range pdu[:n] {
		o = o<<8 | Opcode(b)
	}
	return o, n, nil
}

// Well-known foundation model opcodes used by the stack and its tests.
const (
	OpConfigAppKeyAdd          Opcode = 0x00
	OpConfigCompositionDataGet Opcode = 0x8008
	OpConfigAppKeyStatus       Opcode = 0x8003
	OpHealthCurrentStatus      Opcode = 0x04
	OpGenericOnOffGet          Opcode = 0x8201
	OpGenericOnOffSet          Opcode = 0x8202
	OpGenericOnOffStatus       Opcode = 0x8204
	OpSchedulerActionSet       Opcode = 0x60
	OpSchedulerActionStatus    Opcode = 0x5F
)
