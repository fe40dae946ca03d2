package access

import "fmt"

// Address is a 16-bit mesh address.
type Address uint16

// Well-known addresses (Mesh Profile Section 3.4.2).
const (
	UnassignedAddress Address = 0x0000
	AllProxies        Address = 0xFFFC
	AllFriends        Address = 0xFFFD
	AllRelays         Address = 0xFFFE
	AllNodes          Address = 0xFFFF
)

// IsUnassigned reports whether a is the unassigned address.
func (a Address) IsUnassigned() bool { return a == UnassignedAddress }

// IsUnicast reports whether a is a unicast element address (0x0001-0x7FFF).
func (a Address) IsUnicast() bool { return a >= 0x0001 && a <= 0x7FFF }

// IsVirtual reports whether a is a virtual address (0x8000-0xBFFF).
func (a Address) IsVirtual() bool { return a&0xC000 == 0x8000 }

// IsGroup reports whether a is a group address, including fixed groups.
func (a Address) IsGroup() bool { return a >= 0xC000 }

// String formats the address as 4 hex digits.
func (a Address) String() string { return fmt.Sprintf("%04X", uint16(a)) }
