// Package bearer moves mesh PDUs over a link: an advertising or GATT
// connection in production, an in-memory pipe in tests.
//
// A Bearer only sends. Received PDUs are pushed into the stack by whoever
// owns the link, usually through a Handler.
package bearer

import "context"

// Bearer sends one PDU at a time over a link.
type Bearer interface {
	// Send writes pdu to the link. It may block until the link accepts it.
	Send(ctx context.Context, pdu []byte) error

	// MTU is the largest PDU the link carries in one write.
	MTU() int
}

// Handler receives PDUs read from a link.
type Handler func(pdu []byte)

// Link MTUs.
const (
	// AdvertisingMTU is the largest network PDU in one advertising packet.
	AdvertisingMTU = 29

	// MinGATTMTU is the default ATT MTU (23) minus the 3-byte ATT header.
	MinGATTMTU = 20
)
