package network

import "errors"

// Network layer errors.
var (
	ErrMalformedPdu     = errors.New("network: malformed network PDU")
	ErrUnknownKey       = errors.New("network: no network key matches NID")
	ErrAuthFailed       = errors.New("network: NetMIC verification failed")
	ErrTransportTooLong = errors.New("network: lower transport PDU too long")
	ErrInvalidSource    = errors.New("network: source is not a unicast address")
	ErrInvalidTTL       = errors.New("network: TTL must be 0 or 2-127")
	ErrReplay           = errors.New("network: replayed sequence number")
	ErrReplayCacheFull  = errors.New("network: replay protection list full")
	ErrProxyPdu         = errors.New("network: malformed proxy PDU")
	ErrUnknownProxyOp   = errors.New("network: unknown proxy configuration opcode")
)
