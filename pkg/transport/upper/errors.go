package upper

import "errors"

// Upper transport errors.
var (
	// ErrUnknownKey is returned when no key with a matching AID (or no device
	// key) is available for an incoming PDU.
	ErrUnknownKey = errors.New("upper: no matching key")

	// ErrAuthFailed is returned when every candidate key failed TransMIC
	// verification.
	ErrAuthFailed = errors.New("upper: TransMIC verification failed")

	// ErrMalformedPdu is returned for PDUs too short to hold a TransMIC and an
	// opcode.
	ErrMalformedPdu = errors.New("upper: malformed upper transport PDU")

	// ErrMissingLabel is returned when a virtual destination has no label UUID.
	ErrMissingLabel = errors.New("upper: virtual destination without label UUID")
)
