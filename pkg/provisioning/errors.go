package provisioning

import "errors"

// Provisioning errors.
var (
	ErrInvalidPdu         = errors.New("provisioning: invalid PDU")
	ErrUnknownPduType     = errors.New("provisioning: unknown PDU type")
	ErrInvalidState       = errors.New("provisioning: unexpected PDU for session state")
	ErrConfirmationFailed = errors.New("provisioning: confirmation value mismatch")
	ErrDecryptionFailed   = errors.New("provisioning: provisioning data decryption failed")
	ErrUnsupported        = errors.New("provisioning: unsupported algorithm or method")
	ErrInvalidAuthValue   = errors.New("provisioning: auth value must be 16 bytes")
	ErrInvalidData        = errors.New("provisioning: invalid provisioning data")
	ErrPeerFailed         = errors.New("provisioning: peer reported failure")
)

// FailureCode is the error code carried by a Provisioning Failed PDU.
type FailureCode uint8

// Provisioning Failed error codes (Mesh Profile Table 5.38).
const (
	FailureInvalidPdu          FailureCode = 0x01
	FailureInvalidFormat       FailureCode = 0x02
	FailureUnexpectedPdu       FailureCode = 0x03
	FailureConfirmationFailed  FailureCode = 0x04
	FailureOutOfResources      FailureCode = 0x05
	FailureDecryptionFailed    FailureCode = 0x06
	FailureUnexpectedError     FailureCode = 0x07
	FailureCannotAssignAddress FailureCode = 0x08
)

// String returns the error code name.
func (c FailureCode) String() string {
	switch c {
	case FailureInvalidPdu:
		return "InvalidPDU"
	case FailureInvalidFormat:
		return "InvalidFormat"
	case FailureUnexpectedPdu:
		return "UnexpectedPDU"
	case FailureConfirmationFailed:
		return "ConfirmationFailed"
	case FailureOutOfResources:
		return "OutOfResources"
	case FailureDecryptionFailed:
		return "DecryptionFailed"
	case FailureUnexpectedError:
		return "UnexpectedError"
	case FailureCannotAssignAddress:
		return "CannotAssignAddresses"
	default:
		return "Unknown"
	}
}

// failureFor maps a local error to the code reported to the peer.
func failureFor(err error) FailureCode {
	switch {
	case errors.Is(err, ErrConfirmationFailed):
		return FailureConfirmationFailed
	case errors.Is(err, ErrDecryptionFailed):
		return FailureDecryptionFailed
	case errors.Is(err, ErrInvalidState):
		return FailureUnexpectedPdu
	case errors.Is(err, ErrInvalidPdu), errors.Is(err, ErrUnknownPduType):
		return FailureInvalidPdu
	case errors.Is(err, ErrUnsupported), errors.Is(err, ErrInvalidData):
		return FailureInvalidFormat
	default:
		return FailureUnexpectedError
	}
}
