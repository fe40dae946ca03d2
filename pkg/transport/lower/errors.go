package lower

import "errors"

// Lower transport errors.
var (
	ErrMalformedPdu        = errors.New("lower: malformed lower transport PDU")
	ErrPayloadTooLong      = errors.New("lower: upper transport PDU exceeds 32 segments")
	ErrSegmentMismatch     = errors.New("lower: segment disagrees with reassembly in progress")
	ErrSegmentationTimeout = errors.New("lower: segmented message timed out")
	ErrSegmentCancelled    = errors.New("lower: segmented message cancelled by receiver")
)
