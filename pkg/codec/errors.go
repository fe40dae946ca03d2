package codec

import "errors"

// Codec errors.
var (
	ErrInvalidHex     = errors.New("codec: invalid hex string")
	ErrShortBuffer    = errors.New("codec: buffer too short")
	ErrBitOverflow    = errors.New("codec: value does not fit in field width")
	ErrInvalidBitSize = errors.New("codec: field width must be 1-64 bits")
)
