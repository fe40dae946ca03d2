package mesh

import "errors"

// Stack errors.
var (
	ErrClosed           = errors.New("mesh: stack closed")
	ErrNoBearer         = errors.New("mesh: no bearer configured")
	ErrInvalidAddress   = errors.New("mesh: invalid element address")
	ErrUnknownNetKey    = errors.New("mesh: unknown network key index")
	ErrUnknownAppKey    = errors.New("mesh: unknown application key index")
	ErrNoDeviceKey      = errors.New("mesh: no device key for destination")
	ErrSeqAuthExhausted = errors.New("mesh: segment sequence numbers exceed SeqZero window")
)
