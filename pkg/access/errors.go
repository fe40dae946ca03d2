package access

import "errors"

// Access layer errors.
var (
	ErrEmptyPdu         = errors.New("access: empty access PDU")
	ErrTruncatedOpcode  = errors.New("access: access PDU shorter than its opcode")
	ErrInvalidOpcode    = errors.New("access: invalid opcode")
	ErrReservedOpcode   = errors.New("access: opcode 0x7F is reserved")
	ErrPayloadTooLong   = errors.New("access: access payload exceeds 380 bytes")
	ErrInvalidAddress   = errors.New("access: invalid address for this role")
	ErrInvalidTTL       = errors.New("access: TTL must be 0 or 2-127")
	ErrInvalidControlOp = errors.New("access: control opcode exceeds 7 bits")
)
