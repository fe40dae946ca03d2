package bearer

import "errors"

// Bearer errors.
var (
	ErrClosed       = errors.New("bearer: closed")
	ErrPduTooLarge  = errors.New("bearer: PDU exceeds MTU")
	ErrInvalidMTU   = errors.New("bearer: MTU too small")
	ErrProxySAR     = errors.New("bearer: unexpected proxy SAR sequence")
	ErrProxyTooLong = errors.New("bearer: reassembled proxy message too long")
	ErrNoHandler    = errors.New("bearer: handler is required")
	ErrStarted      = errors.New("bearer: already started")
	ErrNoPeers      = errors.New("bearer: no peers")
)
