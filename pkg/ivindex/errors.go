package ivindex

import "errors"

// IV index and beacon errors.
var (
	ErrIvIndexRejected = errors.New("ivindex: IV index rejected")
	ErrMalformedBeacon = errors.New("ivindex: malformed beacon")
	ErrBeaconAuth      = errors.New("ivindex: beacon authentication failed")
	ErrNetworkMismatch = errors.New("ivindex: beacon for another network")
)
