package keys

import "errors"

// Key errors.
var (
	ErrInvalidKeyIndex = errors.New("keys: key index exceeds 12 bits")
	ErrInvalidPhase    = errors.New("keys: invalid key refresh phase")
	ErrNoOldKey        = errors.New("keys: key refresh requires the previous key")
)
