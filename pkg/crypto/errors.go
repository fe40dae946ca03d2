package crypto

import "errors"

// Crypto errors.
var (
	ErrInvalidKeySize     = errors.New("crypto: invalid key size, must be 16 bytes")
	ErrInvalidNonceSize   = errors.New("crypto: invalid nonce size")
	ErrInvalidMICSize     = errors.New("crypto: invalid MIC size, must be 4, 6, 8, 10, 12, 14 or 16")
	ErrPlaintextTooLong   = errors.New("crypto: plaintext too long")
	ErrCiphertextTooShort = errors.New("crypto: ciphertext shorter than MIC")

	// ErrAuthFailed is returned whenever a MIC does not validate.
	// Callers must drop the PDU; no plaintext accompanies this error.
	ErrAuthFailed = errors.New("crypto: message authentication failed")

	ErrInvalidBlockSize = errors.New("crypto: block must be 16 bytes")
	ErrInvalidPublicKey = errors.New("crypto: invalid P-256 public key")
)
