package crypto

import (
	"crypto/rand"
	"fmt"
)

// RandomBytes returns n bytes from the system CSPRNG.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("crypto: reading random bytes: %w", err)
	}
	return b, nil
}

// RandomKey generates a fresh 128-bit network, application or device key.
func RandomKey() ([16]byte, error) {
	var k [16]byte
	b, err := RandomBytes(len(k))
	if err != nil {
		return k, err
	}
	copy(k[:], b)
	return k, nil
}
