// Package codec provides the byte and bit level helpers shared by the mesh
// layers: hex conversion, 24-bit big/little-endian integers and a bit
// reader/writer for packed sub-byte fields.
package codec

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// FromHex decodes a hex string. Whitespace, ':' separators and a leading
// "0x" are ignored and case does not matter, so fixture strings copied from
// sample data decode as-is.
func FromHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', ':':
			return -1
		}
		return r
	}, s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHex, err)
	}
	return b, nil
}

// MustFromHex is FromHex for constants and tests; it panics on bad input.
func MustFromHex(s string) []byte {
	b, err := FromHex(s)
	if err != nil {
		panic(err)
	}
	return b
}

// ToHex encodes b as upper-case hex, the format used in logs.
func ToHex(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}

// Key16FromHex decodes exactly 16 bytes of hex into a key array.
func Key16FromHex(s string) ([16]byte, error) {
	var k [16]byte
	b, err := FromHex(s)
	if err != nil {
		return k, err
	}
	if len(b) != len(k) {
		return k, fmt.Errorf("%w: key must be 16 bytes, got %d", ErrInvalidHex, len(b))
	}
	copy(k[:], b)
	return k, nil
}
