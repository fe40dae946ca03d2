// AES-CMAC and the mesh key derivation functions.
// This implements Mesh Profile Section 3.8.2 (s1, k1, k2, k3, k4).

package crypto

import (
	"crypto/aes"

	"github.com/aead/cmac"
)

// CMACSize is the AES-CMAC output length.
const CMACSize = 16

// Salt labels used by the key derivation functions.
var (
	saltK2       = mustS1("smk2")
	saltK3       = mustS1("smk3")
	saltK4       = mustS1("smk4")
	saltIdentity = mustS1("nkik")
	saltBeacon   = mustS1("nkbk")

	k3Input = []byte("id64\x01")
	k4Input = []byte("id6\x01")
	id128   = []byte("id128\x01")
	zeroKey = make([]byte, 16)
)

// K2Output holds the network credentials derived by k2.
type K2Output struct {
	// NID is the 7-bit network identifier carried in every network PDU.
	NID uint8

	// EncryptionKey encrypts DST || TransportPDU.
	EncryptionKey [16]byte

	// PrivacyKey obfuscates CTL || TTL || SEQ || SRC.
	PrivacyKey [16]byte
}

// AESCMAC computes AES-CMAC(key, data) per RFC 4493.
func AESCMAC(key, data []byte) ([]byte, error) {
	if len(key) != AESCCMKeySize {
		return nil, ErrInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cmac.Sum(data, block, CMACSize)
}

// S1 is the salt generation function: AES-CMAC with a zero key.
func S1(m []byte) ([]byte, error) {
	return AESCMAC(zeroKey, m)
}

func mustS1(label string) []byte {
	s, err := S1([]byte(label))
	if err != nil {
		panic(err)
	}
	return s
}

// K1 derives a key: T = AES-CMAC(SALT, N); k1 = AES-CMAC(T, P).
// N may be any length (the ECDH secret is 32 bytes).
func K1(n, salt, p []byte) ([]byte, error) {
	t, err := AESCMAC(salt, n)
	if err != nil {
		return nil, err
	}
	return AESCMAC(t, p)
}

// K2 derives NID, EncryptionKey and PrivacyKey from a network key.
// p is 0x00 for master credentials.
func K2(n, p []byte) (K2Output, error) {
	var out K2Output
	if len(n) != AESCCMKeySize {
		return out, ErrInvalidKeySize
	}
	t, err := AESCMAC(saltK2, n)
	if err != nil {
		return out, err
	}

	t1, err := AESCMAC(t, concat(p, []byte{0x01}))
	if err != nil {
		return out, err
	}
	t2, err := AESCMAC(t, concat(t1, p, []byte{0x02}))
	if err != nil {
		return out, err
	}
	t3, err := AESCMAC(t, concat(t2, p, []byte{0x03}))
	if err != nil {
		return out, err
	}

	out.NID = t1[15] & 0x7F
	copy(out.EncryptionKey[:], t2)
	copy(out.PrivacyKey[:], t3)
	return out, nil
}

// K3 derives the 64-bit Network ID from a network key.
func K3(n []byte) ([8]byte, error) {
	var id [8]byte
	t, err := AESCMAC(saltK3, n)
	if err != nil {
		return id, err
	}
	r, err := AESCMAC(t, k3Input)
	if err != nil {
		return id, err
	}
	copy(id[:], r[8:])
	return id, nil
}

// K4 derives the 6-bit AID from an application key.
func K4(n []byte) (uint8, error) {
	t, err := AESCMAC(saltK4, n)
	if err != nil {
		return 0, err
	}
	r, err := AESCMAC(t, k4Input)
	if err != nil {
		return 0, err
	}
	return r[15] & 0x3F, nil
}

// IdentityKey derives the node identity key used by proxy advertising.
func IdentityKey(netKey []byte) ([16]byte, error) {
	return k1Key(netKey, saltIdentity)
}

// BeaconKey derives the key that authenticates Secure Network Beacons.
func BeaconKey(netKey []byte) ([16]byte, error) {
	return k1Key(netKey, saltBeacon)
}

func k1Key(n, salt []byte) ([16]byte, error) {
	var k [16]byte
	r, err := K1(n, salt, id128)
	if err != nil {
		return k, err
	}
	copy(k[:], r)
	return k, nil
}

func concat(parts ...[]byte) []byte {
	size := 0
	for _, p := range parts {
		size += len(p)
	}
	out := make([]byte, 0, size)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
