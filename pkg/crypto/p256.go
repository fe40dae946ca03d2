package crypto

import (
	"crypto/ecdh"
	"crypto/rand"
	"fmt"
)

// P-256 sizes used by the provisioning protocol (Mesh Profile Section 5.4.2.3).
const (
	// P256GroupSizeBytes is the size of a coordinate or private scalar.
	P256GroupSizeBytes = 32

	// P256PublicKeySize is the provisioning wire format: X (32) || Y (32).
	P256PublicKeySize = 64

	// P256SharedSecretSize is the ECDH output (x-coordinate).
	P256SharedSecretSize = 32
)

// P256KeyPair is an ephemeral ECDH key pair for one provisioning session.
type P256KeyPair struct {
	private *ecdh.PrivateKey
}

// P256GenerateKeyPair generates a new key pair.
func P256GenerateKeyPair() (*P256KeyPair, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: generating ECDH key: %w", err)
	}
	return &P256KeyPair{private: priv}, nil
}

// P256KeyPairFromPrivateKey restores a key pair from a 32-byte scalar.
// Used by tests and by devices with a static OOB public key.
func P256KeyPairFromPrivateKey(privateKey []byte) (*P256KeyPair, error) {
	if len(privateKey) != P256GroupSizeBytes {
		return nil, fmt.Errorf("crypto: private key must be %d bytes, got %d", P256GroupSizeBytes, len(privateKey))
	}
	priv, err := ecdh.P256().NewPrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	return &P256KeyPair{private: priv}, nil
}

// PublicKey returns the public key as X || Y (64 bytes), without the SEC1
// 0x04 prefix.
func (kp *P256KeyPair) PublicKey() []byte {
	return kp.private.PublicKey().Bytes()[1:]
}

// PrivateKey returns the 32-byte private scalar.
func (kp *P256KeyPair) PrivateKey() []byte {
	return kp.private.Bytes()
}

// ECDH computes the shared secret with a peer's X || Y public key.
// Invalid points (not on the curve, identity) are rejected.
func (kp *P256KeyPair) ECDH(peerPublicKey []byte) ([]byte, error) {
	peer, err := P256ParsePublicKey(peerPublicKey)
	if err != nil {
		return nil, err
	}
	secret, err := kp.private.ECDH(peer)
	if err != nil {
		return nil, fmt.Errorf("crypto: ECDH: %w", err)
	}
	return secret, nil
}

// P256ParsePublicKey parses and validates an X || Y public key.
func P256ParsePublicKey(xy []byte) (*ecdh.PublicKey, error) {
	if len(xy) != P256PublicKeySize {
		return nil, fmt.Errorf("%w: must be %d bytes, got %d", ErrInvalidPublicKey, P256PublicKeySize, len(xy))
	}
	sec1 := make([]byte, 1+P256PublicKeySize)
	sec1[0] = 0x04
	copy(sec1[1:], xy)
	pub, err := ecdh.P256().NewPublicKey(sec1)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return pub, nil
}
