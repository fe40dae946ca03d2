// AES-CCM for Bluetooth Mesh.
// This implements AES-128-CCM as defined in NIST 800-38C and RFC 3610 with the
// parameters used by Mesh Profile Section 3.8.2:
//   - Key length: 128 bits
//   - Nonce length: 13 bytes (L = 2)
//   - MIC length: 32 or 64 bits (network, upper transport), 64 bits (provisioning data)

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"encoding/binary"
)

// AES-CCM constants.
const (
	// AESCCMKeySize is the AES-128 key size in bytes.
	AESCCMKeySize = 16

	// AESCCMNonceSize is the nonce size used by every mesh nonce type.
	AESCCMNonceSize = 13

	// MICSize32 is the 32-bit MIC used by access messages and unsegmented
	// network PDUs with CTL=0.
	MICSize32 = 4

	// MICSize64 is the 64-bit MIC used by control network PDUs, segmented access
	// messages with SZMIC=1 and provisioning data.
	MICSize64 = 8

	aesBlockSize = 16
)

// AESCCM is an AES-128-CCM cipher with a fixed nonce and MIC size.
type AESCCM struct {
	block   cipher.Block
	tagSize int // M
	lenSize int // L = 15 - nonce size
}

// NewAESCCM creates a cipher with a 13-byte nonce and the given MIC size.
func NewAESCCM(key []byte, micSize int) (*AESCCM, error) {
	return NewAESCCMWithParams(key, AESCCMNonceSize, micSize)
}

// NewAESCCMWithParams creates a cipher with configurable nonce and tag sizes.
// RFC 3610 vectors use nonce sizes other than 13.
//
// Parameters:
//   - key: 16-byte AES-128 key
//   - nonceSize: nonce length in bytes (7-13)
//   - tagSize: MIC length in bytes (4, 6, 8, 10, 12, 14 or 16)
func NewAESCCMWithParams(key []byte, nonceSize, tagSize int) (*AESCCM, error) {
	if len(key) != AESCCMKeySize {
		return nil, ErrInvalidKeySize
	}
	lenSize := 15 - nonceSize
	if lenSize < 2 || lenSize > 8 {
		return nil, ErrInvalidNonceSize
	}
	if tagSize < 4 || tagSize > 16 || tagSize%2 != 0 {
		return nil, ErrInvalidMICSize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &AESCCM{block: block, tagSize: tagSize, lenSize: lenSize}, nil
}

// NonceSize returns the nonce size in bytes.
func (c *AESCCM) NonceSize() int {
	return 15 - c.lenSize
}

// TagSize returns the MIC size in bytes.
func (c *AESCCM) TagSize() int {
	return c.tagSize
}

// Seal encrypts plaintext and returns ciphertext || MIC.
// aad may be nil; mesh only uses it for virtual address label UUIDs.
func (c *AESCCM) Seal(nonce, plaintext, aad []byte) ([]byte, error) {
	if len(nonce) != c.NonceSize() {
		return nil, ErrInvalidNonceSize
	}
	if c.lenSize < 8 && uint64(len(plaintext)) >= uint64(1)<<(8*c.lenSize) {
		return nil, ErrPlaintextTooLong
	}

	out := make([]byte, len(plaintext)+c.tagSize)
	tag := c.cbcMAC(nonce, plaintext, aad)
	s0 := c.counterBlock(nonce, 0)
	for i := 0; i < c.tagSize; i++ {
		out[len(plaintext)+i] = tag[i] ^ s0[i]
	}
	c.ctr(nonce, out[:len(plaintext)], plaintext)
	return out, nil
}

// Open authenticates and decrypts ciphertext || MIC.
// A MIC mismatch returns ErrAuthFailed and no plaintext.
func (c *AESCCM) Open(nonce, ciphertext, aad []byte) ([]byte, error) {
	if len(nonce) != c.NonceSize() {
		return nil, ErrInvalidNonceSize
	}
	if len(ciphertext) < c.tagSize {
		return nil, ErrCiphertextTooShort
	}

	data := ciphertext[:len(ciphertext)-c.tagSize]
	mic := ciphertext[len(ciphertext)-c.tagSize:]

	plaintext := make([]byte, len(data))
	c.ctr(nonce, plaintext, data)

	expected := c.cbcMAC(nonce, plaintext, aad)
	s0 := c.counterBlock(nonce, 0)
	for i := 0; i < c.tagSize; i++ {
		expected[i] ^= s0[i]
	}
	if subtle.ConstantTimeCompare(mic, expected[:c.tagSize]) != 1 {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

// cbcMAC computes the unencrypted tag T (NIST 800-38C Section 6.1).
func (c *AESCCM) cbcMAC(nonce, plaintext, aad []byte) []byte {
	var b0 [aesBlockSize]byte
	if len(aad) > 0 {
		b0[0] |= 1 << 6
	}
	b0[0] |= byte((c.tagSize-2)/2) << 3
	b0[0] |= byte(c.lenSize - 1)
	n := c.NonceSize()
	copy(b0[1:1+n], nonce)
	length := uint64(len(plaintext))
	for i := aesBlockSize - 1; i > n; i-- {
		b0[i] = byte(length)
		length >>= 8
	}

	mac := make([]byte, aesBlockSize)
	c.block.Encrypt(mac, b0[:])

	if len(aad) > 0 {
		// Mesh AAD is at most a 16-byte label UUID, so the 2-byte length
		// encoding always applies.
		var hdr [2]byte
		binary.BigEndian.PutUint16(hdr[:], uint16(len(aad)))
		c.absorb(mac, append(hdr[:], aad...))
	}
	c.absorb(mac, plaintext)
	return mac
}

// absorb XORs data into the running MAC block by block, zero padding the tail.
func (c *AESCCM) absorb(mac, data []byte) {
	for len(data) > 0 {
		var blk [aesBlockSize]byte
		n := copy(blk[:], data)
		data = data[n:]
		subtle.XORBytes(mac, mac, blk[:])
		c.block.Encrypt(mac, mac)
	}
}

// counterBlock returns E(K, A_i).
func (c *AESCCM) counterBlock(nonce []byte, i uint32) []byte {
	var a [aesBlockSize]byte
	a[0] = byte(c.lenSize - 1)
	copy(a[1:], nonce)
	for j := 0; j < c.lenSize && j < 4; j++ {
		a[aesBlockSize-1-j] = byte(i >> (8 * j))
	}
	out := make([]byte, aesBlockSize)
	c.block.Encrypt(out, a[:])
	return out
}

// ctr applies the CCM keystream starting at counter 1.
func (c *AESCCM) ctr(nonce []byte, dst, src []byte) {
	for i, ctr := 0, uint32(1); i < len(src); i, ctr = i+aesBlockSize, ctr+1 {
		ks := c.counterBlock(nonce, ctr)
		end := i + aesBlockSize
		if end > len(src) {
			end = len(src)
		}
		subtle.XORBytes(dst[i:end], src[i:end], ks)
	}
}

// AESCCMEncrypt is a convenience wrapper around NewAESCCM and Seal.
func AESCCMEncrypt(key, nonce, plaintext, aad []byte, micSize int) ([]byte, error) {
	ccm, err := NewAESCCM(key, micSize)
	if err != nil {
		return nil, err
	}
	return ccm.Seal(nonce, plaintext, aad)
}

// AESCCMDecrypt is a convenience wrapper around NewAESCCM and Open.
func AESCCMDecrypt(key, nonce, ciphertext, aad []byte, micSize int) ([]byte, error) {
	ccm, err := NewAESCCM(key, micSize)
	if err != nil {
		return nil, err
	}
	return ccm.Open(nonce, ciphertext, aad)
}
