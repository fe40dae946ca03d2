package crypto

import "crypto/aes"

// AESECB encrypts a single 16-byte block. The network layer uses it to derive
// the privacy random PECB from the privacy key.
func AESECB(key, block []byte) ([]byte, error) {
	if len(key) != AESCCMKeySize {
		return nil, ErrInvalidKeySize
	}
	if len(block) != aesBlockSize {
		return nil, ErrInvalidBlockSize
	}
	c, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, aesBlockSize)
	c.Encrypt(out, block)
	return out, nil
}
