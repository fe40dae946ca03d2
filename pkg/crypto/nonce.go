// Nonce construction for mesh message security.
// This implements the nonce formats of Mesh Profile Section 3.8.5.

package crypto

import "encoding/binary"

// NonceType is the first octet of every mesh nonce.
type NonceType uint8

// Nonce types (Mesh Profile Table 3.50).
const (
	NonceNetwork     NonceType = 0x00
	NonceApplication NonceType = 0x01
	NonceDevice      NonceType = 0x02
	NonceProxy       NonceType = 0x03
)

// NetworkNonce builds the nonce for network layer encryption.
//
// Format: 0x00 || CTL|TTL || SEQ (3) || SRC (2) || 0x0000 || IV Index (4)
func NetworkNonce(ctl bool, ttl uint8, seq uint32, src uint16, ivIndex uint32) []byte {
	b := ttl & 0x7F
	if ctl {
		b |= 0x80
	}
	return buildNonce(NonceNetwork, b, seq, src, 0, ivIndex)
}

// ApplicationNonce builds the nonce for upper transport encryption with an
// application key.
//
// Format: 0x01 || ASZMIC|pad || SEQ (3) || SRC (2) || DST (2) || IV Index (4)
func ApplicationNonce(aszmic bool, seq uint32, src, dst uint16, ivIndex uint32) []byte {
	return buildNonce(NonceApplication, aszmicOctet(aszmic), seq, src, dst, ivIndex)
}

// DeviceNonce builds the nonce for upper transport encryption with a device key.
//
// Format: 0x02 || ASZMIC|pad || SEQ (3) || SRC (2) || DST (2) || IV Index (4)
func DeviceNonce(aszmic bool, seq uint32, src, dst uint16, ivIndex uint32) []byte {
	return buildNonce(NonceDevice, aszmicOctet(aszmic), seq, src, dst, ivIndex)
}

// ProxyNonce builds the nonce for proxy configuration messages.
//
// Format: 0x03 || 0x00 || SEQ (3) || SRC (2) || 0x0000 || IV Index (4)
func ProxyNonce(seq uint32, src uint16, ivIndex uint32) []byte {
	return buildNonce(NonceProxy, 0, seq, src, 0, ivIndex)
}

func aszmicOctet(aszmic bool) byte {
	if aszmic {
		return 0x80
	}
	return 0
}

func buildNonce(t NonceType, second byte, seq uint32, src, dst uint16, ivIndex uint32) []byte {
	nonce := make([]byte, AESCCMNonceSize)
	nonce[0] = byte(t)
	nonce[1] = second
	nonce[2] = byte(seq >> 16)
	nonce[3] = byte(seq >> 8)
	nonce[4] = byte(seq)
	binary.BigEndian.PutUint16(nonce[5:7], src)
	binary.BigEndian.PutUint16(nonce[7:9], dst)
	binary.BigEndian.PutUint32(nonce[9:13], ivIndex)
	return nonce
}
