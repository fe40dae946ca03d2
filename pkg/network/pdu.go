// Package network implements the mesh network layer: encryption,
// authentication and obfuscation of network PDUs, the proxy PDU framing used
// over GATT, proxy configuration messages and the replay protection list.
package network

import (
	"fmt"

	"golang.org/x/crypto/cryptobyte"

	"github.com/backkem/btmesh/pkg/access"
	"github.com/backkem/btmesh/pkg/crypto"
	"github.com/backkem/btmesh/pkg/keys"
)

// Network PDU sizes (Mesh Profile Section 3.4.4).
const (
	// MaxPduSize is the largest network PDU carried by an advertising bearer.
	MaxPduSize = 29

	// MaxAccessTransport is the largest lower transport PDU with CTL=0.
	MaxAccessTransport = 16

	// MaxControlTransport is the largest lower transport PDU with CTL=1.
	MaxControlTransport = 12

	obfuscatedSize = 6
	privacyRandom  = 7
	headerSize     = 1 + obfuscatedSize
	dstSize        = 2
)

// Header is the clear view of a network PDU header.
type Header struct {
	// IVI is the least significant bit of IVIndex.
	IVI uint8
	NID uint8
	CTL bool
	TTL uint8
	Seq uint32
	Src access.Address
	Dst access.Address

	// IVIndex is the full IV index used for the nonce.
	IVIndex uint32

	// NetKeyIndex is the key that authenticated the PDU (Decode only).
	NetKeyIndex uint16
}

// MICSize returns the NetMIC size for the CTL bit.
func (h Header) MICSize() int {
	if h.CTL {
		return crypto.MICSize64
	}
	return crypto.MICSize32
}

// MaxTransport returns the largest lower transport PDU for the CTL bit.
func (h Header) MaxTransport() int {
	if h.CTL {
		return MaxControlTransport
	}
	return MaxAccessTransport
}

// Relayed returns the header with TTL decremented, and false when the PDU
// must not be relayed (TTL 0 or 1).
func (h Header) Relayed() (Header, bool) {
	if h.TTL < 2 {
		return h, false
	}
	h.TTL--
	return h, true
}

// ReceiveIVIndex picks the IV index of an incoming PDU: the current index
// when IVI matches its low bit, current-1 otherwise.
func ReceiveIVIndex(ivi uint8, current uint32) uint32 {
	if uint32(ivi&1) == current&1 || current == 0 {
		return current
	}
	return current - 1
}

// NID returns the NID of a network PDU without decrypting it.
func NID(pdu []byte) (uint8, error) {
	if len(pdu) < 1 {
		return 0, ErrMalformedPdu
	}
	return pdu[0] & 0x7F, nil
}

// Encode builds a network PDU from a lower transport PDU using the master
// credentials in m. hdr.IVIndex, CTL, TTL, Seq, Src and Dst must be set; IVI
// and NID are taken from IVIndex and m.
func Encode(hdr Header, lower []byte, m *keys.NetworkMaterial) ([]byte, error) {
	if hdr.TTL == 1 || hdr.TTL > access.MaxTTL {
		return nil, ErrInvalidTTL
	}
	if !hdr.Src.IsUnicast() {
		return nil, ErrInvalidSource
	}
	if len(lower) == 0 || len(lower) > hdr.MaxTransport() {
		return nil, fmt.Errorf("%w: %d bytes", ErrTransportTooLong, len(lower))
	}
	nonce := crypto.NetworkNonce(hdr.CTL, hdr.TTL, hdr.Seq, uint16(hdr.Src), hdr.IVIndex)
	return seal(hdr, nonce, lower, m)
}

// seal encrypts DST || lower and obfuscates the header.
func seal(hdr Header, nonce, lower []byte, m *keys.NetworkMaterial) ([]byte, error) {
	var plain cryptobyte.Builder
	plain.AddUint16(uint16(hdr.Dst))
	plain.AddBytes(lower)
	pt, err := plain.Bytes()
	if err != nil {
		return nil, err
	}

	enc, err := crypto.AESCCMEncrypt(m.Credentials.EncryptionKey[:], nonce, pt, nil, hdr.MICSize())
	if err != nil {
		return nil, fmt.Errorf("network: encrypt: %w", err)
	}

	plainHdr, err := clearHeader(hdr)
	if err != nil {
		return nil, err
	}
	if err := obfuscate(plainHdr, enc, hdr.IVIndex, m.Credentials.PrivacyKey); err != nil {
		return nil, err
	}

	var b cryptobyte.Builder
	b.AddUint8(uint8(hdr.IVIndex&1)<<7 | m.Credentials.NID&0x7F)
	b.AddBytes(plainHdr)
	b.AddBytes(enc)
	return b.Bytes()
}

// clearHeader returns CTL|TTL || SEQ || SRC.
func clearHeader(hdr Header) ([]byte, error) {
	var b cryptobyte.Builder
	ctlTTL := hdr.TTL & 0x7F
	if hdr.CTL {
		ctlTTL |= 0x80
	}
	b.AddUint8(ctlTTL)
	b.AddUint24(hdr.Seq & 0xFFFFFF)
	b.AddUint16(uint16(hdr.Src))
	return b.Bytes()
}

// obfuscate XORs the 6 header octets in place with
// AES-ECB(PrivacyKey, 0x0000000000 || IV Index || Privacy Random)[0:6].
func obfuscate(header, enc []byte, ivIndex uint32, privacyKey [16]byte) error {
	if len(enc) < privacyRandom {
		return ErrMalformedPdu
	}
	var b cryptobyte.Builder
	b.AddBytes(make([]byte, 5))
	b.AddUint32(ivIndex)
	b.AddBytes(enc[:privacyRandom])
	block, err := b.Bytes()
	if err != nil {
		return err
	}
	pecb, err := crypto.AESECB(privacyKey[:], block)
	if err != nil {
		return err
	}
	for i := 0; i < obfuscatedSize; i++ {
		header[i] ^= pecb[i]
	}
	return nil
}

// Decode authenticates and decrypts a network PDU. current is the node's
// current IV index; the IVI bit selects it or current-1. Each candidate with
// the PDU's NID is tried until the NetMIC validates.
//
// It returns the header and the lower transport PDU.
func Decode(pdu []byte, current uint32, candidates []keys.Candidate) (*Header, []byte, error) {
	return open(pdu, current, candidates, MaxPduSize, func(h *Header) []byte {
		return crypto.NetworkNonce(h.CTL, h.TTL, h.Seq, uint16(h.Src), h.IVIndex)
	})
}

func open(pdu []byte, current uint32, candidates []keys.Candidate, maxSize int, nonceFor func(*Header) []byte) (*Header, []byte, error) {
	if len(pdu) < headerSize+dstSize+1+crypto.MICSize32 || len(pdu) > maxSize {
		return nil, nil, fmt.Errorf("%w: %d bytes", ErrMalformedPdu, len(pdu))
	}
	ivi := pdu[0] >> 7
	nid := pdu[0] & 0x7F
	iv := ReceiveIVIndex(ivi, current)
	enc := pdu[headerSize:]

	tried := false
	for _, c := range candidates {
		if c.Material == nil || c.Material.Credentials.NID != nid {
			continue
		}
		tried = true

		plainHdr := append([]byte(nil), pdu[1:headerSize]...)
		if err := obfuscate(plainHdr, enc, iv, c.Material.Credentials.PrivacyKey); err != nil {
			return nil, nil, err
		}
		hdr, err := parseClearHeader(plainHdr)
		if err != nil {
			return nil, nil, err
		}
		hdr.IVI = ivi
		hdr.NID = nid
		hdr.IVIndex = iv
		hdr.NetKeyIndex = c.NetKeyIndex

		if len(enc) < dstSize+1+hdr.MICSize() {
			continue
		}
		pt, err := crypto.AESCCMDecrypt(c.Material.Credentials.EncryptionKey[:], nonceFor(hdr), enc, nil, hdr.MICSize())
		if err != nil {
			continue
		}

		s := cryptobyte.String(pt)
		var dst uint16
		if !s.ReadUint16(&dst) {
			return nil, nil, ErrMalformedPdu
		}
		hdr.Dst = access.Address(dst)
		if !hdr.Src.IsUnicast() {
			return nil, nil, ErrInvalidSource
		}
		return hdr, []byte(s), nil
	}
	if !tried {
		return nil, nil, ErrUnknownKey
	}
	return nil, nil, ErrAuthFailed
}

func parseClearHeader(b []byte) (*Header, error) {
	s := cryptobyte.String(b)
	var ctlTTL uint8
	var seq uint32
	var src uint16
	if !s.ReadUint8(&ctlTTL) || !s.ReadUint24(&seq) || !s.ReadUint16(&src) {
		return nil, ErrMalformedPdu
	}
	return &Header{
		CTL: ctlTTL&0x80 != 0,
		TTL: ctlTTL & 0x7F,
		Seq: seq,
		Src: access.Address(src),
	}, nil
}
