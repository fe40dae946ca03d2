package ivindex

import (
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/cryptobyte"

	"github.com/backkem/btmesh/pkg/crypto"
)

// Beacon types (Mesh Profile Section 3.9).
const (
	BeaconUnprovisioned uint8 = 0x00
	BeaconSecureNetwork uint8 = 0x01
)

// SecureNetworkBeaconSize is the encoded size including the type octet.
const SecureNetworkBeaconSize = 22

const (
	flagKeyRefresh = 0x01
	flagIVUpdate   = 0x02
)

// SecureNetworkBeacon announces the IV index and key refresh state of a
// network.
type SecureNetworkBeacon struct {
	KeyRefresh bool
	IVUpdate   bool
	NetworkID  [8]byte
	IVIndex    uint32
	AuthValue  [8]byte
}

// IvIndex returns the advertised IV index state.
func (b *SecureNetworkBeacon) IvIndex() IvIndex {
	return IvIndex{Index: b.IVIndex, UpdateActive: b.IVUpdate}
}

func (b *SecureNetworkBeacon) flags() uint8 {
	var f uint8
	if b.KeyRefresh {
		f |= flagKeyRefresh
	}
	if b.IVUpdate {
		f |= flagIVUpdate
	}
	return f
}

func (b *SecureNetworkBeacon) authenticated() []byte {
	var bb cryptobyte.Builder
	bb.AddUint8(b.flags())
	bb.AddBytes(b.NetworkID[:])
	bb.AddUint32(b.IVIndex)
	return bb.BytesOrPanic()
}

func (b *SecureNetworkBeacon) computeAuth(beaconKey [16]byte) ([8]byte, error) {
	var auth [8]byte
	mac, err := crypto.AESCMAC(beaconKey[:], b.authenticated())
	if err != nil {
		return auth, err
	}
	copy(auth[:], mac)
	return auth, nil
}

// Sign sets AuthValue from the beacon key.
func (b *SecureNetworkBeacon) Sign(beaconKey [16]byte) error {
	auth, err := b.computeAuth(beaconKey)
	if err != nil {
		return err
	}
	b.AuthValue = auth
	return nil
}

// Verify checks AuthValue against the beacon key.
func (b *SecureNetworkBeacon) Verify(beaconKey [16]byte) error {
	auth, err := b.computeAuth(beaconKey)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(auth[:], b.AuthValue[:]) != 1 {
		return ErrBeaconAuth
	}
	return nil
}

// Encode returns type || flags || Network ID || IV Index || AuthValue.
func (b *SecureNetworkBeacon) Encode() []byte {
	var bb cryptobyte.Builder
	bb.AddUint8(BeaconSecureNetwork)
	bb.AddBytes(b.authenticated())
	bb.AddBytes(b.AuthValue[:])
	return bb.BytesOrPanic()
}

// DecodeSecureNetworkBeacon parses a beacon including its type octet. It
// does not verify AuthValue.
func DecodeSecureNetworkBeacon(data []byte) (*SecureNetworkBeacon, error) {
	s := cryptobyte.String(data)
	var typ, flags uint8
	var netID, auth []byte
	b := &SecureNetworkBeacon{}
	if !s.ReadUint8(&typ) || !s.ReadUint8(&flags) || !s.ReadBytes(&netID, 8) ||
		!s.ReadUint32(&b.IVIndex) || !s.ReadBytes(&auth, 8) || !s.Empty() {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformedBeacon, len(data))
	}
	if typ != BeaconSecureNetwork {
		return nil, fmt.Errorf("%w: type %#x", ErrMalformedBeacon, typ)
	}
	b.KeyRefresh = flags&flagKeyRefresh != 0
	b.IVUpdate = flags&flagIVUpdate != 0
	copy(b.NetworkID[:], netID)
	copy(b.AuthValue[:], auth)
	return b, nil
}
