// Package keys holds mesh key material: network keys with their key refresh
// phase, application keys bound to a network key, and device keys.
//
// Values derived from a key (k2, k3, k4, identity and beacon keys) are not
// stored on the key itself; they come from a DerivationCache that is passed
// into the layers that need them.
package keys

import (
	"fmt"

	"github.com/backkem/btmesh/pkg/crypto"
)

// KeySize is the size of every mesh key.
const KeySize = 16

// MaxKeyIndex is the largest 12-bit global key index.
const MaxKeyIndex = 0x0FFF

// Phase is the key refresh procedure phase of a network key.
type Phase uint8

// Key refresh phases (Mesh Profile Section 3.10.4).
const (
	// PhaseNormal: only one key exists.
	PhaseNormal          Phase = 0
	// PhaseKeyDistribution: new key distributed, old key still used to transmit.
	PhaseKeyDistribution Phase = 1
	// PhaseUsingNewKeys: new key used to transmit, old key still accepted.
	PhaseUsingNewKeys    Phase = 2
)

// String returns a human readable name.
func (p Phase) String() string {
	switch p {
	case PhaseNormal:
		return "Normal"
	case PhaseKeyDistribution:
		return "KeyDistribution"
	case PhaseUsingNewKeys:
		return "UsingNewKeys"
	default:
		return fmt.Sprintf("Phase(%d)", uint8(p))
	}
}

// IsValid reports whether p is a defined phase.
func (p Phase) IsValid() bool {
	return p <= PhaseUsingNewKeys
}

// NetworkKey is a network key and its refresh state.
type NetworkKey struct {
	// Index is the 12-bit global NetKey index.
	Index uint16

	// Key is the current key. During key refresh it is the new key.
	Key [KeySize]byte

	// OldKey is the key being replaced. Set only in phases 1 and 2.
	OldKey *[KeySize]byte

	// Phase is the key refresh phase.
	Phase Phase
}

// NewNetworkKey creates a network key in normal phase.
func NewNetworkKey(index uint16, key [KeySize]byte) (NetworkKey, error) {
	if index > MaxKeyIndex {
		return NetworkKey{}, ErrInvalidKeyIndex
	}
	return NetworkKey{Index: index, Key: key}, nil
}

// Validate checks the index and phase invariants.
func (k NetworkKey) Validate() error {
	if k.Index > MaxKeyIndex {
		return ErrInvalidKeyIndex
	}
	if !k.Phase.IsValid() {
		return ErrInvalidPhase
	}
	if k.Phase != PhaseNormal && k.OldKey == nil {
		return ErrNoOldKey
	}
	return nil
}

// TransmitKey returns the key used for outgoing PDUs. The old key is used in
// phase 1 since not every node has the new key yet.
func (k NetworkKey) TransmitKey() [KeySize]byte {
	if k.Phase == PhaseKeyDistribution && k.OldKey != nil {
		return *k.OldKey
	}
	return k.Key
}

// ReceiveKeys returns every key an incoming PDU may be encrypted with.
func (k NetworkKey) ReceiveKeys() [][KeySize]byte {
	if k.Phase != PhaseNormal && k.OldKey != nil {
		return [][KeySize]byte{k.Key, *k.OldKey}
	}
	return [][KeySize]byte{k.Key}
}

// StartRefresh moves the key into phase 1 with newKey as the current key.
func (k *NetworkKey) StartRefresh(newKey [KeySize]byte) {
	old := k.Key
	k.OldKey = &old
	k.Key = newKey
	k.Phase = PhaseKeyDistribution
}

// UseNewKeys moves the key from phase 1 to phase 2.
func (k *NetworkKey) UseNewKeys() error {
	if k.Phase != PhaseKeyDistribution {
		return ErrInvalidPhase
	}
	k.Phase = PhaseUsingNewKeys
	return nil
}

// CompleteRefresh revokes the old key and returns to normal phase.
func (k *NetworkKey) CompleteRefresh() {
	k.OldKey = nil
	k.Phase = PhaseNormal
}

// ApplicationKey is an application key bound to exactly one network key.
type ApplicationKey struct {
	// Index is the 12-bit global AppKey index.
	Index uint16

	// BoundNetKeyIndex is the index of the network key this key is bound to.
	BoundNetKeyIndex uint16

	// Key is the current key.
	Key [KeySize]byte

	// OldKey is the previous key during key refresh.
	OldKey *[KeySize]byte
}

// NewApplicationKey creates an application key bound to netKeyIndex.
func NewApplicationKey(index, netKeyIndex uint16, key [KeySize]byte) (ApplicationKey, error) {
	if index > MaxKeyIndex || netKeyIndex > MaxKeyIndex {
		return ApplicationKey{}, ErrInvalidKeyIndex
	}
	return ApplicationKey{Index: index, BoundNetKeyIndex: netKeyIndex, Key: key}, nil
}

// AID derives the 6-bit application key identifier.
func (k ApplicationKey) AID() (uint8, error) {
	return crypto.K4(k.Key[:])
}

// DeviceKey is the per-node key produced by provisioning.
type DeviceKey [KeySize]byte

// PackKeyIndexes packs two 12-bit key indexes into 3 octets, little-endian,
// as used by Config AppKey Add and similar messages.
func PackKeyIndexes(netKeyIndex, appKeyIndex uint16) [3]byte {
	v := uint32(netKeyIndex&MaxKeyIndex) | uint32(appKeyIndex&MaxKeyIndex)<<12
	return [3]byte{byte(v), byte(v >> 8), byte(v >> 16)}
}

// UnpackKeyIndexes is the inverse of PackKeyIndexes.
func UnpackKeyIndexes(b [3]byte) (netKeyIndex, appKeyIndex uint16) {
	v := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
	return uint16(v & MaxKeyIndex), uint16(v >> 12)
}
