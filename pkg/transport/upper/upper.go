// Package upper implements the upper transport layer: encryption and
// authentication of access messages with an application key or a device key.
//
// Control messages are not encrypted at this layer; their opcode and
// parameters travel as-is to the lower transport.
package upper

import (
	"fmt"

	"github.com/backkem/btmesh/pkg/access"
	"github.com/backkem/btmesh/pkg/crypto"
	"github.com/backkem/btmesh/pkg/keys"
)

// LabelUUIDSize is the size of a virtual address label.
const LabelUUIDSize = 16

// KeySet is the key material a receiver may decrypt with.
type KeySet struct {
	// DeviceKeys are tried in order for AKF=0 messages. A node holds its own
	// device key; a provisioner holds the keys of the nodes it configures.
	DeviceKeys []keys.DeviceKey

	// AppKeys are tried for AKF=1 messages whose AID matches.
	AppKeys []keys.ApplicationKey

	// Labels are the label UUIDs of subscribed virtual addresses.
	Labels [][LabelUUIDSize]byte

	// Cache memoises AIDs. If nil, AIDs are derived on every call.
	Cache *keys.DerivationCache
}

// BindAppKey prepares msg for encryption with an application key by setting
// AKF, AID and AppKeyIndex.
func BindAppKey(msg *access.AccessMessage, k keys.ApplicationKey, cache *keys.DerivationCache) error {
	aid, err := appKeyAID(k.Key, cache)
	if err != nil {
		return err
	}
	msg.AKF = true
	msg.AID = aid
	msg.AppKeyIndex = k.Index
	return nil
}

// BindDeviceKey prepares msg for encryption with a device key.
func BindDeviceKey(msg *access.AccessMessage) {
	msg.AKF = false
	msg.AID = 0
	msg.AppKeyIndex = 0
}

// Encrypt seals msg's access PDU with key and returns the upper transport
// PDU (encrypted access payload || TransMIC). key is the application key when
// msg.AKF is set and the device key otherwise.
// A 64-bit TransMIC (ASZMIC) forces segmentation at the lower transport.
func Encrypt(msg *access.AccessMessage, key [keys.KeySize]byte) ([]byte, error) {
	pdu, err := msg.AccessPDU()
	if err != nil {
		return nil, err
	}
	aad, err := labelAAD(msg)
	if err != nil {
		return nil, err
	}

	sealed, err := crypto.AESCCMEncrypt(key[:], nonce(&msg.Header, msg.AKF, msg.ASZMIC), pdu, aad, msg.TransMICSize())
	if err != nil {
		return nil, fmt.Errorf("upper: encrypt: %w", err)
	}
	return sealed, nil
}

// Decrypt opens an upper transport PDU. hdr carries the network fields
// (SRC, DST, SEQ of the first segment, IV index); akf, aid and aszmic come
// from the lower transport header.
//
// For AKF=0 every device key is tried. For AKF=1 every application key whose
// AID matches is tried until one validates the TransMIC. For a virtual
// destination, every label is tried as additional data as well.
func Decrypt(hdr access.Header, akf bool, aid uint8, aszmic bool, pdu []byte, ks KeySet) (*access.AccessMessage, error) {
	micSize := crypto.MICSize32
	if aszmic {
		micSize = crypto.MICSize64
	}
	if len(pdu) < micSize+1 {
		return nil, ErrMalformedPdu
	}

	n := nonce(&hdr, akf, aszmic)
	labels := [][]byte{nil}
	if hdr.Dst.IsVirtual() {
		labels = labels[:0]
		for i := range ks.Labels {
			labels = append(labels, ks.Labels[i][:])
		}
		if len(labels) == 0 {
			return nil, ErrUnknownKey
		}
	}

	tried := false
	try := func(key [keys.KeySize]byte) (*access.AccessMessage, bool) {
		for _, label := range labels {
			plain, err := crypto.AESCCMDecrypt(key[:], n, pdu, label, micSize)
			if err != nil {
				continue
			}
			op, params, err := access.ParsePDU(plain)
			if err != nil {
				continue
			}
			return &access.AccessMessage{
				Header:     hdr,
				AKF:        akf,
				ASZMIC:     aszmic,
				LabelUUID:  label,
				Opcode:     op,
				Parameters: params,
			}, true
		}
		return nil, false
	}

	if !akf {
		for _, dk := range ks.DeviceKeys {
			tried = true
			if msg, ok := try(dk); ok {
				return msg, nil
			}
		}
	} else {
		for _, ak := range ks.AppKeys {
			for _, key := range appKeyCandidates(ak) {
				a, err := appKeyAID(key, ks.Cache)
				if err != nil || a != aid {
					continue
				}
				tried = true
				if msg, ok := try(key); ok {
					msg.AID = aid
					msg.AppKeyIndex = ak.Index
					return msg, nil
				}
			}
		}
	}

	if !tried {
		return nil, ErrUnknownKey
	}
	return nil, ErrAuthFailed
}

// EncodeControl returns the upper transport PDU of a control message: its
// parameters. The opcode travels in the lower transport header.
func EncodeControl(msg *access.ControlMessage) ([]byte, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return append([]byte(nil), msg.Parameters...), nil
}

// DecodeControl builds a control message from its opcode and parameters.
func DecodeControl(hdr access.Header, opcode uint8, pdu []byte) (*access.ControlMessage, error) {
	msg := &access.ControlMessage{Header: hdr, Opcode: opcode, Parameters: pdu}
	if msg.Opcode > 0x7F {
		return nil, access.ErrInvalidControlOp
	}
	return msg, nil
}

func nonce(hdr *access.Header, akf, aszmic bool) []byte {
	if akf {
		return crypto.ApplicationNonce(aszmic, hdr.Seq, uint16(hdr.Src), uint16(hdr.Dst), hdr.IVIndex)
	}
	return crypto.DeviceNonce(aszmic, hdr.Seq, uint16(hdr.Src), uint16(hdr.Dst), hdr.IVIndex)
}

func labelAAD(msg *access.AccessMessage) ([]byte, error) {
	if !msg.Dst.IsVirtual() {
		return nil, nil
	}
	if len(msg.LabelUUID) != LabelUUIDSize {
		return nil, ErrMissingLabel
	}
	return msg.LabelUUID, nil
}

func appKeyCandidates(k keys.ApplicationKey) [][keys.KeySize]byte {
	if k.OldKey != nil {
		return [][keys.KeySize]byte{k.Key, *k.OldKey}
	}
	return [][keys.KeySize]byte{k.Key}
}

func appKeyAID(key [keys.KeySize]byte, cache *keys.DerivationCache) (uint8, error) {
	if cache != nil {
		return cache.AID(key)
	}
	return crypto.K4(key[:])
}
