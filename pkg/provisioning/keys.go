package provisioning

import (
	"fmt"

	"golang.org/x/crypto/cryptobyte"

	"github.com/backkem/btmesh/pkg/access"
	"github.com/backkem/btmesh/pkg/crypto"
	"github.com/backkem/btmesh/pkg/keys"
)

// ProvisioningDataSize is the plaintext size of the provisioning data.
const ProvisioningDataSize = 25

// SessionNonceSize is the size of the provisioning session nonce.
const SessionNonceSize = 13

// Provisioning data flags.
const (
	FlagKeyRefresh = 0x01
	FlagIVUpdate   = 0x02
)

// ProvisioningData is what the provisioner hands to a new node.
type ProvisioningData struct {
	NetKey         [keys.KeySize]byte
	NetKeyIndex    uint16
	KeyRefresh     bool
	IVUpdate       bool
	IVIndex        uint32
	UnicastAddress access.Address
}

// Validate checks the key index and address.
func (d *ProvisioningData) Validate() error {
	if d.NetKeyIndex > keys.MaxKeyIndex {
		return fmt.Errorf("%w: key index %#x", ErrInvalidData, d.NetKeyIndex)
	}
	if !d.UnicastAddress.IsUnicast() {
		return fmt.Errorf("%w: address %s", ErrInvalidData, d.UnicastAddress)
	}
	return nil
}

// Encode returns NetKey || KeyIndex || Flags || IVIndex || UnicastAddress.
func (d *ProvisioningData) Encode() []byte {
	var flags uint8
	if d.KeyRefresh {
		flags |= FlagKeyRefresh
	}
	if d.IVUpdate {
		flags |= FlagIVUpdate
	}
	var b cryptobyte.Builder
	b.AddBytes(d.NetKey[:])
	b.AddUint16(d.NetKeyIndex)
	b.AddUint8(flags)
	b.AddUint32(d.IVIndex)
	b.AddUint16(uint16(d.UnicastAddress))
	return b.BytesOrPanic()
}

// DecodeProvisioningData parses and validates provisioning data.
func DecodeProvisioningData(b []byte) (*ProvisioningData, error) {
	s := cryptobyte.String(b)
	d := &ProvisioningData{}
	var flags uint8
	var addr uint16
	if !s.CopyBytes(d.NetKey[:]) || !s.ReadUint16(&d.NetKeyIndex) || !s.ReadUint8(&flags) ||
		!s.ReadUint32(&d.IVIndex) || !s.ReadUint16(&addr) || !s.Empty() {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidData, len(b))
	}
	d.KeyRefresh = flags&FlagKeyRefresh != 0
	d.IVUpdate = flags&FlagIVUpdate != 0
	d.UnicastAddress = access.Address(addr)
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// ConfirmationInputs concatenates the Invite, Capabilities and Start
// parameters with both public keys, provisioner first.
func ConfirmationInputs(invite *Invite, caps *Capabilities, start *Start, provisionerKey, deviceKey []byte) []byte {
	var b cryptobyte.Builder
	b.AddBytes(Params(invite))
	b.AddBytes(Params(caps))
	b.AddBytes(Params(start))
	b.AddBytes(provisionerKey)
	b.AddBytes(deviceKey)
	return b.BytesOrPanic()
}

// ConfirmationKeys are the values derived from the confirmation inputs.
type ConfirmationKeys struct {
	Salt [16]byte
	Key  [16]byte
}

// DeriveConfirmationKeys computes ConfirmationSalt = s1(inputs) and
// ConfirmationKey = k1(ECDHSecret, ConfirmationSalt, "prck").
func DeriveConfirmationKeys(inputs, ecdhSecret []byte) (ConfirmationKeys, error) {
	var ck ConfirmationKeys
	salt, err := crypto.S1(inputs)
	if err != nil {
		return ck, err
	}
	key, err := crypto.K1(ecdhSecret, salt, []byte("prck"))
	if err != nil {
		return ck, err
	}
	copy(ck.Salt[:], salt)
	copy(ck.Key[:], key)
	return ck, nil
}

// ConfirmationValue computes AES-CMAC(ConfirmationKey, Random || AuthValue).
func ConfirmationValue(confirmationKey, random, authValue [16]byte) ([16]byte, error) {
	var out [16]byte
	mac, err := crypto.AESCMAC(confirmationKey[:], append(random[:], authValue[:]...))
	if err != nil {
		return out, err
	}
	copy(out[:], mac)
	return out, nil
}

// SessionKeys are derived once both randoms are known.
type SessionKeys struct {
	SessionKey   [16]byte
	SessionNonce [SessionNonceSize]byte
	DeviceKey    keys.DeviceKey
}

// DeriveSessionKeys computes ProvisioningSalt = s1(ConfirmationSalt ||
// RandomProvisioner || RandomDevice) and from it the session key ("prsk"),
// session nonce ("prsn", last 13 octets) and device key ("prdk").
func DeriveSessionKeys(confirmationSalt, randomProvisioner, randomDevice [16]byte, ecdhSecret []byte) (SessionKeys, error) {
	var sk SessionKeys
	var in cryptobyte.Builder
	in.AddBytes(confirmationSalt[:])
	in.AddBytes(randomProvisioner[:])
	in.AddBytes(randomDevice[:])
	salt, err := crypto.S1(in.BytesOrPanic())
	if err != nil {
		return sk, err
	}

	key, err := crypto.K1(ecdhSecret, salt, []byte("prsk"))
	if err != nil {
		return sk, err
	}
	nonce, err := crypto.K1(ecdhSecret, salt, []byte("prsn"))
	if err != nil {
		return sk, err
	}
	dev, err := crypto.K1(ecdhSecret, salt, []byte("prdk"))
	if err != nil {
		return sk, err
	}
	copy(sk.SessionKey[:], key)
	copy(sk.SessionNonce[:], nonce[len(nonce)-SessionNonceSize:])
	copy(sk.DeviceKey[:], dev)
	return sk, nil
}

// EncryptData seals provisioning data with the session key and nonce,
// appending a 64-bit MIC.
func EncryptData(sk SessionKeys, d *ProvisioningData) (*Data, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	sealed, err := crypto.AESCCMEncrypt(sk.SessionKey[:], sk.SessionNonce[:], d.Encode(), nil, crypto.MICSize64)
	if err != nil {
		return nil, err
	}
	out := &Data{}
	copy(out.Encrypted[:], sealed)
	return out, nil
}

// DecryptData opens a Provisioning Data PDU.
func DecryptData(sk SessionKeys, pdu *Data) (*ProvisioningData, error) {
	plain, err := crypto.AESCCMDecrypt(sk.SessionKey[:], sk.SessionNonce[:], pdu.Encrypted[:], nil, crypto.MICSize64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return DecodeProvisioningData(plain)
}
