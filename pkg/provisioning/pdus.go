package provisioning

import (
	"fmt"

	"golang.org/x/crypto/cryptobyte"

	"github.com/backkem/btmesh/pkg/crypto"
)

// PDUType is the first octet of a provisioning PDU.
type PDUType uint8

// Provisioning PDU types (Mesh Profile Table 5.12).
const (
	TypeInvite        PDUType = 0x00
	TypeCapabilities  PDUType = 0x01
	TypeStart         PDUType = 0x02
	TypePublicKey     PDUType = 0x03
	TypeInputComplete PDUType = 0x04
	TypeConfirmation  PDUType = 0x05
	TypeRandom        PDUType = 0x06
	TypeData          PDUType = 0x07
	TypeComplete      PDUType = 0x08
	TypeFailed        PDUType = 0x09
)

// String returns the PDU type name.
func (t PDUType) String() string {
	switch t {
	case TypeInvite:
		return "Invite"
	case TypeCapabilities:
		return "Capabilities"
	case TypeStart:
		return "Start"
	case TypePublicKey:
		return "PublicKey"
	case TypeInputComplete:
		return "InputComplete"
	case TypeConfirmation:
		return "Confirmation"
	case TypeRandom:
		return "Random"
	case TypeData:
		return "Data"
	case TypeComplete:
		return "Complete"
	case TypeFailed:
		return "Failed"
	default:
		return fmt.Sprintf("PDUType(%d)", uint8(t))
	}
}

// Field sizes.
const (
	ConfirmationSize  = 16
	RandomSize        = 16
	AuthValueSize     = 16
	capabilitiesSize  = 11
	startSize         = 5
	encryptedDataSize = ProvisioningDataSize + crypto.MICSize64
)

// Algorithms, public key types and authentication methods.
const (
	AlgorithmP256CMAC uint8 = 0x00
	algorithmsBitP256       = 0x0001

	PublicKeyNoOOB uint8 = 0x00
	PublicKeyOOB   uint8 = 0x01

	AuthNoOOB     uint8 = 0x00
	AuthStaticOOB uint8 = 0x01
	AuthOutputOOB uint8 = 0x02
	AuthInputOOB  uint8 = 0x03
)

// PDU is a provisioning PDU.
type PDU interface {
	Type() PDUType
	encodeParams(b *cryptobyte.Builder)
}

// Encode returns type || parameters.
func Encode(p PDU) []byte {
	var b cryptobyte.Builder
	b.AddUint8(uint8(p.Type()))
	p.encodeParams(&b)
	return b.BytesOrPanic()
}

// Params returns the parameters of p without the type octet. Confirmation
// inputs are built from these.
func Params(p PDU) []byte {
	return Encode(p)[1:]
}

// Invite starts provisioning.
type Invite struct {
	AttentionDuration uint8
}

// Capabilities describes what the device supports.
type Capabilities struct {
	NumElements     uint8
	Algorithms      uint16
	PublicKeyType   uint8
	StaticOOBType   uint8
	OutputOOBSize   uint8
	OutputOOBAction uint16
	InputOOBSize    uint8
	InputOOBAction  uint16
}

// Start selects algorithm and authentication.
type Start struct {
	Algorithm  uint8
	PublicKey  uint8
	AuthMethod uint8
	AuthAction uint8
	AuthSize   uint8
}

// PublicKey carries a P-256 public key as X || Y.
type PublicKey struct {
	Key [crypto.P256PublicKeySize]byte
}

// InputComplete signals that the user finished entering the input OOB value.
type InputComplete struct{}

// Confirmation carries a confirmation value.
type Confirmation struct {
	Value [ConfirmationSize]byte
}

// Random carries the random used in the confirmation.
type Random struct {
	Value [RandomSize]byte
}

// Data carries the encrypted provisioning data and its MIC.
type Data struct {
	Encrypted [encryptedDataSize]byte
}

// Complete acknowledges the provisioning data.
type Complete struct{}

// Failed aborts provisioning.
type Failed struct {
	Code FailureCode
}

func (*Invite) Type() PDUType        { return TypeInvite }
func (*Capabilities) Type() PDUType  { return TypeCapabilities }
func (*Start) Type() PDUType         { return TypeStart }
func (*PublicKey) Type() PDUType     { return TypePublicKey }
func (*InputComplete) Type() PDUType { return TypeInputComplete }
func (*Confirmation) Type() PDUType  { return TypeConfirmation }
func (*Random) Type() PDUType        { return TypeRandom }
func (*Data) Type() PDUType          { return TypeData }
func (*Complete) Type() PDUType      { return TypeComplete }
func (*Failed) Type() PDUType        { return TypeFailed }

func (p *Invite) encodeParams(b *cryptobyte.Builder) { b.AddUint8(p.AttentionDuration) }

func (p *Capabilities) encodeParams(b *cryptobyte.Builder) {
	b.AddUint8(p.NumElements)
	b.AddUint16(p.Algorithms)
	b.AddUint8(p.PublicKeyType)
	b.AddUint8(p.StaticOOBType)
	b.AddUint8(p.OutputOOBSize)
	b.AddUint16(p.OutputOOBAction)
	b.AddUint8(p.InputOOBSize)
	b.AddUint16(p.InputOOBAction)
}

func (p *Start) encodeParams(b *cryptobyte.Builder) {
	b.AddUint8(p.Algorithm)
	b.AddUint8(p.PublicKey)
	b.AddUint8(p.AuthMethod)
	b.AddUint8(p.AuthAction)
	b.AddUint8(p.AuthSize)
}

func (p *PublicKey) encodeParams(b *cryptobyte.Builder)    { b.AddBytes(p.Key[:]) }
func (*InputComplete) encodeParams(*cryptobyte.Builder)    {}
func (p *Confirmation) encodeParams(b *cryptobyte.Builder) { b.AddBytes(p.Value[:]) }
func (p *Random) encodeParams(b *cryptobyte.Builder)       { b.AddBytes(p.Value[:]) }
func (p *Data) encodeParams(b *cryptobyte.Builder)         { b.AddBytes(p.Encrypted[:]) }
func (*Complete) encodeParams(*cryptobyte.Builder)         {}
func (p *Failed) encodeParams(b *cryptobyte.Builder)       { b.AddUint8(uint8(p.Code)) }

// Decode parses a provisioning PDU.
func Decode(data []byte) (PDU, error) {
	s := cryptobyte.String(data)
	var t uint8
	if !s.ReadUint8(&t) {
		return nil, ErrInvalidPdu
	}

	var p PDU
	ok := true
	switch PDUType(t) {
	case TypeInvite:
		v := &Invite{}
		ok = s.ReadUint8(&v.AttentionDuration)
		p = v
	case TypeCapabilities:
		v := &Capabilities{}
		ok = s.ReadUint8(&v.NumElements) && s.ReadUint16(&v.Algorithms) &&
			s.ReadUint8(&v.PublicKeyType) && s.ReadUint8(&v.StaticOOBType) &&
			s.ReadUint8(&v.OutputOOBSize) && s.ReadUint16(&v.OutputOOBAction) &&
			s.ReadUint8(&v.InputOOBSize) && s.ReadUint16(&v.InputOOBAction)
		p = v
	case TypeStart:
		v := &Start{}
		ok = s.ReadUint8(&v.Algorithm) && s.ReadUint8(&v.PublicKey) &&
			s.ReadUint8(&v.AuthMethod) && s.ReadUint8(&v.AuthAction) && s.ReadUint8(&v.AuthSize)
		p = v
	case TypePublicKey:
		v := &PublicKey{}
		ok = s.CopyBytes(v.Key[:])
		p = v
	case TypeInputComplete:
		p = &InputComplete{}
	case TypeConfirmation:
		v := &Confirmation{}
		ok = s.CopyBytes(v.Value[:])
		p = v
	case TypeRandom:
		v := &Random{}
		ok = s.CopyBytes(v.Value[:])
		p = v
	case TypeData:
		v := &Data{}
		ok = s.CopyBytes(v.Encrypted[:])
		p = v
	case TypeComplete:
		p = &Complete{}
	case TypeFailed:
		v := &Failed{}
		var code uint8
		ok = s.ReadUint8(&code)
		v.Code = FailureCode(code)
		p = v
	default:
		return nil, fmt.Errorf("%w: %#x", ErrUnknownPduType, t)
	}
	if !ok || !s.Empty() {
		return nil, fmt.Errorf("%w: %s of %d bytes", ErrInvalidPdu, PDUType(t), len(data))
	}
	return p, nil
}
