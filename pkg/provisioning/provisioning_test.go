package provisioning

import (
	"bytes"
	"errors"
	"testing"

	"github.com/backkem/btmesh/pkg/access"
	"github.com/backkem/btmesh/pkg/codec"
)

func testData() ProvisioningData {
	var netKey [16]byte
	copy(netKey[:], codec.MustFromHex("7dd7364cd842ad18c17c2b820c84c3d6"))
	return ProvisioningData{
		NetKey:         netKey,
		NetKeyIndex:    0x0123,
		IVUpdate:       true,
		IVIndex:        0x12345678,
		UnicastAddress: 0x0b0c,
	}
}

func newPair(t *testing.T, pc ProvisionerConfig, dc DeviceConfig) (*ProvisionerSession, *DeviceSession) {
	t.Helper()
	p, err := NewProvisionerSession(pc)
	if err != nil {
		t.Fatalf("NewProvisionerSession: %v", err)
	}
	d, err := NewDeviceSession(dc)
	if err != nil {
		t.Fatalf("NewDeviceSession: %v", err)
	}
	return p, d
}

// run shuttles PDUs between both sessions until neither has anything to
// send. tamper may rewrite PDUs sent by the device.
func run(t *testing.T, p *ProvisionerSession, d *DeviceSession, tamper func([]byte) []byte) error {
	t.Helper()
	invite, err := p.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	toDevice := [][]byte{Encode(invite)}
	for len(toDevice) > 0 {
		var toProvisioner [][]byte
		for _, pdu := range toDevice {
			out, err := d.Receive(pdu)
			if err != nil {
				if len(out) == 1 {
					_, _ = p.Receive(out[0])
				}
				return err
			}
			toProvisioner = append(toProvisioner, out...)
		}
		toDevice = nil
		for _, pdu := range toProvisioner {
			if tamper != nil {
				pdu = tamper(pdu)
			}
			out, err := p.Receive(pdu)
			if err != nil {
				if len(out) == 1 {
					_, _ = d.Receive(out[0])
				}
				return err
			}
			toDevice = append(toDevice, out...)
		}
	}
	return nil
}

func TestProvisioningNoOOB(t *testing.T) {
	data := testData()
	p, d := newPair(t, ProvisionerConfig{Data: data, AttentionDuration: 5}, DeviceConfig{})

	if err := run(t, p, d, nil); err != nil {
		t.Fatalf("provisioning failed: %v", err)
	}
	if p.State() != StateComplete || d.State() != StateComplete {
		t.Fatalf("states = %s / %s, want Complete", p.State(), d.State())
	}

	got, ok := d.Data()
	if !ok {
		t.Fatal("device has no provisioning data")
	}
	if *got != data {
		t.Errorf("data = %+v, want %+v", *got, data)
	}

	pk, ok := p.DeviceKey()
	if !ok {
		t.Fatal("provisioner has no device key")
	}
	dk, ok := d.DeviceKey()
	if !ok {
		t.Fatal("device has no device key")
	}
	if pk != dk {
		t.Errorf("device keys differ: %x vs %x", pk, dk)
	}
}

func TestProvisioningStaticOOB(t *testing.T) {
	auth := bytes.Repeat([]byte{0x5a}, AuthValueSize)
	p, d := newPair(t,
		ProvisionerConfig{Data: testData(), AuthMethod: AuthStaticOOB, AuthValue: auth},
		DeviceConfig{Capabilities: Capabilities{StaticOOBType: 1}, AuthValue: auth},
	)
	if err := run(t, p, d, nil); err != nil {
		t.Fatalf("provisioning failed: %v", err)
	}
	if d.State() != StateComplete {
		t.Errorf("device state = %s", d.State())
	}
}

func TestProvisioningAuthValueMismatch(t *testing.T) {
	v1 := NumericAuthValue(123456)
	v2 := NumericAuthValue(654321)
	p, d := newPair(t,
		ProvisionerConfig{Data: testData(), AuthMethod: AuthOutputOOB, AuthAction: 0x03, AuthSize: 6, AuthValue: v1[:]},
		DeviceConfig{Capabilities: Capabilities{OutputOOBSize: 6, OutputOOBAction: 0x0008}, AuthValue: v2[:]},
	)
	err := run(t, p, d, nil)
	if !errors.Is(err, ErrConfirmationFailed) {
		t.Fatalf("err = %v, want ErrConfirmationFailed", err)
	}
	if d.State() != StateFailed {
		t.Errorf("device state = %s, want Failed", d.State())
	}
	if p.State() != StateFailed || p.Failure() != FailureConfirmationFailed {
		t.Errorf("provisioner state = %s (%s), want Failed (ConfirmationFailed)", p.State(), p.Failure())
	}
	if _, ok := d.DeviceKey(); ok {
		t.Error("device key available after failure")
	}
}

func TestProvisioningTamperedConfirmation(t *testing.T) {
	p, d := newPair(t, ProvisionerConfig{Data: testData()}, DeviceConfig{})
	tamper := func(pdu []byte) []byte {
		if PDUType(pdu[0]) == TypeConfirmation {
			pdu = append([]byte(nil), pdu...)
			pdu[1] ^= 0x01
		}
		return pdu
	}
	err := run(t, p, d, tamper)
	if !errors.Is(err, ErrConfirmationFailed) {
		t.Fatalf("err = %v, want ErrConfirmationFailed", err)
	}
	if p.State() != StateFailed {
		t.Errorf("provisioner state = %s, want Failed", p.State())
	}
	if _, ok := p.DeviceKey(); ok {
		t.Error("provisioner derived a device key despite failure")
	}
	if d.State() != StateFailed || d.Failure() != FailureConfirmationFailed {
		t.Errorf("device state = %s (%s), want Failed", d.State(), d.Failure())
	}
}

func TestProvisioningUnsupportedAlgorithm(t *testing.T) {
	p, d := newPair(t, ProvisionerConfig{Data: testData()},
		DeviceConfig{Capabilities: Capabilities{Algorithms: 0x0002}})
	err := run(t, p, d, nil)
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("err = %v, want ErrUnsupported", err)
	}
	if d.Failure() != FailureInvalidFormat {
		t.Errorf("device failure = %s, want InvalidFormat", d.Failure())
	}
}

func TestSessionStateErrors(t *testing.T) {
	d, err := NewDeviceSession(DeviceConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.HandleStart(&Start{}); !errors.Is(err, ErrInvalidState) {
		t.Errorf("HandleStart before Invite = %v, want ErrInvalidState", err)
	}

	out, err := d.Receive(Encode(&Random{}))
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Receive(Random) = %v, want ErrInvalidState", err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d reply PDUs, want a Failed PDU", len(out))
	}
	f, err := Decode(out[0])
	if err != nil {
		t.Fatal(err)
	}
	if f.(*Failed).Code != FailureUnexpectedPdu {
		t.Errorf("failure code = %s, want UnexpectedPDU", f.(*Failed).Code)
	}

	p, err := NewProvisionerSession(ProvisionerConfig{Data: testData()})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Start(); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Start(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second Start = %v, want ErrInvalidState", err)
	}
	if _, err := p.Receive(Encode(&Failed{Code: FailureOutOfResources})); !errors.Is(err, ErrPeerFailed) {
		t.Errorf("Receive(Failed) = %v, want ErrPeerFailed", err)
	}
	if p.State() != StateFailed || p.Failure() != FailureOutOfResources {
		t.Errorf("state = %s (%s)", p.State(), p.Failure())
	}
}

func TestConfigValidation(t *testing.T) {
	bad := testData()
	bad.UnicastAddress = access.Address(0xC000)
	if _, err := NewProvisionerSession(ProvisionerConfig{Data: bad}); !errors.Is(err, ErrInvalidData) {
		t.Errorf("group address: err = %v, want ErrInvalidData", err)
	}
	if _, err := NewProvisionerSession(ProvisionerConfig{Data: testData(), AuthMethod: AuthStaticOOB}); !errors.Is(err, ErrInvalidAuthValue) {
		t.Errorf("static OOB without value: err = %v, want ErrInvalidAuthValue", err)
	}
	if _, err := NewProvisionerSession(ProvisionerConfig{Data: testData(), AuthMethod: 7}); !errors.Is(err, ErrUnsupported) {
		t.Errorf("unknown method: err = %v, want ErrUnsupported", err)
	}
	if _, err := NewDeviceSession(DeviceConfig{AuthValue: []byte{1, 2, 3}}); !errors.Is(err, ErrInvalidAuthValue) {
		t.Errorf("short device auth value: err = %v", err)
	}
}

func TestPDUCodec(t *testing.T) {
	pdus := []PDU{
		&Invite{AttentionDuration: 5},
		&Capabilities{NumElements: 2, Algorithms: 1, StaticOOBType: 1, OutputOOBSize: 4, OutputOOBAction: 0x18, InputOOBSize: 2, InputOOBAction: 0x04},
		&Start{AuthMethod: AuthOutputOOB, AuthAction: 3, AuthSize: 4},
		&PublicKey{Key: [64]byte{1, 2, 3}},
		&InputComplete{},
		&Confirmation{Value: [16]byte{0xAA}},
		&Random{Value: [16]byte{0xBB}},
		&Data{Encrypted: [33]byte{0xCC}},
		&Complete{},
		&Failed{Code: FailureDecryptionFailed},
	}
	sizes := []int{1, capabilitiesSize, startSize, 64, 0, 16, 16, 33, 0, 1}
	for i, p := range pdus {
		enc := Encode(p)
		if enc[0] != uint8(p.Type()) || len(enc) != 1+sizes[i] {
			t.Errorf("%s: encoded %x", p.Type(), enc)
			continue
		}
		got, err := Decode(enc)
		if err != nil {
			t.Errorf("%s: %v", p.Type(), err)
			continue
		}
		if !bytes.Equal(Encode(got), enc) {
			t.Errorf("%s: re-encoded %x, want %x", p.Type(), Encode(got), enc)
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrInvalidPdu},
		{"unknown type", []byte{0x0A}, ErrUnknownPduType},
		{"short capabilities", []byte{0x01, 0x01}, ErrInvalidPdu},
		{"trailing bytes", []byte{0x00, 0x05, 0x00}, ErrInvalidPdu},
		{"short public key", append([]byte{0x03}, make([]byte, 63)...), ErrInvalidPdu},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decode(tc.data); !errors.Is(err, tc.want) {
				t.Errorf("Decode = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestProvisioningData(t *testing.T) {
	d := testData()
	d.KeyRefresh = true
	enc := d.Encode()
	if len(enc) != ProvisioningDataSize {
		t.Fatalf("len = %d, want %d", len(enc), ProvisioningDataSize)
	}
	if want := codec.MustFromHex("7dd7364cd842ad18c17c2b820c84c3d6012303123456780b0c"); !bytes.Equal(enc, want) {
		t.Errorf("Encode = %x, want %x", enc, want)
	}
	if enc[18] != FlagKeyRefresh|FlagIVUpdate {
		t.Errorf("flags = %#x", enc[18])
	}
	got, err := DecodeProvisioningData(enc)
	if err != nil {
		t.Fatal(err)
	}
	if *got != d {
		t.Errorf("decoded %+v, want %+v", *got, d)
	}
	if _, err := DecodeProvisioningData(enc[:24]); !errors.Is(err, ErrInvalidData) {
		t.Errorf("short data: err = %v", err)
	}
}

func TestSessionKeysDiffer(t *testing.T) {
	secret := bytes.Repeat([]byte{0x11}, 32)
	salt := [16]byte{1}
	a, err := DeriveSessionKeys(salt, [16]byte{2}, [16]byte{3}, secret)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := DeriveSessionKeys(salt, [16]byte{3}, [16]byte{2}, secret)
	if a.SessionKey == b.SessionKey {
		t.Error("swapping randoms must change the session key")
	}
	if bytes.Equal(a.SessionKey[:], a.DeviceKey[:]) {
		t.Error("session key equals device key")
	}

	sealed, err := EncryptData(a, &ProvisioningData{UnicastAddress: 1})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DecryptData(b, sealed); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("wrong session key: err = %v, want ErrDecryptionFailed", err)
	}
}
