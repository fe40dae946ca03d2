package upper

import (
	"bytes"
	"errors"
	"testing"

	"github.com/backkem/btmesh/pkg/access"
	"github.com/backkem/btmesh/pkg/codec"
	"github.com/backkem/btmesh/pkg/keys"
)

func mustKey(t *testing.T, s string) [keys.KeySize]byte {
	t.Helper()
	k, err := codec.Key16FromHex(s)
	if err != nil {
		t.Fatal(err)
	}
	return k
}

func appKey(t *testing.T, index uint16, s string) keys.ApplicationKey {
	t.Helper()
	k, err := keys.NewApplicationKey(index, 0, mustKey(t, s))
	if err != nil {
		t.Fatal(err)
	}
	return k
}

func TestAppKeyRoundTrip(t *testing.T) {
	cache := keys.NewDerivationCache()
	other := appKey(t, 1, "000102030405060708090a0b0c0d0e0f")
	ak := appKey(t, 2, "63964771734fbd76e3b40519d1d94a48")

	for _, aszmic := range []bool{false, true} {
		msg := &access.AccessMessage{
			Header:     access.Header{Src: 0x1201, Dst: 0xC105, TTL: 4, Seq: 7, IVIndex: 0x12345677},
			ASZMIC:     aszmic,
			Opcode:     access.OpGenericOnOffSet,
			Parameters: []byte{0x01, 0x2A},
		}
		if err := BindAppKey(msg, ak, cache); err != nil {
			t.Fatal(err)
		}
		if msg.AID != 0x26 {
			t.Fatalf("AID = %#x, want 0x26", msg.AID)
		}

		pdu, err := Encrypt(msg, ak.Key)
		if err != nil {
			t.Fatal(err)
		}
		if want := 4 + msg.TransMICSize(); len(pdu) != want {
			t.Fatalf("len = %d, want %d", len(pdu), want)
		}

		got, err := Decrypt(msg.Header, true, msg.AID, aszmic, pdu, KeySet{
			AppKeys: []keys.ApplicationKey{other, ak},
			Cache:   cache,
		})
		if err != nil {
			t.Fatalf("aszmic=%v: %v", aszmic, err)
		}
		if got.Opcode != msg.Opcode || !bytes.Equal(got.Parameters, msg.Parameters) {
			t.Errorf("decrypted %s %x", got.Opcode, got.Parameters)
		}
		if got.AppKeyIndex != 2 || got.AID != 0x26 {
			t.Errorf("AppKeyIndex = %d, AID = %#x", got.AppKeyIndex, got.AID)
		}
	}
}

func TestDecryptErrors(t *testing.T) {
	ak := appKey(t, 0, "63964771734fbd76e3b40519d1d94a48")
	hdr := access.Header{Src: 0x1201, Dst: 0x0003, Seq: 1, IVIndex: 1}
	msg := &access.AccessMessage{Header: hdr, Opcode: access.OpGenericOnOffGet}
	if err := BindAppKey(msg, ak, nil); err != nil {
		t.Fatal(err)
	}
	pdu, err := Encrypt(msg, ak.Key)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := Decrypt(hdr, true, msg.AID, false, pdu, KeySet{}); !errors.Is(err, ErrUnknownKey) {
		t.Errorf("no keys: err = %v", err)
	}
	if _, err := Decrypt(hdr, true, msg.AID^0x01, false, pdu, KeySet{AppKeys: []keys.ApplicationKey{ak}}); !errors.Is(err, ErrUnknownKey) {
		t.Errorf("AID mismatch: err = %v", err)
	}

	tampered := append([]byte(nil), pdu...)
	tampered[0] ^= 0xFF
	if _, err := Decrypt(hdr, true, msg.AID, false, tampered, KeySet{AppKeys: []keys.ApplicationKey{ak}}); !errors.Is(err, ErrAuthFailed) {
		t.Errorf("tampered: err = %v", err)
	}

	if _, err := Decrypt(hdr, false, 0, false, pdu, KeySet{DeviceKeys: []keys.DeviceKey{keys.DeviceKey(ak.Key)}}); !errors.Is(err, ErrAuthFailed) {
		t.Errorf("device nonce with app key: err = %v", err)
	}
	if _, err := Decrypt(hdr, true, msg.AID, false, pdu[:4], KeySet{}); !errors.Is(err, ErrMalformedPdu) {
		t.Errorf("short: err = %v", err)
	}
}

func TestAppKeyRefreshAcceptsOldKey(t *testing.T) {
	oldKey := mustKey(t, "63964771734fbd76e3b40519d1d94a48")
	ak := appKey(t, 3, "3216d1509884b533248541792b877f98")
	ak.OldKey = &oldKey

	hdr := access.Header{Src: 0x0001, Dst: 0x0002, Seq: 10, IVIndex: 0}
	msg := &access.AccessMessage{Header: hdr, Opcode: access.OpGenericOnOffGet}
	if err := BindAppKey(msg, keys.ApplicationKey{Index: 3, Key: oldKey}, nil); err != nil {
		t.Fatal(err)
	}
	pdu, err := Encrypt(msg, oldKey)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decrypt(hdr, true, msg.AID, false, pdu, KeySet{AppKeys: []keys.ApplicationKey{ak}})
	if err != nil {
		t.Fatal(err)
	}
	if got.AppKeyIndex != 3 {
		t.Errorf("AppKeyIndex = %d", got.AppKeyIndex)
	}
}

func TestVirtualDestination(t *testing.T) {
	ak := appKey(t, 0, "63964771734fbd76e3b40519d1d94a48")
	var label [LabelUUIDSize]byte
	copy(label[:], codec.MustFromHex("0073e7e4d8b9440faf8415df4c56c0e1"))

	hdr := access.Header{Src: 0x1234, Dst: 0xB529, Seq: 0x07080B, IVIndex: 0x12345677}
	msg := &access.AccessMessage{Header: hdr, Opcode: access.OpGenericOnOffGet}
	if err := BindAppKey(msg, ak, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := Encrypt(msg, ak.Key); !errors.Is(err, ErrMissingLabel) {
		t.Fatalf("missing label: err = %v", err)
	}
	msg.LabelUUID = label[:]
	pdu, err := Encrypt(msg, ak.Key)
	if err != nil {
		t.Fatal(err)
	}

	ks := KeySet{AppKeys: []keys.ApplicationKey{ak}}
	if _, err := Decrypt(hdr, true, msg.AID, false, pdu, ks); !errors.Is(err, ErrUnknownKey) {
		t.Errorf("no labels: err = %v", err)
	}
	ks.Labels = [][LabelUUIDSize]byte{{0x01}, label}
	got, err := Decrypt(hdr, true, msg.AID, false, pdu, ks)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.LabelUUID, label[:]) {
		t.Errorf("LabelUUID = %x", got.LabelUUID)
	}
}

func TestControlPassThrough(t *testing.T) {
	msg := &access.ControlMessage{Opcode: access.ControlHeartbeat, Parameters: []byte{0x05, 0x00, 0x00}}
	pdu, err := EncodeControl(msg)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeControl(msg.Header, msg.Opcode, pdu)
	if err != nil {
		t.Fatal(err)
	}
	if got.Opcode != msg.Opcode || !bytes.Equal(got.Parameters, msg.Parameters) {
		t.Errorf("got %#x %x", got.Opcode, got.Parameters)
	}
	if _, err := EncodeControl(&access.ControlMessage{Opcode: 0x80}); err == nil {
		t.Error("8-bit control opcode accepted")
	}
}
