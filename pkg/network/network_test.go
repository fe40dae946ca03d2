package network

import (
	"errors"
	"reflect"
	"testing"

	"github.com/backkem/btmesh/pkg/access"
	"github.com/backkem/btmesh/pkg/keys"
)

func TestDecodeErrors(t *testing.T) {
	m, cands := sampleMaterial(t)
	hdr := Header{TTL: 5, Seq: 100, Src: 0x0001, Dst: 0xC000, IVIndex: sampleIVIndex}
	pdu, err := Encode(hdr, []byte{0x00, 0x01, 0x02, 0x03, 0x04}, m)
	if err != nil {
		t.Fatal(err)
	}

	if _, _, err := Decode(pdu, sampleIVIndex, nil); !errors.Is(err, ErrUnknownKey) {
		t.Errorf("no candidates: err = %v", err)
	}

	tampered := append([]byte(nil), pdu...)
	tampered[len(tampered)-1] ^= 0x01
	if _, _, err := Decode(tampered, sampleIVIndex, cands); !errors.Is(err, ErrAuthFailed) {
		t.Errorf("tampered MIC: err = %v", err)
	}

	// Same IVI bit, but two indexes apart: wrong nonce.
	if _, _, err := Decode(pdu, sampleIVIndex+2, cands); !errors.Is(err, ErrAuthFailed) {
		t.Errorf("wrong IV index: err = %v", err)
	}

	if _, _, err := Decode(pdu[:10], sampleIVIndex, cands); !errors.Is(err, ErrMalformedPdu) {
		t.Errorf("short: err = %v", err)
	}
}

func TestDecodeUsesPreviousIVIndex(t *testing.T) {
	m, cands := sampleMaterial(t)
	hdr := Header{TTL: 3, Seq: 42, Src: 0x0002, Dst: 0x0001, IVIndex: sampleIVIndex}
	pdu, err := Encode(hdr, []byte{0x00, 0xAA}, m)
	if err != nil {
		t.Fatal(err)
	}
	// Receiver already moved to the next IV index; IVI selects current-1.
	dec, _, err := Decode(pdu, sampleIVIndex+1, cands)
	if err != nil {
		t.Fatal(err)
	}
	if dec.IVIndex != sampleIVIndex || dec.IVI != 0 {
		t.Errorf("IVIndex = %#x IVI = %d", dec.IVIndex, dec.IVI)
	}
}

func TestEncodeValidation(t *testing.T) {
	m, _ := sampleMaterial(t)
	tests := []struct {
		name  string
		hdr   Header
		lower []byte
		want  error
	}{
		{"TTL 1", Header{TTL: 1, Src: 1}, []byte{0}, ErrInvalidTTL},
		{"group source", Header{TTL: 0, Src: 0xC000}, []byte{0}, ErrInvalidSource},
		{"empty", Header{Src: 1}, nil, ErrTransportTooLong},
		{"access too long", Header{Src: 1}, make([]byte, MaxAccessTransport+1), ErrTransportTooLong},
		{"control too long", Header{CTL: true, Src: 1}, make([]byte, MaxControlTransport+1), ErrTransportTooLong},
	}
	for _, tc := range tests {
		if _, err := Encode(tc.hdr, tc.lower, m); !errors.Is(err, tc.want) {
			t.Errorf("%s: err = %v, want %v", tc.name, err, tc.want)
		}
	}

	pdu, err := Encode(Header{Src: 1, Dst: 2}, make([]byte, MaxAccessTransport), m)
	if err != nil {
		t.Fatal(err)
	}
	if len(pdu) != MaxPduSize {
		t.Errorf("max PDU = %d bytes", len(pdu))
	}
}

func TestReceiveIVIndex(t *testing.T) {
	tests := []struct {
		ivi     uint8
		current uint32
		want    uint32
	}{
		{0, 0x12345678, 0x12345678},
		{1, 0x12345678, 0x12345677},
		{1, 0x12345679, 0x12345679},
		{0, 0x12345679, 0x12345678},
		{1, 0, 0},
	}
	for _, tc := range tests {
		if got := ReceiveIVIndex(tc.ivi, tc.current); got != tc.want {
			t.Errorf("ReceiveIVIndex(%d, %#x) = %#x, want %#x", tc.ivi, tc.current, got, tc.want)
		}
	}
}

func TestRelayed(t *testing.T) {
	for _, ttl := range []uint8{0, 1} {
		if _, ok := (Header{TTL: ttl}).Relayed(); ok {
			t.Errorf("TTL %d relayed", ttl)
		}
	}
	h, ok := Header{TTL: 5}.Relayed()
	if !ok || h.TTL != 4 {
		t.Errorf("TTL 5 -> %d, %v", h.TTL, ok)
	}
}

func TestProxyConfigRoundTrip(t *testing.T) {
	m, cands := sampleMaterial(t)
	msgs := []ProxyConfigMessage{
		&SetFilterType{Type: FilterReject},
		&AddAddresses{Addresses: []access.Address{0x1201, 0xC000, 0xFFFF}},
		&RemoveAddresses{Addresses: []access.Address{0x0003}},
		&FilterStatus{Type: FilterAccept, ListSize: 3},
	}
	for i, msg := range msgs {
		pdu, err := EncodeProxyConfig(uint32(i+1), 0x1201, sampleIVIndex, msg, m)
		if err != nil {
			t.Fatal(err)
		}
		hdr, got, err := DecodeProxyConfig(pdu, sampleIVIndex, cands, 66)
		if err != nil {
			t.Fatalf("%T: %v", msg, err)
		}
		if !reflect.DeepEqual(got, msg) {
			t.Errorf("%T: got %+v", msg, got)
		}
		if !hdr.CTL || hdr.TTL != 0 || hdr.Dst != access.UnassignedAddress || hdr.Src != 0x1201 {
			t.Errorf("%T: header %+v", msg, hdr)
		}

		// A proxy configuration message is not a valid network PDU.
		if _, _, err := Decode(pdu, sampleIVIndex, cands); err == nil {
			t.Errorf("%T decoded with the network nonce", msg)
		}
	}
}

func TestDecodeProxyPDUErrors(t *testing.T) {
	if _, err := DecodeProxyPDU([]byte{0x00}); !errors.Is(err, ErrProxyPdu) {
		t.Errorf("short: err = %v", err)
	}
	if _, err := DecodeProxyPDU([]byte{0x04, 0x00}); !errors.Is(err, ErrProxyPdu) {
		t.Errorf("type 4: err = %v", err)
	}
	p, err := DecodeProxyPDU([]byte{0x43, 0xAA})
	if err != nil || p.SAR != SARFirst || p.Type != ProxyTypeProvisioning {
		t.Errorf("got %+v, %v", p, err)
	}
}

func TestReplayCache(t *testing.T) {
	c := NewReplayCache(2)
	steps := []struct {
		src  access.Address
		iv   uint32
		seq  uint32
		want error
	}{
		{0x0001, 5, 10, nil},
		{0x0001, 5, 10, ErrReplay},
		{0x0001, 5, 9, ErrReplay},
		{0x0001, 5, 11, nil},
		{0x0001, 6, 0, nil},
		{0x0001, 5, 100, ErrReplay},
		{0x0002, 5, 1, nil},
		{0x0003, 5, 1, ErrReplayCacheFull},
	}
	for i, s := range steps {
		if err := c.CheckAndAccept(s.src, s.iv, s.seq); !errors.Is(err, s.want) {
			t.Errorf("step %d: err = %v, want %v", i, err, s.want)
		}
	}

	if err := c.Check(0x0002, 5, 2); err != nil {
		t.Errorf("Check: %v", err)
	}
	if err := c.Check(0x0002, 5, 2); err != nil {
		t.Errorf("Check recorded the PDU: %v", err)
	}

	c.Prune(8)
	if c.Len() != 0 {
		t.Errorf("Len after prune = %d", c.Len())
	}
	c.CheckAndAccept(0x0004, 8, 1)
	c.Forget(0x0004)
	if c.Len() != 0 {
		t.Error("Forget left the entry")
	}
}

func TestMessageCache(t *testing.T) {
	c := NewMessageCache(3)
	steps := []struct {
		src  access.Address
		iv   uint32
		seq  uint32
		want bool
	}{
		{0x0001, 5, 10, true},
		{0x0001, 5, 10, false},
		{0x0001, 5, 9, true},  // out of order is still new
		{0x0001, 6, 10, true}, // same SEQ under another IV index
		{0x0002, 5, 10, true}, // evicts (0x0001, 5, 10)
		{0x0001, 5, 10, true},
		{0x0001, 6, 10, false},
	}
	for i, s := range steps {
		if got := c.Add(s.src, s.iv, s.seq); got != s.want {
			t.Errorf("step %d: Add = %v, want %v", i, got, s.want)
		}
	}
	if c.Len() != 3 {
		t.Errorf("Len = %d, want 3", c.Len())
	}
}

func TestCandidatesDuringKeyRefresh(t *testing.T) {
	cache := keys.NewDerivationCache()
	oldKey := [16]byte{0x01}
	newKey := [16]byte{0x02}
	nk, _ := keys.NewNetworkKey(7, oldKey)
	nk.StartRefresh(newKey)

	oldM, _ := cache.Network(oldKey)
	newM, _ := cache.Network(newKey)
	for _, m := range []*keys.NetworkMaterial{oldM, newM} {
		pdu, err := Encode(Header{TTL: 2, Seq: 1, Src: 1, Dst: 2, IVIndex: 0}, []byte{0x00, 0x01}, m)
		if err != nil {
			t.Fatal(err)
		}
		nid, _ := NID(pdu)
		cands, err := cache.Candidates(nid, []keys.NetworkKey{nk})
		if err != nil {
			t.Fatal(err)
		}
		hdr, _, err := Decode(pdu, 0, cands)
		if err != nil {
			t.Fatalf("key %x: %v", m.Key, err)
		}
		if hdr.NetKeyIndex != 7 {
			t.Errorf("NetKeyIndex = %d", hdr.NetKeyIndex)
		}
	}
}
