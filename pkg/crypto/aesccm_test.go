package crypto

import (
	"bytes"
	"crypto/aes"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/pion/dtls/v3/pkg/crypto/ccm"
)

// RFC 3610 Section 8 packet vectors (13-byte nonce, L=2).
var rfc3610Vectors = []struct {
	name       string
	key        string
	nonce      string
	aad        string
	plaintext  string
	ciphertext string
	tag        string
	tagSize    int
}{
	{
		name:       "PacketVector1",
		key:        "c0c1c2c3c4c5c6c7c8c9cacbcccdcecf",
		nonce:      "00000003020100a0a1a2a3a4a5",
		aad:        "0001020304050607",
		plaintext:  "08090a0b0c0d0e0f101112131415161718191a1b1c1d1e",
		ciphertext: "588c979a61c663d2f066d0c2c0f989806d5f6b61dac384",
		tag:        "17e8d12cfdf926e0",
		tagSize:    8,
	},
	{
		name:       "PacketVector2",
		key:        "c0c1c2c3c4c5c6c7c8c9cacbcccdcecf",
		nonce:      "00000004030201a0a1a2a3a4a5",
		aad:        "0001020304050607",
		plaintext:  "08090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f",
		ciphertext: "72c91a36e135f8cf291ca894085c87e3cc15c439c9e43a3b",
		tag:        "a091d56e10400916",
		tagSize:    8,
	},
	{
		name:       "PacketVector7",
		key:        "c0c1c2c3c4c5c6c7c8c9cacbcccdcecf",
		nonce:      "00000009080706a0a1a2a3a4a5",
		aad:        "0001020304050607",
		plaintext:  "08090a0b0c0d0e0f101112131415161718191a1b1c1d1e",
		ciphertext: "0135d1b2c95f41d5d1d4fec185d166b8094e999dfed96c",
		tag:        "048c56602c97acbb7490",
		tagSize:    10,
	},
}

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex %q: %v", s, err)
	}
	return b
}

func TestAESCCMRFC3610Vectors(t *testing.T) {
	for _, tc := range rfc3610Vectors {
		t.Run(tc.name, func(t *testing.T) {
			key := mustHex(t, tc.key)
			nonce := mustHex(t, tc.nonce)
			aad := mustHex(t, tc.aad)
			pt := mustHex(t, tc.plaintext)
			want := append(mustHex(t, tc.ciphertext), mustHex(t, tc.tag)...)

			c, err := NewAESCCMWithParams(key, len(nonce), tc.tagSize)
			if err != nil {
				t.Fatalf("NewAESCCMWithParams: %v", err)
			}
			got, err := c.Seal(nonce, pt, aad)
			if err != nil {
				t.Fatalf("Seal: %v", err)
			}
			if !bytes.Equal(got, want) {
				t.Errorf("Seal = %x, want %x", got, want)
			}

			opened, err := c.Open(nonce, got, aad)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			if !bytes.Equal(opened, pt) {
				t.Errorf("Open = %x, want %x", opened, pt)
			}
		})
	}
}

// TestAESCCMMatchesPionCCM cross-checks the mesh MIC sizes against pion's CCM.
func TestAESCCMMatchesPionCCM(t *testing.T) {
	key := mustHex(t, "0953fa93e7caac9638f58820220a398e")
	nonce := mustHex(t, "00800000011201000012345678")
	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatal(err)
	}

	for _, micSize := range []int{MICSize32, MICSize64, 16} {
		for _, n := range []int{0, 1, 15, 16, 17, 33, 380} {
			pt := make([]byte, n)
			for i := range pt {
				pt[i] = byte(i * 7)
			}

			ours, err := AESCCMEncrypt(key, nonce, pt, nil, micSize)
			if err != nil {
				t.Fatalf("mic=%d len=%d: %v", micSize, n, err)
			}
			ref, err := ccm.NewCCM(block, micSize, AESCCMNonceSize)
			if err != nil {
				t.Fatalf("pion NewCCM: %v", err)
			}
			theirs := ref.Seal(nil, nonce, pt, nil)
			if !bytes.Equal(ours, theirs) {
				t.Errorf("mic=%d len=%d: got %x, pion %x", micSize, n, ours, theirs)
			}
		}
	}
}

func TestAESCCMAuthFailure(t *testing.T) {
	key := mustHex(t, "63964771734fbd76e3b40519d1d94a48")
	nonce := mustHex(t, "01000000011201fffd12345678")
	sealed, err := AESCCMEncrypt(key, nonce, []byte("hello mesh"), nil, MICSize32)
	if err != nil {
		t.Fatal(err)
	}

	tampered := append([]byte(nil), sealed...)
	tampered[len(tampered)-1] ^= 0x01
	pt, err := AESCCMDecrypt(key, nonce, tampered, nil, MICSize32)
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("err = %v, want ErrAuthFailed", err)
	}
	if pt != nil {
		t.Errorf("plaintext returned on auth failure: %x", pt)
	}

	// Wrong MIC size must not validate either.
	if _, err := AESCCMDecrypt(key, nonce, sealed, nil, MICSize64); err == nil {
		t.Error("expected failure when opening with a different MIC size")
	}
}

func TestAESCCMLabelUUIDAAD(t *testing.T) {
	key := mustHex(t, "63964771734fbd76e3b40519d1d94a48")
	nonce := mustHex(t, "01000007080d1234973612345677")[:AESCCMNonceSize]
	label := mustHex(t, "0073e7e4d8b9440faf8415df4c56c0e1")

	sealed, err := AESCCMEncrypt(key, nonce, []byte{0xd0, 0x01}, label, MICSize32)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := AESCCMDecrypt(key, nonce, sealed, nil, MICSize32); err == nil {
		t.Error("open without label UUID should fail")
	}
	if _, err := AESCCMDecrypt(key, nonce, sealed, label, MICSize32); err != nil {
		t.Errorf("open with label UUID: %v", err)
	}
}

func TestNewAESCCMValidation(t *testing.T) {
	if _, err := NewAESCCM(make([]byte, 15), MICSize32); !errors.Is(err, ErrInvalidKeySize) {
		t.Errorf("short key: err = %v", err)
	}
	if _, err := NewAESCCM(make([]byte, 16), 5); !errors.Is(err, ErrInvalidMICSize) {
		t.Errorf("odd MIC: err = %v", err)
	}
	if _, err := NewAESCCMWithParams(make([]byte, 16), 14, MICSize32); !errors.Is(err, ErrInvalidNonceSize) {
		t.Errorf("nonce 14: err = %v", err)
	}
	c, _ := NewAESCCM(make([]byte, 16), MICSize32)
	if _, err := c.Seal(make([]byte, 12), nil, nil); !errors.Is(err, ErrInvalidNonceSize) {
		t.Errorf("Seal short nonce: err = %v", err)
	}
	if _, err := c.Open(make([]byte, 13), []byte{1, 2, 3}, nil); !errors.Is(err, ErrCiphertextTooShort) {
		t.Errorf("Open short ciphertext: err = %v", err)
	}
}
