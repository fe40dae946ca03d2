package crypto

import (
	"bytes"
	"testing"
)

// Nonces from Mesh Profile sample data, messages #1 and #6 (IV Index 0x12345678).
func TestMeshNonces(t *testing.T) {
	tests := []struct {
		name string
		got  []byte
		want string
	}{
		{
			name: "network nonce, control, TTL 0",
			got:  NetworkNonce(true, 0, 0x000001, 0x1201, 0x12345678),
			want: "00800000011201000012345678",
		},
		{
			name: "network nonce, access, TTL 4",
			got:  NetworkNonce(false, 4, 0x3129ab, 0x0003, 0x12345678),
			want: "00043129ab0003000012345678",
		},
		{
			name: "device nonce",
			got:  DeviceNonce(false, 0x3129ab, 0x0003, 0x1201, 0x12345678),
			want: "02003129ab0003120112345678",
		},
		{
			name: "application nonce with ASZMIC",
			got:  ApplicationNonce(true, 0x000007, 0x1234, 0xc105, 0x12345677),
			want: "01800000071234c10512345677",
		},
		{
			name: "proxy nonce",
			got:  ProxyNonce(0x000001, 0x0001, 0x12345678),
			want: "03000000010001000012345678",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if len(tc.got) != AESCCMNonceSize {
				t.Fatalf("nonce length = %d", len(tc.got))
			}
			if want := mustHex(t, tc.want); !bytes.Equal(tc.got, want) {
				t.Errorf("nonce = %x, want %x", tc.got, want)
			}
		})
	}
}

func TestNetworkNonceMasksTTL(t *testing.T) {
	n := NetworkNonce(false, 0xFF, 0, 0, 0)
	if n[1] != 0x7F {
		t.Errorf("CTL|TTL octet = %#x, want 0x7f", n[1])
	}
}
