package crypto

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func TestHMACSHA256(t *testing.T) {
	// RFC 4231 test cases 1, 2 and 4.
	vectors := []struct {
		name string
		key  string
		data string
		want string
	}{
		{
			name: "RFC4231_TC1",
			key:  "0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b",
			data: "4869205468657265",
			want: "b0344c61d8db38535ca8afceaf0bf12b881dc200c9833da726e9376c2e32cff7",
		},
		{
			name: "RFC4231_TC2",
			key:  "4a656665",
			data: "7768617420646f2079612077616e7420666f72206e6f7468696e673f",
			want: "5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843",
		},
		{
			name: "RFC4231_TC4",
			key:  "0102030405060708090a0b0c0d0e0f10111213141516171819",
			data: "cdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcd",
			want: "82558a389a443c0ea4cc819899f2083a85f0faa3e578f8077a2e3ff46729665b",
		},
	}

	for _, tc := range vectors {
		t.Run(tc.name, func(t *testing.T) {
			key, _ := hex.DecodeString(tc.key)
			data, _ := hex.DecodeString(tc.data)
			want, _ := hex.DecodeString(tc.want)

			arr := HMACSHA256(key, data)
			if !bytes.Equal(arr[:], want) {
				t.Errorf("HMACSHA256() = %x, want %x", arr[:], want)
			}
			if got := HMACSHA256Slice(key, data); !bytes.Equal(got, want) {
				t.Errorf("HMACSHA256Slice() = %x, want %x", got, want)
			}
		})
	}
}

func TestHMACEqual(t *testing.T) {
	key := []byte("0123456789abcdef")
	mac := HMACSHA256Slice(key, []byte("0123456789abcdef"))

	if !HMACEqual(mac, HMACSHA256Slice(key, []byte("0123456789abcdef"))) {
		t.Error("HMACEqual() = false for identical MACs")
	}

	tampered := append([]byte(nil), mac...)
	tampered[HMACSize-1] ^= 0x80
	if HMACEqual(mac, tampered) {
		t.Error("HMACEqual() = true for different MACs")
	}

	if HMACEqual(mac, mac[:16]) {
		t.Error("HMACEqual() = true for truncated MAC")
	}
}
