package engagement

import (
	"bytes"
	"crypto/ecdh"
	"crypto/rand"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func generateKey(t *testing.T) *ecdh.PrivateKey {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	return key
}

func TestCOSEKeyRoundTrip(t *testing.T) {
	key := generateKey(t)

	encoded, err := EncodeCOSEKey(key.PublicKey())
	if err != nil {
		t.Fatalf("EncodeCOSEKey failed: %v", err)
	}
	decoded, err := DecodeCOSEKey(encoded)
	if err != nil {
		t.Fatalf("DecodeCOSEKey failed: %v", err)
	}

	if !decoded.Equal(key.PublicKey()) {
		t.Errorf("decoded key does not match original")
	}
}

func TestDecodeCOSEKeyInvalid(t *testing.T) {
	key := generateKey(t)
	valid, err := EncodeCOSEKey(key.PublicKey())
	if err != nil {
		t.Fatalf("EncodeCOSEKey failed: %v", err)
	}

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"garbage", func([]byte) []byte { return []byte{0xff, 0xff} }},
		{"wrong kty", func(b []byte) []byte {
			// kty 2 -> 3 (first map value in canonical ordering)
			out := bytes.Clone(b)
			out[bytes.IndexByte(out, 0x02)] = 0x03
			return out
		}},
		{"truncated coordinate", func(b []byte) []byte { return b[:len(b)-1] }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeCOSEKey(tc.mutate(valid)); !errors.Is(err, ErrInvalidCOSEKey) {
				t.Errorf("DecodeCOSEKey error = %v, want ErrInvalidCOSEKey", err)
			}
		})
	}
}

func TestDeviceEngagementRoundTrip(t *testing.T) {
	key := generateKey(t)
	serviceUUID := uuid.MustParse("00000008-A123-48CE-896B-4C76973373E6")

	method, err := NewBLEMethod(serviceUUID)
	if err != nil {
		t.Fatalf("NewBLEMethod failed: %v", err)
	}
	de, err := New(key.PublicKey(), method)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	encoded, err := de.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if decoded.Version != EngagementVersion {
		t.Errorf("version = %q, want %q", decoded.Version, EngagementVersion)
	}
	if decoded.Security.CipherSuite != CipherSuite1 {
		t.Errorf("cipher suite = %d, want %d", decoded.Security.CipherSuite, CipherSuite1)
	}

	pub, err := decoded.EDeviceKey()
	if err != nil {
		t.Fatalf("EDeviceKey failed: %v", err)
	}
	if !pub.Equal(key.PublicKey()) {
		t.Errorf("device key does not survive round trip")
	}

	id, err := decoded.BLEServiceUUID()
	if err != nil {
		t.Fatalf("BLEServiceUUID failed: %v", err)
	}
	if id != serviceUUID {
		t.Errorf("service UUID = %s, want %s", id, serviceUUID)
	}
}

func TestDecodeRejectsUnsupported(t *testing.T) {
	key := generateKey(t)
	de, err := New(key.PublicKey())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	t.Run("version", func(t *testing.T) {
		modified := *de
		modified.Version = "2.0"
		encoded, err := modified.Encode()
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		if _, err := Decode(encoded); !errors.Is(err, ErrInvalidEngagement) {
			t.Errorf("Decode error = %v, want ErrInvalidEngagement", err)
		}
	})

	t.Run("cipher suite", func(t *testing.T) {
		modified := *de
		modified.Security.CipherSuite = 2
		encoded, err := modified.Encode()
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		if _, err := Decode(encoded); !errors.Is(err, ErrInvalidEngagement) {
			t.Errorf("Decode error = %v, want ErrInvalidEngagement", err)
		}
	})
}

func TestBLEServiceUUIDMissing(t *testing.T) {
	key := generateKey(t)
	de, err := New(key.PublicKey())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if _, err := de.BLEServiceUUID(); !errors.Is(err, ErrNoBLEMethod) {
		t.Errorf("BLEServiceUUID error = %v, want ErrNoBLEMethod", err)
	}
}
