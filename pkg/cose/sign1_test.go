package cose

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"testing"
)

func generateKey(t *testing.T, curve elliptic.Curve) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	return key
}

func TestSign1RoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		curve     elliptic.Curve
		alg       Algorithm
		coordSize int
	}{
		{"ES256", elliptic.P256(), AlgorithmES256, 32},
		{"ES384", elliptic.P384(), AlgorithmES384, 48},
		{"ES512", elliptic.P521(), AlgorithmES512, 66},
	}

	payload := []byte("device authentication payload")

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			key := generateKey(t, tc.curve)

			msg, err := Sign(rand.Reader, key, payload, nil, nil)
			if err != nil {
				t.Fatalf("Sign failed: %v", err)
			}
			if len(msg.Signature) != 2*tc.coordSize {
				t.Errorf("signature length = %d, want %d", len(msg.Signature), 2*tc.coordSize)
			}

			alg, err := msg.Algorithm()
			if err != nil {
				t.Fatalf("Algorithm failed: %v", err)
			}
			if alg != tc.alg {
				t.Errorf("algorithm = %d, want %d", alg, tc.alg)
			}

			encoded, err := msg.Encode()
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			decoded, err := DecodeSign1(encoded)
			if err != nil {
				t.Fatalf("DecodeSign1 failed: %v", err)
			}
			if err := decoded.Verify(&key.PublicKey, nil); err != nil {
				t.Errorf("Verify failed: %v", err)
			}
		})
	}
}

func TestSign1VerifyWrongKey(t *testing.T) {
	key := generateKey(t, elliptic.P256())
	other := generateKey(t, elliptic.P256())

	msg, err := Sign(rand.Reader, key, []byte("payload"), nil, nil)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	if err := msg.Verify(&other.PublicKey, nil); !errors.Is(err, ErrSignatureInvalid) {
		t.Errorf("Verify error = %v, want ErrSignatureInvalid", err)
	}
}

func TestSign1VerifyModifiedPayload(t *testing.T) {
	key := generateKey(t, elliptic.P256())

	msg, err := Sign(rand.Reader, key, []byte("payload"), nil, nil)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	msg.Payload[0] ^= 0x01

	if err := msg.Verify(&key.PublicKey, nil); !errors.Is(err, ErrSignatureInvalid) {
		t.Errorf("Verify error = %v, want ErrSignatureInvalid", err)
	}
}

func TestSign1Detached(t *testing.T) {
	key := generateKey(t, elliptic.P256())
	content := []byte("session transcript bytes")

	msg, err := Sign(rand.Reader, key, nil, content, nil)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if msg.Payload != nil {
		t.Errorf("detached message carries payload")
	}

	// Detached content survives the wire as a null payload.
	encoded, err := msg.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	decoded, err := DecodeSign1(encoded)
	if err != nil {
		t.Fatalf("DecodeSign1 failed: %v", err)
	}

	if err := decoded.Verify(&key.PublicKey, content); err != nil {
		t.Errorf("Verify with detached content failed: %v", err)
	}
	if err := decoded.Verify(&key.PublicKey, nil); !errors.Is(err, ErrPayloadMismatch) {
		t.Errorf("Verify without content error = %v, want ErrPayloadMismatch", err)
	}
	if err := decoded.Verify(&key.PublicKey, []byte("wrong")); !errors.Is(err, ErrSignatureInvalid) {
		t.Errorf("Verify wrong content error = %v, want ErrSignatureInvalid", err)
	}
}

func TestSign1PayloadMismatch(t *testing.T) {
	key := generateKey(t, elliptic.P256())

	if _, err := Sign(rand.Reader, key, []byte("a"), []byte("b"), nil); !errors.Is(err, ErrPayloadMismatch) {
		t.Errorf("Sign with both error = %v, want ErrPayloadMismatch", err)
	}
	if _, err := Sign(rand.Reader, key, nil, nil, nil); !errors.Is(err, ErrPayloadMismatch) {
		t.Errorf("Sign with neither error = %v, want ErrPayloadMismatch", err)
	}

	msg, err := Sign(rand.Reader, key, []byte("payload"), nil, nil)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if err := msg.Verify(&key.PublicKey, []byte("extra")); !errors.Is(err, ErrPayloadMismatch) {
		t.Errorf("Verify with embedded+detached error = %v, want ErrPayloadMismatch", err)
	}
}

func TestSign1CertificateChain(t *testing.T) {
	key := generateKey(t, elliptic.P256())

	tests := []struct {
		name  string
		chain [][]byte
	}{
		{"single", [][]byte{{0x30, 0x82, 0x01}}},
		{"multiple", [][]byte{{0x30, 0x82, 0x01}, {0x30, 0x82, 0x02}}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := Sign(rand.Reader, key, []byte("payload"), nil, tc.chain)
			if err != nil {
				t.Fatalf("Sign failed: %v", err)
			}

			encoded, err := msg.Encode()
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			decoded, err := DecodeSign1(encoded)
			if err != nil {
				t.Fatalf("DecodeSign1 failed: %v", err)
			}

			if len(decoded.Unprotected.CertificateChain) != len(tc.chain) {
				t.Fatalf("chain length = %d, want %d", len(decoded.Unprotected.CertificateChain), len(tc.chain))
			}
			for i, cert := range tc.chain {
				got := decoded.Unprotected.CertificateChain[i]
				if string(got) != string(cert) {
					t.Errorf("chain[%d] = %x, want %x", i, got, cert)
				}
			}
		})
	}
}

func TestSign1TaggedDecode(t *testing.T) {
	key := generateKey(t, elliptic.P256())

	msg, err := Sign(rand.Reader, key, []byte("payload"), nil, nil)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	encoded, err := msg.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	tagged := append([]byte{0xd2}, encoded...)
	decoded, err := DecodeSign1(tagged)
	if err != nil {
		t.Fatalf("DecodeSign1 of tagged message failed: %v", err)
	}
	if err := decoded.Verify(&key.PublicKey, nil); err != nil {
		t.Errorf("Verify failed: %v", err)
	}
}

func TestSign1MalformedSignature(t *testing.T) {
	key := generateKey(t, elliptic.P256())

	msg, err := Sign(rand.Reader, key, []byte("payload"), nil, nil)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	msg.Signature = msg.Signature[:63]

	if err := msg.Verify(&key.PublicKey, nil); !errors.Is(err, ErrMalformedSignature) {
		t.Errorf("Verify error = %v, want ErrMalformedSignature", err)
	}
}

func TestDecodeSign1Malformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"garbage", []byte{0xff, 0xff}},
		{"wrong shape", []byte{0x81, 0x01}}, // one-element array
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeSign1(tc.data); !errors.Is(err, ErrMalformedMessage) {
				t.Errorf("DecodeSign1 error = %v, want ErrMalformedMessage", err)
			}
		})
	}
}
