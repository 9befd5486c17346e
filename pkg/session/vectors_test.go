package session

import (
	"bytes"
	"testing"

	"github.com/mdoc-protocol/mdoc-go/internal/testvec"
)

func TestKeyDerivationKnownAnswers(t *testing.T) {
	vectors, err := testvec.SessionKeyVectors()
	if err != nil {
		t.Fatalf("failed to load vectors: %v", err)
	}

	for _, v := range vectors {
		t.Run(v.Name, func(t *testing.T) {
			skDevice, skReader, err := DeriveSessionKeys(v.SharedSecret, v.Transcript)
			if err != nil {
				t.Fatalf("DeriveSessionKeys failed: %v", err)
			}
			if !bytes.Equal(skDevice, v.SKDevice) {
				t.Errorf("SKDevice = %x, want %x", skDevice, v.SKDevice)
			}
			if !bytes.Equal(skReader, v.SKReader) {
				t.Errorf("SKReader = %x, want %x", skReader, v.SKReader)
			}
		})
	}
}
