package transport

import (
	"bytes"
	"testing"
)

func TestExpectedIdentDeterministic(t *testing.T) {
	key := []byte("encoded-ephemeral-key")

	first, err := ExpectedIdent(key)
	if err != nil {
		t.Fatalf("ExpectedIdent failed: %v", err)
	}
	if len(first) != IdentLength {
		t.Fatalf("ident length = %d, want %d", len(first), IdentLength)
	}

	again, err := ExpectedIdent(key)
	if err != nil {
		t.Fatalf("ExpectedIdent failed: %v", err)
	}
	if !bytes.Equal(first, again) {
		t.Error("ident derivation is not deterministic")
	}

	other, err := ExpectedIdent([]byte("different-key"))
	if err != nil {
		t.Fatalf("ExpectedIdent failed: %v", err)
	}
	if bytes.Equal(first, other) {
		t.Error("distinct keys derived the same ident")
	}
}
