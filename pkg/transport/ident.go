package transport

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// IdentLength is the length of the Ident characteristic value.
const IdentLength = 16

// identInfo is the HKDF info string for the Ident derivation.
const identInfo = "BLEIdent"

// ExpectedIdent derives the expected Ident characteristic value from
// the encoded device ephemeral key: HKDF-SHA-256 with no salt, the key
// bytes as input keying material, info "BLEIdent", 16 output bytes.
//
// The reader publishes this value so a central connecting to multiple
// candidate devices can confirm it reached the intended peer. It is
// best-effort confirmation only, not a security gate.
func ExpectedIdent(eDeviceKeyBytes []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, eDeviceKeyBytes, nil, []byte(identInfo))
	ident := make([]byte, IdentLength)
	if _, err := io.ReadFull(r, ident); err != nil {
		return nil, fmt.Errorf("failed to derive ident: %w", err)
	}
	return ident, nil
}
