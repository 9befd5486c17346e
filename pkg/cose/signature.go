package cose

import (
	"errors"
	"fmt"
	"math/big"
)

// ErrMalformedSignature indicates signature bytes whose length does
// not match twice the curve coordinate size.
var ErrMalformedSignature = errors.New("malformed signature")

// encodeSignature converts a native (r,s) ECDSA signature to the
// fixed-width wire form: each coordinate zero-left-padded to
// coordSize bytes, concatenated r‖s.
func encodeSignature(r, s *big.Int, coordSize int) ([]byte, error) {
	rBytes := r.Bytes()
	sBytes := s.Bytes()
	if len(rBytes) > coordSize || len(sBytes) > coordSize {
		return nil, fmt.Errorf("%w: coordinate longer than %d bytes", ErrMalformedSignature, coordSize)
	}

	sig := make([]byte, 2*coordSize)
	copy(sig[coordSize-len(rBytes):coordSize], rBytes)
	copy(sig[2*coordSize-len(sBytes):], sBytes)
	return sig, nil
}

// decodeSignature converts the fixed-width wire form back to the
// native (r,s) representation, rejecting any other length.
func decodeSignature(sig []byte, coordSize int) (r, s *big.Int, err error) {
	if len(sig) != 2*coordSize {
		return nil, nil, fmt.Errorf("%w: length %d, want %d", ErrMalformedSignature, len(sig), 2*coordSize)
	}
	r = new(big.Int).SetBytes(sig[:coordSize])
	s = new(big.Int).SetBytes(sig[coordSize:])
	return r, s, nil
}
