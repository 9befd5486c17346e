package cose

import (
	"crypto"
	"crypto/elliptic"
	"errors"
	"fmt"

	// SHA-2 implementations registered for crypto.Hash.New.
	_ "crypto/sha256"
	_ "crypto/sha512"
)

// ErrUnsupportedAlgorithm indicates an algorithm identifier outside
// the ES256/ES384/ES512 set.
var ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")

// Algorithm is a COSE algorithm identifier (RFC 9053).
type Algorithm int64

const (
	// AlgorithmES256 is ECDSA with SHA-256 over P-256.
	AlgorithmES256 Algorithm = -7

	// AlgorithmES384 is ECDSA with SHA-384 over P-384.
	AlgorithmES384 Algorithm = -35

	// AlgorithmES512 is ECDSA with SHA-512 over P-521.
	AlgorithmES512 Algorithm = -36
)

// String returns the algorithm name.
func (a Algorithm) String() string {
	switch a {
	case AlgorithmES256:
		return "ES256"
	case AlgorithmES384:
		return "ES384"
	case AlgorithmES512:
		return "ES512"
	default:
		return fmt.Sprintf("Algorithm(%d)", int64(a))
	}
}

// hash returns the digest function paired with the algorithm.
func (a Algorithm) hash() (crypto.Hash, error) {
	switch a {
	case AlgorithmES256:
		return crypto.SHA256, nil
	case AlgorithmES384:
		return crypto.SHA384, nil
	case AlgorithmES512:
		return crypto.SHA512, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedAlgorithm, int64(a))
	}
}

// curve returns the elliptic curve paired with the algorithm.
func (a Algorithm) curve() (elliptic.Curve, error) {
	switch a {
	case AlgorithmES256:
		return elliptic.P256(), nil
	case AlgorithmES384:
		return elliptic.P384(), nil
	case AlgorithmES512:
		return elliptic.P521(), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedAlgorithm, int64(a))
	}
}

// AlgorithmForCurve returns the COSE algorithm matching an ECDSA key's
// curve.
func AlgorithmForCurve(curve elliptic.Curve) (Algorithm, error) {
	switch curve {
	case elliptic.P256():
		return AlgorithmES256, nil
	case elliptic.P384():
		return AlgorithmES384, nil
	case elliptic.P521():
		return AlgorithmES512, nil
	default:
		return 0, fmt.Errorf("%w: curve %s", ErrUnsupportedAlgorithm, curve.Params().Name)
	}
}

// coordinateSize returns the curve coordinate length in bytes
// (32 for P-256, 48 for P-384, 66 for P-521).
func (a Algorithm) coordinateSize() (int, error) {
	curve, err := a.curve()
	if err != nil {
		return 0, err
	}
	return (curve.Params().BitSize + 7) / 8, nil
}
