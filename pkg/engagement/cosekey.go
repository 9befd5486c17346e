package engagement

import (
	"crypto/ecdh"
	"errors"
	"fmt"

	"github.com/mdoc-protocol/mdoc-go/pkg/wire"
)

// COSE_Key parameter labels and values for EC2 keys (RFC 9053).
const (
	coseKeyKty    int64 = 1
	coseKeyCrv    int64 = -1
	coseKeyX      int64 = -2
	coseKeyY      int64 = -3
	coseKtyEC2    int64 = 2
	coseCurveP256 int64 = 1
)

// p256CoordinateSize is the byte width of a P-256 coordinate.
const p256CoordinateSize = 32

// ErrInvalidCOSEKey indicates COSE_Key bytes that do not describe an
// EC2 P-256 public key.
var ErrInvalidCOSEKey = errors.New("invalid COSE_Key")

// coseKey is the CBOR layout of an EC2 public key.
type coseKey struct {
	Kty int64  `cbor:"1,keyasint"`
	Crv int64  `cbor:"-1,keyasint"`
	X   []byte `cbor:"-2,keyasint"`
	Y   []byte `cbor:"-3,keyasint"`
}

// EncodeCOSEKey serializes a P-256 public key as a canonical COSE_Key
// map.
func EncodeCOSEKey(pub *ecdh.PublicKey) ([]byte, error) {
	raw := pub.Bytes()
	if len(raw) != 1+2*p256CoordinateSize || raw[0] != 0x04 {
		return nil, fmt.Errorf("%w: unexpected point encoding", ErrInvalidCOSEKey)
	}

	return wire.Marshal(coseKey{
		Kty: coseKtyEC2,
		Crv: coseCurveP256,
		X:   raw[1 : 1+p256CoordinateSize],
		Y:   raw[1+p256CoordinateSize:],
	})
}

// DecodeCOSEKey parses COSE_Key bytes into a P-256 public key.
func DecodeCOSEKey(data []byte) (*ecdh.PublicKey, error) {
	var key coseKey
	if err := wire.Unmarshal(data, &key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCOSEKey, err)
	}
	if key.Kty != coseKtyEC2 {
		return nil, fmt.Errorf("%w: key type %d", ErrInvalidCOSEKey, key.Kty)
	}
	if key.Crv != coseCurveP256 {
		return nil, fmt.Errorf("%w: curve %d", ErrInvalidCOSEKey, key.Crv)
	}
	if len(key.X) != p256CoordinateSize || len(key.Y) != p256CoordinateSize {
		return nil, fmt.Errorf("%w: coordinate lengths %d/%d", ErrInvalidCOSEKey, len(key.X), len(key.Y))
	}

	raw := make([]byte, 0, 1+2*p256CoordinateSize)
	raw = append(raw, 0x04)
	raw = append(raw, key.X...)
	raw = append(raw, key.Y...)

	pub, err := ecdh.P256().NewPublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCOSEKey, err)
	}
	return pub, nil
}
