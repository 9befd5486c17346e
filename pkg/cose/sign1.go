package cose

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/mdoc-protocol/mdoc-go/pkg/wire"
)

// COSE header labels.
const (
	// labelAlgorithm is the protected header carrying the algorithm id.
	labelAlgorithm int64 = 1

	// labelX5Chain is the unprotected header carrying an X.509
	// certificate chain (RFC 9360).
	labelX5Chain int64 = 33
)

// sigContext is the COSE context string for single-signer signatures.
const sigContext = "Signature1"

// tagSign1 is the CBOR tag for COSE_Sign1 messages. Accepted on
// decode, not emitted.
const tagSign1 = 18

// COSE_Sign1 errors.
var (
	// ErrSignatureInvalid indicates signature verification failure.
	ErrSignatureInvalid = errors.New("signature invalid")

	// ErrPayloadMismatch indicates an invalid payload/detached-content
	// combination: both present, or both absent.
	ErrPayloadMismatch = errors.New("exactly one of payload and detached content required")

	// ErrMalformedMessage indicates CBOR that is not a well-formed
	// COSE_Sign1 array.
	ErrMalformedMessage = errors.New("malformed COSE_Sign1 message")
)

// Headers are the unprotected headers of a Sign1 message.
type Headers struct {
	// CertificateChain is the optional x5chain: the signer's DER
	// certificates, leaf first.
	CertificateChain [][]byte
}

// Sign1 is a COSE single-signer signature message.
type Sign1 struct {
	// Protected is the serialized protected header map (algorithm id).
	Protected []byte

	// Unprotected holds the unprotected headers.
	Unprotected Headers

	// Payload is the signed content, nil when detached.
	Payload []byte

	// Signature is the fixed-width r‖s signature.
	Signature []byte
}

// sign1Wire is the canonical four-element array layout.
type sign1Wire struct {
	_           struct{} `cbor:",toarray"`
	Protected   []byte
	Unprotected map[int64]any
	Payload     []byte
	Signature   []byte
}

// sigStructure is the canonical to-be-signed array: context string,
// protected header bytes, external AAD (always empty here) and the
// signed content.
type sigStructure struct {
	_         struct{} `cbor:",toarray"`
	Context   string
	Protected []byte
	External  []byte
	Content   []byte
}

// Sign builds and signs a COSE_Sign1 message. Exactly one of payload
// and detached must be non-nil: payload is embedded in the message,
// detached content is signed but carried out of band. The algorithm
// follows the key's curve. An optional certificate chain lands in the
// unprotected headers.
func Sign(rand io.Reader, key *ecdsa.PrivateKey, payload, detached []byte, chain [][]byte) (*Sign1, error) {
	if (payload == nil) == (detached == nil) {
		return nil, ErrPayloadMismatch
	}

	alg, err := AlgorithmForCurve(key.Curve)
	if err != nil {
		return nil, err
	}

	protected, err := wire.Marshal(map[int64]any{labelAlgorithm: int64(alg)})
	if err != nil {
		return nil, fmt.Errorf("failed to encode protected headers: %w", err)
	}

	content := payload
	if detached != nil {
		content = detached
	}
	digest, err := hashSigStructure(alg, protected, content)
	if err != nil {
		return nil, err
	}

	r, s, err := ecdsa.Sign(rand, key, digest)
	if err != nil {
		return nil, fmt.Errorf("ecdsa sign failed: %w", err)
	}
	coordSize, err := alg.coordinateSize()
	if err != nil {
		return nil, err
	}
	sig, err := encodeSignature(r, s, coordSize)
	if err != nil {
		return nil, err
	}

	return &Sign1{
		Protected:   protected,
		Unprotected: Headers{CertificateChain: chain},
		Payload:     payload,
		Signature:   sig,
	}, nil
}

// Verify checks the signature against the public key. For messages
// with an embedded payload, detached must be nil; for detached
// messages the signed content must be supplied. Both present or both
// absent is a fatal input error, never a silent pass.
func (m *Sign1) Verify(pub *ecdsa.PublicKey, detached []byte) error {
	if (m.Payload == nil) == (detached == nil) {
		return ErrPayloadMismatch
	}

	alg, err := m.Algorithm()
	if err != nil {
		return err
	}
	coordSize, err := alg.coordinateSize()
	if err != nil {
		return err
	}
	r, s, err := decodeSignature(m.Signature, coordSize)
	if err != nil {
		return err
	}

	content := m.Payload
	if detached != nil {
		content = detached
	}
	digest, err := hashSigStructure(alg, m.Protected, content)
	if err != nil {
		return err
	}

	if !ecdsa.Verify(pub, digest, r, s) {
		return ErrSignatureInvalid
	}
	return nil
}

// Algorithm extracts the algorithm id from the protected headers.
func (m *Sign1) Algorithm() (Algorithm, error) {
	var headers map[int64]int64
	if err := wire.Unmarshal(m.Protected, &headers); err != nil {
		return 0, fmt.Errorf("%w: bad protected headers: %v", ErrMalformedMessage, err)
	}
	alg, ok := headers[labelAlgorithm]
	if !ok {
		return 0, fmt.Errorf("%w: no algorithm header", ErrMalformedMessage)
	}
	if _, err := Algorithm(alg).hash(); err != nil {
		return 0, err
	}
	return Algorithm(alg), nil
}

func hashSigStructure(alg Algorithm, protected, content []byte) ([]byte, error) {
	tbs, err := wire.Marshal(sigStructure{
		Context:   sigContext,
		Protected: protected,
		External:  []byte{},
		Content:   content,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode sig structure: %w", err)
	}

	hash, err := alg.hash()
	if err != nil {
		return nil, err
	}
	h := hash.New()
	h.Write(tbs)
	return h.Sum(nil), nil
}

// Encode serializes the message as the canonical untagged array.
func (m *Sign1) Encode() ([]byte, error) {
	unprotected := map[int64]any{}
	switch len(m.Unprotected.CertificateChain) {
	case 0:
	case 1:
		unprotected[labelX5Chain] = m.Unprotected.CertificateChain[0]
	default:
		chain := make([]any, len(m.Unprotected.CertificateChain))
		for i, c := range m.Unprotected.CertificateChain {
			chain[i] = c
		}
		unprotected[labelX5Chain] = chain
	}

	return wire.Marshal(sign1Wire{
		Protected:   m.Protected,
		Unprotected: unprotected,
		Payload:     m.Payload,
		Signature:   m.Signature,
	})
}

// DecodeSign1 parses a COSE_Sign1 message, accepting an optional
// tag 18 wrapper.
func DecodeSign1(data []byte) (*Sign1, error) {
	if len(data) > 0 && data[0] == 0xd2 { // tag 18 head
		var tag cbor.RawTag
		if err := wire.Unmarshal(data, &tag); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		if tag.Number != tagSign1 {
			return nil, fmt.Errorf("%w: unexpected tag %d", ErrMalformedMessage, tag.Number)
		}
		data = tag.Content
	}

	var w sign1Wire
	if err := wire.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	m := &Sign1{
		Protected: w.Protected,
		Payload:   w.Payload,
		Signature: w.Signature,
	}
	if raw, ok := w.Unprotected[labelX5Chain]; ok {
		chain, err := decodeChain(raw)
		if err != nil {
			return nil, err
		}
		m.Unprotected.CertificateChain = chain
	}
	return m, nil
}

// decodeChain accepts the two x5chain forms: one certificate as a
// bare byte string, or an array of byte strings.
func decodeChain(raw any) ([][]byte, error) {
	switch v := raw.(type) {
	case []byte:
		return [][]byte{v}, nil
	case []any:
		chain := make([][]byte, 0, len(v))
		for _, item := range v {
			cert, ok := item.([]byte)
			if !ok {
				return nil, fmt.Errorf("%w: x5chain entry is %T", ErrMalformedMessage, item)
			}
			chain = append(chain, cert)
		}
		return chain, nil
	default:
		return nil, fmt.Errorf("%w: x5chain is %T", ErrMalformedMessage, raw)
	}
}
