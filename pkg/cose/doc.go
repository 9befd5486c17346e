// Package cose implements the COSE_Sign1 subset used by the mdoc
// presentation protocol (RFC 9052 single-signer signatures).
//
// Supported algorithms are ES256, ES384 and ES512 (ECDSA over P-256,
// P-384 and P-521 with the matching SHA-2 digest). Signatures travel
// as the fixed-width concatenation r‖s, each coordinate zero-padded on
// the left to the curve coordinate size.
//
// A Sign1 message is the canonical four-element CBOR array
//
//	[protected bstr, unprotected map, payload bstr / nil, signature bstr]
//
// The protected header carries the algorithm identifier; the
// unprotected headers may carry an X.509 certificate chain (x5chain).
// Detached content is supported: a nil payload means the signed bytes
// are supplied externally at verification time.
package cose
